package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/davan/docplan/internal/config"
	"github.com/davan/docplan/internal/daemon"
	"github.com/davan/docplan/internal/logger"
	"github.com/davan/docplan/internal/tracing"
	"github.com/davan/docplan/internal/watcher"
	"github.com/davan/docplan/pkg/engine"
	"github.com/davan/docplan/pkg/execqueue"
	"github.com/davan/docplan/pkg/history"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a drop-box directory and execute plan files",
	Long: `Watch a directory for plan files: each dropped <name>.json is executed
and answered with <name>.result.json beside it. This is the drop-box half of
serve mode without the gateway. The directory defaults to watch.dir from the
config; the process stays in the foreground until SIGINT or SIGTERM.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	dir := cfg.Watch.Dir
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		return fmt.Errorf("no watch directory: pass one or set watch.dir in the config")
	}

	level := cfg.Logging.Level
	if cmd.Flags().Changed("log-level") {
		level = logLevel
	}
	log, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	var store *history.Store
	if cfg.History.DBPath != "" {
		store, err = history.New(history.Config{DBPath: cfg.History.DBPath, Logger: log.GetZerolog()})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to open history store, runs will not be recorded")
			store = nil
		} else {
			defer store.Close()
		}
	}

	queue := execqueue.New(log.GetZerolog())
	eng := engine.New(daemon.EngineConfig(cfg.Engine), log.GetZerolog(), nil)
	runner, err := daemon.NewPlanRunner(daemon.RunnerConfig{
		Engine:  eng,
		Queue:   queue,
		History: store,
		Logger:  log.GetZerolog(),
	})
	if err != nil {
		return err
	}

	w, err := watcher.New(watcher.Config{
		Dir:      dir,
		Debounce: time.Duration(cfg.Watch.DebounceMs) * time.Millisecond,
		Execute: func(ctx context.Context, name string, raw []byte) *engine.Result {
			ctx = tracing.NewRequestContext(ctx)
			return runner.Run(ctx, "watcher", name, raw, nil)
		},
		Logger: log.GetZerolog(),
	})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	log.Info().Str("dir", dir).Msg("docplan watching for plans")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := w.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop watcher")
	}
	if !queue.WaitForActive(10 * time.Second) {
		log.Warn().Msg("Timed out waiting for executions to finish")
	}
	queue.Close()
	return nil
}
