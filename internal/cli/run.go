package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/davan/docplan/internal/config"
	"github.com/davan/docplan/internal/daemon"
	"github.com/davan/docplan/internal/logger"
	"github.com/davan/docplan/internal/tracing"
	"github.com/davan/docplan/pkg/engine"
	"github.com/davan/docplan/pkg/history"
	"github.com/davan/docplan/pkg/host"
	"github.com/davan/docplan/pkg/memdoc"
	"github.com/davan/docplan/pkg/plan"
)

var (
	runDocumentID string
	runJSON       bool
	runSnapshot   bool
)

var runCmd = &cobra.Command{
	Use:   "run [plan file]",
	Short: "Execute a plan against an in-memory document",
	Long: `Execute a plan file (or stdin when the file is "-" or omitted) against
a fresh in-memory document of the plan's declared host. Steps are printed as
they settle; the process exits non-zero when the plan fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runDocumentID, "document", "", "document id recorded in the execution log")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON")
	runCmd.Flags().BoolVar(&runSnapshot, "snapshot", false, "print the final document state after execution")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	raw, err := readPlanInput(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := newCommandLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	var store *history.Store
	if cfg.History.DBPath != "" {
		store, err = history.New(history.Config{DBPath: cfg.History.DBPath, Logger: log.GetZerolog()})
		if err != nil {
			// One-shot runs should not die on a busy execution log.
			log.Warn().Err(err).Msg("Failed to open history store, run will not be recorded")
			store = nil
		} else {
			defer store.Close()
		}
	}

	eng := engine.New(daemon.EngineConfig(cfg.Engine), log.GetZerolog(), nil)
	runnerCfg := daemon.RunnerConfig{
		Engine:  eng,
		History: store,
		Logger:  log.GetZerolog(),
	}

	// --snapshot needs a handle on the scratch session after the run.
	var captured *memdoc.Session
	if runSnapshot {
		runnerCfg.Sessions = func(ctx context.Context, p *plan.Plan) (host.Session, error) {
			s, err := memdoc.NewSession(host.Kind(p.Host), memdoc.Quirks{})
			captured = s
			return s, err
		}
	}

	runner, err := daemon.NewPlanRunner(runnerCfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var onStep engine.StepCallback
	if !runJSON {
		onStep = func(step engine.Step) {
			switch step.Status {
			case engine.StepCompleted:
				fmt.Fprintf(out, "  ok    %s\n", step.Title)
			case engine.StepError:
				fmt.Fprintf(out, "  fail  %s: %s\n", step.Title, step.Error)
			}
		}
	}

	ctx := tracing.NewRequestContext(context.Background())
	result := runner.Run(ctx, "cli", runDocumentID, raw, onStep)

	if runJSON {
		var payload any = result
		if runSnapshot && captured != nil {
			payload = map[string]any{"result": result, "document": captured.Snapshot()}
		}
		if err := writeJSONOut(out, payload); err != nil {
			return err
		}
	} else {
		if result.Success {
			if result.Debug != nil {
				fmt.Fprintf(out, "%s (%d actions in %s)\n", result.Message, result.Debug.ActionCount, result.Debug.Duration)
			} else {
				fmt.Fprintln(out, result.Message)
			}
		}
		if runSnapshot && captured != nil {
			fmt.Fprintln(out, "--- document ---")
			if err := writeJSONOut(out, captured.Snapshot()); err != nil {
				return err
			}
		}
	}

	if !result.Success {
		return fmt.Errorf("plan failed: %s", result.Message)
	}
	return nil
}

// readPlanInput reads the plan payload from the named file, or stdin when the
// argument is "-" or absent.
func readPlanInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return data, nil
}

// newCommandLogger builds a logger for one-shot commands: file only, so
// command output on stdout stays parseable.
func newCommandLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     logLevel,
		File:      cfg.Logging.File,
		Console:   false,
		Redaction: cfg.Logging.Redaction,
	})
}
