package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/davan/docplan/internal/config"
	"github.com/davan/docplan/pkg/engine"
	"github.com/davan/docplan/pkg/history"
)

var (
	historyLimit int
	historyRunID string
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent plan executions",
	Long: `List recent plan executions from the local execution log, newest first.
With --run-id, show the full record of one execution including its steps.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of executions to list")
	historyCmd.Flags().StringVar(&historyRunID, "run-id", "", "show one execution by run id")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print entries as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.History.DBPath == "" {
		return errors.New("history is not configured")
	}

	store, err := history.New(history.Config{DBPath: cfg.History.DBPath, Logger: zerolog.Nop()})
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	out := cmd.OutOrStdout()

	if historyRunID != "" {
		entry, err := store.ByRunID(ctx, historyRunID)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("no execution with run id %q", historyRunID)
		}
		if historyJSON {
			return writeJSONOut(out, entry)
		}
		printEntryDetail(out, entry)
		return nil
	}

	entries, err := store.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		return writeJSONOut(out, entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "no executions recorded yet")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-6s %-13s %-8s %s\n", "CREATED", "STATUS", "HOST", "SOURCE", "RUN ID")
	for _, entry := range entries {
		fmt.Fprintf(out, "%-20s %-6s %-13s %-8s %s\n",
			entry.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			statusWord(entry.Success),
			entry.Host,
			entry.Source,
			entry.RunID,
		)
	}
	return nil
}

func printEntryDetail(out io.Writer, entry *history.Entry) {
	fmt.Fprintf(out, "Run:      %s\n", entry.RunID)
	fmt.Fprintf(out, "Created:  %s\n", entry.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Host:     %s\n", entry.Host)
	fmt.Fprintf(out, "Source:   %s\n", entry.Source)
	if entry.DocumentID != "" {
		fmt.Fprintf(out, "Document: %s\n", entry.DocumentID)
	}
	if entry.Success {
		fmt.Fprintf(out, "Status:   ok\n")
	} else if entry.ErrorKind != "" {
		fmt.Fprintf(out, "Status:   failed (%s)\n", entry.ErrorKind)
	} else {
		fmt.Fprintf(out, "Status:   failed\n")
	}
	fmt.Fprintf(out, "Message:  %s\n", entry.Message)
	fmt.Fprintf(out, "Actions:  %d in %s\n", entry.ActionCount, time.Duration(entry.DurationMs)*time.Millisecond)

	var steps []engine.Step
	if len(entry.Steps) > 0 && json.Unmarshal(entry.Steps, &steps) == nil && len(steps) > 0 {
		fmt.Fprintln(out, "Steps:")
		for _, step := range steps {
			if step.Status == engine.StepError {
				fmt.Fprintf(out, "  fail  %s: %s\n", step.Title, step.Error)
			} else {
				fmt.Fprintf(out, "  ok    %s\n", step.Title)
			}
		}
	}
}

func statusWord(success bool) string {
	if success {
		return "ok"
	}
	return "fail"
}

func writeJSONOut(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
