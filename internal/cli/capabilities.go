package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/davan/docplan/internal/config"
	"github.com/davan/docplan/internal/telemetry"
)

var (
	capsHost string
	capsJSON bool
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Show the observed capability matrix",
	Long: `Show what hosts have actually accepted and refused, aggregated from
capability telemetry: one row per (host, op, branch) with attempt counts and
success rates.`,
	RunE: runCapabilities,
}

func init() {
	capabilitiesCmd.Flags().StringVar(&capsHost, "host", "", "filter rows to one host (text, spreadsheet, presentation)")
	capabilitiesCmd.Flags().BoolVar(&capsJSON, "json", false, "print rows as JSON")
	rootCmd.AddCommand(capabilitiesCmd)
}

func runCapabilities(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Telemetry.DBPath == "" {
		return errors.New("capability telemetry is not configured")
	}

	collector, err := telemetry.NewCollector(telemetry.Config{
		DBPath: cfg.Telemetry.DBPath,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		return fmt.Errorf("failed to open capability store: %w", err)
	}
	defer collector.Close()

	rows, err := collector.Matrix(context.Background(), capsHost)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if capsJSON {
		return writeJSONOut(out, rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "no capability data recorded yet")
		return nil
	}

	fmt.Fprintf(out, "%-13s %-22s %-22s %8s %8s %9s\n", "HOST", "OP", "BRANCH", "ATTEMPTS", "SUCCESS", "FALLBACKS")
	for _, row := range rows {
		fmt.Fprintf(out, "%-13s %-22s %-22s %8d %7.0f%% %9d\n",
			row.Host,
			row.Op,
			row.Branch,
			row.Attempts,
			row.SuccessRate()*100,
			row.Fallbacks,
		)
	}
	return nil
}
