package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/davan/docplan/internal/config"
	"github.com/davan/docplan/pkg/plan"
)

var validateJSON bool

var validateCmd = &cobra.Command{
	Use:   "validate [plan file]",
	Short: "Normalize and validate a plan without executing it",
	Long: `Run a plan file (or stdin) through the normalizer and report whether it
would be accepted for execution. Nothing is executed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the verdict as JSON")
	rootCmd.AddCommand(validateCmd)
}

type validateVerdict struct {
	Valid   bool   `json:"valid"`
	Host    string `json:"host,omitempty"`
	Actions int    `json:"actions,omitempty"`
	Error   string `json:"error,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	raw, err := readPlanInput(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	norm := plan.NewNormalizer(plan.NormalizerConfig{MaxPayloadBytes: cfg.Engine.MaxPayloadBytes}, zerolog.Nop())
	out := cmd.OutOrStdout()

	p, err := norm.Normalize(raw)
	if err != nil {
		if validateJSON {
			_ = writeJSONOut(out, validateVerdict{Valid: false, Error: err.Error()})
		}
		return fmt.Errorf("plan is invalid: %w", err)
	}

	if validateJSON {
		return writeJSONOut(out, validateVerdict{Valid: true, Host: string(p.Host), Actions: len(p.Actions)})
	}

	fmt.Fprintln(out, "plan is valid")
	fmt.Fprintf(out, "  host:    %s\n", p.Host)
	fmt.Fprintf(out, "  actions: %d\n", len(p.Actions))
	return nil
}
