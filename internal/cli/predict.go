package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/predict-mdr/platform/pkg/common/models"
	"github.com/predict-mdr/platform/pkg/risk"
)

// NewPredictCmd creates the 'predict' command.
func NewPredictCmd() *cobra.Command {
	var jsonOutput bool
	var top int

	cmd := &cobra.Command{
		Use:   "predict <tracked-entity-id>",
		Short: "Score one tracked entity",
		Example: `  mdrtb predict PQfMcpmXeFE
  mdrtb predict PQfMcpmXeFE --json
  mdrtb predict PQfMcpmXeFE --top 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd.Context(), cmd.OutOrStdout(), args[0], jsonOutput, top)
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	cmd.Flags().IntVarP(&top, "top", "n", 10, "Number of contributing features to show")
	return cmd
}

func runPredict(ctx context.Context, w io.Writer, id string, jsonOutput bool, top int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := loadConfig()
	svc, _, err := risk.Build(cfg, nil)
	if err != nil {
		return err
	}

	a, err := svc.Assess(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", risk.Outcome(err), err)
	}
	if jsonOutput {
		return printJSON(w, a)
	}
	printAssessment(w, a, top)
	return nil
}

func printAssessment(w io.Writer, a *models.RiskAssessment, top int) {
	fmt.Fprintf(w, "Patient:  %s\n", a.PatientID)
	if a.Status == risk.StatusNoData {
		fmt.Fprintln(w, "No events recorded; nothing to score.")
		return
	}
	fmt.Fprintf(w, "Model:    %s\n", a.ModelVersion)
	fmt.Fprintf(w, "Events:   %d\n", len(a.Events))
	fmt.Fprintf(w, "Average:  %.4f\n", a.Average)
	fmt.Fprintf(w, "MDR-TB:   %s\n", a.Classification)

	for _, ev := range a.Events {
		fmt.Fprintf(w, "  %-24s %.4f\n", ev.EventID, ev.Probability)
	}
	if len(a.Contributions) == 0 {
		return
	}
	fmt.Fprintln(w, "\nTop contributing features:")
	for i, c := range a.Contributions {
		if top > 0 && i >= top {
			break
		}
		fmt.Fprintf(w, "  %2d. %-40s %.5f\n", i+1, c.DisplayName, c.Importance)
	}
}
