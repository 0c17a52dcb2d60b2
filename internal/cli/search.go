package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/predict-mdr/platform/pkg/dhis2"
	"github.com/predict-mdr/platform/pkg/hotspot"
	"github.com/predict-mdr/platform/pkg/patients"
)

// NewSearchCmd creates the 'search' command.
func NewSearchCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "search <term>",
		Short:   "Search patients by name, TB number or national id",
		Example: `  mdrtb search banda`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd.OutOrStdout(), args[0], jsonOutput)
		},
	}
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	return cmd
}

func runSearch(ctx context.Context, w io.Writer, term string, jsonOutput bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := dhis2.New(dhis2.ConfigFrom(loadConfig()))
	if err != nil {
		return err
	}
	found, err := patients.NewService(client).Search(ctx, term)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(w, found)
	}
	if len(found) == 0 {
		fmt.Fprintf(w, "No patients match %q (terms need at least %d characters).\n", term, dhis2.MinSearchLength)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTB NO\tNATIONAL ID\tORG UNIT")
	for _, p := range found {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.TrackedEntityInstance, p.DisplayName, p.TBNumber, p.NationalID, p.OrgUnitName)
	}
	return tw.Flush()
}

// NewHotspotsCmd creates the 'hotspots' command.
func NewHotspotsCmd() *cobra.Command {
	var jsonOutput bool
	var epsKm float64
	var minPoints int

	cmd := &cobra.Command{
		Use:   "hotspots",
		Short: "Print the patient heatmap and its clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg := loadConfig()
			if !cmd.Flags().Changed("eps-km") {
				epsKm = cfg.HotspotEpsKm
			}
			if !cmd.Flags().Changed("min-points") {
				minPoints = cfg.HotspotMinPoints
			}
			client, err := dhis2.New(dhis2.ConfigFrom(cfg))
			if err != nil {
				return err
			}
			entities, err := client.ListCoordinates(ctx)
			if err != nil {
				return err
			}
			spots := hotspot.Build(entities, epsKm, minPoints)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), spots)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d located patients, %d clusters\n", len(spots.Points), spots.Count)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	cmd.Flags().Float64Var(&epsKm, "eps-km", 0, "Cluster radius in kilometres")
	cmd.Flags().IntVar(&minPoints, "min-points", 0, "Minimum patients per cluster")
	return cmd
}
