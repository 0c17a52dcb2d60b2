package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/predict-mdr/platform/pkg/features"
	"github.com/predict-mdr/platform/pkg/terminology"
)

// NewSchemaCmd creates the 'schema' command.
func NewSchemaCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the feature columns in model order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			schema, err := features.LoadSchema(cfg.FeatureSchemaPath)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), schema)
			}
			names, err := terminology.Load(cfg.DisplayNamesPath)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for i, col := range schema.Columns() {
				kind := "numeric"
				if schema.IsCategorical(col) {
					kind = "categorical"
				}
				fmt.Fprintf(w, "%3d  %-12s %-12s %s\n", i, col, kind, names.DisplayName(col))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	return cmd
}
