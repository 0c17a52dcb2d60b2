package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/predict-mdr/platform/pkg/common/config"
	"github.com/predict-mdr/platform/pkg/common/logger"
)

// NewRootCmd assembles the mdrtb command tree.
func NewRootCmd(version string) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "mdrtb",
		Short:         "MDR-TB risk prediction against a DHIS2 tracker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init()
			logger.Log.SetOutput(os.Stderr)
			if !verbose {
				logger.Log.SetLevel(logrus.WarnLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline progress to stderr")

	root.AddCommand(NewPredictCmd())
	root.AddCommand(NewSearchCmd())
	root.AddCommand(NewHotspotsCmd())
	root.AddCommand(NewSchemaCmd())
	root.AddCommand(NewTrainCmd())
	return root
}

// loadConfig is replaced in tests.
var loadConfig = config.Load

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
