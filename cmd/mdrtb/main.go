/*
Package main is the entry point of the mdrtb CLI.

mdrtb runs the MDR-TB risk pipeline against a DHIS2 server from the command
line. It reads the same environment variables as the prediction service.

Usage:

	mdrtb [command]

Available Commands:

	predict     Score one tracked entity
	search      Search patients by name, TB number or national id
	hotspots    Print the patient heatmap and its clusters
	schema      Print the feature columns in model order
	train       Fit a logistic scoring artifact
*/
package main

import (
	"fmt"
	"os"

	"github.com/predict-mdr/platform/internal/cli"
)

// Version information (set via ldflags during build)
var version = "dev"

func main() {
	root := cli.NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
