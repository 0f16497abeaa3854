package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "loadgen simulates Study-UP students against a backend.",
		Long: `loadgen simulates a population of Study-UP students. Every virtual user
registers an account and then keeps creating subjects, adding grades and
listing its subjects with a weighted task mix, while latency and failures
are aggregated per operation.

Configuration comes from the environment (LOADGEN_*, BACKEND_*, REDIS_*,
DATABASE_URL, MQTT_*, HTTP_*, LOG_*), optionally overlaid by a YAML scenario
passed with --config, and finally by command-line flags.

Example scenario:

population: 200
rampUpPerSecond: 10
waitMin: 1s
waitMax: 3s
duration: 5m
taskWeights:
  CreateSubject: 3
  AddGrade: 2
  ListSubjects: 1`,
		SilenceUsage: true,
	}

	cmd.AddCommand(
		versionCmd(),
		runCmd(),
	)

	return cmd
}

// Print version info and exit.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "loadgen %s (%s %s/%s)\n",
				Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}
