// Command fairlead runs a fair-share task coordinator against NATS and manages
// its task registry.
//
// Usage:
//
//	fairlead run --config fairlead.yaml --nats nats://localhost:4222
//	fairlead tasks add billing
//	fairlead tasks list
//	fairlead tasks remove billing
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	natsURL    string
	configPath string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "fairlead",
		Short:         "Fair-share task leadership across a fleet of instances",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.natsURL, "nats", "nats://127.0.0.1:4222", "NATS server URL")
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML configuration file")

	rootCmd.AddCommand(newRunCmd(&flags), newTasksCmd(&flags))

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fairlead:", err)
		os.Exit(1)
	}
}
