// Command meshsim runs the radio mesh network simulator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "meshsim",
		Short: "Discrete-event radio mesh network simulator",
		Long: `meshsim simulates a mesh network of radio nodes on a 2D plane.

Nodes attach, elect leaders and form partitions as simulated time advances.
The simulation is driven by text commands on stdin, by the gRPC control
service, or both.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runSimulator(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	addRunFlags(rootCmd)
	rootCmd.AddCommand(
		newVersionCmd(),
		newReplayCmd(),
	)
	return rootCmd
}
