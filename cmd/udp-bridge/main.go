// Package main provides the CLI entry point for the UDP topic bridge.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "udp-bridge",
		Short: "Bridge JSON datagrams to pub/sub topics",
		Long: `udp-bridge listens for JSON publish envelopes on a UDP socket and
republishes their payloads on a pub/sub bus. Messages arriving on
subscribed bus topics are wrapped in envelopes and sent back to the
most recent UDP sender.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "udp-bridge %s\n", Version)
		},
	}
}
