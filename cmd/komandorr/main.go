package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cyb3rgh05t/komandorr/internal/app"
	"github.com/cyb3rgh05t/komandorr/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ komandorr: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "komandorr",
		Short: "Health and metrics monitoring for self-hosted services",
		Long: `komandorr probes the services it knows about, receives traffic and storage
figures pushed by agents, and serves current and historical views over HTTP.

Running without a subcommand starts the server.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the monitoring server",
			Long: `Start the monitoring server. Configuration comes from KOMANDORR_* environment
variables; KOMANDORR_REDIS_ADDR is required.`,
			Args: cobra.NoArgs,
			RunE: runServe,
		},
		newAgentCmd(),
		newVersionCmd(),
	)
	return root
}

func runServe(*cobra.Command, []string) error {
	return app.New().Run()
}

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, version.Version)
				return
			}
			fmt.Fprintf(out, "komandorr %s\n", version.Version)
			fmt.Fprintf(out, "commit: %s\n", version.Commit)
			fmt.Fprintf(out, "built: %s\n", version.BuildDate)
			fmt.Fprintf(out, "go: %s\n", version.GoVersion)
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")
	return cmd
}
