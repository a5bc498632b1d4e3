package main

import (
	"fmt"

	"github.com/spf13/cobra"

	serverBootstrap "nexus/internal/delivery/server/bootstrap"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

type runners struct {
	serve   func(configPath string) error
	migrate func(configPath string) error
}

var defaultRunners = runners{
	serve:   serverBootstrap.RunServer,
	migrate: serverBootstrap.RunMigrate,
}

// NewRootCommand builds the nexus-server command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultRunners)
}

func newRootCommand(run runners) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "nexus-server",
		Short: "Multi-tenant AI chat service",
		Long: `nexus-server hosts the Nexus API: accounts, credits, chat workspaces,
LLM streaming and the GitHub connector.

EXAMPLES:
  nexus-server serve --config nexus.env   # Start the HTTP server
  nexus-server migrate                     # Apply the database schema`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run.serve(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "KEY=VALUE config file (environment variables take precedence)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run.serve(configPath)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run.migrate(configPath)
		},
	})
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", Version)
		},
	}
}
