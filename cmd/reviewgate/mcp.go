package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reviewgate/internal/mcp"
)

var _ mcp.Engine = (*app)(nil)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// mcpCmd serves the engine to MCP clients over stdio.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve quality gates as MCP tools over stdio",
	Long: `Start an MCP server on stdin/stdout exposing run_gates, list_tools and
clear_cache for the configured project. Gate output returned to the client
passes through the same secret scrubber as the review context.

Logs go to stderr; stdout carries only protocol traffic.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				cmd.PrintErrf("Warning: %v\n", err)
			}
		}()

		srv, err := mcp.NewServer(&mcp.Config{
			Name:        "reviewgate",
			Version:     version,
			ProjectPath: cfg.Project.Path,
			OutputLines: cfg.Review.MaxLines,
			Logger:      a.logger.Underlying(),
		}, a, a.scrubber)
		if err != nil {
			return err
		}
		return srv.Run(cmd.Context())
	},
}
