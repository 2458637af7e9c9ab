package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reviewgate/internal/config"
)

func init() {
	rootCmd.AddCommand(toolsCmd)
}

// toolsCmd lists the resolved gates
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the configured quality gates",
	Long: `List the enabled quality gates in run order, after every configuration
layer has been applied.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return writeTools(cmd.OutOrStdout(), cfg)
	},
}

func writeTools(w io.Writer, cfg *config.Config) error {
	descriptors, err := cfg.Descriptors()
	if err != nil {
		return usageError(err)
	}
	projectType := cfg.Project.Type
	if projectType == "" {
		projectType = "unknown"
	}
	fmt.Fprintf(w, "Project: %s (%s)\n\n", cfg.Project.Path, projectType)
	if len(descriptors) == 0 {
		fmt.Fprintln(w, "No tools enabled.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tCLASS\tTIMEOUT\tPREDICATE\tCOMMAND")
	for _, d := range descriptors {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.EffectiveConcurrency(), d.EffectiveTimeout(), d.Predicate, d.CommandLine())
	}
	return tw.Flush()
}
