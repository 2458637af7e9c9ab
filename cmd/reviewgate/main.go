// Reviewgate runs quality gates over a project and, when they allow it,
// hands the results to an external AI reviewer.
//
// Usage:
//
//	# Run every configured gate, strict policy
//	reviewgate run
//
//	# Run all gates regardless of failures and write a report
//	reviewgate run --progressive --report review.md
//
//	# Re-run on every change
//	reviewgate watch --tui
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK          = 0
	exitGateFailure = 1
	exitUsage       = 2
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// usageError marks configuration and contract problems.
func usageError(err error) error {
	return &exitError{code: exitUsage, err: err}
}

var (
	// projectPath is the project root shared by every command
	projectPath string
	// configFile replaces the project config file when set
	configFile string
	// projectType overrides project type detection
	projectType string
)

var rootCmd = &cobra.Command{
	Use:   "reviewgate",
	Short: "Quality gates before AI code review",
	Long: `reviewgate runs formatters, linters, security scanners and tests over a
project, caches their results, and passes a context document built from the
results and the current diff to an external AI reviewer when the gates allow it.

Configuration is read from built-in profiles, ~/.config/reviewgate/config.yaml,
<project>/.reviewgate.yaml and REVIEWGATE_* environment variables, in that order.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectPath, "project-path", "p", ".", "project root")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (replaces <project>/.reviewgate.yaml)")
	rootCmd.PersistentFlags().StringVar(&projectType, "project-type", "", "project type profile (python, go)")
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("reviewgate by Fyrsmith Labs\n")
		cmd.Printf("Version:    %s\n", version)
		cmd.Printf("Commit:     %s\n", gitCommit)
		cmd.Printf("Build Date: %s\n", buildDate)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

// exitCode reports err on stderr and maps it to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitUsage
}
