package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reviewgate/internal/config"
)

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing "+config.ProjectFileName)
}

// initCmd writes the resolved configuration as the project file
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the resolved configuration to " + config.ProjectFileName,
	Long: `Resolve the configuration for the project (built-in profile for the detected
or given project type, user file, project file and environment) and write it
to <project>/.reviewgate.yaml, ready to edit. The project path and any API key
are never written. An existing project file is refused unless --force is given,
in which case it is one of the layers being re-resolved.

Examples:
  # Detect the project type
  reviewgate init

  # Start from the Go profile, replacing an existing file
  reviewgate init --project-type go --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path, resolvedType, err := writeProjectConfig(config.LoadOptions{
		ProjectPath: projectPath,
		ProjectType: projectType,
		ConfigFile:  configFile,
	}, initForce)
	if err != nil {
		return err
	}
	if resolvedType == "" {
		cmd.PrintErrln("Warning: no project type detected; the file configures no tools. Use --project-type.")
	}
	cmd.Printf("Wrote %s (%s profile)\n", path, orNone(resolvedType))
	return nil
}

// writeProjectConfig renders the configuration and writes it to the project
// file. It refuses to replace an existing file unless force is set.
func writeProjectConfig(opts config.LoadOptions, force bool) (string, string, error) {
	root := opts.ProjectPath
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", "", usageError(fmt.Errorf("resolve project path: %w", err))
	}
	target := filepath.Join(root, config.ProjectFileName)

	if !force {
		_, err := os.Lstat(target)
		switch {
		case err == nil:
			return "", "", usageError(fmt.Errorf("%s already exists (use --force to overwrite)", target))
		case !errors.Is(err, fs.ErrNotExist):
			return "", "", fmt.Errorf("check %s: %w", target, err)
		}
	}

	body, resolvedType, err := config.Render(opts)
	if err != nil {
		return "", "", usageError(err)
	}
	header := fmt.Sprintf("# reviewgate configuration (%s profile), written by reviewgate init.\n"+
		"# REVIEWGATE_* environment variables still override these values.\n", orNone(resolvedType))
	if err := os.WriteFile(target, append([]byte(header), body...), 0o644); err != nil {
		return "", "", fmt.Errorf("write %s: %w", target, err)
	}
	return target, resolvedType, nil
}

func orNone(s string) string {
	if s == "" {
		return "no"
	}
	return s
}
