package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

const diffTimeout = 30 * time.Second

// RepoRoot returns the working tree root of the repository containing
// projectPath, or ErrNotGitRepo.
func RepoRoot(projectPath string) (string, error) {
	repo, err := git.PlainOpenWithOptions(projectPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", ErrNotGitRepo
		}
		return "", fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		// Bare repositories have no working tree to diff.
		return "", ErrNotGitRepo
	}
	return wt.Filesystem.Root(), nil
}

// GitDiff returns the staged changes of the repository containing
// projectPath, or the unstaged changes when nothing is staged. It returns ""
// when the tree is clean and ErrNotGitRepo outside a repository.
func GitDiff(ctx context.Context, runner orchestrator.ProcessRunner, projectPath string) (string, error) {
	root, err := RepoRoot(projectPath)
	if err != nil {
		return "", err
	}

	if runner == nil {
		runner = orchestrator.NewExecRunner()
	}

	for _, args := range [][]string{{"diff", "--cached"}, {"diff"}} {
		out, err := runner.Run(ctx, orchestrator.Invocation{
			Command: "git",
			Args:    args,
			Dir:     root,
			Timeout: diffTimeout,
		})
		if err != nil {
			return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
		}
		if out.TimedOut {
			return "", fmt.Errorf("git %s timed out after %s", strings.Join(args, " "), diffTimeout)
		}
		if out.ExitCode != 0 {
			return "", fmt.Errorf("git %s exited %d: %s", strings.Join(args, " "), out.ExitCode, strings.TrimSpace(out.Stderr))
		}
		if strings.TrimSpace(out.Stdout) != "" {
			return out.Stdout, nil
		}
	}
	return "", nil
}
