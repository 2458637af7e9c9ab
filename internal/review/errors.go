package review

import "errors"

var (
	// ErrNotGitRepo is returned by GitDiff for paths outside a repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrReviewerUnavailable means every review attempt failed.
	ErrReviewerUnavailable = errors.New("reviewer unavailable")

	// ErrRateLimited means the review budget for the current minute is spent.
	ErrRateLimited = errors.New("review rate limit reached")

	// ErrInvalidAllowlist means .gitleaks.toml could not be used.
	ErrInvalidAllowlist = errors.New("invalid secret allowlist")
)
