package probes

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// ErrNotRepository is returned when the working directory isn't inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// VCSStatus summarizes the working tree.
type VCSStatus struct {
	Dirty            bool `json:"dirty"`
	UncommittedCount int  `json:"uncommitted_count"`
}

// Git inspects a git working directory through the git binary.
type Git struct {
	dir string
	run func(ctx context.Context, dir string, args ...string) (string, error)
}

// NewGit creates a git probe rooted at dir.
func NewGit(dir string) *Git {
	return &Git{dir: dir, run: runGit}
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	full := append([]string{"-C", dir}, args...)
	out, err := exec.CommandContext(ctx, "git", full...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepository reports whether the directory is inside a work tree.
func (g *Git) IsRepository(ctx context.Context) bool {
	out, err := g.run(ctx, g.dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CurrentBranch returns the checked-out branch, or "" when detached.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	if !g.IsRepository(ctx) {
		return "", ErrNotRepository
	}
	return g.run(ctx, g.dir, "branch", "--show-current")
}

// Status counts uncommitted changes (staged, unstaged and untracked).
func (g *Git) Status(ctx context.Context) (*VCSStatus, error) {
	out, err := g.run(ctx, g.dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	count := 0
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return &VCSStatus{Dirty: count > 0, UncommittedCount: count}, nil
}

// LastCommitSummary returns "<short hash> <subject>" of HEAD.
func (g *Git) LastCommitSummary(ctx context.Context) (string, error) {
	return g.run(ctx, g.dir, "log", "-1", "--format=%h %s")
}
