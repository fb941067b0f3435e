// Package worktree provisions isolated git working copies so concurrent
// chats don't collide on the same checkout.
package worktree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Provisioner creates and removes per-chat working copies.
type Provisioner interface {
	// Create adds a worktree for the chat off the repo's current HEAD and
	// returns its path and branch name.
	Create(ctx context.Context, repoPath, chatID string) (path, branch string, err error)

	// Remove deletes the worktree and its branch. Best-effort: a branch
	// that is already gone is not an error.
	Remove(ctx context.Context, repoPath, path, branch string) error
}

// Git shells out to the git CLI. Worktrees live under baseDir, one
// directory per chat.
type Git struct {
	baseDir string
}

// NewGit creates a git-backed provisioner rooted at baseDir.
func NewGit(baseDir string) *Git {
	return &Git{baseDir: baseDir}
}

var _ Provisioner = (*Git)(nil)

func (g *Git) Create(ctx context.Context, repoPath, chatID string) (string, string, error) {
	if err := os.MkdirAll(g.baseDir, 0755); err != nil {
		return "", "", fmt.Errorf("create worktree base dir: %w", err)
	}

	branch := "parley/" + chatID
	path := filepath.Join(g.baseDir, chatID)

	out, err := g.git(ctx, repoPath, "worktree", "add", "-b", branch, path)
	if err != nil {
		return "", "", fmt.Errorf("git worktree add: %w: %s", err, strings.TrimSpace(out))
	}
	slog.Info("worktree created", "chat_id", chatID, "path", path, "branch", branch)
	return path, branch, nil
}

func (g *Git) Remove(ctx context.Context, repoPath, path, branch string) error {
	if out, err := g.git(ctx, repoPath, "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("git worktree remove: %w: %s", err, strings.TrimSpace(out))
	}
	if branch != "" {
		// The branch may have been merged or deleted by hand already.
		if out, err := g.git(ctx, repoPath, "branch", "-D", branch); err != nil {
			slog.Debug("worktree branch delete failed", "branch", branch, "output", strings.TrimSpace(out))
		}
	}
	slog.Info("worktree removed", "path", path, "branch", branch)
	return nil
}

func (g *Git) git(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", repoPath}, args...)...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}
