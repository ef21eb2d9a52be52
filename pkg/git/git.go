// Package git keeps local checkouts of package source repositories.
package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// Repo is a git repository holding a <types>/<archive>.7z tree
type Repo struct {
	Name   string
	URL    string
	Path   string
	LFS    bool
	Logger *zap.Logger
	// Progress receives clone output, discarded when nil
	Progress io.Writer
}

// NewRepo creates a new Repo checked out under baseDir/name
func NewRepo(name, url, baseDir string, lfs bool, logger *zap.Logger) *Repo {
	return &Repo{
		Name:   name,
		URL:    url,
		Path:   filepath.Join(baseDir, name),
		LFS:    lfs,
		Logger: logger,
	}
}

// PullOrClone brings the checkout up to date, cloning it on first use
func (r *Repo) PullOrClone(ctx context.Context) error {
	repo, err := r.openOrClone(ctx)
	if err != nil {
		return fmt.Errorf("failed to open/clone repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	err = worktree.PullContext(ctx, &git.PullOptions{
		RemoteName: "origin",
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to pull: %w", err)
	}

	if r.LFS {
		r.lfsPull(ctx)
	}

	return nil
}

// Head returns the hash of the checked out commit
func (r *Repo) Head() (string, error) {
	repo, err := git.PlainOpen(r.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open repo: %w", err)
	}

	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD: %w", err)
	}

	return ref.Hash().String(), nil
}

// lfsPull replaces LFS pointer files with their content. Failures only warn.
func (r *Repo) lfsPull(ctx context.Context) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		r.Logger.Warn("git not found for LFS pull", zap.String("repo", r.Name), zap.Error(err))
		return
	}

	cmd := exec.CommandContext(ctx, gitPath, "lfs", "pull")
	cmd.Dir = r.Path
	output, err := cmd.CombinedOutput()
	if err != nil {
		r.Logger.Warn("git lfs pull failed", zap.String("repo", r.Name), zap.Error(err), zap.ByteString("output", output))
		return
	}
	r.Logger.Info("git lfs pull succeeded", zap.String("repo", r.Name))
}

// openOrClone opens an existing repository or clones it if it doesn't exist
func (r *Repo) openOrClone(ctx context.Context) (*git.Repository, error) {
	repo, err := git.PlainOpen(r.Path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, err
	}

	r.Logger.Info("cloning repository",
		zap.String("name", r.Name),
		zap.String("url", r.URL),
	)

	if err := os.MkdirAll(r.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	repo, err = git.PlainCloneContext(ctx, r.Path, false, &git.CloneOptions{
		URL:      r.URL,
		Progress: r.Progress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone: %w", err)
	}

	return repo, nil
}
