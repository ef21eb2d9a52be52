package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ippclub/better-ept/internal/config"
	"github.com/ippclub/better-ept/internal/model"
	"github.com/ippclub/better-ept/internal/store"
	"github.com/ippclub/better-ept/pkg/git"
	"go.uber.org/zap"
)

// LocalSource names archives found in the local package directory
const LocalSource = "local"

// IndexService pulls package sources and keeps the store in line with the archives on disk
type IndexService struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.SQLiteStore
	repos  map[string]*git.Repo
	mu     sync.Mutex
	onSync func()
}

// NewIndexService creates a new IndexService instance
func NewIndexService(cfg *config.Config, logger *zap.Logger, st *store.SQLiteStore) *IndexService {
	s := &IndexService{
		cfg:    cfg,
		logger: logger,
		store:  st,
		repos:  make(map[string]*git.Repo),
	}

	for _, repo := range cfg.Repos {
		s.repos[repo.Name] = git.NewRepo(repo.Name, repo.URL, cfg.RepoDir(), repo.LFS, logger)
	}

	return s
}

// SetOnSyncCallback registers a function run after every completed sync
func (s *IndexService) SetOnSyncCallback(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSync = fn
}

// Root returns the directory holding the archive tree of source
func (s *IndexService) Root(source string) (string, bool) {
	if source == LocalSource {
		return s.cfg.PackageDir(), true
	}
	if r, ok := s.repos[source]; ok {
		return r.Path, true
	}
	return "", false
}

// SyncAll pulls every source and reindexes all archives
func (s *IndexService) SyncAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pullErr := s.pullAll(ctx)

	changed, err := s.reindex(ctx)
	if err != nil {
		return errors.Join(pullErr, err)
	}

	if changed {
		if err := s.store.IncrementPackageListVersion(); err != nil {
			return errors.Join(pullErr, err)
		}
	}

	if s.onSync != nil {
		s.onSync()
	}

	return pullErr
}

// pullAll updates all git sources concurrently
func (s *IndexService) pullAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, len(s.repos))

	for _, repo := range s.repos {
		wg.Add(1)
		go func(r *git.Repo) {
			defer wg.Done()
			if err := r.PullOrClone(ctx); err != nil {
				errChan <- fmt.Errorf("failed to sync repo %s: %w", r.Name, err)
			}
		}(repo)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		s.logger.Error("source sync failed", zap.Error(err))
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// found is an archive discovered on disk
type found struct {
	pkg    model.Package
	source string
	file   string
	size   int64
	commit string
}

// reindex scans every source and reports whether the live package set changed
func (s *IndexService) reindex(ctx context.Context) (bool, error) {
	existing, err := s.store.ListAllPackages()
	if err != nil {
		return false, err
	}
	byDescriptor := make(map[string]*model.DBPackage, len(existing))
	for _, p := range existing {
		byDescriptor[p.Descriptor] = p
	}

	sources := []string{LocalSource}
	for name := range s.repos {
		sources = append(sources, name)
	}
	sort.Strings(sources)

	seen := make(map[string]bool)
	// packages of a source that could not be read are kept as they are
	failed := make(map[string]bool)
	changed := false

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return changed, err
		}

		archives, err := s.scan(source)
		if err != nil {
			s.logger.Error("failed to scan source", zap.String("source", source), zap.Error(err))
			failed[source] = true
			continue
		}

		for _, a := range archives {
			descriptor := a.pkg.String()
			if seen[descriptor] {
				s.logger.Warn("duplicate package ignored",
					zap.String("descriptor", descriptor),
					zap.String("source", source),
				)
				continue
			}
			seen[descriptor] = true

			old := byDescriptor[descriptor]
			if old != nil && old.Deleted == 0 && old.Source == a.source && old.File == a.file &&
				old.Size == a.size && old.CommitHash == a.commit {
				continue
			}

			rec := &model.DBPackage{
				Descriptor: descriptor,
				Name:       a.pkg.Name,
				Version:    a.pkg.Version,
				Author:     a.pkg.Author,
				Types:      a.pkg.Types,
				Source:     a.source,
				File:       a.file,
				Size:       a.size,
				CommitHash: a.commit,
			}
			if err := s.store.UpsertPackage(rec); err != nil {
				return changed, err
			}
			changed = true

			s.logger.Info("package indexed",
				zap.String("descriptor", descriptor),
				zap.String("source", a.source),
				zap.Int64("size", a.size),
			)
		}
	}

	for _, p := range existing {
		if p.Deleted != 0 || seen[p.Descriptor] || failed[p.Source] {
			continue
		}
		if err := s.store.MarkPackageAsDeleted(p.ID); err != nil {
			return changed, err
		}
		changed = true
		s.logger.Info("package removed", zap.String("descriptor", p.Descriptor))
	}

	return changed, nil
}

// scan lists the archives of one source, laid out as <types>/<archive>.7z
func (s *IndexService) scan(source string) ([]found, error) {
	root, _ := s.Root(source)

	commit := ""
	if r, ok := s.repos[source]; ok {
		head, err := r.Head()
		if err != nil {
			return nil, err
		}
		commit = head
	}

	typeDirs, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var archives []found
	for _, dir := range typeDirs {
		if !dir.IsDir() || dir.Name()[0] == '.' {
			continue
		}

		entries, err := os.ReadDir(filepath.Join(root, dir.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dir.Name(), err)
		}

		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}

			pkg, err := model.ParseArchive(dir.Name(), entry.Name())
			if err == nil {
				err = pkg.Validate()
			}
			if err != nil {
				s.logger.Warn("skipping file",
					zap.String("source", source),
					zap.String("file", filepath.Join(dir.Name(), entry.Name())),
					zap.Error(err),
				)
				continue
			}

			info, err := entry.Info()
			if err != nil {
				return nil, fmt.Errorf("failed to get file info: %w", err)
			}

			archives = append(archives, found{
				pkg:    pkg,
				source: source,
				file:   pkg.ArchivePath(),
				size:   info.Size(),
				commit: commit,
			})
		}
	}

	return archives, nil
}
