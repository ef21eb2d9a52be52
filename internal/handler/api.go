package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ippclub/better-ept/internal/config"
	"github.com/ippclub/better-ept/internal/model"
	"github.com/ippclub/better-ept/internal/service"
	"github.com/ippclub/better-ept/internal/store"
	"go.uber.org/zap"
)

// API handles HTTP requests
type API struct {
	cfg          *config.Config
	logger       *zap.Logger
	store        *store.SQLiteStore
	indexService *service.IndexService
	rateLimiter  *RateLimiter
	syncs        sync.WaitGroup
	mu           sync.RWMutex
	cache        struct {
		packages    []byte
		version     []byte
		packageInfo map[string][]byte
	}
}

// NewAPI creates a new API instance
func NewAPI(cfg *config.Config, logger *zap.Logger, st *store.SQLiteStore, indexService *service.IndexService) *API {
	api := &API{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		indexService: indexService,
		rateLimiter:  NewRateLimiter(float64(cfg.RateLimit.RPS), cfg.RateLimit.Burst),
	}
	api.cache.packageInfo = make(map[string][]byte)

	if err := api.UpdateCache(); err != nil {
		logger.Error("failed to initialize cache", zap.Error(err))
	}

	indexService.SetOnSyncCallback(func() {
		if err := api.UpdateCache(); err != nil {
			logger.Error("failed to update cache after sync", zap.Error(err))
		} else {
			logger.Info("cache updated after sync")
		}
	})

	return api
}

// Close waits for manual syncs in flight and releases the rate limiter
func (a *API) Close() {
	a.syncs.Wait()
	a.rateLimiter.Close()
}

// RegisterRoutes registers the API routes
func (a *API) RegisterRoutes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(PeerAddr)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(a.logger))
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.rateLimiter.RateLimit)
		r.Get("/packages", a.listPackages)
		r.Get("/packages/{descriptor}", a.getPackage)
		r.Get("/packages/{descriptor}/download", a.downloadPackage)
		r.Get("/package-list-version", a.getPackageListVersion)
	})

	// Admin routes (localhost only)
	r.Route("/admin", func(r chi.Router) {
		r.Use(LocalOnly)
		r.Post("/sync", a.triggerSync)
	})

	// Archives, at the path the client derives from a descriptor
	r.With(a.rateLimiter.RateLimit, SecureArchiveServer).Get("/{types}/{archive}", a.serveArchive)
}

// UpdateCache updates all cached responses
func (a *API) UpdateCache() error {
	pkgs, err := a.store.ListPackages()
	if err != nil {
		return fmt.Errorf("failed to get packages: %w", err)
	}

	infos := make([]model.PackageInfo, 0, len(pkgs))
	packageInfo := make(map[string][]byte, len(pkgs))
	for _, p := range pkgs {
		info, err := a.packageInfo(p)
		if err != nil {
			a.logger.Error("failed to build package info",
				zap.String("descriptor", p.Descriptor),
				zap.Error(err),
			)
			continue
		}
		infos = append(infos, info)

		data, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("failed to marshal package info: %w", err)
		}
		packageInfo[p.Descriptor] = data
	}

	packages, err := json.Marshal(infos)
	if err != nil {
		return fmt.Errorf("failed to marshal packages: %w", err)
	}

	version, err := a.store.GetLatestPackageListVersion()
	if err != nil {
		return fmt.Errorf("failed to get package list version: %w", err)
	}

	versionBytes, err := json.Marshal(model.PackageListVersion{
		Version:   version.Version,
		UpdatedAt: version.UpdatedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal version: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache.packages = packages
	a.cache.packageInfo = packageInfo
	a.cache.version = versionBytes

	return nil
}

func (a *API) packageInfo(p *model.DBPackage) (model.PackageInfo, error) {
	u, err := p.Package().DownloadURL(a.cfg.Download.BaseURL)
	if err != nil {
		return model.PackageInfo{}, err
	}

	return model.PackageInfo{
		Descriptor: p.Descriptor,
		Name:       p.Name,
		Version:    p.Version,
		Author:     p.Author,
		Types:      p.Types,
		Size:       p.Size,
		Commit:     p.CommitHash,
		Download:   u.String(),
		UpdatedAt:  p.UpdatedAt.Unix(),
	}, nil
}

// listPackages returns a list of all packages
func (a *API) listPackages(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.cache.packages == nil {
		http.Error(w, "Cache not initialized", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(a.cache.packages)
}

// getPackage returns the information of one package
func (a *API) getPackage(w http.ResponseWriter, r *http.Request) {
	pkg, ok := parseDescriptor(w, r)
	if !ok {
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if cached, ok := a.cache.packageInfo[pkg.String()]; ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write(cached)
		return
	}

	http.Error(w, "package not found", http.StatusNotFound)
}

// downloadPackage redirects to the archive of a package
func (a *API) downloadPackage(w http.ResponseWriter, r *http.Request) {
	pkg, ok := parseDescriptor(w, r)
	if !ok {
		return
	}

	if _, err := a.store.GetPackage(pkg.String()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "package not found", http.StatusNotFound)
			return
		}
		a.logger.Error("failed to get package", zap.String("descriptor", pkg.String()), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	u, err := pkg.DownloadURL(a.cfg.Download.BaseURL)
	if err != nil {
		a.logger.Error("failed to derive download url", zap.String("descriptor", pkg.String()), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, u.String(), http.StatusFound)
}

// serveArchive streams an indexed archive
func (a *API) serveArchive(w http.ResponseWriter, r *http.Request) {
	pkg, err := model.ParseArchive(chi.URLParam(r, "types"), chi.URLParam(r, "archive"))
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	rec, err := a.store.GetPackage(pkg.String())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Error("failed to get package", zap.String("descriptor", pkg.String()), zap.Error(err))
		}
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	root, ok := a.indexService.Root(rec.Source)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	http.ServeFile(w, r, filepath.Join(root, filepath.FromSlash(rec.File)))
}

// parseDescriptor writes a 400 response when the descriptor is malformed
func parseDescriptor(w http.ResponseWriter, r *http.Request) (model.Package, bool) {
	pkg, err := model.Parse(chi.URLParam(r, "descriptor"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return model.Package{}, false
	}
	return pkg, true
}

// triggerSync triggers a manual sync of all sources
func (a *API) triggerSync(w http.ResponseWriter, r *http.Request) {
	a.logger.Info("manual sync triggered")

	// detached from the request, which ends right away
	a.syncs.Add(1)
	go func() {
		defer a.syncs.Done()
		if err := a.indexService.SyncAll(context.Background()); err != nil {
			a.logger.Error("manual sync failed", zap.Error(err))
		} else {
			a.logger.Info("manual sync completed successfully")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "sync started",
		"message": "Package index synchronization has been triggered",
	})
}

// getPackageListVersion returns the current version of the package list
func (a *API) getPackageListVersion(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.cache.version == nil {
		http.Error(w, "Cache not initialized", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(a.cache.version)
}
