package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/ippclub/better-ept/internal/config"
	"github.com/ippclub/better-ept/internal/store"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, repos ...config.Repo) (*IndexService, *store.SQLiteStore, *config.Config) {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	cfg.Repos = repos
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatal(err)
	}

	st, err := store.NewSQLiteStore(cfg.Storage.Path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	return NewIndexService(cfg, zap.NewNop(), st), st, cfg
}

func writeArchive(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSyncAllLocal(t *testing.T) {
	s, st, cfg := newTestService(t)

	writeArchive(t, cfg.PackageDir(), "lib/libfoo_1.2.0_alice.7z", "abc")
	writeArchive(t, cfg.PackageDir(), "app/tool_2.0_bob.7z", "abcdef")
	writeArchive(t, cfg.PackageDir(), "lib/README.md", "ignored")
	writeArchive(t, cfg.PackageDir(), "lib/short_1.7z", "ignored")
	writeArchive(t, cfg.PackageDir(), "bad_types/pkg_1_a.7z", "ignored")

	calls := 0
	s.SetOnSyncCallback(func() { calls++ })

	if err := s.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll returned error: %v", err)
	}

	pkgs, err := st.ListPackages()
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("indexed %d packages, want 2: %+v", len(pkgs), pkgs)
	}
	if pkgs[0].Descriptor != "tool_2.0_bob_app" || pkgs[0].Size != 6 || pkgs[0].Source != LocalSource {
		t.Errorf("unexpected first package %+v", pkgs[0])
	}
	if pkgs[1].Descriptor != "libfoo_1.2.0_alice_lib" || pkgs[1].File != "lib/libfoo_1.2.0_alice.7z" {
		t.Errorf("unexpected second package %+v", pkgs[1])
	}
	if calls != 1 {
		t.Errorf("callback called %d times", calls)
	}

	v1, _ := st.GetLatestPackageListVersion()

	// nothing changed
	if err := s.SyncAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	v2, _ := st.GetLatestPackageListVersion()
	if v2.Version != v1.Version {
		t.Errorf("version bumped without changes: %d -> %d", v1.Version, v2.Version)
	}

	os.Remove(filepath.Join(cfg.PackageDir(), "app", "tool_2.0_bob.7z"))
	if err := s.SyncAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	pkgs, _ = st.ListPackages()
	if len(pkgs) != 1 || pkgs[0].Name != "libfoo" {
		t.Errorf("packages after removal = %+v", pkgs)
	}
	v3, _ := st.GetLatestPackageListVersion()
	if v3.Version != v2.Version+1 {
		t.Errorf("version = %d, want %d", v3.Version, v2.Version+1)
	}
	if calls != 3 {
		t.Errorf("callback called %d times", calls)
	}
}

func TestSyncAllGitSource(t *testing.T) {
	upstreamDir := t.TempDir()
	upstream, err := git.PlainInit(upstreamDir, false)
	if err != nil {
		t.Fatal(err)
	}
	writeArchive(t, upstreamDir, "lib/libbar_0.1_carol.7z", "git archive")
	wt, _ := upstream.Worktree()
	if _, err := wt.Add("lib/libbar_0.1_carol.7z"); err != nil {
		t.Fatal(err)
	}
	hash, err := wt.Commit("add libbar", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}

	s, st, _ := newTestService(t, config.Repo{Name: "main", URL: upstreamDir})

	if err := s.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll returned error: %v", err)
	}

	pkg, err := st.GetPackage("libbar_0.1_carol_lib")
	if err != nil {
		t.Fatalf("GetPackage returned error: %v", err)
	}
	if pkg.Source != "main" || pkg.CommitHash != hash.String() {
		t.Errorf("unexpected package %+v", pkg)
	}

	root, ok := s.Root("main")
	if !ok {
		t.Fatal("expected root for git source")
	}
	if _, err := os.Stat(filepath.Join(root, pkg.File)); err != nil {
		t.Errorf("archive missing from checkout: %v", err)
	}
}

func TestSyncAllReportsPullFailure(t *testing.T) {
	s, st, cfg := newTestService(t, config.Repo{Name: "broken", URL: filepath.Join(t.TempDir(), "nothing-here")})
	writeArchive(t, cfg.PackageDir(), "lib/libfoo_1.2.0_alice.7z", "abc")

	if err := s.SyncAll(context.Background()); err == nil {
		t.Error("expected error for unreachable source")
	}

	// local archives are still indexed
	if _, err := st.GetPackage("libfoo_1.2.0_alice_lib"); err != nil {
		t.Errorf("local package not indexed: %v", err)
	}
}

func TestRootUnknownSource(t *testing.T) {
	s, _, _ := newTestService(t)
	if _, ok := s.Root("unknown"); ok {
		t.Error("expected unknown source to have no root")
	}
}

func TestSyncAllKeepsPackagesOfUnreadableSource(t *testing.T) {
	upstreamDir := t.TempDir()
	upstream, err := git.PlainInit(upstreamDir, false)
	if err != nil {
		t.Fatal(err)
	}
	writeArchive(t, upstreamDir, "lib/libbar_0.1_carol.7z", "git archive")
	wt, _ := upstream.Worktree()
	if _, err := wt.Add("lib/libbar_0.1_carol.7z"); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Commit("add libbar", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	}); err != nil {
		t.Fatal(err)
	}

	s, st, cfg := newTestService(t, config.Repo{Name: "main", URL: upstreamDir})
	writeArchive(t, cfg.PackageDir(), "app/tool_2.0_bob.7z", "local")

	if err := s.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll returned error: %v", err)
	}
	before, _ := st.GetLatestPackageListVersion()

	// upstream gone and checkout broken: neither pull nor scan can succeed
	root, _ := s.Root("main")
	if err := os.RemoveAll(filepath.Join(root, ".git")); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(upstreamDir); err != nil {
		t.Fatal(err)
	}
	os.Remove(filepath.Join(cfg.PackageDir(), "app", "tool_2.0_bob.7z"))

	if err := s.SyncAll(context.Background()); err == nil {
		t.Error("expected error for unreachable source")
	}

	if _, err := st.GetPackage("libbar_0.1_carol_lib"); err != nil {
		t.Errorf("package of unreadable source was removed: %v", err)
	}
	if _, err := st.GetPackage("tool_2.0_bob_app"); err == nil {
		t.Error("package removed from a readable source is still live")
	}

	after, _ := st.GetLatestPackageListVersion()
	if after.Version != before.Version+1 {
		t.Errorf("version = %d, want %d", after.Version, before.Version+1)
	}
}
