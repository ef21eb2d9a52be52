package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ippclub/better-ept/internal/model"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no live package matches a descriptor
var ErrNotFound = errors.New("package not found")

const packageColumns = `id, descriptor, name, version, author, types, source, file, size, commit_hash, created_at, updated_at, deleted`

// SQLiteStore implements the store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dataPath string, logger *zap.Logger) (*SQLiteStore, error) {
	dbPath := filepath.Join(dataPath, "better-ept.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(model.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertPackage updates or inserts a package record and revives it if it was deleted
func (s *SQLiteStore) UpsertPackage(pkg *model.DBPackage) error {
	query := `
		INSERT INTO packages (descriptor, name, version, author, types, source, file, size, commit_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(descriptor) DO UPDATE SET
			source = excluded.source,
			file = excluded.file,
			size = excluded.size,
			commit_hash = excluded.commit_hash,
			updated_at = excluded.updated_at,
			deleted = 0
		RETURNING id
	`

	pkg.UpdatedAt = time.Now()
	pkg.Deleted = 0
	err := s.db.QueryRow(
		query,
		pkg.Descriptor,
		pkg.Name,
		pkg.Version,
		pkg.Author,
		pkg.Types,
		pkg.Source,
		pkg.File,
		pkg.Size,
		pkg.CommitHash,
		pkg.UpdatedAt,
	).Scan(&pkg.ID)

	if err != nil {
		return fmt.Errorf("failed to upsert package: %w", err)
	}

	return nil
}

// GetPackage gets a live package by its canonical descriptor
func (s *SQLiteStore) GetPackage(descriptor string) (*model.DBPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE descriptor = ? AND deleted = 0`
	pkg, err := scanPackage(s.db.QueryRow(query, descriptor))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, descriptor)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return pkg, nil
}

// ListPackages gets all live packages
func (s *SQLiteStore) ListPackages() ([]*model.DBPackage, error) {
	return s.queryPackages(`SELECT ` + packageColumns + ` FROM packages WHERE deleted = 0 ORDER BY types, name, version`)
}

// ListAllPackages gets every package including deleted ones
func (s *SQLiteStore) ListAllPackages() ([]*model.DBPackage, error) {
	return s.queryPackages(`SELECT ` + packageColumns + ` FROM packages ORDER BY id`)
}

func (s *SQLiteStore) queryPackages(query string, args ...any) ([]*model.DBPackage, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	var pkgs []*model.DBPackage
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		pkgs = append(pkgs, pkg)
	}

	return pkgs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPackage(row scanner) (*model.DBPackage, error) {
	pkg := &model.DBPackage{}
	err := row.Scan(
		&pkg.ID,
		&pkg.Descriptor,
		&pkg.Name,
		&pkg.Version,
		&pkg.Author,
		&pkg.Types,
		&pkg.Source,
		&pkg.File,
		&pkg.Size,
		&pkg.CommitHash,
		&pkg.CreatedAt,
		&pkg.UpdatedAt,
		&pkg.Deleted,
	)
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// MarkPackageAsDeleted hides a package whose archive disappeared
func (s *SQLiteStore) MarkPackageAsDeleted(id int64) error {
	query := `UPDATE packages SET deleted = 1, updated_at = ? WHERE id = ?`
	_, err := s.db.Exec(query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark package as deleted: %w", err)
	}
	return nil
}

// GetLatestPackageListVersion gets the latest package list version
func (s *SQLiteStore) GetLatestPackageListVersion() (*model.DBPackageListVersion, error) {
	query := `SELECT id, version, updated_at FROM package_list_versions ORDER BY id DESC LIMIT 1`
	version := &model.DBPackageListVersion{}
	err := s.db.QueryRow(query).Scan(
		&version.ID,
		&version.Version,
		&version.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		// If no version exists, create initial version
		version.Version = 1
		version.UpdatedAt = time.Now()
		err = s.IncrementPackageListVersion()
		if err != nil {
			return nil, fmt.Errorf("failed to create initial version: %w", err)
		}
		return version, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest package list version: %w", err)
	}
	return version, nil
}

// IncrementPackageListVersion increments the package list version
func (s *SQLiteStore) IncrementPackageListVersion() error {
	query := `
		INSERT INTO package_list_versions (version, updated_at)
		SELECT COALESCE(MAX(version), 0) + 1, CURRENT_TIMESTAMP
		FROM package_list_versions
	`
	_, err := s.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to increment package list version: %w", err)
	}
	return nil
}
