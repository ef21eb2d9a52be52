package model

import (
	"time"
)

// DBPackage represents an indexed archive in the database
type DBPackage struct {
	ID         int64     `db:"id"`
	Descriptor string    `db:"descriptor"`
	Name       string    `db:"name"`
	Version    string    `db:"version"`
	Author     string    `db:"author"`
	Types      string    `db:"types"`
	Source     string    `db:"source"`
	File       string    `db:"file"`
	Size       int64     `db:"size"`
	CommitHash string    `db:"commit_hash"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
	Deleted    int       `db:"deleted"`
}

// Package returns the descriptor of the record
func (p *DBPackage) Package() Package {
	return Package{
		Name:    p.Name,
		Version: p.Version,
		Author:  p.Author,
		Types:   p.Types,
	}
}

// DBPackageListVersion represents the version of package list
type DBPackageListVersion struct {
	ID        int64     `db:"id"`
	Version   int64     `db:"version"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Schema contains the SQL schema for the database
const Schema = `
CREATE TABLE IF NOT EXISTS packages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    descriptor TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    version TEXT NOT NULL,
    author TEXT NOT NULL,
    types TEXT NOT NULL,
    source TEXT NOT NULL,
    file TEXT NOT NULL,
    size INTEGER NOT NULL,
    commit_hash TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS package_list_versions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    version INTEGER NOT NULL DEFAULT 1,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_packages_name ON packages(name);
CREATE INDEX IF NOT EXISTS idx_packages_types ON packages(types);
`
