package model

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// Delimiter separates the segments of a canonical descriptor
	Delimiter = "_"
	// ArchiveExt is the extension of every published archive
	ArchiveExt = ".7z"
)

// Package identifies a published package archive
type Package struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
	Author  string `json:"author" yaml:"author"`
	Types   string `json:"types" yaml:"types"`
}

// Parse decodes a descriptor of the form name_version_author_types.
// Segments after the fourth are ignored.
func Parse(s string) (Package, error) {
	segs := strings.Split(s, Delimiter)
	if len(segs) < 4 {
		return Package{}, &FormatError{Raw: s, Len: len(segs)}
	}

	return Package{
		Name:    segs[0],
		Version: segs[1],
		Author:  segs[2],
		Types:   segs[3],
	}, nil
}

// ParseArchive decodes an archive file name found under the given types directory
func ParseArchive(types, filename string) (Package, error) {
	if !strings.HasSuffix(filename, ArchiveExt) {
		return Package{}, fmt.Errorf("%q is not a %s archive", filename, ArchiveExt)
	}

	segs := strings.Split(strings.TrimSuffix(filename, ArchiveExt), Delimiter)
	if len(segs) != 3 {
		return Package{}, &FormatError{Raw: filename, Len: len(segs)}
	}

	return Package{
		Name:    segs[0],
		Version: segs[1],
		Author:  segs[2],
		Types:   types,
	}, nil
}

// String returns the canonical descriptor
func (p Package) String() string {
	return strings.Join([]string{p.Name, p.Version, p.Author, p.Types}, Delimiter)
}

// ArchiveName returns the archive file name. Types is not part of it.
func (p Package) ArchiveName() string {
	return strings.Join([]string{p.Name, p.Version, p.Author}, Delimiter) + ArchiveExt
}

// ArchivePath returns the archive path relative to a repository root
func (p Package) ArchivePath() string {
	return p.Types + "/" + p.ArchiveName()
}

// DownloadURL resolves the archive path against base
func (p Package) DownloadURL(base string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, &URLError{Base: base, Err: err}
	}
	if !u.IsAbs() {
		return nil, &URLError{Base: base, Err: fmt.Errorf("base url is not absolute")}
	}

	// fields are escaped one by one; ArchivePath stays raw for the filesystem
	rel := "./" + url.PathEscape(p.Types) + "/" + url.PathEscape(p.ArchiveName())
	ref, err := url.Parse(rel)
	if err != nil {
		return nil, &URLError{Base: base, Ref: rel, Err: err}
	}

	return u.ResolveReference(ref), nil
}

// Validate reports fields that would not survive a round trip through
// String and Parse. Parse and String never call it.
func (p Package) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"name", p.Name},
		{"version", p.Version},
		{"author", p.Author},
		{"types", p.Types},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("package %s is empty", f.name)
		}
		if strings.Contains(f.value, Delimiter) {
			return fmt.Errorf("package %s %q contains %q", f.name, f.value, Delimiter)
		}
	}
	return nil
}
