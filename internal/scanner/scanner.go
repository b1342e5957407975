package scanner

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/felo/emailparser/internal/parser"
)

// File is an email file found under the scan root
type File struct {
	// Path is relative to the root, with forward slashes
	Path   string
	Format parser.Format
}

// Scanner scans directories for .eml and .msg files
type Scanner struct {
	rootPath string
}

// NewScanner creates a new scanner for the given root path
func NewScanner(rootPath string) *Scanner {
	return &Scanner{
		rootPath: rootPath,
	}
}

// RootPath returns the root path for resolving relative paths
func (s *Scanner) RootPath() string {
	return s.rootPath
}

// Abs resolves a scanned relative path against the root
func (s *Scanner) Abs(rel string) string {
	return filepath.Join(s.rootPath, filepath.FromSlash(rel))
}

// Scan recursively collects email files, sorted by path
func (s *Scanner) Scan() ([]File, error) {
	absRoot, err := filepath.Abs(s.rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute root path: %w", err)
	}

	var files []File
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if d.IsDir() {
			return nil
		}

		format, ok := FormatOf(path)
		if !ok {
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", path, err)
		}
		files = append(files, File{Path: filepath.ToSlash(relPath), Format: format})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// FormatOf maps a file extension to a Format
func FormatOf(path string) (parser.Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".eml":
		return parser.FormatEML, true
	case ".msg":
		return parser.FormatMSG, true
	}
	return 0, false
}
