// Package output owns the crawl's text output: file naming and the
// single-writer sink that serializes concurrent article batches.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultDateLayout renders run dates as DD-MM-YYYY.
const DefaultDateLayout = "02-01-2006"

// FileName returns "<shortName>-<date>.txt" for the run date.
func FileName(shortName string, at time.Time, layout string) string {
	if layout == "" {
		layout = DefaultDateLayout
	}
	return fmt.Sprintf("%s-%s.txt", strings.TrimSpace(shortName), at.Format(layout))
}

// Create truncates (or creates) dir/name for writing and returns the open file
// together with its path.
func Create(dir, name string) (*os.File, string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, "", fmt.Errorf("output file name is required")
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, "", fmt.Errorf("create output dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	// #nosec G304 -- path is built from operator configuration.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, "", fmt.Errorf("open output %s: %w", path, err)
	}
	return f, path, nil
}
