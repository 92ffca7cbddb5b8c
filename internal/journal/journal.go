// Package journal implements on-disk key/value persistence per site: one
// file per variable, holding its latest committed integer value as text,
// written atomically (temp file, fsync, rename) per commit.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Journal persists one site's committed variable values under a
// subdirectory dedicated to that site.
type Journal struct {
	dir string
}

// Open returns a Journal rooted at <dataDir>/site-<siteID>. The directory
// is created if absent. A pre-existing, non-empty directory is reported
// as a config-level problem by the caller (Open itself does not enforce
// emptiness — that is a one-time run-setup concern, not a per-commit one).
func Open(dataDir string, siteID int) (*Journal, error) {
	dir := filepath.Join(dataDir, fmt.Sprintf("site-%d", siteID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create site directory: %w", err)
	}
	return &Journal{dir: dir}, nil
}

// Dir returns the path of the backing directory Open uses for siteID,
// without creating it. Used by run setup to check that the directory is
// absent or empty before first use.
func Dir(dataDir string, siteID int) string {
	return filepath.Join(dataDir, fmt.Sprintf("site-%d", siteID))
}

func (j *Journal) path(varID int) string {
	return filepath.Join(j.dir, fmt.Sprintf("x%d.txt", varID))
}

// Write atomically persists value as the committed value of varID: the
// new value is written to a temp file in the same directory and renamed
// into place, so a crash mid-write never leaves a torn file.
func (j *Journal) Write(varID, value int) error {
	final := j.path(varID)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open temp file: %w", err)
	}
	if _, err := f.WriteString(strconv.Itoa(value)); err != nil {
		f.Close()
		return fmt.Errorf("journal: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("journal: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("journal: close temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("journal: rename into place: %w", err)
	}
	return nil
}

// Read loads the persisted value of varID, if any file exists for it.
func (j *Journal) Read(varID int) (int, bool, error) {
	data, err := os.ReadFile(j.path(varID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("journal: read %s: %w", j.path(varID), err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("journal: parse %s: %w", j.path(varID), err)
	}
	return v, true, nil
}
