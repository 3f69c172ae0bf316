// Package scanner reads the ID-scanner export directory. The scanner
// vendor's software drops one CSV per session named YYYYMMDD*.csv; only the
// directory's presence and the list of today's files matter here.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/frontdesk-ops/frontdesk/internal/clock"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

const dateLayout = "20060102"

// Export is a handle on the scanner export directory.
type Export struct {
	dir   string
	clock clock.Clock
}

// NewExport creates an Export for dir. A nil clock means the real clock.
func NewExport(dir string, c clock.Clock) *Export {
	if c == nil {
		c = clock.Real()
	}
	return &Export{dir: dir, clock: c}
}

// Dir returns the configured export directory.
func (e *Export) Dir() string {
	return e.dir
}

// Check reports whether the export directory exists. An empty directory,
// or one without files for today, is still reachable.
func (e *Export) Check(ctx context.Context) error {
	if e.dir == "" {
		return fmt.Errorf("%w: scanner export path not set", types.ErrConfigurationMissing)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(e.dir)
	if err != nil {
		return fmt.Errorf("scanner export directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("scanner export path %s is not a directory", e.dir)
	}
	return nil
}

// TodayFiles lists today's export files, sorted by name.
func (e *Export) TodayFiles() ([]string, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scanner export directory: %w", err)
	}
	now := e.clock.Now()
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !IsExportFileFor(entry.Name(), now) {
			continue
		}
		files = append(files, filepath.Join(e.dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// IsExportFileFor reports whether name is an export file for the local
// calendar day of t.
func IsExportFileFor(name string, t time.Time) bool {
	name = filepath.Base(name)
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return false
	}
	return strings.HasPrefix(name, t.Format(dateLayout))
}
