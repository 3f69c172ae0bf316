// Package timeclock reaches the time-clock vendor's embedded database. Only
// two things are asked of it: is it reachable, and what rows does a table
// hold.
package timeclock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/frontdesk-ops/frontdesk/internal/logging"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// PathSaver persists a discovered database path. *config.Loader
// implements it.
type PathSaver interface {
	SetTimeClockPath(path string) error
}

// Config configures a Store.
type Config struct {
	// Path is the database file. When empty and Discover is set, the
	// platform default locations are searched.
	Path     string
	Discover bool

	// Candidates overrides the discovery locations. Defaults to
	// DefaultCandidates().
	Candidates []string

	// Saver, when set, receives a discovered path.
	Saver PathSaver

	Logger *slog.Logger
}

// Store is a read-only handle on the time-clock database.
type Store struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	path string
}

// New creates a Store. It performs no I/O.
func New(cfg Config) *Store {
	return &Store{
		cfg:    cfg,
		path:   cfg.Path,
		logger: logging.Component(cfg.Logger, "timeclock"),
	}
}

// Path returns the configured or discovered path, or "".
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// resolvePath returns the database path, discovering and persisting it on
// first use when none is configured.
func (s *Store) resolvePath() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		return s.path, nil
	}
	if !s.cfg.Discover {
		return "", fmt.Errorf("%w: time-clock database path not set", types.ErrConfigurationMissing)
	}

	candidates := s.cfg.Candidates
	if candidates == nil {
		candidates = DefaultCandidates()
	}
	found, ok := Discover(candidates)
	if !ok {
		return "", fmt.Errorf("%w: no time-clock database found in %d default locations",
			types.ErrConfigurationMissing, len(candidates))
	}

	s.path = found
	s.logger.Info("discovered time-clock database", "path", found)
	if s.cfg.Saver != nil {
		if err := s.cfg.Saver.SetTimeClockPath(found); err != nil {
			s.logger.Warn("failed to persist time-clock path", "path", found, "error", err)
		}
	}
	return found, nil
}

// open opens the database read-only. The file must already exist; the
// driver would otherwise create an empty one.
func (s *Store) open() (*sql.DB, error) {
	path, err := s.resolvePath()
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("time-clock database: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("time-clock database %s is not a regular file", path)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open time-clock database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Ping checks that the database exists and answers a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	var one int
	if err := conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("time-clock database query failed: %w", err)
	}
	return nil
}

// Tables lists the user tables in the database.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	conn, err := s.open()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return listTables(ctx, conn)
}

func listTables(ctx context.Context, conn *sql.DB) ([]string, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list time-clock tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Rows returns up to limit rows of table as column-name maps. table must be
// one of the database's own tables.
func (s *Store) Rows(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 100
	}
	conn, err := s.open()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tables, err := listTables(ctx, conn)
	if err != nil {
		return nil, err
	}
	known := false
	for _, t := range tables {
		if t == table {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: time-clock table %q", types.ErrNotFound, table)
	}

	// The name was checked against sqlite_master above.
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s" LIMIT ?`, table), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", table, err)
	}
	return out, nil
}

// IsNotConfigured reports whether err means no database path is known.
func IsNotConfigured(err error) bool {
	return errors.Is(err, types.ErrConfigurationMissing)
}
