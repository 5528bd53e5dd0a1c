// Package persist keeps the last known value of every property in SQLite so a
// bridge can show its previous state before the peripheral reconnects.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/srg/lbridge/internal/codec"
	"github.com/srg/lbridge/internal/notify"
	"github.com/srg/lbridge/internal/property"
)

// Store is the last-known-good property table. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open property db: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate property db: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS properties (
			device_id  TEXT    NOT NULL,
			name       TEXT    NOT NULL,
			kind       INTEGER NOT NULL,
			known      INTEGER NOT NULL,
			num        INTEGER NOT NULL DEFAULT 0,
			raw        BLOB,
			source     TEXT    NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (device_id, name)
		)
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveChanges upserts the changes of one device in a single transaction. Later
// changes of the same property win.
func (s *Store) SaveChanges(ctx context.Context, deviceID string, changes []property.Change) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO properties (device_id, name, kind, known, num, raw, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, name) DO UPDATE SET
			kind = excluded.kind,
			known = excluded.known,
			num = excluded.num,
			raw = excluded.raw,
			source = excluded.source,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}
	defer stmt.Close()

	for _, c := range changes {
		var raw []byte
		if c.Value.Kind() == codec.KindOpaque {
			raw = c.Value.Bytes()
		}
		if _, err := stmt.ExecContext(ctx,
			deviceID, c.Name.String(), int(c.Value.Kind()), c.Value.Known(),
			c.Value.Int(), raw, c.Source.String(), c.Timestamp.UnixNano(),
		); err != nil {
			return fmt.Errorf("save %s: %w", c.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load returns every stored value of deviceID. Rows with a malformed name are skipped.
func (s *Store) Load(ctx context.Context, deviceID string) (map[property.Name]codec.Value, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, kind, known, num, raw FROM properties WHERE device_id = ? ORDER BY name", deviceID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", deviceID, err)
	}
	defer rows.Close()

	out := make(map[property.Name]codec.Value)
	for rows.Next() {
		var (
			rawName string
			kind    int
			known   bool
			num     int64
			raw     []byte
		)
		if err := rows.Scan(&rawName, &kind, &known, &num, &raw); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		name, err := property.ParseName(rawName)
		if err != nil {
			continue
		}
		out[name] = codec.FromParts(codec.Kind(kind), known, num, raw)
	}
	return out, rows.Err()
}

// LastUpdate returns the newest stored timestamp of deviceID, or the zero time.
func (s *Store) LastUpdate(ctx context.Context, deviceID string) (time.Time, error) {
	var ns sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(updated_at) FROM properties WHERE device_id = ?", deviceID).Scan(&ns)
	if err != nil {
		return time.Time{}, fmt.Errorf("last update %s: %w", deviceID, err)
	}
	if !ns.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, ns.Int64), nil
}

// Recorder is a notify.Listener that saves every delivered change.
type Recorder struct {
	store   *Store
	timeout time.Duration
	logger  *logrus.Logger
}

var _ notify.Listener = (*Recorder)(nil)

// NewRecorder creates a listener writing into store.
func NewRecorder(store *Store, logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Recorder{store: store, timeout: 2 * time.Second, logger: logger}
}

// OnChanges saves the changes. Failures are logged and do not affect delivery.
func (r *Recorder) OnChanges(deviceID string, changes []property.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.SaveChanges(ctx, deviceID, changes); err != nil {
		r.logger.WithFields(logrus.Fields{
			"device_id": deviceID,
			"changes":   len(changes),
			"error":     err,
		}).Warn("Failed to persist property changes")
	}
}
