// Package cache is the cumulative IOC store: a single-file SQLite database
// holding every record the exporter has ever captured, at most one row per
// attribute id.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/leahtara/mispCacheExporter/internal/mispcache/ioc"
	"github.com/leahtara/mispCacheExporter/internal/mispcache/logger"
)

// ErrStorage covers write-permission and corruption failures in the cache
// file. It aborts the remaining cache writes of a run but not the run
// itself; rows already written stay written, and the next run's upserts
// catch up.
var ErrStorage = errors.New("cache storage failed")

const schema = `
CREATE TABLE IF NOT EXISTS misp_iocs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id INTEGER,
    event_uuid TEXT,
    event_info TEXT,
    event_date TEXT,
    event_timestamp TEXT,
    attribute_id INTEGER UNIQUE,
    attribute_type TEXT,
    attribute_category TEXT,
    attribute_value TEXT,
    attribute_timestamp TEXT,
    attribute_comment TEXT,
    attribute_to_ids INTEGER,
    import_time TEXT
);
CREATE INDEX IF NOT EXISTS idx_attribute_type ON misp_iocs (attribute_type);
CREATE INDEX IF NOT EXISTS idx_attribute_value ON misp_iocs (attribute_value);
CREATE INDEX IF NOT EXISTS idx_event_id ON misp_iocs (event_id);
`

const upsertStmt = `
INSERT INTO misp_iocs (
    event_id, event_uuid, event_info, event_date, event_timestamp,
    attribute_id, attribute_type, attribute_category, attribute_value,
    attribute_timestamp, attribute_comment, attribute_to_ids, import_time
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(attribute_id) DO UPDATE SET
    event_id = excluded.event_id,
    event_uuid = excluded.event_uuid,
    event_info = excluded.event_info,
    event_date = excluded.event_date,
    event_timestamp = excluded.event_timestamp,
    attribute_type = excluded.attribute_type,
    attribute_category = excluded.attribute_category,
    attribute_value = excluded.attribute_value,
    attribute_timestamp = excluded.attribute_timestamp,
    attribute_comment = excluded.attribute_comment,
    attribute_to_ids = excluded.attribute_to_ids,
    import_time = excluded.import_time
`

// Store is an open cache database. It is opened for the duration of the
// writing phase only; no locks are held between runs.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the cache database at path and
// ensures the schema exists. Existing rows are never dropped.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrStorage, err)
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the cache database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes one record, inserting on first sighting of its attribute
// id and replacing the stored row otherwise. Calling it twice with the
// same record leaves the table unchanged after the second call.
func (s *Store) Upsert(rec ioc.Record) error {
	toIDs := 0
	if rec.AttributeToIDs {
		toIDs = 1
	}
	_, err := s.db.Exec(upsertStmt,
		rec.EventID, rec.EventUUID, rec.EventInfo, rec.EventDate, rec.EventTimestamp,
		rec.AttributeID, rec.AttributeType, rec.AttributeCategory, rec.AttributeValue,
		rec.AttributeTimestamp, rec.AttributeComment, toIDs, rec.ImportTime,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert attribute %d: %v", ErrStorage, rec.AttributeID, err)
	}
	return nil
}

// UpsertAll writes records in order and returns how many landed. The first
// failure stops the remaining writes; rows already written are not rolled
// back (the mismatch shows up in the run summary instead).
func (s *Store) UpsertAll(records []ioc.Record) (int, error) {
	for i, rec := range records {
		if err := s.Upsert(rec); err != nil {
			return i, err
		}
	}
	return len(records), nil
}

// Count returns the number of cached rows.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM misp_iocs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrStorage, err)
	}
	return n, nil
}

// Backup copies the cache file to backupPath before a run touches it,
// giving operators yesterday's cache to diff against. A missing cache file
// is not an error; there is simply nothing to back up yet.
func Backup(path, backupPath string) error {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.L().Debugw("no existing cache to back up", "path", path)
			return nil
		}
		return fmt.Errorf("%w: open %s: %v", ErrStorage, path, err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrStorage, backupPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("%w: copy to %s: %v", ErrStorage, backupPath, err)
	}
	logger.L().Infow("backed up cache database", "from", path, "to", backupPath)
	return nil
}
