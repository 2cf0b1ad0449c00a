// Package source reads recently created or updated attributes out of a MISP
// database. MISP runs on MySQL/MariaDB in practice, but the reader only
// depends on the logical shape (events joinable to attributes, unix
// last-modified timestamps, a type column), so postgres is supported as a
// second driver for test and mirror setups.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/leahtara/mispCacheExporter/internal/mispcache/config"
	"github.com/leahtara/mispCacheExporter/internal/mispcache/logger"
)

var (
	// ErrConnection covers unreachable hosts and rejected credentials.
	// Fatal to the run: nothing was read, nothing will be written.
	ErrConnection = errors.New("source connection failed")

	// ErrQuery covers a join/filter that cannot be executed, including a
	// query that exceeds the configured timeout. Fatal to the run: partial
	// result sets are not trusted.
	ErrQuery = errors.New("source query failed")
)

// Params bound one extraction query.
type Params struct {
	Lookback time.Duration // trailing window, inclusive at now-Lookback
	Types    []string      // attribute-type allowlist, must be non-empty
}

// Row is the strict intermediate form of one joined (event, attribute) row.
// Nullable columns stay nullable here; the normalizer decides what is
// required and what defaults to empty. AttributeToIDs is deliberately
// untyped: MariaDB hands tinyint back as int64, other setups as []byte.
type Row struct {
	EventID            sql.NullInt64
	EventUUID          sql.NullString
	EventInfo          sql.NullString
	EventDate          sql.NullString
	EventTimestamp     sql.NullInt64
	AttributeID        sql.NullInt64
	AttributeType      sql.NullString
	AttributeCategory  sql.NullString
	AttributeValue     sql.NullString
	AttributeTimestamp sql.NullInt64
	AttributeComment   sql.NullString
	AttributeToIDs     any
}

// Reader holds a scoped connection to the source database. It is acquired
// at the start of a run and must be closed before the run starts writing.
type Reader struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
	now     func() time.Time
}

// Open connects to the source database and verifies the connection.
func Open(cfg config.DatabaseCfg, timeout time.Duration) (*Reader, error) {
	dsn := BuildDSN(cfg)
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrConnection, cfg.Driver, err)
	}

	// The connect ping honors the same configured bound as the query.
	pingTimeout := timeout
	if pingTimeout <= 0 {
		pingTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s@%s:%d: %v", ErrConnection, cfg.Driver, cfg.Host, cfg.Port, err)
	}

	logger.L().Infow("connected to source database",
		"driver", cfg.Driver,
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Name)

	return &Reader{db: db, driver: cfg.Driver, timeout: timeout, now: time.Now}, nil
}

// Close releases the source connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

// FetchRecent returns every joined (event, attribute) row whose attribute
// was last modified within [now-Lookback, now] and whose type is in the
// allowlist. One query, no per-event round trips: the attributes table can
// hold millions of historical rows and this is the only load we put on it.
// Rows come back ordered by attribute id ascending so that identical
// inputs always produce identical output.
func (r *Reader) FetchRecent(ctx context.Context, p Params) ([]Row, error) {
	if len(p.Types) == 0 {
		return nil, fmt.Errorf("%w: empty attribute-type allowlist", ErrQuery)
	}

	cutoff := r.now().Add(-p.Lookback).Unix()
	query, args := buildQuery(r.driver, p.Types, cutoff)

	log := logger.L()
	log.Debugw("executing extraction query",
		"cutoff", cutoff,
		"types", len(p.Types),
		"timeout", r.timeout)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(
			&row.EventID,
			&row.EventUUID,
			&row.EventInfo,
			&row.EventDate,
			&row.EventTimestamp,
			&row.AttributeID,
			&row.AttributeType,
			&row.AttributeCategory,
			&row.AttributeValue,
			&row.AttributeTimestamp,
			&row.AttributeComment,
			&row.AttributeToIDs,
		); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrQuery, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	log.Infow("retrieved rows from source", "rows", len(out))
	return out, nil
}

// buildQuery assembles the single join over events and attributes with
// driver-appropriate placeholders. Args are the allowlist entries followed
// by the cutoff timestamp.
func buildQuery(driver string, types []string, cutoff int64) (string, []any) {
	ph := func(i int) string {
		if driver == "postgres" {
			return fmt.Sprintf("$%d", i)
		}
		return "?"
	}

	placeholders := make([]string, len(types))
	args := make([]any, 0, len(types)+1)
	for i, t := range types {
		placeholders[i] = ph(i + 1)
		args = append(args, t)
	}
	args = append(args, cutoff)

	query := fmt.Sprintf(`SELECT
    e.id AS event_id,
    e.uuid AS event_uuid,
    e.info AS event_info,
    e.date AS event_date,
    e.timestamp AS event_timestamp,
    a.id AS attribute_id,
    a.type AS attribute_type,
    a.category AS attribute_category,
    a.value1 AS attribute_value,
    a.timestamp AS attribute_timestamp,
    a.comment AS attribute_comment,
    a.to_ids AS attribute_to_ids
FROM events e
JOIN attributes a ON e.id = a.event_id
WHERE a.type IN (%s)
  AND a.timestamp >= %s
ORDER BY a.id ASC`, strings.Join(placeholders, ", "), ph(len(types)+1))

	return query, args
}

// BuildDSN constructs a DSN for postgres/mysql
func BuildDSN(cfg config.DatabaseCfg) string {
	if cfg.Driver == "postgres" {
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
}
