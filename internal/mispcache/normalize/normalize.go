// Package normalize maps raw joined source rows onto canonical IOC records.
package normalize

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/araddon/dateparse"

	"github.com/leahtara/mispCacheExporter/internal/mispcache/ioc"
	"github.com/leahtara/mispCacheExporter/internal/mispcache/source"
)

// ErrMalformedRow marks a row missing one of its identity fields. Such rows
// are dropped and counted by the caller; they never abort a run.
var ErrMalformedRow = errors.New("malformed source row")

// Normalize maps one source row to exactly one IOC record, stamping it with
// the supplied wall-clock time. The required identity fields are event_id,
// attribute_id, attribute_type and attribute_value; everything else
// defaults to empty rather than failing. Unix timestamps from the source
// become wall-clock strings, and to_ids is coerced from whatever
// boolean-like shape the driver produced.
func Normalize(row source.Row, now time.Time) (ioc.Record, error) {
	var rec ioc.Record

	switch {
	case !row.EventID.Valid:
		return rec, fmt.Errorf("%w: missing event_id", ErrMalformedRow)
	case !row.AttributeID.Valid:
		return rec, fmt.Errorf("%w: missing attribute_id", ErrMalformedRow)
	case !row.AttributeType.Valid || row.AttributeType.String == "":
		return rec, fmt.Errorf("%w: attribute %d missing attribute_type", ErrMalformedRow, row.AttributeID.Int64)
	case !row.AttributeValue.Valid || row.AttributeValue.String == "":
		return rec, fmt.Errorf("%w: attribute %d missing attribute_value", ErrMalformedRow, row.AttributeID.Int64)
	}

	rec = ioc.Record{
		EventID:            row.EventID.Int64,
		EventUUID:          row.EventUUID.String,
		EventInfo:          row.EventInfo.String,
		EventDate:          normalizeDate(row.EventDate.String),
		EventTimestamp:     formatUnix(row.EventTimestamp),
		AttributeID:        row.AttributeID.Int64,
		AttributeType:      row.AttributeType.String,
		AttributeCategory:  row.AttributeCategory.String,
		AttributeValue:     row.AttributeValue.String,
		AttributeTimestamp: formatUnix(row.AttributeTimestamp),
		AttributeComment:   row.AttributeComment.String,
		AttributeToIDs:     coerceToIDs(row.AttributeToIDs),
		ImportTime:         now.Format(ioc.TimeLayout),
	}
	return rec, nil
}

// coerceToIDs folds the boolean-like shapes a SQL driver can hand back for
// a tinyint flag into a strict bool. Anything unrecognized is treated as
// false, matching how MISP itself defaults to_ids.
func coerceToIDs(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case string:
		return t == "1" || t == "true"
	case []byte:
		s := string(t)
		return s == "1" || s == "true"
	default:
		return false
	}
}

// formatUnix renders a unix-seconds column as a wall-clock string.
// A NULL timestamp stays empty rather than becoming the epoch.
func formatUnix(ts sql.NullInt64) string {
	if !ts.Valid {
		return ""
	}
	return time.Unix(ts.Int64, 0).Format(ioc.TimeLayout)
}

// normalizeDate reduces whatever date representation the driver produced
// (DATE column as "2006-01-02", or a full timestamp when parseTime is on)
// to a bare calendar date. Unparseable input passes through untouched.
func normalizeDate(s string) string {
	if s == "" {
		return ""
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02")
}
