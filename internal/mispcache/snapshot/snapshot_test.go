package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leahtara/mispCacheExporter/internal/mispcache/ioc"
)

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iocs.json")
	records := []ioc.Record{
		{
			EventID:        1,
			EventUUID:      "evt-1",
			AttributeID:    10,
			AttributeType:  "ip-dst",
			AttributeValue: "203.0.113.5",
			AttributeToIDs: true,
			ImportTime:     "2026-08-28 00:05:00",
		},
		{
			EventID:        1,
			EventUUID:      "evt-1",
			AttributeID:    11,
			AttributeType:  "md5",
			AttributeValue: "d41d8cd98f00b204e9800998ecf8427e",
			ImportTime:     "2026-08-28 00:05:00",
		},
	}

	require.NoError(t, Write(path, records))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got []ioc.Record
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, records, got)
}

func TestWrite_FieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iocs.json")
	require.NoError(t, Write(path, []ioc.Record{{AttributeID: 5}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)

	for _, field := range []string{
		"event_id", "event_uuid", "event_info", "event_date", "event_timestamp",
		"attribute_id", "attribute_type", "attribute_category", "attribute_value",
		"attribute_timestamp", "attribute_comment", "attribute_to_ids", "import_time",
	} {
		assert.Contains(t, raw[0], field)
	}
}

func TestWrite_EmptyRunWritesEmptyList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iocs.json")

	require.NoError(t, Write(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got []ioc.Record
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Empty(t, got)
	assert.NotNil(t, got, "snapshot must be an empty list, not null")
	assert.Equal(t, "[]", string(data))
}

func TestWrite_ReplacesPreviousSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iocs.json")

	require.NoError(t, Write(path, []ioc.Record{{AttributeID: 1}, {AttributeID: 2}}))
	require.NoError(t, Write(path, []ioc.Record{{AttributeID: 3}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got []ioc.Record
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].AttributeID)
}

func TestWrite_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "iocs.json")

	require.NoError(t, Write(path, []ioc.Record{{AttributeID: 1}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "iocs.json", entries[0].Name())
}

func TestWrite_MissingDirectoryFails(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "no-such-dir", "iocs.json"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
}
