package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leahtara/mispCacheExporter/internal/mispcache/ioc"
)

func testRecord(attributeID int64) ioc.Record {
	return ioc.Record{
		EventID:            7,
		EventUUID:          "evt-uuid-7",
		EventInfo:          "OSINT - test event",
		EventDate:          "2026-08-27",
		EventTimestamp:     "2026-08-27 10:00:00",
		AttributeID:        attributeID,
		AttributeType:      "ip-dst",
		AttributeCategory:  "Network activity",
		AttributeValue:     "203.0.113.10",
		AttributeTimestamp: "2026-08-27 11:00:00",
		AttributeComment:   "first sighting",
		AttributeToIDs:     true,
		ImportTime:         "2026-08-28 00:05:00",
	}
}

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ioc_cache.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestUpsert_InsertThenCount(t *testing.T) {
	store, _ := openTestStore(t)

	require.NoError(t, store.Upsert(testRecord(1)))
	require.NoError(t, store.Upsert(testRecord(2)))

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpsert_IdempotentOnDuplicate(t *testing.T) {
	store, _ := openTestStore(t)

	rec := testRecord(456)
	require.NoError(t, store.Upsert(rec))
	require.NoError(t, store.Upsert(rec))
	require.NoError(t, store.Upsert(rec))

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsert_LastWriteWins(t *testing.T) {
	store, _ := openTestStore(t)

	first := testRecord(456)
	require.NoError(t, store.Upsert(first))

	second := testRecord(456)
	second.AttributeComment = "updated comment"
	second.ImportTime = "2026-08-29 00:05:00"
	require.NoError(t, store.Upsert(second))

	n, err := store.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var comment, importTime string
	err = store.db.QueryRow(
		`SELECT attribute_comment, import_time FROM misp_iocs WHERE attribute_id = ?`, 456,
	).Scan(&comment, &importTime)
	require.NoError(t, err)
	assert.Equal(t, "updated comment", comment)
	assert.Equal(t, "2026-08-29 00:05:00", importTime)
}

func TestUpsertAll_ReportsWrites(t *testing.T) {
	store, _ := openTestStore(t)

	records := []ioc.Record{testRecord(1), testRecord(2), testRecord(3)}
	n, err := store.UpsertAll(records)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestOpen_PreservesExistingRows(t *testing.T) {
	store, path := openTestStore(t)
	require.NoError(t, store.Upsert(testRecord(1)))
	require.NoError(t, store.Close())

	// Reopening never drops data.
	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsert_StoresToIDsAsInteger(t *testing.T) {
	store, _ := openTestStore(t)

	flagged := testRecord(1)
	flagged.AttributeToIDs = true
	unflagged := testRecord(2)
	unflagged.AttributeToIDs = false
	require.NoError(t, store.Upsert(flagged))
	require.NoError(t, store.Upsert(unflagged))

	var v int
	require.NoError(t, store.db.QueryRow(
		`SELECT attribute_to_ids FROM misp_iocs WHERE attribute_id = 1`).Scan(&v))
	assert.Equal(t, 1, v)
	require.NoError(t, store.db.QueryRow(
		`SELECT attribute_to_ids FROM misp_iocs WHERE attribute_id = 2`).Scan(&v))
	assert.Equal(t, 0, v)
}

func TestBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ioc_cache.db")
	backupPath := filepath.Join(dir, "ioc_cache_yesterday.db")

	// Nothing to back up yet: not an error, no backup file created.
	require.NoError(t, Backup(path, backupPath))
	_, err := os.Stat(backupPath)
	assert.True(t, os.IsNotExist(err))

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(testRecord(1)))
	require.NoError(t, store.Close())

	require.NoError(t, Backup(path, backupPath))

	// The backup is a usable cache database with the same rows.
	backup, err := Open(backupPath)
	require.NoError(t, err)
	defer backup.Close()
	n, err := backup.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The original survives the backup.
	orig, err := Open(path)
	require.NoError(t, err)
	defer orig.Close()
	n, err = orig.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
