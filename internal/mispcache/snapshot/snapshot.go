// Package snapshot writes the flat JSON file representing the most recent
// completed run. The file is fully regenerated each run, never appended.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/leahtara/mispCacheExporter/internal/mispcache/ioc"
)

// ErrStorage covers snapshot serialization and file-replacement failures.
var ErrStorage = errors.New("snapshot write failed")

// Write atomically replaces the snapshot at path with the serialized
// record list. The content lands in a temp file in the same directory
// first and is renamed over the target, so a reader never sees a
// half-written snapshot. An empty run still writes "[]": a present, empty
// snapshot means "no new IOCs", a missing file means the extractor never
// ran.
func Write(path string, records []ioc.Record) error {
	if records == nil {
		records = []ioc.Record{}
	}

	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrStorage, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("%w: create temp in %s: %v", ErrStorage, dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write temp: %v", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp: %v", ErrStorage, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace %s: %v", ErrStorage, path, err)
	}
	return nil
}
