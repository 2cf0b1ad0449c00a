// Package extractor sequences one extraction run: read recent rows from
// the source, normalize them into IOC records, fan the records out to the
// cache and snapshot sinks, and report a summary.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/leahtara/mispCacheExporter/internal/mispcache/cache"
	"github.com/leahtara/mispCacheExporter/internal/mispcache/config"
	"github.com/leahtara/mispCacheExporter/internal/mispcache/ioc"
	"github.com/leahtara/mispCacheExporter/internal/mispcache/logger"
	"github.com/leahtara/mispCacheExporter/internal/mispcache/normalize"
	"github.com/leahtara/mispCacheExporter/internal/mispcache/snapshot"
	"github.com/leahtara/mispCacheExporter/internal/mispcache/source"
)

// ErrRunInProgress is returned when a trigger arrives while a run is still
// executing. The extractor never overlaps runs; queueing is the
// scheduler's problem.
var ErrRunInProgress = errors.New("extraction run already in progress")

// State names the phase a run is in. A run moves Idle → Reading →
// Normalizing → Writing → Done; Failed is reachable from Reading only,
// since sink failures degrade the summary instead of failing the run.
type State string

const (
	StateIdle        State = "idle"
	StateReading     State = "reading"
	StateNormalizing State = "normalizing"
	StateWriting     State = "writing"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Summary is the single per-run report. Exactly one is produced for every
// triggered run, success or not.
type Summary struct {
	RunID             string `json:"run_id"`
	Timestamp         string `json:"timestamp"`
	RowsRead          int    `json:"rows_read"`
	RecordsNormalized int    `json:"records_normalized"`
	RecordsDropped    int    `json:"records_dropped"`
	CacheWrites       int    `json:"cache_writes"`
	SnapshotWritten   bool   `json:"snapshot_written"`
	Error             string `json:"error,omitempty"`
}

// RowSource is the read side of a run. The concrete implementation is
// source.Reader; tests substitute in-memory sources.
type RowSource interface {
	FetchRecent(ctx context.Context, p source.Params) ([]source.Row, error)
	Close() error
}

// OpenSourceFunc acquires a scoped source connection for one run.
type OpenSourceFunc func() (RowSource, error)

// Extractor runs extractions one at a time against a fixed configuration.
type Extractor struct {
	cfg        *config.Config
	openSource OpenSourceFunc
	now        func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	state   State
}

// New builds an extractor that reads from the configured source database.
func New(cfg *config.Config) *Extractor {
	return NewWithSource(cfg, func() (RowSource, error) {
		return source.Open(cfg.Database, cfg.Extraction.QueryTimeout)
	})
}

// NewWithSource builds an extractor with a caller-supplied source opener,
// so tests can run against substitute sources.
func NewWithSource(cfg *config.Config, open OpenSourceFunc) *Extractor {
	return &Extractor{
		cfg:        cfg,
		openSource: open,
		now:        time.Now,
		state:      StateIdle,
	}
}

// State reports the current run phase.
func (e *Extractor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Extractor) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	logger.L().Debugw("run state changed", "state", s)
}

// RunOnce executes one extraction run and returns its summary. A source
// failure returns the summary alongside a non-nil error and writes
// nothing; sink failures are reported inside the summary only. At most
// one run executes at a time; a concurrent trigger gets ErrRunInProgress.
func (e *Extractor) RunOnce(ctx context.Context) (Summary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Summary{}, ErrRunInProgress
	}
	defer e.running.Store(false)

	log := logger.L()
	summary := Summary{
		RunID:     uuid.NewString(),
		Timestamp: e.now().UTC().Format(time.RFC3339Nano),
	}

	params := source.Params{
		Lookback: e.cfg.Lookback(),
		Types:    e.cfg.Extraction.IOCTypes,
	}
	log.Infow("starting extraction run",
		"run_id", summary.RunID,
		"lookback", params.Lookback,
		"types", len(params.Types))

	// Reading. The source connection lives exactly as long as the fetch.
	e.setState(StateReading)
	rows, err := e.readRows(ctx, params)
	if err != nil {
		return e.fail(summary, err)
	}
	summary.RowsRead = len(rows)

	// Normalizing. Malformed rows are dropped and counted, never fatal.
	e.setState(StateNormalizing)
	records := make([]ioc.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := normalize.Normalize(row, e.now())
		if err != nil {
			summary.RecordsDropped++
			log.Warnw("dropping malformed row", "run_id", summary.RunID, "err", err.Error())
			continue
		}
		records = append(records, rec)
	}
	summary.RecordsNormalized = len(records)

	// Writing. Each sink failure degrades the summary; the other sink
	// still gets its writes, and the next run self-heals both.
	e.setState(StateWriting)
	var sinkErrs []string

	if err := snapshot.Write(e.cfg.Output.JSONFile, records); err != nil {
		log.Errorw("snapshot write failed", "run_id", summary.RunID, "err", err.Error())
		sinkErrs = append(sinkErrs, err.Error())
	} else {
		summary.SnapshotWritten = true
		log.Infow("wrote snapshot", "run_id", summary.RunID,
			"path", e.cfg.Output.JSONFile, "records", len(records))
	}

	n, err := e.writeCache(records)
	summary.CacheWrites = n
	if err != nil {
		log.Errorw("cache write failed", "run_id", summary.RunID,
			"written", n, "err", err.Error())
		sinkErrs = append(sinkErrs, err.Error())
	}

	summary.Error = strings.Join(sinkErrs, "; ")
	e.setState(StateDone)
	e.report(summary)
	return summary, nil
}

// readRows acquires the source, fetches the window and releases the
// connection on every exit path before normalization begins.
func (e *Extractor) readRows(ctx context.Context, params source.Params) ([]source.Row, error) {
	src, err := e.openSource()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return src.FetchRecent(ctx, params)
}

// writeCache backs up and opens the cache store for the duration of the
// writing phase, then upserts the run's records.
func (e *Extractor) writeCache(records []ioc.Record) (int, error) {
	if e.cfg.Output.Backup && e.cfg.Output.BackupDB != "" {
		if err := cache.Backup(e.cfg.Output.CacheDB, e.cfg.Output.BackupDB); err != nil {
			// Proceed without a backup; the cache itself is untouched.
			logger.L().Warnw("cache backup failed", "err", err.Error())
		}
	}

	store, err := cache.Open(e.cfg.Output.CacheDB)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	return store.UpsertAll(records)
}

// fail finalizes a run that aborted before any writes.
func (e *Extractor) fail(summary Summary, err error) (Summary, error) {
	summary.Error = err.Error()
	e.setState(StateFailed)
	logger.L().Errorw("extraction run failed",
		"run_id", summary.RunID, "err", err.Error())
	e.appendRunLog(summary)
	return summary, err
}

// report finalizes a completed run.
func (e *Extractor) report(summary Summary) {
	log := logger.L()
	if summary.Error != "" {
		log.Warnw("extraction run completed with degraded sinks",
			"run_id", summary.RunID,
			"rows_read", summary.RowsRead,
			"records_normalized", summary.RecordsNormalized,
			"records_dropped", summary.RecordsDropped,
			"cache_writes", summary.CacheWrites,
			"snapshot_written", summary.SnapshotWritten,
			"err", summary.Error)
	} else {
		log.Infow("extraction run completed",
			"run_id", summary.RunID,
			"rows_read", summary.RowsRead,
			"records_normalized", summary.RecordsNormalized,
			"records_dropped", summary.RecordsDropped,
			"cache_writes", summary.CacheWrites,
			"snapshot_written", summary.SnapshotWritten)
	}
	e.appendRunLog(summary)
}

// appendRunLog appends the summary as one JSON line to the configured run
// log. Failing to write the log is itself only logged; the summary has
// already been returned to the caller.
func (e *Extractor) appendRunLog(summary Summary) {
	path := e.cfg.Logging.RunLog
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.L().Errorw("open run log", "path", path, "err", err.Error())
		return
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(summary); err != nil {
		logger.L().Errorw("write run log", "path", path, "err", err.Error())
	}
}

// String renders a one-line human summary for CLI output.
func (s Summary) String() string {
	status := "ok"
	if s.Error != "" {
		status = "error"
	}
	return fmt.Sprintf("run %s [%s]: read=%d normalized=%d dropped=%d cache_writes=%d snapshot=%t",
		s.RunID, status, s.RowsRead, s.RecordsNormalized, s.RecordsDropped, s.CacheWrites, s.SnapshotWritten)
}
