package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const lockTimeout = 5 * time.Second

// legacyTimeLayout is the naive ISO-8601 form written by older state files
// (no zone offset, microsecond precision).
const legacyTimeLayout = "2006-01-02T15:04:05.999999"

// Ledger is the durable set of media item identifiers that have been
// downloaded at least once. Marks are kept in memory until Persist.
//
// A Ledger is safe for concurrent use, but a run is expected to mutate it
// from a single goroutine.
type Ledger struct {
	path string
	lock *stateLock
	log  zerolog.Logger
	now  func() time.Time

	mu       sync.RWMutex
	ids      map[string]struct{}
	order    []string
	lastSync time.Time
	closed   bool
}

// ledgerFile is the on-disk JSON record. Unknown fields are ignored on read.
type ledgerFile struct {
	SyncedItems []string  `json:"synced_items"`
	LastSync    stampTime `json:"last_sync"`
	TotalItems  int       `json:"total_items"`
}

// stampTime marshals as RFC 3339 and also accepts the zone-less legacy form.
type stampTime time.Time

func (t stampTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).Format(time.RFC3339Nano))
}

func (t *stampTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, legacyTimeLayout} {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			*t = stampTime(parsed)
			return nil
		}
	}
	// An unparsable timestamp does not invalidate the identifier set.
	return nil
}

// Load reads the ledger at path without locking it. A missing file yields an
// empty ledger; an unreadable or malformed file is logged and also yields an
// empty ledger. Load never fails.
func Load(path string, logger zerolog.Logger) *Ledger {
	l := newLedger(path, logger)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.log.Info().Str("path", path).Msg("no previous state, starting first sync")
			return l
		}
		l.log.Warn().Err(err).Str("path", path).Msg("cannot read state, starting fresh")
		return l
	}

	var f ledgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		l.log.Warn().
			Err(&StorageError{Op: "read", Path: path, Err: ErrStorageCorrupt}).
			AnErr("cause", err).
			Msg("malformed state, starting fresh")
		return l
	}

	for _, id := range f.SyncedItems {
		l.add(id)
	}
	l.lastSync = time.Time(f.LastSync)
	l.log.Info().Int("items", len(l.order)).Str("path", path).Msg("state loaded")
	return l
}

// Open acquires an exclusive lock on path and loads the ledger. Only the
// lock can fail; content problems degrade to an empty ledger as in Load.
// Callers must Close the ledger to release the lock.
func Open(path string, logger zerolog.Logger) (*Ledger, error) {
	lock, err := acquireLock(path, lockTimeout)
	if err != nil {
		return nil, err
	}
	l := Load(path, logger)
	l.lock = lock
	return l, nil
}

func newLedger(path string, logger zerolog.Logger) *Ledger {
	return &Ledger{
		path: path,
		log:  logger.With().Str("component", "ledger").Logger(),
		now:  time.Now,
		ids:  make(map[string]struct{}),
	}
}

// add inserts id without locking. Reports whether id was new.
func (l *Ledger) add(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := l.ids[id]; ok {
		return false
	}
	l.ids[id] = struct{}{}
	l.order = append(l.order, id)
	return true
}

// Path returns the state file location.
func (l *Ledger) Path() string { return l.path }

// Contains reports whether id has been recorded as downloaded.
func (l *Ledger) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

// Mark records id in memory. It reports whether id was not already present.
func (l *Ledger) Mark(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.add(id)
}

// Len returns the number of recorded identifiers.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// IDs returns the recorded identifiers in insertion order.
func (l *Ledger) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// LastSync returns the timestamp of the last successful Persist, or of the
// loaded state when nothing was persisted yet.
func (l *Ledger) LastSync() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSync
}

// Persist atomically overwrites the state file with the full identifier set,
// the current time and the set's cardinality.
func (l *Ledger) Persist() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return &StorageError{Op: "write", Path: l.path, Err: ErrClosed}
	}

	stamp := l.now()
	f := ledgerFile{
		SyncedItems: l.order,
		LastSync:    stampTime(stamp),
		TotalItems:  len(l.order),
	}
	if f.SyncedItems == nil {
		f.SyncedItems = []string{}
	}

	err := WriteFile(l.path, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(f)
	})
	if err != nil {
		return &StorageError{Op: "write", Path: l.path, Err: err}
	}

	l.lastSync = stamp
	l.log.Debug().Int("items", len(l.order)).Msg("state saved")
	return nil
}

// Close releases the file lock if one is held. It does not persist.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.lock.release()
}

// Stats summarizes a state file for display.
type Stats struct {
	Path       string
	TotalItems int
	LastSync   time.Time
}

// ReadStats decodes the state file at path strictly: unlike Load, a missing
// or malformed file is reported as an error.
func ReadStats(path string) (*Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	var f ledgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &StorageError{Op: "read", Path: path, Err: ErrStorageCorrupt}
	}
	return &Stats{
		Path:       path,
		TotalItems: len(f.SyncedItems),
		LastSync:   time.Time(f.LastSync),
	}, nil
}
