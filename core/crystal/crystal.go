package crystal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mudler/xlog"
	"github.com/vega-foundation/vega/core/types"
)

var (
	// ErrStorageUnavailable wraps unrecoverable I/O failures. The previously
	// committed version stays intact.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrCommitConflict is returned when the bounded retry budget for
	// conflicting commits is exhausted.
	ErrCommitConflict = errors.New("commit conflict: retries exhausted")
)

const (
	defaultMaxRetries  = 5
	defaultBaseBackoff = 10 * time.Millisecond
)

// Retention caps the append-only sections of the snapshot. Trimming happens
// at write time, inside the same atomic commit that grew the section.
type Retention struct {
	MaxEvents         int
	MaxCommunications int
	MaxCycleHistory   int
}

// DefaultRetention mirrors the caps of the historical store layout.
func DefaultRetention() Retention {
	return Retention{
		MaxEvents:         1000,
		MaxCommunications: 500,
		MaxCycleHistory:   100,
	}
}

// Mutator transforms a snapshot copy in place. Returning an error aborts the
// commit without any write.
type Mutator func(*types.StateSnapshot) error

// TimeCrystal is the durable, versioned store for the single StateSnapshot.
// All writes funnel through Commit, which serializes conflicting writers via
// optimistic concurrency with bounded backoff rather than long-held locks.
type TimeCrystal struct {
	path      string
	retention Retention

	mu     sync.Mutex
	cached *types.StateSnapshot

	maxRetries  int
	baseBackoff time.Duration
}

// New opens the store at path, loading the existing document or creating the
// empty skeleton on first boot.
func New(path string, retention Retention) (*TimeCrystal, error) {
	t := &TimeCrystal{
		path:        path,
		retention:   retention,
		maxRetries:  defaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: creating state dir: %v", ErrStorageUnavailable, err)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil && len(data) > 0:
		snap := &types.StateSnapshot{}
		if err := json.Unmarshal(data, snap); err != nil {
			return nil, fmt.Errorf("%w: corrupt state document %s: %v", ErrStorageUnavailable, path, err)
		}
		t.cached = snap
		xlog.Info("Time Crystal loaded", "path", path, "version", snap.Version)
	case err == nil || os.IsNotExist(err):
		t.cached = types.NewSnapshot()
		if err := t.write(t.cached); err != nil {
			return nil, err
		}
		xlog.Info("Time Crystal created", "path", path)
	default:
		return nil, fmt.Errorf("%w: reading %s: %v", ErrStorageUnavailable, path, err)
	}

	return t, nil
}

// Read returns a copy of the latest committed snapshot. Two consecutive reads
// with no intervening commit return identical snapshots.
func (t *TimeCrystal) Read() (*types.StateSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cached.Clone(), nil
}

// Version returns the latest committed version.
func (t *TimeCrystal) Version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cached.Version
}

// Commit applies mutator to the current snapshot and persists the result as
// version+1. The read-mutate-write sequence is atomic with respect to other
// commits: the mutation runs against a private copy of the base, and the
// swap is rejected if another commit landed in between. Rejected attempts
// retry with exponential backoff up to a bounded count, then fail with
// ErrCommitConflict. On success the new snapshot is returned; any subsequent
// Read observes it.
func (t *TimeCrystal) Commit(mutator Mutator) (*types.StateSnapshot, error) {
	backoff := t.baseBackoff

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		t.mu.Lock()
		base := t.cached
		t.mu.Unlock()

		next := base.Clone()
		if err := mutator(next); err != nil {
			return nil, err
		}
		next.Version = base.Version + 1
		t.trim(next)

		t.mu.Lock()
		if t.cached.Version != base.Version {
			t.mu.Unlock()
			xlog.Debug("Commit conflict, retrying", "base", base.Version, "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			continue
		}
		if err := t.write(next); err != nil {
			t.mu.Unlock()
			return nil, err
		}
		t.cached = next
		t.mu.Unlock()
		return next.Clone(), nil
	}

	return nil, ErrCommitConflict
}

// AppendEvents appends events to the log in one atomic commit. Retention
// trimming is part of the same write. Relay events are mirrored into the
// communications log.
func (t *TimeCrystal) AppendEvents(events ...types.Event) error {
	if len(events) == 0 {
		return nil
	}
	_, err := t.Commit(func(s *types.StateSnapshot) error {
		ApplyEvents(s, events...)
		return nil
	})
	return err
}

// ApplyEvents appends events to a snapshot and mirrors relay payloads into
// the communications log. For use inside commit mutators that bundle events
// with other changes into one atomic write.
func ApplyEvents(s *types.StateSnapshot, events ...types.Event) {
	s.Events = append(s.Events, events...)
	for _, e := range events {
		if e.Kind != types.EventRelay || len(e.Payload) == 0 {
			continue
		}
		var comm types.Communication
		if err := json.Unmarshal(e.Payload, &comm); err == nil && comm.To != "" {
			s.Communications = append(s.Communications, comm)
		}
	}
}

func (t *TimeCrystal) trim(s *types.StateSnapshot) {
	if n := t.retention.MaxEvents; n > 0 && len(s.Events) > n {
		s.Events = s.Events[len(s.Events)-n:]
	}
	if n := t.retention.MaxCommunications; n > 0 && len(s.Communications) > n {
		s.Communications = s.Communications[len(s.Communications)-n:]
	}
	if n := t.retention.MaxCycleHistory; n > 0 && len(s.CycleHistory) > n {
		s.CycleHistory = s.CycleHistory[len(s.CycleHistory)-n:]
	}
}

// write persists the snapshot all-or-nothing: marshal to a staging file in
// the same directory, sync, then atomically replace the canonical path. A
// failure at any step leaves the previous version untouched.
func (t *TimeCrystal) write(s *types.StateSnapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling snapshot: %v", ErrStorageUnavailable, err)
	}

	dir := filepath.Dir(t.path)
	staging, err := os.CreateTemp(dir, ".crystal-*.json")
	if err != nil {
		return fmt.Errorf("%w: creating staging file: %v", ErrStorageUnavailable, err)
	}

	if _, err := staging.Write(data); err != nil {
		staging.Close()
		os.Remove(staging.Name())
		return fmt.Errorf("%w: writing staging file: %v", ErrStorageUnavailable, err)
	}
	if err := staging.Sync(); err != nil {
		staging.Close()
		os.Remove(staging.Name())
		return fmt.Errorf("%w: syncing staging file: %v", ErrStorageUnavailable, err)
	}
	if err := staging.Close(); err != nil {
		os.Remove(staging.Name())
		return fmt.Errorf("%w: closing staging file: %v", ErrStorageUnavailable, err)
	}

	if err := os.Rename(staging.Name(), t.path); err != nil {
		os.Remove(staging.Name())
		return fmt.Errorf("%w: replacing %s: %v", ErrStorageUnavailable, t.path, err)
	}
	return nil
}
