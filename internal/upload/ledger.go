package upload

import (
	"sort"
	"sync"
	"time"
)

// AttemptRecord is the per-upload bookkeeping entry. One record exists per
// in-flight upload ID; it is removed on terminal success and left in place
// on terminal failure until a monitor clears it.
type AttemptRecord struct {
	UploadID         string     `json:"upload_id"`
	FileName         string     `json:"file_name"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	RetryCount       int        `json:"retry_count"`
	ErrorHistory     []string   `json:"error_history,omitempty"`
	FileSizeBytes    int64      `json:"file_size_bytes"`
	NetworkCondition Condition  `json:"network_condition_at_start"`
}

// Ledger tracks in-flight and terminally-failed uploads for monitoring.
// It is observational only: retry decisions never read it. Safe for
// concurrent use; entries are keyed by upload ID with no cross-key
// interference. Not persisted across process restarts.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*AttemptRecord
}

// NewLedger creates an empty metrics ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*AttemptRecord)}
}

// Begin creates the entry for a new upload. Exactly one entry exists per
// in-flight upload ID.
func (l *Ledger) Begin(id, fileName string, size int64, cond Condition, startedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[id] = &AttemptRecord{
		UploadID:         id,
		FileName:         fileName,
		StartedAt:        startedAt,
		FileSizeBytes:    size,
		NetworkCondition: cond,
	}
}

// RecordFailure appends one failed attempt: the retry count increments and
// the error message is appended to the history. History is append-only in
// attempt order and never truncated.
func (l *Ledger) RecordFailure(id, errMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.entries[id]
	if !ok {
		return
	}

	rec.RetryCount++
	rec.ErrorHistory = append(rec.ErrorHistory, errMsg)
}

// Close stamps the end time on a terminally-failed upload. The entry stays
// in the ledger for post-mortem inspection until Finalize removes it.
func (l *Ledger) Close(id string, endedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.entries[id]; ok {
		rec.EndedAt = &endedAt
	}
}

// Finalize removes an entry: on terminal success, or when a monitor clears
// a failed entry after inspection.
func (l *Ledger) Finalize(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, id)
}

// InFlight counts entries that have not reached a terminal outcome.
func (l *Ledger) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int

	for _, rec := range l.entries {
		if rec.EndedAt == nil {
			n++
		}
	}

	return n
}

// Contains reports whether an entry exists for the upload ID.
func (l *Ledger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.entries[id]

	return ok
}

// Snapshot returns a copy of all entries ordered by start time, for
// dashboards and monitoring export. The copies are detached: mutating them
// does not affect the ledger.
func (l *Ledger) Snapshot() []AttemptRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]AttemptRecord, 0, len(l.entries))

	for _, rec := range l.entries {
		cp := *rec
		cp.ErrorHistory = append([]string(nil), rec.ErrorHistory...)

		if rec.EndedAt != nil {
			t := *rec.EndedAt
			cp.EndedAt = &t
		}

		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})

	return out
}
