package events

import (
	"sync"
	"time"

	"crowdvault/core/types"
)

// PayloadCarrier is implemented by emitted events that wrap a full typed
// payload. The journal records the payload attributes when available.
type PayloadCarrier interface {
	Event() *types.Event
}

// Entry is a single journal record. Sequence numbers are assigned in emission
// order and never reused, so indexers can detect gaps after a restart.
type Entry struct {
	Sequence   uint64            `json:"sequence"`
	ObservedAt int64             `json:"observedAt"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Journal is an append-only, bounded event log. It keeps the most recent
// entries in memory for RPC consumers; the bound only limits retention, not
// sequence assignment.
type Journal struct {
	mu      sync.RWMutex
	entries []Entry
	nextSeq uint64
	limit   int
	nowFn   func() int64
}

// NewJournal creates a journal retaining at most limit entries. A non-positive
// limit falls back to a sane default.
func NewJournal(limit int) *Journal {
	if limit <= 0 {
		limit = 1024
	}
	return &Journal{
		entries: make([]Entry, 0, limit),
		limit:   limit,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the timestamp source. Intended for tests.
func (j *Journal) SetNowFunc(now func() int64) {
	if now == nil {
		return
	}
	j.mu.Lock()
	j.nowFn = now
	j.mu.Unlock()
}

// Emit implements the Emitter interface.
func (j *Journal) Emit(evt Event) {
	if j == nil || evt == nil {
		return
	}
	entry := Entry{Type: evt.EventType()}
	if carrier, ok := evt.(PayloadCarrier); ok {
		if payload := carrier.Event(); payload != nil {
			entry.Type = payload.Type
			if len(payload.Attributes) > 0 {
				attrs := make(map[string]string, len(payload.Attributes))
				for k, v := range payload.Attributes {
					attrs[k] = v
				}
				entry.Attributes = attrs
			}
		}
	}

	j.mu.Lock()
	entry.Sequence = j.nextSeq
	entry.ObservedAt = j.nowFn()
	j.nextSeq++
	j.entries = append(j.entries, entry)
	if overflow := len(j.entries) - j.limit; overflow > 0 {
		j.entries = append(j.entries[:0:0], j.entries[overflow:]...)
	}
	j.mu.Unlock()
}

// Tail returns up to n of the most recent entries in emission order.
func (j *Journal) Tail(n int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if n <= 0 || n > len(j.entries) {
		n = len(j.entries)
	}
	out := make([]Entry, n)
	copy(out, j.entries[len(j.entries)-n:])
	return out
}

// Len reports the number of retained entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// NextSequence returns the sequence number the next emitted event will carry.
func (j *Journal) NextSequence() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.nextSeq
}
