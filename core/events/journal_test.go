package events

import (
	"fmt"
	"testing"

	"crowdvault/core/types"
)

type testEvent struct {
	payload *types.Event
}

func (e testEvent) EventType() string {
	if e.payload == nil {
		return "test.bare"
	}
	return e.payload.Type
}

func (e testEvent) Event() *types.Event { return e.payload }

func TestJournalAssignsSequencesInOrder(t *testing.T) {
	journal := NewJournal(16)
	journal.SetNowFunc(func() int64 { return 1_000 })

	for i := 0; i < 3; i++ {
		journal.Emit(testEvent{payload: &types.Event{
			Type:       fmt.Sprintf("test.event.%d", i),
			Attributes: map[string]string{"index": fmt.Sprintf("%d", i)},
		}})
	}

	entries := journal.Tail(0)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Sequence != uint64(i) {
			t.Fatalf("entry %d: sequence %d", i, entry.Sequence)
		}
		if entry.ObservedAt != 1_000 {
			t.Fatalf("entry %d: observedAt %d", i, entry.ObservedAt)
		}
		if entry.Attributes["index"] != fmt.Sprintf("%d", i) {
			t.Fatalf("entry %d: attributes %+v", i, entry.Attributes)
		}
	}
	if journal.NextSequence() != 3 {
		t.Fatalf("next sequence: %d", journal.NextSequence())
	}
}

func TestJournalBoundsRetentionNotSequences(t *testing.T) {
	journal := NewJournal(2)
	for i := 0; i < 5; i++ {
		journal.Emit(testEvent{payload: &types.Event{Type: "test.overflow"}})
	}
	if journal.Len() != 2 {
		t.Fatalf("expected retention bound 2, got %d", journal.Len())
	}
	entries := journal.Tail(10)
	if entries[0].Sequence != 3 || entries[1].Sequence != 4 {
		t.Fatalf("expected tail sequences 3,4, got %d,%d", entries[0].Sequence, entries[1].Sequence)
	}
}

func TestJournalTailLimits(t *testing.T) {
	journal := NewJournal(8)
	for i := 0; i < 4; i++ {
		journal.Emit(testEvent{payload: &types.Event{Type: "test.tail"}})
	}
	if got := len(journal.Tail(2)); got != 2 {
		t.Fatalf("tail(2): %d", got)
	}
	if got := len(journal.Tail(100)); got != 4 {
		t.Fatalf("tail(100): %d", got)
	}
}

func TestJournalRecordsBareEvents(t *testing.T) {
	journal := NewJournal(8)
	journal.Emit(testEvent{})
	entries := journal.Tail(1)
	if entries[0].Type != "test.bare" || entries[0].Attributes != nil {
		t.Fatalf("bare event entry: %+v", entries[0])
	}
}
