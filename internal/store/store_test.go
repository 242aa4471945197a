package store

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestEnqueueAndLoadPending(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Enqueue("orders", "buy 10 shares", 5000)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a nonzero row id")
	}

	pending, err := s.LoadPending()
	if err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(pending))
	}
	if pending[0].Sequence != "orders" || pending[0].Text != "buy 10 shares" || pending[0].MaxWaitMs != 5000 {
		t.Errorf("unexpected pending message: %+v", pending[0])
	}
}

func TestRemoveDeletesRow(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Enqueue("", "hello", 0)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := s.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	pending, err := s.LoadPending()
	if err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending messages after Remove, got %d", len(pending))
	}
}

func TestLoadPendingPreservesSubmissionOrder(t *testing.T) {
	s := newTestStore(t)

	for _, text := range []string{"first", "second", "third"} {
		if _, err := s.Enqueue("seq", text, 0); err != nil {
			t.Fatalf("Enqueue(%q): %v", text, err)
		}
	}

	pending, err := s.LoadPending()
	if err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending messages, got %d", len(pending))
	}
	want := []string{"first", "second", "third"}
	for i, m := range pending {
		if m.Text != want[i] {
			t.Errorf("pending[%d].Text = %q, want %q", i, m.Text, want[i])
		}
	}
}
