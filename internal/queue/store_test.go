package queue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sim-publish/buildserver/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "queue.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func testTask(simName string) domain.Task {
	return domain.Task{
		ID:      "id-" + simName,
		API:     domain.APIV2,
		SimName: simName,
		Version: "1.0.0",
		RepoShas: map[string]domain.RepoRef{
			simName: {SHA: "0123456789abcdef0123456789abcdef01234567"},
		},
		Brands:  []domain.Brand{domain.BrandPhet},
		Servers: []domain.Server{domain.ServerDev},
	}
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := newTestStore(t)

	doc := s.Load()
	if doc.Queue == nil {
		t.Error("Load of missing file should yield an empty (non-nil) queue")
	}
	if len(doc.Queue) != 0 || doc.CurrentTask != nil {
		t.Errorf("Load of missing file = %+v, want empty document", doc)
	}
}

func TestStore_AppendPersists(t *testing.T) {
	s := newTestStore(t)

	stamped, err := s.Append(testTask("chains"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if stamped.EnqueueTime.IsZero() {
		t.Error("Append should stamp the enqueue time")
	}

	doc := s.Load()
	if len(doc.Queue) != 1 {
		t.Fatalf("len(queue) = %d, want 1", len(doc.Queue))
	}
	if doc.Queue[0].CanonicalKey() != stamped.CanonicalKey() {
		t.Error("persisted task should match the stamped task")
	}
}

func TestStore_PromoteMovesTaskToCurrent(t *testing.T) {
	s := newTestStore(t)

	first, _ := s.Append(testTask("chains"))
	second, _ := s.Append(testTask("faradays-law"))

	promoted, err := s.Promote(first)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if promoted.StartTime.IsZero() {
		t.Error("Promote should stamp the start time")
	}

	doc := s.Load()
	if doc.CurrentTask == nil || doc.CurrentTask.SimName != "chains" {
		t.Fatalf("currentTask = %+v, want chains", doc.CurrentTask)
	}
	if len(doc.Queue) != 1 || doc.Queue[0].CanonicalKey() != second.CanonicalKey() {
		t.Errorf("queue after promote = %+v, want only faradays-law", doc.Queue)
	}

	if err := s.ClearCurrent(); err != nil {
		t.Fatalf("ClearCurrent: %v", err)
	}
	if doc := s.Load(); doc.CurrentTask != nil {
		t.Error("ClearCurrent should empty the current-task slot")
	}
}

func TestStore_PromoteUnknownTaskStillPromotes(t *testing.T) {
	s := newTestStore(t)

	promoted, err := s.Promote(testTask("chains"))
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}

	doc := s.Load()
	if doc.CurrentTask == nil || doc.CurrentTask.CanonicalKey() != promoted.CanonicalKey() {
		t.Error("a task absent from the pending list should still become current")
	}
}

func TestStore_CorruptFileYieldsEmptyQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	doc := s.Load()
	if len(doc.Queue) != 0 || doc.CurrentTask != nil {
		t.Errorf("corrupt file should load as empty document, got %+v", doc)
	}

	// The store must stay writable afterward.
	if _, err := s.Append(testTask("chains")); err != nil {
		t.Fatalf("Append after corrupt load: %v", err)
	}
	if doc := s.Load(); len(doc.Queue) != 1 {
		t.Errorf("len(queue) = %d, want 1", len(doc.Queue))
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	task := testTask("chains")
	task.RepoShas["babel"] = domain.RepoRef{Comment: "not pinned"}
	current := testTask("faradays-law")

	in := Document{Queue: []domain.Task{task}, CurrentTask: &current}
	if err := s.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out := s.Load()
	if len(out.Queue) != 1 || out.Queue[0].CanonicalKey() != task.CanonicalKey() {
		t.Errorf("queue round trip mismatch: %+v", out.Queue)
	}
	if out.Queue[0].RepoShas["babel"].Comment != "not pinned" {
		t.Error("comment repo entry should survive the round trip")
	}
	if out.CurrentTask == nil || out.CurrentTask.CanonicalKey() != current.CanonicalKey() {
		t.Errorf("currentTask round trip mismatch: %+v", out.CurrentTask)
	}
}
