package history

import (
	"errors"
	"testing"
	"time"

	"github.com/sim-publish/buildserver/internal/domain"
)

func testTask(id, simName string) domain.Task {
	return domain.Task{
		ID:          id,
		SimName:     simName,
		Version:     "1.2.0",
		Brands:      []domain.Brand{domain.BrandPhet, domain.BrandPhetIO},
		Servers:     []domain.Server{domain.ServerProduction},
		EnqueueTime: time.Now().UTC(),
		StartTime:   time.Now().UTC(),
	}
}

func TestRecordOutcomeAndRecent(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.RecordOutcome(testTask("a", "chains"), OutcomeSucceeded, nil); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := db.RecordOutcome(testTask("b", "faradays-law"), OutcomeAborted, errors.New("build failed")); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	recent, err := db.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}

	byID := map[string]Record{}
	for _, r := range recent {
		byID[r.ID] = r
	}
	if byID["a"].Outcome != OutcomeSucceeded || byID["a"].Error != "" {
		t.Errorf("record a = %+v", byID["a"])
	}
	if byID["b"].Outcome != OutcomeAborted || byID["b"].Error != "build failed" {
		t.Errorf("record b = %+v", byID["b"])
	}
	if byID["a"].Brands != "phet,phet-io" {
		t.Errorf("brands = %q", byID["a"].Brands)
	}
}

func TestRecordOutcomeUpsert(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	task := testTask("a", "chains")
	if err := db.RecordOutcome(task, OutcomeAborted, errors.New("transient")); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordOutcome(task, OutcomeSucceeded, nil); err != nil {
		t.Fatal(err)
	}

	recent, err := db.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 {
		t.Fatalf("len(recent) = %d, want 1 after upsert", len(recent))
	}
	if recent[0].Outcome != OutcomeSucceeded || recent[0].Error != "" {
		t.Errorf("record = %+v, want upserted success", recent[0])
	}
}

func TestRecentLimit(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	for _, id := range []string{"a", "b", "c"} {
		if err := db.RecordOutcome(testTask(id, "chains"), OutcomeSucceeded, nil); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := db.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Errorf("len(recent) = %d, want 2", len(recent))
	}
}
