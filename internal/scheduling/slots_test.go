package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func futureTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return ts
}

func seedSlot(repo *MemoryRepository, vetID uuid.UUID, start time.Time) VetSlot {
	return repo.PutSlot(VetSlot{
		VetID:     vetID,
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
	})
}

func TestBookSlot(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewSlotService(repo)
	ctx := context.Background()

	vetID := uuid.New()
	slot := seedSlot(repo, vetID, futureTime(t, "2030-01-01T10:00:00Z"))

	booked, err := svc.Book(ctx, slot.ID)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if booked.Status != SlotBooked {
		t.Errorf("status = %s, want %s", booked.Status, SlotBooked)
	}
	if booked.IsAvailable {
		t.Error("booked slot still marked available")
	}
}

func TestBookSlotRejectsNonAvailable(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewSlotService(repo)
	ctx := context.Background()

	slot := seedSlot(repo, uuid.New(), futureTime(t, "2030-01-01T10:00:00Z"))

	if _, err := svc.Book(ctx, slot.ID); err != nil {
		t.Fatalf("first book: %v", err)
	}

	var invalid *InvalidStateError
	if _, err := svc.Book(ctx, slot.ID); !errors.As(err, &invalid) {
		t.Fatalf("second book err = %v, want InvalidStateError", err)
	}

	blocked := repo.PutSlot(VetSlot{
		VetID:     uuid.New(),
		StartTime: futureTime(t, "2030-01-02T10:00:00Z"),
		EndTime:   futureTime(t, "2030-01-02T10:30:00Z"),
	})
	if _, err := svc.Block(ctx, blocked.ID); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := svc.Book(ctx, blocked.ID); !errors.As(err, &invalid) {
		t.Fatalf("book blocked err = %v, want InvalidStateError", err)
	}
}

func TestBookSlotRejectsPastStart(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewSlotService(repo)

	past := time.Now().Add(-time.Hour)
	slot := seedSlot(repo, uuid.New(), past)

	var invalid *InvalidStateError
	if _, err := svc.Book(context.Background(), slot.ID); !errors.As(err, &invalid) {
		t.Fatalf("book past slot err = %v, want InvalidStateError", err)
	}
}

func TestBookSlotNotFound(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewSlotService(repo)

	var notFoundErr *NotFoundError
	if _, err := svc.Book(context.Background(), uuid.New()); !errors.As(err, &notFoundErr) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if notFoundErr.Entity != "Slot" || notFoundErr.Field != "id" {
		t.Errorf("diagnostics = %s/%s, want Slot/id", notFoundErr.Entity, notFoundErr.Field)
	}
}

// Exactly one of any set of concurrent bookers may win a slot.
func TestConcurrentBookingSingleWinner(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewSlotService(repo)
	ctx := context.Background()

	slot := seedSlot(repo, uuid.New(), futureTime(t, "2030-01-01T10:00:00Z"))

	const callers = 32
	var wg sync.WaitGroup
	results := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Book(ctx, slot.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, losses := 0, 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		var invalid *InvalidStateError
		if !errors.As(err, &invalid) {
			t.Errorf("loser got %v, want InvalidStateError", err)
		}
		losses++
	}

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if losses != callers-1 {
		t.Errorf("losses = %d, want %d", losses, callers-1)
	}
}

// Availability flag must track status through every transition.
func TestAvailabilityFlagStaysInSync(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewSlotService(repo)
	ctx := context.Background()

	slot := seedSlot(repo, uuid.New(), futureTime(t, "2030-01-01T10:00:00Z"))

	check := func(stage string) {
		t.Helper()
		s, err := svc.GetByID(ctx, slot.ID)
		if err != nil {
			t.Fatalf("%s: get: %v", stage, err)
		}
		if s.IsAvailable != (s.Status == SlotAvailable) {
			t.Errorf("%s: IsAvailable=%v but Status=%s", stage, s.IsAvailable, s.Status)
		}
	}

	check("initial")
	if _, err := svc.Book(ctx, slot.ID); err != nil {
		t.Fatalf("book: %v", err)
	}
	check("after book")
	if _, err := svc.Release(ctx, slot.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	check("after release")
	if _, err := svc.Block(ctx, slot.ID); err != nil {
		t.Fatalf("block: %v", err)
	}
	check("after block")
}

func TestReleaseIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewSlotService(repo)
	ctx := context.Background()

	slot := seedSlot(repo, uuid.New(), futureTime(t, "2030-01-01T10:00:00Z"))

	for i := 0; i < 2; i++ {
		released, err := svc.Release(ctx, slot.ID)
		if err != nil {
			t.Fatalf("release %d: %v", i+1, err)
		}
		if released.Status != SlotAvailable || !released.IsAvailable {
			t.Errorf("release %d: status=%s available=%v", i+1, released.Status, released.IsAvailable)
		}
	}
}

func TestAvailableForVetOrdering(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewSlotService(repo)
	ctx := context.Background()

	vetID := uuid.New()
	later := seedSlot(repo, vetID, futureTime(t, "2030-01-03T10:00:00Z"))
	earlier := seedSlot(repo, vetID, futureTime(t, "2030-01-01T10:00:00Z"))
	middle := seedSlot(repo, vetID, futureTime(t, "2030-01-02T10:00:00Z"))
	seedSlot(repo, uuid.New(), futureTime(t, "2030-01-01T09:00:00Z")) // other vet

	booked := seedSlot(repo, vetID, futureTime(t, "2030-01-04T10:00:00Z"))
	if _, err := svc.Book(ctx, booked.ID); err != nil {
		t.Fatalf("book: %v", err)
	}

	slots, err := svc.AvailableForVet(ctx, vetID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	want := []uuid.UUID{earlier.ID, middle.ID, later.ID}
	if len(slots) != len(want) {
		t.Fatalf("len = %d, want %d", len(slots), len(want))
	}
	for i, id := range want {
		if slots[i].ID != id {
			t.Errorf("slots[%d] = %s, want %s", i, slots[i].ID, id)
		}
	}
}
