package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the scheduling
// services. Lookups return *NotFoundError when the row is absent.
type Repository interface {
	GetPetByID(ctx context.Context, id uuid.UUID) (*Pet, error)
	GetVetByID(ctx context.Context, id uuid.UUID) (*Vet, error)

	GetSlotByID(ctx context.Context, id uuid.UUID) (*VetSlot, error)
	ListAvailableSlots(ctx context.Context, vetID uuid.UUID) ([]VetSlot, error)

	// BookSlot transitions an AVAILABLE slot whose start time is not before
	// now to BOOKED. The condition and the write are a single atomic
	// statement so that exactly one of any set of concurrent callers wins;
	// losers get *InvalidStateError.
	BookSlot(ctx context.Context, id uuid.UUID, now time.Time) (*VetSlot, error)

	// SetSlotStatus applies an unconditional transition (release, block).
	SetSlotStatus(ctx context.Context, id uuid.UUID, status SlotStatus, available bool) (*VetSlot, error)

	CreateVisit(ctx context.Context, v *Visit) (*Visit, error)

	// UpdateVisit writes the visit only if the stored version matches
	// v.Version, incrementing it. A mismatch returns *ConflictError.
	UpdateVisit(ctx context.Context, v *Visit) (*Visit, error)

	GetVisitByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	GetVisitDetail(ctx context.Context, id uuid.UUID) (*VisitDetail, error)

	// FindScheduledVisitAtTime is the duplicate-booking probe: the SCHEDULED
	// visit for the pet whose slot starts exactly at start.
	FindScheduledVisitAtTime(ctx context.Context, petID uuid.UUID, start time.Time) (*Visit, error)

	SearchVisits(ctx context.Context, f VisitFilters, p PageRequest) (*VisitPage, error)

	GetIdempotencyRecord(ctx context.Context, key string) (*IdempotencyRecord, error)

	// SaveIdempotencyRecord stores the payload under key and returns the
	// canonical record. If another writer got there first, the stored record
	// wins and is returned unchanged.
	SaveIdempotencyRecord(ctx context.Context, key string, payload []byte) (*IdempotencyRecord, error)
}
