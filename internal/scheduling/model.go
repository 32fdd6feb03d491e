package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotBooked    SlotStatus = "BOOKED"
	SlotBlocked   SlotStatus = "BLOCKED"
)

type VisitStatus string

const (
	VisitScheduled VisitStatus = "SCHEDULED"
	VisitCancelled VisitStatus = "CANCELLED"
	VisitCompleted VisitStatus = "COMPLETED"
)

// ParseVisitStatus validates a status value coming from a query parameter.
func ParseVisitStatus(s string) (VisitStatus, error) {
	switch VisitStatus(s) {
	case VisitScheduled, VisitCancelled, VisitCompleted:
		return VisitStatus(s), nil
	}
	return "", fmt.Errorf("unknown visit status %q", s)
}

type Vet struct {
	ID        uuid.UUID
	Name      string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Pet struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	BirthDate time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VetSlot is a bookable time window owned by one vet. IsAvailable mirrors
// Status and is kept in sync by every transition: true exactly when the
// slot is AVAILABLE.
type VetSlot struct {
	ID          uuid.UUID
	VetID       uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	IsAvailable bool
	Status      SlotStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Visit binds a pet to a vet via a booked slot. VetID is a denormalized copy
// of the slot's vet, refreshed on every booking and reschedule. Version is an
// optimistic concurrency counter incremented by each update.
type Visit struct {
	ID                 uuid.UUID
	Version            int
	PetID              uuid.UUID
	VetID              uuid.UUID
	SlotID             uuid.UUID
	Status             VisitStatus
	CancellationReason *string
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// VisitDetail is a visit hydrated with its slot, pet, and vet.
type VisitDetail struct {
	Visit
	Slot *VetSlot
	Pet  *Pet
	Vet  *Vet
}

// IdempotencyRecord stores the canonical serialized response for a
// client-supplied key. Records are written once and never mutated.
type IdempotencyRecord struct {
	ID        uuid.UUID
	Key       string
	Response  []byte
	CreatedAt time.Time
}

// VisitFilters narrows a visit search. Nil fields are ignored. The date range
// is applied to the slot's start time with inclusive bounds; if only one
// bound is set the other defaults to the same instant, collapsing the range
// to a single point.
type VisitFilters struct {
	VetID     *uuid.UUID
	Status    *VisitStatus
	StartDate *time.Time
	EndDate   *time.Time
}

func (f VisitFilters) normalized() VisitFilters {
	if f.StartDate == nil && f.EndDate != nil {
		f.StartDate = f.EndDate
	}
	if f.EndDate == nil && f.StartDate != nil {
		f.EndDate = f.StartDate
	}
	return f
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

type PageRequest struct {
	Page      int
	Size      int
	SortBy    string
	Direction string // "asc" or "desc"
}

func (p PageRequest) withDefaults() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	if p.Direction != "desc" {
		p.Direction = "asc"
	}
	if p.SortBy == "" {
		p.SortBy = "startTime"
	}
	return p
}

type VisitPage struct {
	Items      []VisitDetail
	Page       int
	Size       int
	TotalItems int64
	TotalPages int
}
