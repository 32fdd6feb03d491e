package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	redisclient "github.com/vetclinic/visit-scheduling/internal/redis"
)

// DefaultCancellationReason is recorded when the caller cancels without one.
const DefaultCancellationReason = "No reason provided"

const maxCancellationReasonLen = 500

// Locker guards the booking critical section for a single slot.
type Locker interface {
	WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error
}

// NopLocker runs the critical section without any coordination. Used with the
// in-memory store, whose repository-level compare-and-swap is already the
// authority, and in tests.
type NopLocker struct{}

func (NopLocker) WithSlotLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// VisitService orchestrates the visit state machine. It is the only component
// that mutates a visit and its slot together.
type VisitService struct {
	repo   Repository
	slots  *SlotService
	locker Locker
	now    func() time.Time
}

func NewVisitService(repo Repository, slots *SlotService, locker Locker) *VisitService {
	return &VisitService{
		repo:   repo,
		slots:  slots,
		locker: locker,
		now:    time.Now,
	}
}

// Create books the slot for the pet and records a SCHEDULED visit. The
// duplicate-booking check and the booking itself run inside the per-slot
// lock; the repository's conditional slot update remains the authority, so
// the lock only narrows the window, it is not load-bearing.
func (s *VisitService) Create(ctx context.Context, petID, slotID uuid.UUID) (*VisitDetail, error) {
	pet, err := s.repo.GetPetByID(ctx, petID)
	if err != nil {
		return nil, err
	}

	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, err
	}

	vet, err := s.repo.GetVetByID(ctx, slot.VetID)
	if err != nil {
		return nil, err
	}

	var created *Visit
	var booked *VetSlot

	err = s.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		existing, err := s.repo.FindScheduledVisitAtTime(lockCtx, pet.ID, slot.StartTime)
		if err != nil && !IsNotFound(err) {
			return fmt.Errorf("check existing visit: %w", err)
		}
		if existing != nil {
			return invalidState("pet already has a visit at this time")
		}

		booked, err = s.slots.Book(lockCtx, slotID)
		if err != nil {
			return err
		}

		created, err = s.repo.CreateVisit(lockCtx, &Visit{
			PetID:  pet.ID,
			VetID:  booked.VetID,
			SlotID: booked.ID,
			Status: VisitScheduled,
		})
		if err != nil {
			return fmt.Errorf("create visit: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return &VisitDetail{Visit: *created, Slot: booked, Pet: pet, Vet: vet}, nil
}

// Reschedule moves a SCHEDULED visit to a new slot. The replacement slot is
// booked before the old one is released, so a failed booking leaves the visit
// untouched on its original slot.
func (s *VisitService) Reschedule(ctx context.Context, visitID, newSlotID uuid.UUID) (*Visit, error) {
	visit, err := s.repo.GetVisitByID(ctx, visitID)
	if err != nil {
		return nil, err
	}

	if visit.Status == VisitCancelled || visit.Status == VisitCompleted {
		return nil, invalidState("cannot reschedule a cancelled or completed visit")
	}

	newSlot, err := s.slots.Book(ctx, newSlotID)
	if err != nil {
		return nil, err
	}

	oldSlotID := visit.SlotID
	visit.SlotID = newSlot.ID
	visit.VetID = newSlot.VetID

	updated, err := s.repo.UpdateVisit(ctx, visit)
	if err != nil {
		if _, relErr := s.slots.Release(ctx, newSlot.ID); relErr != nil {
			log.Warn().Err(relErr).Stringer("slot_id", newSlot.ID).Msg("failed to release replacement slot after update failure")
		}
		return nil, err
	}

	if _, err := s.slots.Release(ctx, oldSlotID); err != nil {
		log.Warn().Err(err).Stringer("slot_id", oldSlotID).Msg("failed to release previous slot after reschedule")
	}

	return updated, nil
}

// Cancel marks the visit CANCELLED and frees its slot. Cancelling an
// already-cancelled visit is accepted and simply re-applies; only COMPLETED
// visits reject cancellation.
func (s *VisitService) Cancel(ctx context.Context, visitID uuid.UUID, reason string) (*Visit, error) {
	visit, err := s.repo.GetVisitByID(ctx, visitID)
	if err != nil {
		return nil, err
	}

	if visit.Status == VisitCompleted {
		return nil, invalidState("cannot cancel a completed visit")
	}

	if reason == "" {
		reason = DefaultCancellationReason
	}
	if len(reason) > maxCancellationReasonLen {
		return nil, invalidState("cancellation reason exceeds 500 characters")
	}

	visit.Status = VisitCancelled
	visit.CancellationReason = &reason

	updated, err := s.repo.UpdateVisit(ctx, visit)
	if err != nil {
		return nil, err
	}

	if _, err := s.slots.Release(ctx, visit.SlotID); err != nil {
		log.Warn().Err(err).Stringer("slot_id", visit.SlotID).Msg("failed to release slot after cancellation")
	}

	return updated, nil
}

// Complete marks a SCHEDULED visit COMPLETED with the current time. The slot
// stays BOOKED: the appointment happened.
func (s *VisitService) Complete(ctx context.Context, visitID uuid.UUID) (*Visit, error) {
	visit, err := s.repo.GetVisitByID(ctx, visitID)
	if err != nil {
		return nil, err
	}

	if visit.Status != VisitScheduled {
		return nil, invalidState("only scheduled visits can be completed")
	}

	completedAt := s.now()
	visit.Status = VisitCompleted
	visit.CompletedAt = &completedAt

	return s.repo.UpdateVisit(ctx, visit)
}

// GetByID retrieves a visit hydrated with its slot, pet, and vet.
func (s *VisitService) GetByID(ctx context.Context, visitID uuid.UUID) (*VisitDetail, error) {
	return s.repo.GetVisitDetail(ctx, visitID)
}

// ScheduledVisitAtTime returns the pet's SCHEDULED visit whose slot starts at
// start, or nil if there is none.
func (s *VisitService) ScheduledVisitAtTime(ctx context.Context, petID uuid.UUID, start time.Time) (*Visit, error) {
	visit, err := s.repo.FindScheduledVisitAtTime(ctx, petID, start)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return visit, nil
}

// Search returns a page of visits matching the filters.
func (s *VisitService) Search(ctx context.Context, f VisitFilters, p PageRequest) (*VisitPage, error) {
	return s.repo.SearchVisits(ctx, f.normalized(), p.withDefaults())
}
