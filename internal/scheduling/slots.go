package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SlotService enforces the legal transitions of a vet's bookable slots:
// available -> booked via Book, anything -> available via Release, anything
// -> blocked via Block.
type SlotService struct {
	repo Repository
	now  func() time.Time
}

func NewSlotService(repo Repository) *SlotService {
	return &SlotService{repo: repo, now: time.Now}
}

func (s *SlotService) GetByID(ctx context.Context, slotID uuid.UUID) (*VetSlot, error) {
	return s.repo.GetSlotByID(ctx, slotID)
}

// AvailableForVet lists a vet's AVAILABLE slots ordered by start time.
func (s *SlotService) AvailableForVet(ctx context.Context, vetID uuid.UUID) ([]VetSlot, error) {
	return s.repo.ListAvailableSlots(ctx, vetID)
}

// Book reserves the slot. Already-booked, blocked, and past slots are all
// rejected with the same invalid-state error.
func (s *SlotService) Book(ctx context.Context, slotID uuid.UUID) (*VetSlot, error) {
	return s.repo.BookSlot(ctx, slotID, s.now())
}

// Release puts the slot back to AVAILABLE regardless of its current status.
// Releasing an available slot is a no-op, which keeps rollback and cleanup
// paths safe to repeat.
func (s *SlotService) Release(ctx context.Context, slotID uuid.UUID) (*VetSlot, error) {
	return s.repo.SetSlotStatus(ctx, slotID, SlotAvailable, true)
}

// Block withdraws the slot from booking regardless of its current status.
func (s *SlotService) Block(ctx context.Context, slotID uuid.UUID) (*VetSlot, error) {
	return s.repo.SetSlotStatus(ctx, slotID, SlotBlocked, false)
}
