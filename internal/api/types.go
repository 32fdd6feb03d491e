package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/vetclinic/visit-scheduling/internal/scheduling"
)

type CreateVisitRequest struct {
	PetID  string `json:"pet_id"`
	SlotID string `json:"slot_id"`
}

type RescheduleVisitRequest struct {
	NewSlotID string `json:"new_slot_id"`
}

type CancelVisitRequest struct {
	Reason string `json:"reason"`
}

type VisitResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PetID              uuid.UUID  `json:"pet_id"`
	VetID              uuid.UUID  `json:"vet_id"`
	SlotID             uuid.UUID  `json:"slot_id"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            time.Time  `json:"end_time"`
	Status             string     `json:"status"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

type SlotResponse struct {
	ID          uuid.UUID `json:"id"`
	VetID       uuid.UUID `json:"vet_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Status      string    `json:"status"`
	IsAvailable bool      `json:"is_available"`
}

type VisitPageResponse struct {
	Items      []VisitResponse `json:"items"`
	Page       int             `json:"page"`
	Size       int             `json:"size"`
	TotalItems int64           `json:"total_items"`
	TotalPages int             `json:"total_pages"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toVisitResponse(d *scheduling.VisitDetail) VisitResponse {
	resp := VisitResponse{
		ID:                 d.ID,
		PetID:              d.PetID,
		VetID:              d.VetID,
		SlotID:             d.SlotID,
		Status:             string(d.Status),
		CancellationReason: d.CancellationReason,
		CompletedAt:        d.CompletedAt,
	}
	if d.Slot != nil {
		resp.StartTime = d.Slot.StartTime
		resp.EndTime = d.Slot.EndTime
	}
	return resp
}

func toSlotResponse(s scheduling.VetSlot) SlotResponse {
	return SlotResponse{
		ID:          s.ID,
		VetID:       s.VetID,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Status:      string(s.Status),
		IsAvailable: s.IsAvailable,
	}
}
