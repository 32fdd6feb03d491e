package scheduling

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-memory Repository. It mirrors the
// Postgres implementation's conditional-update semantics, so the services
// behave identically on either store. Used for local development and by the
// test suite.
type MemoryRepository struct {
	mu sync.Mutex

	pets    map[uuid.UUID]Pet
	vets    map[uuid.UUID]Vet
	slots   map[uuid.UUID]VetSlot
	visits  map[uuid.UUID]Visit
	records map[string]IdempotencyRecord

	now func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		pets:    make(map[uuid.UUID]Pet),
		vets:    make(map[uuid.UUID]Vet),
		slots:   make(map[uuid.UUID]VetSlot),
		visits:  make(map[uuid.UUID]Visit),
		records: make(map[string]IdempotencyRecord),
		now:     time.Now,
	}
}

// Seeding helpers for dev mode and tests.

func (r *MemoryRepository) PutPet(p Pet) Pet {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.pets[p.ID] = p
	return p
}

func (r *MemoryRepository) PutVet(v Vet) Vet {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	r.vets[v.ID] = v
	return v
}

func (r *MemoryRepository) PutSlot(s VetSlot) VetSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = SlotAvailable
		s.IsAvailable = true
	}
	r.slots[s.ID] = s
	return s
}

// Interface methods

func (r *MemoryRepository) GetPetByID(_ context.Context, id uuid.UUID) (*Pet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pets[id]
	if !ok {
		return nil, notFound("Pet", "id", id.String())
	}
	return &p, nil
}

func (r *MemoryRepository) GetVetByID(_ context.Context, id uuid.UUID) (*Vet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vets[id]
	if !ok {
		return nil, notFound("Vet", "id", id.String())
	}
	return &v, nil
}

func (r *MemoryRepository) GetSlotByID(_ context.Context, id uuid.UUID) (*VetSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, notFound("Slot", "id", id.String())
	}
	return &s, nil
}

func (r *MemoryRepository) ListAvailableSlots(_ context.Context, vetID uuid.UUID) ([]VetSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []VetSlot
	for _, s := range r.slots {
		if s.VetID == vetID && s.Status == SlotAvailable {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

func (r *MemoryRepository) BookSlot(_ context.Context, id uuid.UUID, now time.Time) (*VetSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, notFound("Slot", "id", id.String())
	}
	// Check and write under the same lock, matching the single conditional
	// UPDATE of the Postgres implementation.
	if s.Status != SlotAvailable || !s.IsAvailable || s.StartTime.Before(now) {
		return nil, invalidState("slot is not available for booking")
	}
	s.Status = SlotBooked
	s.IsAvailable = false
	s.UpdatedAt = r.now()
	r.slots[id] = s
	return &s, nil
}

func (r *MemoryRepository) SetSlotStatus(_ context.Context, id uuid.UUID, status SlotStatus, available bool) (*VetSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, notFound("Slot", "id", id.String())
	}
	s.Status = status
	s.IsAvailable = available
	s.UpdatedAt = r.now()
	r.slots[id] = s
	return &s, nil
}

func (r *MemoryRepository) CreateVisit(_ context.Context, v *Visit) (*Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := *v
	created.ID = uuid.New()
	created.Version = 1
	created.CreatedAt = r.now()
	created.UpdatedAt = created.CreatedAt
	r.visits[created.ID] = created
	return &created, nil
}

func (r *MemoryRepository) UpdateVisit(_ context.Context, v *Visit) (*Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.visits[v.ID]
	if !ok {
		return nil, notFound("Visit", "id", v.ID.String())
	}
	if stored.Version != v.Version {
		return nil, &ConflictError{Entity: "Visit", ID: v.ID.String()}
	}

	updated := *v
	updated.Version = stored.Version + 1
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = r.now()
	r.visits[updated.ID] = updated
	return &updated, nil
}

func (r *MemoryRepository) GetVisitByID(_ context.Context, id uuid.UUID) (*Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visits[id]
	if !ok {
		return nil, notFound("Visit", "id", id.String())
	}
	return &v, nil
}

func (r *MemoryRepository) GetVisitDetail(ctx context.Context, id uuid.UUID) (*VisitDetail, error) {
	visit, err := r.GetVisitByID(ctx, id)
	if err != nil {
		return nil, err
	}
	slot, err := r.GetSlotByID(ctx, visit.SlotID)
	if err != nil {
		return nil, err
	}
	pet, err := r.GetPetByID(ctx, visit.PetID)
	if err != nil {
		return nil, err
	}
	vet, err := r.GetVetByID(ctx, visit.VetID)
	if err != nil {
		return nil, err
	}
	return &VisitDetail{Visit: *visit, Slot: slot, Pet: pet, Vet: vet}, nil
}

func (r *MemoryRepository) FindScheduledVisitAtTime(_ context.Context, petID uuid.UUID, start time.Time) (*Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range r.visits {
		if v.PetID != petID || v.Status != VisitScheduled {
			continue
		}
		slot, ok := r.slots[v.SlotID]
		if ok && slot.StartTime.Equal(start) {
			visit := v
			return &visit, nil
		}
	}
	return nil, notFound("Visit", "petId/startTime", petID.String()+"/"+start.Format(time.RFC3339))
}

func (r *MemoryRepository) SearchVisits(_ context.Context, f VisitFilters, p PageRequest) (*VisitPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []VisitDetail
	for _, v := range r.visits {
		if f.VetID != nil && v.VetID != *f.VetID {
			continue
		}
		if f.Status != nil && v.Status != *f.Status {
			continue
		}
		slot, ok := r.slots[v.SlotID]
		if !ok {
			continue
		}
		if f.StartDate != nil && f.EndDate != nil {
			if slot.StartTime.Before(*f.StartDate) || slot.StartTime.After(*f.EndDate) {
				continue
			}
		}
		visit := v
		s := slot
		matched = append(matched, VisitDetail{Visit: visit, Slot: &s})
	}

	less := func(i, j VisitDetail) bool {
		switch p.SortBy {
		case "status":
			return i.Status < j.Status
		case "createdAt":
			return i.CreatedAt.Before(j.CreatedAt)
		case "id":
			return i.ID.String() < j.ID.String()
		default:
			return i.Slot.StartTime.Before(j.Slot.StartTime)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if p.Direction == "desc" {
			return less(matched[j], matched[i])
		}
		return less(matched[i], matched[j])
	})

	total := int64(len(matched))
	start := p.Page * p.Size
	if start > len(matched) {
		start = len(matched)
	}
	end := start + p.Size
	if end > len(matched) {
		end = len(matched)
	}

	return &VisitPage{
		Items:      matched[start:end],
		Page:       p.Page,
		Size:       p.Size,
		TotalItems: total,
		TotalPages: totalPages(total, p.Size),
	}, nil
}

func (r *MemoryRepository) GetIdempotencyRecord(_ context.Context, key string) (*IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return nil, notFound("IdempotencyRecord", "key", key)
	}
	out := rec
	out.Response = bytes.Clone(rec.Response)
	return &out, nil
}

func (r *MemoryRepository) SaveIdempotencyRecord(_ context.Context, key string, payload []byte) (*IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// First write wins, as with the unique index in Postgres.
	if rec, ok := r.records[key]; ok {
		out := rec
		out.Response = bytes.Clone(rec.Response)
		return &out, nil
	}

	rec := IdempotencyRecord{
		ID:        uuid.New(),
		Key:       key,
		Response:  bytes.Clone(payload),
		CreatedAt: r.now(),
	}
	r.records[key] = rec
	out := rec
	return &out, nil
}
