package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPet(row pgx.Row, id uuid.UUID) (*Pet, error) {
	var p Pet
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Name,
		&p.BirthDate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("Pet", "id", id.String())
		}
		return nil, err
	}
	return &p, nil
}

func scanVet(row pgx.Row, id uuid.UUID) (*Vet, error) {
	var v Vet
	var phone *string
	err := row.Scan(
		&v.ID,
		&v.Name,
		&phone,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("Vet", "id", id.String())
		}
		return nil, err
	}
	v.Phone = phone
	return &v, nil
}

func scanSlot(row pgx.Row) (*VetSlot, error) {
	var s VetSlot
	err := row.Scan(
		&s.ID,
		&s.VetID,
		&s.StartTime,
		&s.EndTime,
		&s.IsAvailable,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	var reason *string
	var completedAt *time.Time
	err := row.Scan(
		&v.ID,
		&v.Version,
		&v.PetID,
		&v.VetID,
		&v.SlotID,
		&v.Status,
		&reason,
		&completedAt,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.CancellationReason = reason
	v.CompletedAt = completedAt
	return &v, nil
}

const visitColumns = `id, version, pet_id, vet_id, slot_id, status, cancellation_reason, completed_at, created_at, updated_at`
const slotColumns = `id, vet_id, start_time, end_time, is_available, status, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetPetByID(ctx context.Context, id uuid.UUID) (*Pet, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, birth_date, created_at, updated_at
		FROM pets
		WHERE id = $1
	`, id)
	return scanPet(row, id)
}

func (r *PgRepository) GetVetByID(ctx context.Context, id uuid.UUID) (*Vet, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, phone, created_at, updated_at
		FROM vets
		WHERE id = $1
	`, id)
	return scanVet(row, id)
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*VetSlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM vet_slots
		WHERE id = $1
	`, id)
	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("Slot", "id", id.String())
		}
		return nil, err
	}
	return slot, nil
}

func (r *PgRepository) ListAvailableSlots(ctx context.Context, vetID uuid.UUID) ([]VetSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM vet_slots
		WHERE vet_id = $1 AND status = 'AVAILABLE'
		ORDER BY start_time
	`, vetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []VetSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

// BookSlot performs the transition as one conditional update so that of any
// set of concurrent bookers exactly one sees a row come back.
func (r *PgRepository) BookSlot(ctx context.Context, id uuid.UUID, now time.Time) (*VetSlot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE vet_slots
		SET status = 'BOOKED',
		    is_available = false,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'AVAILABLE'
		  AND start_time >= $2
		RETURNING `+slotColumns+`
	`, id, now)

	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the slot does not exist, or it exists but failed the
			// availability/past-time condition. Look again to tell them apart.
			if _, getErr := r.GetSlotByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, invalidState("slot is not available for booking")
		}
		return nil, err
	}
	return slot, nil
}

func (r *PgRepository) SetSlotStatus(ctx context.Context, id uuid.UUID, status SlotStatus, available bool) (*VetSlot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE vet_slots
		SET status = $2,
		    is_available = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+slotColumns+`
	`, id, status, available)

	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("Slot", "id", id.String())
		}
		return nil, err
	}
	return slot, nil
}

func (r *PgRepository) CreateVisit(ctx context.Context, v *Visit) (*Visit, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO visits (id, version, pet_id, vet_id, slot_id, status, cancellation_reason, completed_at, created_at, updated_at)
		VALUES ($1, 1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+visitColumns+`
	`, id, v.PetID, v.VetID, v.SlotID, v.Status, v.CancellationReason, v.CompletedAt)

	return scanVisit(row)
}

// UpdateVisit is a compare-and-swap on the version counter: a concurrent
// update between the caller's read and this write leaves no matching row and
// surfaces as a conflict.
func (r *PgRepository) UpdateVisit(ctx context.Context, v *Visit) (*Visit, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE visits
		SET vet_id = $2,
		    slot_id = $3,
		    status = $4,
		    cancellation_reason = $5,
		    completed_at = $6,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $7
		RETURNING `+visitColumns+`
	`, v.ID, v.VetID, v.SlotID, v.Status, v.CancellationReason, v.CompletedAt, v.Version)

	updated, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetVisitByID(ctx, v.ID); getErr != nil {
				return nil, getErr
			}
			return nil, &ConflictError{Entity: "Visit", ID: v.ID.String()}
		}
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) GetVisitByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE id = $1
	`, id)

	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("Visit", "id", id.String())
		}
		return nil, err
	}
	return visit, nil
}

func (r *PgRepository) GetVisitDetail(ctx context.Context, id uuid.UUID) (*VisitDetail, error) {
	visit, err := r.GetVisitByID(ctx, id)
	if err != nil {
		return nil, err
	}

	slot, err := r.GetSlotByID(ctx, visit.SlotID)
	if err != nil {
		return nil, fmt.Errorf("load visit slot: %w", err)
	}
	pet, err := r.GetPetByID(ctx, visit.PetID)
	if err != nil {
		return nil, fmt.Errorf("load visit pet: %w", err)
	}
	vet, err := r.GetVetByID(ctx, visit.VetID)
	if err != nil {
		return nil, fmt.Errorf("load visit vet: %w", err)
	}

	return &VisitDetail{Visit: *visit, Slot: slot, Pet: pet, Vet: vet}, nil
}

func (r *PgRepository) FindScheduledVisitAtTime(ctx context.Context, petID uuid.UUID, start time.Time) (*Visit, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT v.id, v.version, v.pet_id, v.vet_id, v.slot_id, v.status, v.cancellation_reason, v.completed_at, v.created_at, v.updated_at
		FROM visits v
		JOIN vet_slots s ON s.id = v.slot_id
		WHERE v.pet_id = $1
		  AND v.status = 'SCHEDULED'
		  AND s.start_time = $2
		LIMIT 1
	`, petID, start)

	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("Visit", "petId/startTime", fmt.Sprintf("%s/%s", petID, start.Format(time.RFC3339)))
		}
		return nil, err
	}
	return visit, nil
}

// sortColumns whitelists search sort fields against their SQL columns.
var sortColumns = map[string]string{
	"startTime": "s.start_time",
	"status":    "v.status",
	"createdAt": "v.created_at",
	"id":        "v.id",
}

func (r *PgRepository) SearchVisits(ctx context.Context, f VisitFilters, p PageRequest) (*VisitPage, error) {
	where := []string{"1=1"}
	args := []any{}

	if f.VetID != nil {
		args = append(args, *f.VetID)
		where = append(where, fmt.Sprintf("v.vet_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		where = append(where, fmt.Sprintf("v.status = $%d", len(args)))
	}
	if f.StartDate != nil && f.EndDate != nil {
		args = append(args, *f.StartDate, *f.EndDate)
		where = append(where, fmt.Sprintf("s.start_time BETWEEN $%d AND $%d", len(args)-1, len(args)))
	}

	cond := strings.Join(where, " AND ")

	var total int64
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM visits v
		JOIN vet_slots s ON s.id = v.slot_id
		WHERE `+cond, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count visits: %w", err)
	}

	orderBy, ok := sortColumns[p.SortBy]
	if !ok {
		orderBy = sortColumns["startTime"]
	}
	dir := "ASC"
	if p.Direction == "desc" {
		dir = "DESC"
	}

	args = append(args, p.Size, p.Page*p.Size)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT v.id, v.version, v.pet_id, v.vet_id, v.slot_id, v.status, v.cancellation_reason, v.completed_at, v.created_at, v.updated_at,
		       s.id, s.vet_id, s.start_time, s.end_time, s.is_available, s.status, s.created_at, s.updated_at
		FROM visits v
		JOIN vet_slots s ON s.id = v.slot_id
		WHERE %s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, cond, orderBy, dir, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("search visits: %w", err)
	}
	defer rows.Close()

	var items []VisitDetail
	for rows.Next() {
		var v Visit
		var s VetSlot
		err := rows.Scan(
			&v.ID, &v.Version, &v.PetID, &v.VetID, &v.SlotID, &v.Status, &v.CancellationReason, &v.CompletedAt, &v.CreatedAt, &v.UpdatedAt,
			&s.ID, &s.VetID, &s.StartTime, &s.EndTime, &s.IsAvailable, &s.Status, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, VisitDetail{Visit: v, Slot: &s})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &VisitPage{
		Items:      items,
		Page:       p.Page,
		Size:       p.Size,
		TotalItems: total,
		TotalPages: totalPages(total, p.Size),
	}, nil
}

func totalPages(total int64, size int) int {
	if size <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}

func (r *PgRepository) GetIdempotencyRecord(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, key, response, created_at
		FROM idempotency_keys
		WHERE key = $1
	`, key).Scan(&rec.ID, &rec.Key, &rec.Response, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("IdempotencyRecord", "key", key)
		}
		return nil, err
	}
	return &rec, nil
}

// SaveIdempotencyRecord relies on the unique index on key: the insert backs
// off on conflict and the already-stored record is returned as canonical.
func (r *PgRepository) SaveIdempotencyRecord(ctx context.Context, key string, payload []byte) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := r.pool.QueryRow(ctx, `
		INSERT INTO idempotency_keys (id, key, response, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO NOTHING
		RETURNING id, key, response, created_at
	`, uuid.New(), key, payload).Scan(&rec.ID, &rec.Key, &rec.Response, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.GetIdempotencyRecord(ctx, key)
		}
		return nil, err
	}
	return &rec, nil
}
