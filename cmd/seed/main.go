package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vetclinic/visit-scheduling/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	vetIDs, err := seedVets(context.Background(), pool, 25)
	if err != nil {
		log.Fatalf("seed vets: %v", err)
	}
	if err := seedOwnersAndPets(context.Background(), pool, 500); err != nil {
		log.Fatalf("seed owners and pets: %v", err)
	}
	if err := seedSlots(context.Background(), pool, vetIDs, 14); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedVets(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d vets", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		phone := gofakeit.Phone()

		_, err := tx.Exec(ctx, `
			INSERT INTO vets (id, name, phone, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, phone)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("vets seeded")
	return ids, nil
}

func seedOwnersAndPets(ctx context.Context, pool *pgxpool.Pool, owners int) error {
	log.Printf("seeding %d owners with pets", owners)

	species := []string{"dog", "cat", "rabbit", "parrot", "hamster", "lizard"}

	const batchSize = 100

	for offset := 0; offset < owners; offset += batchSize {
		end := offset + batchSize
		if end > owners {
			end = owners
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			ownerID := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO owners (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, ownerID, gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			// One to three pets per owner.
			for p := 0; p < gofakeit.Number(1, 3); p++ {
				birth := gofakeit.DateRange(
					time.Now().AddDate(-15, 0, 0),
					time.Now().AddDate(0, -1, 0),
				)
				_, err := tx.Exec(ctx, `
					INSERT INTO pets (id, owner_id, name, species, birth_date, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, now(), now())
				`, uuid.New(), ownerID, gofakeit.PetName(), species[gofakeit.Number(0, len(species)-1)], birth)
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("owners seeded: %d/%d", end, owners)
	}

	log.Println("owners and pets seeded")
	return nil
}

// seedSlots creates a half-hour slot grid, 09:00-17:00 UTC, for each vet
// over the next `days` days.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, vetIDs []uuid.UUID, days int) error {
	log.Printf("seeding slots for %d vets over %d days", len(vetIDs), days)

	for _, vetID := range vetIDs {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		day := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		for d := 0; d < days; d++ {
			start := day.Add(time.Duration(d)*24*time.Hour + 9*time.Hour)
			for s := 0; s < 16; s++ {
				slotStart := start.Add(time.Duration(s) * 30 * time.Minute)
				_, err := tx.Exec(ctx, `
					INSERT INTO vet_slots (id, vet_id, start_time, end_time, is_available, status, created_at, updated_at)
					VALUES ($1, $2, $3, $4, true, 'AVAILABLE', now(), now())
				`, uuid.New(), vetID, slotStart, slotStart.Add(30*time.Minute))
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("slots seeded")
	return nil
}
