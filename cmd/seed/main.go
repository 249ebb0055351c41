package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homefix/appointment-scheduling/internal/db"
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

	providerIDs, err := seedProviders(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed providers: %v", err)
	}
	clientIDs, err := seedClients(context.Background(), pool, 2000)
	if err != nil {
		log.Fatalf("seed clients: %v", err)
	}
	if err := seedAdmins(context.Background(), pool, 3); err != nil {
		log.Fatalf("seed admins: %v", err)
	}
	if err := seedAvailability(context.Background(), pool, providerIDs); err != nil {
		log.Fatalf("seed availability: %v", err)
	}
	if err := seedServiceRequests(context.Background(), pool, clientIDs, providerIDs, 500); err != nil {
		log.Fatalf("seed service requests: %v", err)
	}

	log.Println("seed complete")
}

var plans = []string{"Trial", "Bronze", "Silver", "Gold"}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d providers", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		plan := plans[gofakeit.Number(0, len(plans)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, name, email, role, plan, active, created_at, updated_at)
			VALUES ($1, $2, $3, 'Provider', $4, true, now(), now())
		`, id, gofakeit.Name(), gofakeit.Email(), plan)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("providers seeded")
	return ids, nil
}

func seedClients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d clients", count)

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, name, email, role, plan, active, created_at, updated_at)
				VALUES ($1, $2, $3, 'Client', 'Trial', true, now(), now())
			`, id, gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Printf("clients seeded: %d/%d", end, count)
	}

	return ids, nil
}

func seedAdmins(ctx context.Context, pool *pgxpool.Pool, count int) error {
	for i := 0; i < count; i++ {
		_, err := pool.Exec(ctx, `
			INSERT INTO users (id, name, email, role, plan, active, created_at, updated_at)
			VALUES ($1, $2, $3, 'Admin', 'Trial', true, now(), now())
		`, uuid.New(), gofakeit.Name(), gofakeit.Email())
		if err != nil {
			return err
		}
	}
	log.Printf("admins seeded: %d", count)
	return nil
}

// seedAvailability gives every provider a weekday schedule, 08:00 to 18:00
// local time in hour-long slots.
func seedAvailability(ctx context.Context, pool *pgxpool.Pool, providerIDs []uuid.UUID) error {
	log.Printf("seeding availability for %d providers", len(providerIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, providerID := range providerIDs {
		for weekday := 1; weekday <= 5; weekday++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO availability_rules
					(id, provider_id, weekday, start_minute, end_minute, slot_duration_minutes, active, created_at)
				VALUES ($1, $2, $3, 480, 1080, 60, true, now())
			`, uuid.New(), providerID, weekday)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("availability seeded")
	return nil
}

var requestDescriptions = []string{
	"Leaking kitchen faucet",
	"Air conditioner not cooling",
	"Broken power outlet in bedroom",
	"Water heater replacement",
	"Clogged bathroom drain",
	"Ceiling fan installation",
	"Washing machine makes loud noise",
	"Garage door stuck halfway",
	"Wall needs repainting after leak",
	"Electrical panel inspection",
}

// seedServiceRequests creates open requests, each with one accepted proposal
// for a random provider so appointments can be booked straight away.
func seedServiceRequests(ctx context.Context, pool *pgxpool.Pool, clientIDs, providerIDs []uuid.UUID, count int) error {
	log.Printf("seeding %d service requests", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		requestID := uuid.New()
		clientID := clientIDs[gofakeit.Number(0, len(clientIDs)-1)]
		providerID := providerIDs[gofakeit.Number(0, len(providerIDs)-1)]
		valueCents := int64(gofakeit.Number(5000, 150000))
		description := requestDescriptions[gofakeit.Number(0, len(requestDescriptions)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO service_requests
				(id, client_id, description, status, base_value_cents, approved_extra_cents, current_value_cents, created_at, updated_at)
			VALUES ($1, $2, $3, 'Open', $4, 0, $4, now(), now())
		`, requestID, clientID, description, valueCents)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO proposals
				(id, service_request_id, provider_id, estimated_value_cents, accepted, invalidated, created_at)
			VALUES ($1, $2, $3, $4, true, false, now())
		`, uuid.New(), requestID, providerID, valueCents)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("service requests seeded")
	return nil
}
