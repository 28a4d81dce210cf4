package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightsteps/clinic-booking/internal/booking"
	"github.com/brightsteps/clinic-booking/internal/db"
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

	patients, err := seedPatients(context.Background(), pool, 500)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedAppointments(context.Background(), pool, patients); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Println("seed complete")
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d patients", count)

	ids := make([]uuid.UUID, 0, count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		email := gofakeit.Email()

		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, email)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("patients seeded")
	return ids, nil
}

// seedAppointments fills a partial queue for every service on each bookable
// weekday over the next two weeks.
func seedAppointments(ctx context.Context, pool *pgxpool.Pool, patients []uuid.UUID) error {
	log.Println("seeding appointments")

	statuses := []booking.Status{booking.StatusPending, booking.StatusApproved}
	today := booking.DateOnly(time.Now())

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	total := 0
	for offset := 1; offset <= 14; offset++ {
		date := today.AddDate(0, 0, offset)
		if date.Weekday() == time.Sunday {
			continue
		}

		for _, st := range booking.ServiceTypes() {
			// Fill roughly a third of each day's queue
			fill := gofakeit.Number(0, st.MaxSlots()/3)
			for q := 1; q <= fill; q++ {
				patient := patients[gofakeit.Number(0, len(patients)-1)]
				status := statuses[gofakeit.Number(0, len(statuses)-1)]

				_, err := tx.Exec(ctx, `
					INSERT INTO appointments (id, patient_id, service_type, appointment_date, queue_number, status, patient_notes, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, '', now(), now())
				`, uuid.New(), patient, st, date, q, status)
				if err != nil {
					return err
				}
				total++
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Printf("appointments seeded: %d", total)
	return nil
}
