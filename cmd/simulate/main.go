// simulate drives concurrent booking traffic at a single (date, service type)
// queue through the HTTP API and reports whether any queue number was handed
// out twice. With the queue lock and the unique index in place the duplicate
// count must be zero; conflicts and capacity rejections are expected.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightsteps/clinic-booking/internal/booking"
	"github.com/brightsteps/clinic-booking/internal/db"
)

type bookingRequest struct {
	PatientID   string `json:"patient_id"`
	ServiceType string `json:"service_type"`
	Date        string `json:"date"`
	Notes       string `json:"notes,omitempty"`
}

type bookingResponse struct {
	ID          uuid.UUID `json:"id"`
	QueueNumber int       `json:"queue_number"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type tally struct {
	mu           sync.Mutex
	booked       int
	capacity     int
	conflicts    int
	errors       int
	queueNumbers []int
	latencies    []time.Duration
}

func (t *tally) record(latency time.Duration, queueNumber int, outcome string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latencies = append(t.latencies, latency)
	switch outcome {
	case "booked":
		t.booked++
		t.queueNumbers = append(t.queueNumbers, queueNumber)
	case "capacity":
		t.capacity++
	case "conflict":
		t.conflicts++
	default:
		t.errors++
	}
}

func main() {
	log.SetFlags(log.LstdFlags)

	var (
		baseURL     = flag.String("url", "http://127.0.0.1:8080", "API base URL")
		serviceType = flag.String("service", "play_therapy", "service type to hammer")
		workers     = flag.Int("workers", 30, "concurrent bookers")
		daysAhead   = flag.Int("days", 2, "days ahead to book (skips Sundays)")
	)
	flag.Parse()

	if _, err := booking.ParseServiceType(*serviceType); err != nil {
		log.Fatalf("bad -service: %v", err)
	}

	date := booking.DateOnly(time.Now()).AddDate(0, 0, *daysAhead)
	if date.Weekday() == time.Sunday {
		date = date.AddDate(0, 0, 1)
	}

	patients, err := createPatients(*workers)
	if err != nil {
		log.Fatalf("create patients: %v", err)
	}

	log.Printf("hammering %s on %s with %d workers", *serviceType, date.Format(time.DateOnly), *workers)

	var (
		t  tally
		wg sync.WaitGroup
	)
	client := &http.Client{Timeout: 10 * time.Second}

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()
			start := time.Now()
			queueNumber, outcome := attemptBooking(client, *baseURL, patientID, *serviceType, date)
			t.record(time.Since(start), queueNumber, outcome)
		}(patients[i])
	}
	wg.Wait()

	report(&t, *workers)
}

func attemptBooking(client *http.Client, baseURL string, patientID uuid.UUID, serviceType string, date time.Time) (int, string) {
	body, _ := json.Marshal(bookingRequest{
		PatientID:   patientID.String(),
		ServiceType: serviceType,
		Date:        date.Format(time.DateOnly),
	})

	resp, err := client.Post(baseURL+"/bookings", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, "error"
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		var br bookingResponse
		if err := json.Unmarshal(data, &br); err != nil {
			return 0, "error"
		}
		return br.QueueNumber, "booked"
	case http.StatusConflict:
		var er errorResponse
		_ = json.Unmarshal(data, &er)
		if er.Error == "capacity_exhausted" {
			return 0, "capacity"
		}
		return 0, "conflict"
	default:
		return 0, "error"
	}
}

// createPatients inserts one patient per worker directly into Postgres.
func createPatients(count int) ([]uuid.UUID, error) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	return insertPatients(ctx, pool, count)
}

func insertPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := pool.Exec(ctx, `
			INSERT INTO patients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, gofakeit.Name(), gofakeit.Email())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func report(t *tally, workers int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sort.Ints(t.queueNumbers)
	duplicates := 0
	for i := 1; i < len(t.queueNumbers); i++ {
		if t.queueNumbers[i] == t.queueNumbers[i-1] {
			duplicates++
		}
	}

	sort.Slice(t.latencies, func(i, j int) bool { return t.latencies[i] < t.latencies[j] })
	var p95 time.Duration
	if len(t.latencies) > 0 {
		p95 = t.latencies[len(t.latencies)*95/100]
	}

	log.Printf("workers=%d booked=%d capacity=%d conflicts=%d errors=%d", workers, t.booked, t.capacity, t.conflicts, t.errors)
	log.Printf("queue numbers assigned: %v", t.queueNumbers)
	log.Printf("p95 latency: %s", p95)

	if duplicates > 0 {
		log.Printf("FAIL: %d duplicate queue numbers handed out", duplicates)
		os.Exit(1)
	}
	log.Println("OK: no duplicate queue numbers")
}
