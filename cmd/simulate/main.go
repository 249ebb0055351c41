package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homefix/appointment-scheduling/internal/db"
)

// The simulator hammers the booking endpoint with concurrent attempts on
// the same provider windows to verify that exactly one attempt per window
// wins and the rest fail cleanly with a conflict.

type SimConfig struct {
	APIBaseURL  string
	Rounds      int
	Contenders  int
	PostgresDSN string
}

type bookingTarget struct {
	ServiceRequestID uuid.UUID
	ClientID         uuid.UUID
	ProviderID       uuid.UUID
}

type metrics struct {
	total     int64
	created   int64
	conflicts int64
	errors    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *metrics) record(latency time.Duration, status int) {
	atomic.AddInt64(&m.total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&m.created, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&m.conflicts, 1)
	default:
		atomic.AddInt64(&m.errors, 1)
	}
	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *metrics) percentile(p float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := SimConfig{
		APIBaseURL:  envOr("API_BASE_URL", "http://localhost:8080"),
		Rounds:      envIntOr("SIM_ROUNDS", 20),
		Contenders:  envIntOr("SIM_CONTENDERS", 10),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	targets, err := loadTargets(context.Background(), pool, cfg.Rounds)
	if err != nil {
		log.Fatalf("load booking targets: %v", err)
	}
	if len(targets) == 0 {
		log.Fatal("no bookable service requests found, run the seed first")
	}

	log.Printf("simulating %d rounds with %d contenders each against %s",
		len(targets), cfg.Contenders, cfg.APIBaseURL)

	client := &http.Client{Timeout: 10 * time.Second}
	m := &metrics{}
	winnersPerRound := make([]int64, len(targets))

	start := time.Now()
	for round, target := range targets {
		// All contenders race for the same window, shifted per round so
		// rounds never collide with each other. Six hourly windows per day
		// starting next Monday 14:00 UTC (11:00 Sao Paulo), which keeps
		// every window inside the seeded weekday schedules.
		windowStart := nextMonday().AddDate(0, 0, round/6).Add(time.Duration(round%6) * time.Hour)
		windowEnd := windowStart.Add(time.Hour)

		var wg sync.WaitGroup
		for i := 0; i < cfg.Contenders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				status := attemptBooking(client, cfg.APIBaseURL, target, windowStart, windowEnd, m)
				if status == http.StatusCreated {
					atomic.AddInt64(&winnersPerRound[round], 1)
				}
			}()
		}
		wg.Wait()
	}

	violations := 0
	for round, winners := range winnersPerRound {
		if winners > 1 {
			violations++
			log.Printf("VIOLATION: round %d had %d winners", round, winners)
		}
	}

	fmt.Printf("\n--- simulation summary ---\n")
	fmt.Printf("duration:     %s\n", time.Since(start))
	fmt.Printf("requests:     %d\n", atomic.LoadInt64(&m.total))
	fmt.Printf("created:      %d\n", atomic.LoadInt64(&m.created))
	fmt.Printf("conflicts:    %d\n", atomic.LoadInt64(&m.conflicts))
	fmt.Printf("errors:       %d\n", atomic.LoadInt64(&m.errors))
	fmt.Printf("p50 latency:  %s\n", m.percentile(0.50))
	fmt.Printf("p95 latency:  %s\n", m.percentile(0.95))
	fmt.Printf("double-bookings: %d\n", violations)

	if violations > 0 {
		os.Exit(1)
	}
}

func loadTargets(ctx context.Context, pool *pgxpool.Pool, limit int) ([]bookingTarget, error) {
	rows, err := pool.Query(ctx, `
		SELECT sr.id, sr.client_id, p.provider_id
		FROM service_requests sr
		JOIN proposals p ON p.service_request_id = sr.id
		WHERE sr.status = 'Open'
		  AND p.accepted
		  AND NOT p.invalidated
		ORDER BY sr.created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []bookingTarget
	for rows.Next() {
		var t bookingTarget
		if err := rows.Scan(&t.ServiceRequestID, &t.ClientID, &t.ProviderID); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func attemptBooking(client *http.Client, baseURL string, target bookingTarget, windowStart, windowEnd time.Time, m *metrics) int {
	payload, _ := json.Marshal(map[string]any{
		"service_request_id": target.ServiceRequestID.String(),
		"provider_id":        target.ProviderID.String(),
		"window_start":       windowStart.Format(time.RFC3339),
		"window_end":         windowEnd.Format(time.RFC3339),
	})

	req, err := http.NewRequest(http.MethodPost, baseURL+"/appointments", bytes.NewReader(payload))
	if err != nil {
		m.record(0, 0)
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", target.ClientID.String())
	req.Header.Set("X-User-Role", "Client")

	// Jitter so attempts do not arrive in lockstep.
	time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		m.record(latency, 0)
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	m.record(latency, resp.StatusCode)
	return resp.StatusCode
}

func nextMonday() time.Time {
	now := time.Now().UTC()
	daysAhead := (int(time.Monday) - int(now.Weekday()) + 7) % 7
	if daysAhead == 0 {
		daysAhead = 7
	}
	day := now.AddDate(0, 0, daysAhead)
	return time.Date(day.Year(), day.Month(), day.Day(), 14, 0, 0, 0, time.UTC)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
