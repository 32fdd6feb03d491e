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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vetclinic/visit-scheduling/internal/config"
	"github.com/vetclinic/visit-scheduling/internal/db"
)

// Load generator against a running api-server. Hammers booking with
// deliberate contention (many workers aiming at a small slot pool), replays
// a share of bookings under the same Idempotency-Key, and mixes in
// reschedule, cancel, complete, and read traffic.

type SimConfig struct {
	APIBaseURL       string
	Duration         time.Duration
	Workers          int
	BookingRatio     float64
	LifecycleRatio   float64
	ReadRatio        float64
	IdempotentRetryP float64 // share of bookings replayed with the same key
	PetLimit         int
	SlotLimit        int
	PostgresDSN      string
}

type DataPool struct {
	Pets  []uuid.UUID
	Slots []uuid.UUID

	mu     sync.RWMutex
	visits []uuid.UUID
}

func (dp *DataPool) AddVisit(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.visits = append(dp.visits, id)
}

func (dp *DataPool) RandomVisit(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.visits) == 0 {
		return uuid.Nil, false
	}
	return dp.visits[rng.Intn(len(dp.visits))], true
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Rejected int64
	Error    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err != nil:
		atomic.AddInt64(&om.Error, 1)
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]
	p95idx := len(latencies) * 95 / 100
	if p95idx >= len(latencies) {
		p95idx = len(latencies) - 1
	}
	p95 = latencies[p95idx]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking         OperationMetrics
	IdempotentRetry OperationMetrics
	Reschedule      OperationMetrics
	Cancel          OperationMetrics
	Complete        OperationMetrics
	ReadByID        OperationMetrics
	Search          OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f lifecycle=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.LifecycleRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d pets, %d slots", len(dataPool.Pets), len(dataPool.Slots))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:       getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:         getDuration("SIM_DURATION", 30*time.Second),
		Workers:          getInt("SIM_WORKERS", 10),
		BookingRatio:     getFloat("SIM_BOOKING_RATIO", 0.5),
		LifecycleRatio:   getFloat("SIM_LIFECYCLE_RATIO", 0.2),
		ReadRatio:        getFloat("SIM_READ_RATIO", 0.3),
		IdempotentRetryP: getFloat("SIM_IDEMPOTENT_RETRY_P", 0.2),
		PetLimit:         getInt("SIM_PET_LIMIT", 1000),
		SlotLimit:        getInt("SIM_SLOT_LIMIT", 400),
		PostgresDSN:      baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.LifecycleRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.LifecycleRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM pets LIMIT $1`, cfg.PetLimit)
	if err != nil {
		return nil, fmt.Errorf("load pets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Pets = append(dataPool.Pets, id)
	}

	// A small slot pool relative to worker count forces booking contention.
	rows, err = pool.Query(ctx, `
		SELECT id FROM vet_slots
		WHERE status = 'AVAILABLE' AND start_time > now()
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, id)
	}

	if len(dataPool.Pets) == 0 {
		return nil, fmt.Errorf("no pets loaded, run cmd/seed first")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no available slots loaded, run cmd/seed first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.LifecycleRatio:
				switch rng.Intn(3) {
				case 0:
					s.doReschedule(ctx, rng)
				case 1:
					s.doCancel(ctx, rng)
				case 2:
					s.doComplete(ctx, rng)
				}
			default:
				if rng.Intn(2) == 0 {
					s.doReadByID(ctx, rng)
				} else {
					s.doSearch(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	petID := s.pool.Pets[rng.Intn(len(s.pool.Pets))]

	body, _ := json.Marshal(map[string]string{
		"pet_id":  petID.String(),
		"slot_id": slotID.String(),
	})

	key := uuid.NewString()

	status, respBody, latency, err := s.post(ctx, "/visits", body, key)
	s.metrics.Booking.Record(latency, status, err)

	var visitID uuid.UUID
	if err == nil && status == http.StatusCreated {
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(respBody, &created) == nil && created.ID != uuid.Nil {
			visitID = created.ID
			s.pool.AddVisit(created.ID)
		}
	}

	// Replay a share of successful bookings with the same key; the server
	// must answer with the same visit and must not book another slot.
	if visitID != uuid.Nil && rng.Float64() < s.config.IdempotentRetryP {
		status, respBody, latency, err := s.post(ctx, "/visits", body, key)

		ok := err == nil && status == http.StatusCreated
		if ok {
			var replayed struct {
				ID uuid.UUID `json:"id"`
			}
			ok = json.Unmarshal(respBody, &replayed) == nil && replayed.ID == visitID
		}
		if ok {
			s.metrics.IdempotentRetry.Record(latency, http.StatusCreated, nil)
		} else {
			log.Printf("idempotent retry mismatch: status=%d err=%v", status, err)
			s.metrics.IdempotentRetry.Record(latency, http.StatusInternalServerError, err)
		}
	}
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	visitID, ok := s.pool.RandomVisit(rng)
	if !ok {
		return
	}
	newSlotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	body, _ := json.Marshal(map[string]string{"new_slot_id": newSlotID.String()})
	status, _, latency, err := s.post(ctx, fmt.Sprintf("/visits/%s/reschedule", visitID), body, "")
	s.metrics.Reschedule.Record(latency, status, err)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	visitID, ok := s.pool.RandomVisit(rng)
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{"reason": "simulated cancellation"})
	status, _, latency, err := s.post(ctx, fmt.Sprintf("/visits/%s/cancel", visitID), body, "")
	s.metrics.Cancel.Record(latency, status, err)
}

func (s *Simulator) doComplete(ctx context.Context, rng *rand.Rand) {
	visitID, ok := s.pool.RandomVisit(rng)
	if !ok {
		return
	}

	status, _, latency, err := s.post(ctx, fmt.Sprintf("/visits/%s/complete", visitID), nil, "")
	s.metrics.Complete.Record(latency, status, err)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	visitID, ok := s.pool.RandomVisit(rng)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, "GET", s.config.APIBaseURL+"/visits/"+visitID.String(), nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	status := 0
	if err == nil {
		status = resp.StatusCode
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	s.metrics.ReadByID.Record(latency, status, err)
}

func (s *Simulator) doSearch(ctx context.Context, rng *rand.Rand) {
	statuses := []string{"SCHEDULED", "CANCELLED", "COMPLETED"}
	q := fmt.Sprintf("/visits?status=%s&page=%d&size=20", statuses[rng.Intn(len(statuses))], rng.Intn(5))

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, "GET", s.config.APIBaseURL+q, nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	status := 0
	if err == nil {
		status = resp.StatusCode
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	s.metrics.Search.Record(latency, status, err)
}

func (s *Simulator) post(ctx context.Context, path string, body []byte, idempotencyKey string) (status int, respBody []byte, latency time.Duration, err error) {
	start := time.Now()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, time.Since(start), err
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.client.Do(req)
	latency = time.Since(start)
	if err != nil {
		return 0, nil, latency, err
	}
	defer resp.Body.Close()

	respBody, _ = io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, latency, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Idempotent retry", &s.metrics.IdempotentRetry)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Complete", &s.metrics.Complete)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("Search", &s.metrics.Search)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	rejected := atomic.LoadInt64(&om.Rejected)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, float64(rejected)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
