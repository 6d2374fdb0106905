package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
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
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/timerange"
)

// SimConfig drives a booking race: many workers compete for the same few
// slots of one doctor, and every slot must end up booked at most once.
type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	ClinicID     uuid.UUID
	DoctorID     uuid.UUID
	Date         time.Time
	SlotMinutes  int
	HotSlots     int
	ReadRatio    float64
	PatientLimit int
	PostgresDSN  string
}

type slot struct {
	Start string `json:"start_time"`
	End   string `json:"end_time"`
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []slot

	mu     sync.Mutex
	booked map[string][]uuid.UUID // slot start -> appointment IDs that got 201
}

func (dp *DataPool) recordBooking(start string, id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked[start] = append(dp.booked[start], id)
}

// doubleBooked returns the slot starts that more than one booking won.
func (dp *DataPool) doubleBooked() []string {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	var out []string
	for start, ids := range dp.booked {
		if len(ids) > 1 {
			out = append(out, start)
		}
	}
	sort.Strings(out)
	return out
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		return latencies[min(len(latencies)*p/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), pct(50), pct(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking OperationMetrics
	Slots   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Init("clinic-scheduling-simulate", baseCfg.Env, baseCfg.LogLevel)

	cfg, err := loadConfig(baseCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid simulator config")
	}
	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Str("doctor_id", cfg.DoctorID.String()).
		Str("date", timerange.FormatDate(cfg.Date)).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}
	sim.pool, err = sim.loadDataPool(ctx, pgPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("patients", len(sim.pool.Patients)).Int("hot_slots", len(sim.pool.Slots)).Msg("data pool loaded")

	sim.Run()
	if bad := sim.PrintReport(); bad > 0 {
		os.Exit(2)
	}
}

func loadConfig(base config.Config) (SimConfig, error) {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 15*time.Second),
		Workers:      getInt("SIM_WORKERS", 16),
		SlotMinutes:  getInt("SIM_SLOT_MINUTES", 30),
		HotSlots:     getInt("SIM_HOT_SLOTS", 4),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.2),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 500),
		PostgresDSN:  base.PostgresDSN,
	}

	var err error
	if cfg.ClinicID, err = uuid.Parse(os.Getenv("SIM_CLINIC_ID")); err != nil {
		return cfg, fmt.Errorf("SIM_CLINIC_ID must be a UUID: %w", err)
	}
	if cfg.DoctorID, err = uuid.Parse(os.Getenv("SIM_DOCTOR_ID")); err != nil {
		return cfg, fmt.Errorf("SIM_DOCTOR_ID must be a UUID: %w", err)
	}
	date := getEnv("SIM_DATE", timerange.FormatDate(time.Now().AddDate(0, 0, 1)))
	if cfg.Date, err = timerange.ParseDate(date); err != nil {
		return cfg, fmt.Errorf("SIM_DATE: %w", err)
	}
	if cfg.Workers <= 0 {
		return cfg, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return cfg, fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return cfg, fmt.Errorf("SIM_HOT_SLOTS must be > 0")
	}
	return cfg, nil
}

// loadDataPool reads patients from Postgres and the doctor's free slots from
// the API, keeping only the first few so workers collide on them.
func (s *Simulator) loadDataPool(ctx context.Context, pool *pgxpool.Pool) (*DataPool, error) {
	dp := &DataPool{booked: make(map[string][]uuid.UUID)}

	rows, err := pool.Query(ctx, `
		SELECT id FROM patients WHERE is_active AND deleted_at IS NULL LIMIT $1
	`, s.config.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}

	slots, status, err := s.fetchSlots(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch slots: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch slots: unexpected status %d", status)
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("doctor has no free slots on %s", timerange.FormatDate(s.config.Date))
	}
	dp.Slots = slots[:min(len(slots), s.config.HotSlots)]
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	for ctx.Err() == nil {
		if rng.Float64() < s.config.ReadRatio {
			s.doReadSlots(ctx)
		} else {
			s.doBooking(ctx, rng)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	sl := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body, _ := json.Marshal(map[string]any{
		"patient_id":    patientID,
		"doctor_id":     s.config.DoctorID,
		"clinic_id":     s.config.ClinicID,
		"date":          timerange.FormatDate(s.config.Date),
		"start_time":    sl.Start,
		"end_time":      sl.End,
		"custom_reason": "load simulation",
	})

	start := time.Now()
	req, err := s.newRequest(ctx, http.MethodPost, "/appointments", body)
	if err != nil {
		return
	}
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.metrics.Booking.Record(latency, false, false)
		}
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil {
			s.pool.recordBooking(sl.Start, created.ID)
		}
		s.metrics.Booking.Record(latency, true, false)
	case http.StatusConflict:
		s.metrics.Booking.Record(latency, false, true)
	default:
		s.metrics.Booking.Record(latency, false, false)
	}
}

func (s *Simulator) doReadSlots(ctx context.Context) {
	start := time.Now()
	_, status, err := s.fetchSlots(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}
	s.metrics.Slots.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) fetchSlots(ctx context.Context) ([]slot, int, error) {
	path := fmt.Sprintf("/doctors/%s/slots?clinic_id=%s&date=%s&duration=%d",
		s.config.DoctorID, s.config.ClinicID, timerange.FormatDate(s.config.Date), s.config.SlotMinutes)
	req, err := s.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	var out struct {
		Slots []slot `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resp.StatusCode, err
	}
	return out.Slots, resp.StatusCode, nil
}

func (s *Simulator) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", uuid.NewString())
	req.Header.Set("X-Actor-Role", "RECEPTIONIST")
	req.Header.Set("X-Clinic-IDs", s.config.ClinicID.String())
	return req, nil
}

// PrintReport writes the summary and returns the number of double-booked slots.
func (s *Simulator) PrintReport() int {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BOOKING RACE REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s  Workers: %d  Hot slots: %d\n\n", s.config.Duration, s.config.Workers, len(s.pool.Slots))

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Slot reads", &s.metrics.Slots)

	bad := s.pool.doubleBooked()
	if len(bad) == 0 {
		fmt.Println("No slot was booked more than once.")
		return 0
	}
	fmt.Printf("DOUBLE BOOKED: %s\n", strings.Join(bad, ", "))
	return len(bad)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

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
