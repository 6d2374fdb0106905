package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

type seedPlan struct {
	Clinics          int
	DoctorsPerClinic int
	RoomsPerClinic   int
	Patients         int
}

var timezones = []string{"America/Mexico_City", "America/Bogota", "America/New_York", "UTC"}

var appointmentTypes = []struct {
	name     string
	price    string
	duration int
}{
	{"General consultation", "600.00", 30},
	{"Follow-up", "400.00", 20},
	{"Dermatology review", "850.00", 45},
	{"Pediatric checkup", "550.00", 30},
	{"Physiotherapy session", "700.00", 60},
	{"Lab results review", "300.00", 15},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Init("clinic-scheduling-seed", cfg.Env, cfg.LogLevel)
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx)

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	gofakeit.Seed(time.Now().UnixNano())

	plan := seedPlan{Clinics: 3, DoctorsPerClinic: 5, RoomsPerClinic: 4, Patients: 2000}
	if err := seed(ctx, pool, plan); err != nil {
		logger.Fatal().Err(err).Msg("seed failed")
	}
	logger.Info().Msg("seed complete")
}

func seed(ctx context.Context, pool *pgxpool.Pool, plan seedPlan) error {
	log := zerolog.Ctx(ctx)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := seedAppointmentTypes(ctx, tx); err != nil {
		return fmt.Errorf("appointment types: %w", err)
	}
	for i := 0; i < plan.Clinics; i++ {
		clinicID, err := seedClinic(ctx, tx)
		if err != nil {
			return fmt.Errorf("clinic: %w", err)
		}
		if err := seedRooms(ctx, tx, clinicID, plan.RoomsPerClinic); err != nil {
			return fmt.Errorf("rooms: %w", err)
		}
		if err := seedClinicHours(ctx, tx, clinicID); err != nil {
			return fmt.Errorf("clinic hours: %w", err)
		}
		for j := 0; j < plan.DoctorsPerClinic; j++ {
			if err := seedDoctor(ctx, tx, clinicID); err != nil {
				return fmt.Errorf("doctor: %w", err)
			}
		}
		log.Info().Stringer("clinic_id", clinicID).Int("doctors", plan.DoctorsPerClinic).Msg("clinic seeded")
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	return seedPatients(ctx, pool, plan.Patients)
}

func seedAppointmentTypes(ctx context.Context, tx pgx.Tx) error {
	for _, t := range appointmentTypes {
		_, err := tx.Exec(ctx, `
			INSERT INTO appointment_types (id, name, default_price, default_duration_min)
			VALUES ($1, $2, $3, $4)
		`, uuid.New(), t.name, decimal.RequireFromString(t.price), t.duration)
		if err != nil {
			return err
		}
	}
	return nil
}

func seedClinic(ctx context.Context, tx pgx.Tx) (uuid.UUID, error) {
	id := uuid.New()
	var granularity *int
	if gofakeit.Bool() {
		g := []int{15, 20, 30}[gofakeit.Number(0, 2)]
		granularity = &g
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO clinics (id, name, timezone, slot_granularity_min)
		VALUES ($1, $2, $3, $4)
	`, id, gofakeit.Company()+" Clinic", gofakeit.RandomString(timezones), granularity)
	return id, err
}

func seedRooms(ctx context.Context, tx pgx.Tx, clinicID uuid.UUID, count int) error {
	for i := 1; i <= count; i++ {
		_, err := tx.Exec(ctx, `
			INSERT INTO rooms (id, clinic_id, name) VALUES ($1, $2, $3)
		`, uuid.New(), clinicID, fmt.Sprintf("Room %d", i))
		if err != nil {
			return err
		}
	}
	return nil
}

// seedClinicHours gives the clinic Monday to Friday 08:00-18:00 and Saturday
// mornings, inherited by any doctor without blocks of their own.
func seedClinicHours(ctx context.Context, tx pgx.Tx, clinicID uuid.UUID) error {
	for weekday := 1; weekday <= 5; weekday++ {
		if err := insertBlock(ctx, tx, clinicID, nil, weekday, "08:00", "18:00"); err != nil {
			return err
		}
	}
	return insertBlock(ctx, tx, clinicID, nil, 6, "09:00", "13:00")
}

// seedDoctor inserts a doctor. About half get their own split-shift week.
func seedDoctor(ctx context.Context, tx pgx.Tx, clinicID uuid.UUID) error {
	id := uuid.New()
	_, err := tx.Exec(ctx, `
		INSERT INTO doctors (id, first_name, last_name) VALUES ($1, $2, $3)
	`, id, gofakeit.FirstName(), gofakeit.LastName())
	if err != nil {
		return err
	}
	if gofakeit.Bool() {
		return nil
	}
	for weekday := 1; weekday <= 5; weekday++ {
		if gofakeit.Number(0, 4) == 0 {
			continue
		}
		if err := insertBlock(ctx, tx, clinicID, &id, weekday, "09:00", "13:00"); err != nil {
			return err
		}
		if err := insertBlock(ctx, tx, clinicID, &id, weekday, "15:00", "19:00"); err != nil {
			return err
		}
	}
	return nil
}

func insertBlock(ctx context.Context, tx pgx.Tx, clinicID uuid.UUID, doctorID *uuid.UUID, weekday int, start, end string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO schedule_blocks (id, clinic_id, doctor_id, weekday, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), clinicID, doctorID, weekday, start, end)
	return err
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log := zerolog.Ctx(ctx)
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			batch.Queue(`
				INSERT INTO patients (id, first_name, last_name, second_last_name, no_second_last_name, phone, birth_date, gender)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, fakePatient()...)
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("patients batch at %d: %w", offset, err)
		}
		log.Info().Int("seeded", end).Int("total", count).Msg("patients seeded")
	}
	return nil
}

// fakePatient returns insert arguments. One in ten patients is left with
// incomplete mandatory data so confirmation guards have something to reject.
func fakePatient() []any {
	var (
		secondLast *string
		noSecond   bool
		phone      *string
		birth      *time.Time
		gender     *string
	)
	if gofakeit.Number(0, 3) == 0 {
		noSecond = true
	} else {
		s := gofakeit.LastName()
		secondLast = &s
	}
	if gofakeit.Number(0, 9) != 0 {
		p := gofakeit.Phone()
		b := gofakeit.DateRange(time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC))
		g := gofakeit.RandomString([]string{"female", "male", "other"})
		phone, birth, gender = &p, &b, &g
	}
	return []any{uuid.New(), gofakeit.FirstName(), gofakeit.LastName(), secondLast, noSecond, phone, birth, gender}
}
