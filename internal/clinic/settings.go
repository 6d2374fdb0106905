package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/timerange"
)

var ErrClinicNotFound = errors.New("clinic not found")

// Settings are the clinic-level knobs the scheduling core depends on.
type Settings struct {
	ClinicID           uuid.UUID
	Location           *time.Location
	SlotGranularityMin int
}

// Today is the clinic-local calendar day at instant now.
func (s Settings) Today(now time.Time) time.Time {
	return timerange.DateOf(now, s.loc())
}

// NowMinutes is the clinic-local minutes after midnight at instant now.
func (s Settings) NowMinutes(now time.Time) int {
	return timerange.MinutesOfDay(now, s.loc())
}

func (s Settings) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

type SettingsProvider interface {
	GetSettings(ctx context.Context, clinicID uuid.UUID) (Settings, error)
}

// PgSettingsProvider reads settings from the clinics table. A clinic with no
// configured granularity uses the process-wide default.
type PgSettingsProvider struct {
	pool               *pgxpool.Pool
	defaultGranularity int
}

func NewPgSettingsProvider(pool *pgxpool.Pool, defaultGranularity int) *PgSettingsProvider {
	return &PgSettingsProvider{pool: pool, defaultGranularity: defaultGranularity}
}

func (p *PgSettingsProvider) GetSettings(ctx context.Context, clinicID uuid.UUID) (Settings, error) {
	var tz string
	var granularity *int

	err := p.pool.QueryRow(ctx, `
		SELECT timezone, slot_granularity_min
		FROM clinics
		WHERE id = $1 AND is_active
	`, clinicID).Scan(&tz, &granularity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, ErrClinicNotFound
		}
		return Settings{}, fmt.Errorf("load clinic settings: %w", err)
	}

	return Build(clinicID, tz, granularity, p.defaultGranularity)
}

// Build resolves a timezone name and optional granularity into Settings.
func Build(clinicID uuid.UUID, tz string, granularity *int, defaultGranularity int) (Settings, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return Settings{}, fmt.Errorf("clinic %s timezone %q: %w", clinicID, tz, err)
		}
		loc = l
	}

	g := defaultGranularity
	if granularity != nil && *granularity > 0 {
		g = *granularity
	}
	if g <= 0 {
		g = 30
	}

	return Settings{ClinicID: clinicID, Location: loc, SlotGranularityMin: g}, nil
}
