package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/timerange"
)

const (
	MinDurationMin = appointment.MinDurationMin
	MaxDurationMin = appointment.MaxDurationMin
	// MaxRangeDays bounds AvailabilityRange, both ends inclusive.
	MaxRangeDays = 90
)

// Slot is a bookable interval. Inherited marks slots generated from a
// clinic-wide block.
type Slot struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Inherited bool   `json:"inherited"`
}

type DayAvailability struct {
	Date      time.Time
	Available bool
}

// ScheduleReader is the part of the schedule store the resolver reads.
type ScheduleReader interface {
	ListBlocks(ctx context.Context, f schedule.BlockFilter) ([]schedule.Block, error)
	ListExceptions(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.Exception, error)
}

// BookingReader finds calendar-blocking appointments.
type BookingReader interface {
	FindOverlapping(ctx context.Context, q appointment.OverlapQuery) ([]appointment.Appointment, error)
}

// SlotKey identifies one cached slot list.
type SlotKey struct {
	ClinicID    uuid.UUID
	DoctorID    uuid.UUID
	Date        time.Time
	DurationMin int
}

// Cache keeps computed slot lists for a short time. Cached lists are stored
// before the "today" filter is applied.
type Cache interface {
	Get(ctx context.Context, key SlotKey) ([]Slot, bool, error)
	Set(ctx context.Context, key SlotKey, slots []Slot) error
}

type Resolver struct {
	schedules ScheduleReader
	bookings  BookingReader
	settings  clinic.SettingsProvider
	cache     Cache
	now       func() time.Time
	tracer    trace.Tracer
}

type Option func(*Resolver)

func WithCache(c Cache) Option { return func(r *Resolver) { r.cache = c } }

func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

func NewResolver(schedules ScheduleReader, bookings BookingReader, settings clinic.SettingsProvider, opts ...Option) *Resolver {
	r := &Resolver{
		schedules: schedules,
		bookings:  bookings,
		settings:  settings,
		now:       time.Now,
		tracer:    otel.Tracer("github.com/hackgods/clinic-scheduling/internal/availability"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ComputeSlots returns the ordered bookable slots of durationMin minutes for
// a doctor on date. Slot starts are aligned to the clinic grid.
func (r *Resolver) ComputeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, clinicID uuid.UUID, durationMin int) (slots []Slot, err error) {
	ctx, span := r.tracer.Start(ctx, "availability.ComputeSlots", trace.WithAttributes(
		attribute.String("doctor_id", doctorID.String()),
		attribute.String("date", timerange.FormatDate(date)),
		attribute.Int("duration_min", durationMin),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if durationMin < MinDurationMin || durationMin > MaxDurationMin {
		return nil, apperr.Validation("duration must be between %d and %d minutes", MinDurationMin, MaxDurationMin)
	}
	if doctorID == uuid.Nil || clinicID == uuid.Nil {
		return nil, apperr.Validation("doctor_id and clinic_id are required")
	}
	if date.IsZero() {
		return nil, apperr.Validation("date is required")
	}

	settings, err := r.clinicSettings(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	return r.slotsFor(ctx, settings, doctorID, timerange.NormalizeDate(date), durationMin)
}

// AvailabilityRange reports, for every day in [start, end], whether at least
// one slot of the clinic's granularity is free.
func (r *Resolver) AvailabilityRange(ctx context.Context, doctorID, clinicID uuid.UUID, start, end time.Time) (days []DayAvailability, err error) {
	ctx, span := r.tracer.Start(ctx, "availability.Range", trace.WithAttributes(
		attribute.String("doctor_id", doctorID.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if doctorID == uuid.Nil || clinicID == uuid.Nil {
		return nil, apperr.Validation("doctor_id and clinic_id are required")
	}
	start, end = timerange.NormalizeDate(start), timerange.NormalizeDate(end)
	if end.Before(start) {
		return nil, apperr.Validation("end date must not be before start date")
	}
	n := int(end.Sub(start).Hours()/24) + 1
	if n > MaxRangeDays {
		return nil, apperr.Validation("range covers %d days, at most %d allowed", n, MaxRangeDays)
	}

	settings, err := r.clinicSettings(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	probe := settings.SlotGranularityMin
	if probe < MinDurationMin {
		probe = MinDurationMin
	}
	if probe > MaxDurationMin {
		probe = MaxDurationMin
	}

	days = make([]DayAvailability, 0, n)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		slots, err := r.slotsFor(ctx, settings, doctorID, d, probe)
		if err != nil {
			return nil, err
		}
		days = append(days, DayAvailability{Date: d, Available: len(slots) > 0})
	}
	return days, nil
}

func (r *Resolver) clinicSettings(ctx context.Context, clinicID uuid.UUID) (clinic.Settings, error) {
	st, err := r.settings.GetSettings(ctx, clinicID)
	if err != nil {
		if errors.Is(err, clinic.ErrClinicNotFound) {
			return clinic.Settings{}, apperr.Referential("clinic %s does not exist or is inactive", clinicID)
		}
		return clinic.Settings{}, apperr.Storage("load clinic settings", err)
	}
	return st, nil
}

func (r *Resolver) slotsFor(ctx context.Context, settings clinic.Settings, doctorID uuid.UUID, date time.Time, durationMin int) ([]Slot, error) {
	key := SlotKey{ClinicID: settings.ClinicID, DoctorID: doctorID, Date: date, DurationMin: durationMin}

	slots, hit := r.cached(ctx, key)
	if !hit {
		var err error
		slots, err = r.generate(ctx, settings, doctorID, date, durationMin)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			if err := r.cache.Set(ctx, key, slots); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to cache slots")
			}
		}
	}

	now := r.now()
	if !date.Equal(settings.Today(now)) {
		return slots, nil
	}
	nowMin := settings.NowMinutes(now)
	upcoming := make([]Slot, 0, len(slots))
	for _, s := range slots {
		start, err := timerange.ToMinutes(s.StartTime)
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", s.StartTime, err)
		}
		if start > nowMin {
			upcoming = append(upcoming, s)
		}
	}
	return upcoming, nil
}

func (r *Resolver) cached(ctx context.Context, key SlotKey) ([]Slot, bool) {
	if r.cache == nil {
		return nil, false
	}
	slots, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("slot cache read failed")
		return nil, false
	}
	return slots, ok
}

// generate walks each applicable block on the clinic grid and keeps the
// candidates that fit before the block end and overlap nothing busy.
func (r *Resolver) generate(ctx context.Context, settings clinic.Settings, doctorID uuid.UUID, date time.Time, durationMin int) ([]Slot, error) {
	blocks, inherited, err := r.blocksFor(ctx, settings.ClinicID, doctorID, timerange.Weekday(date))
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return []Slot{}, nil
	}
	ranges, err := blockRanges(blocks)
	if err != nil {
		return nil, err
	}

	exceptions, err := r.schedules.ListExceptions(ctx, doctorID, date, date)
	if err != nil {
		return nil, apperr.Storage("list schedule exceptions", err)
	}
	var busy []timerange.Range
	for _, e := range exceptions {
		if e.IsFullDay() {
			return []Slot{}, nil
		}
		if e.StartTime == nil || e.EndTime == nil {
			continue
		}
		rg, err := timerange.ParseRange(*e.StartTime, *e.EndTime)
		if err != nil {
			return nil, fmt.Errorf("exception %s: %w", e.ID, err)
		}
		busy = append(busy, rg)
	}

	booked, err := r.bookings.FindOverlapping(ctx, appointment.OverlapQuery{
		Date:      date,
		StartTime: "00:00",
		EndTime:   "24:00",
		DoctorID:  &doctorID,
	})
	if err != nil {
		return nil, apperr.Storage("list booked appointments", err)
	}
	for _, a := range booked {
		rg, err := timerange.ParseRange(a.StartTime, a.EndTime)
		if err != nil {
			return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
		}
		busy = append(busy, rg)
	}

	step := settings.SlotGranularityMin
	if step <= 0 {
		step = 30
	}

	slots := []Slot{}
	for _, br := range ranges {
		for t := br.Start; t+durationMin <= br.End; t += step {
			cand := timerange.Range{Start: t, End: t + durationMin}
			if overlapsAny(cand, busy) {
				continue
			}
			slots = append(slots, Slot{
				StartTime: cand.StartString(),
				EndTime:   cand.EndString(),
				Inherited: inherited,
			})
		}
	}

	zerolog.Ctx(ctx).Debug().
		Str("doctor_id", doctorID.String()).
		Str("date", timerange.FormatDate(date)).
		Int("blocks", len(blocks)).
		Int("busy", len(busy)).
		Int("slots", len(slots)).
		Msg("slots computed")
	return slots, nil
}

// blocksFor returns the doctor's blocks for weekday, or the clinic's when the
// doctor has none. The bool reports the fallback.
func (r *Resolver) blocksFor(ctx context.Context, clinicID, doctorID uuid.UUID, weekday int) ([]schedule.Block, bool, error) {
	own, err := r.schedules.ListBlocks(ctx, schedule.BlockFilter{ClinicID: clinicID, DoctorID: &doctorID, Weekday: &weekday})
	if err != nil {
		return nil, false, apperr.Storage("list doctor schedule blocks", err)
	}
	if len(own) > 0 {
		return own, false, nil
	}

	shared, err := r.schedules.ListBlocks(ctx, schedule.BlockFilter{ClinicID: clinicID, Weekday: &weekday})
	if err != nil {
		return nil, false, apperr.Storage("list clinic schedule blocks", err)
	}
	return shared, true, nil
}

// blockRanges parses blocks once and orders them by start time. A stored
// block that does not parse fails the whole computation.
func blockRanges(blocks []schedule.Block) ([]timerange.Range, error) {
	ranges := make([]timerange.Range, 0, len(blocks))
	for _, b := range blocks {
		br, err := timerange.ParseRange(b.StartTime, b.EndTime)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", b.ID, err)
		}
		ranges = append(ranges, br)
	}
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	return ranges, nil
}

func overlapsAny(r timerange.Range, busy []timerange.Range) bool {
	for _, b := range busy {
		if r.Overlaps(b) {
			return true
		}
	}
	return false
}
