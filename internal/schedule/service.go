package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/timerange"
)

// Invalidator drops cached slot lists affected by a schedule change.
type Invalidator interface {
	InvalidateDay(ctx context.Context, doctorID uuid.UUID, date time.Time) error
	InvalidateDoctor(ctx context.Context, doctorID uuid.UUID) error
	InvalidateClinic(ctx context.Context, clinicID uuid.UUID) error
}

type Service struct {
	store Store
	perms auth.PermissionChecker
	cache Invalidator
}

// NewService builds the schedule service. cache may be nil.
func NewService(store Store, perms auth.PermissionChecker, cache Invalidator) *Service {
	return &Service{store: store, perms: perms, cache: cache}
}

type BlockInput struct {
	ClinicID  uuid.UUID
	DoctorID  *uuid.UUID
	Weekday   int
	StartTime string
	EndTime   string
}

type ExceptionInput struct {
	DoctorID  uuid.UUID
	Date      time.Time
	StartTime *string
	EndTime   *string
	Reason    *string
}

func (s *Service) ListBlocks(ctx context.Context, actor auth.Actor, f BlockFilter) ([]Block, error) {
	if err := s.authorize(actor, auth.PermViewAppointments, f.ClinicID); err != nil {
		return nil, err
	}
	out, err := s.store.ListBlocks(ctx, f)
	if err != nil {
		return nil, apperr.Storage("list schedule blocks", err)
	}
	return out, nil
}

// CreateBlock adds a recurring block. Blocks of the same owner on the same
// weekday may not overlap.
func (s *Service) CreateBlock(ctx context.Context, actor auth.Actor, in BlockInput) (*Block, error) {
	if err := s.authorize(actor, auth.PermManageSchedules, in.ClinicID); err != nil {
		return nil, err
	}
	if in.ClinicID == uuid.Nil {
		return nil, apperr.Validation("clinic_id is required")
	}
	if in.Weekday < 0 || in.Weekday > 6 {
		return nil, apperr.Validation("weekday must be between 0 (Sunday) and 6 (Saturday)")
	}
	r, err := timerange.ParseRange(in.StartTime, in.EndTime)
	if err != nil {
		return nil, apperr.Validation("block time range: %v", err)
	}

	weekday := in.Weekday
	existing, err := s.store.ListBlocks(ctx, BlockFilter{ClinicID: in.ClinicID, DoctorID: in.DoctorID, Weekday: &weekday})
	if err != nil {
		return nil, apperr.Storage("list schedule blocks", err)
	}
	for _, b := range existing {
		if timerange.OverlapsHHMM(b.StartTime, b.EndTime, in.StartTime, in.EndTime) {
			return nil, apperr.Validation("block %s-%s overlaps existing block %s-%s",
				r.StartString(), r.EndString(), b.StartTime, b.EndTime)
		}
	}

	b := &Block{
		ClinicID:  in.ClinicID,
		DoctorID:  in.DoctorID,
		Weekday:   in.Weekday,
		StartTime: r.StartString(),
		EndTime:   r.EndString(),
	}
	if err := s.store.CreateBlock(ctx, b); err != nil {
		return nil, apperr.Storage("create schedule block", err)
	}

	zerolog.Ctx(ctx).Info().Stringer("block", b).Msg("schedule block created")
	s.invalidateBlock(ctx, b)
	return b, nil
}

func (s *Service) DeleteBlock(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	b, err := s.store.GetBlock(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBlockNotFound) {
			return apperr.NotFound("schedule block %s not found", id)
		}
		return apperr.Storage("load schedule block", err)
	}
	if err := s.authorize(actor, auth.PermManageSchedules, b.ClinicID); err != nil {
		return err
	}
	if _, err := s.store.DeleteBlock(ctx, id); err != nil {
		if errors.Is(err, ErrBlockNotFound) {
			return apperr.NotFound("schedule block %s not found", id)
		}
		return apperr.Storage("delete schedule block", err)
	}

	zerolog.Ctx(ctx).Info().Stringer("block", b).Msg("schedule block deleted")
	s.invalidateBlock(ctx, b)
	return nil
}

func (s *Service) ListExceptions(ctx context.Context, actor auth.Actor, doctorID uuid.UUID, from, to time.Time) ([]Exception, error) {
	if !s.perms.Can(actor, auth.PermViewAppointments) {
		return nil, apperr.Forbidden("actor may not view schedules")
	}
	if to.Before(from) {
		return nil, apperr.Validation("end date must not be before start date")
	}
	out, err := s.store.ListExceptions(ctx, doctorID, timerange.NormalizeDate(from), timerange.NormalizeDate(to))
	if err != nil {
		return nil, apperr.Storage("list schedule exceptions", err)
	}
	return out, nil
}

// CreateException records a full-day block (no times) or a partial block
// (both times). Supplying only one bound is rejected.
func (s *Service) CreateException(ctx context.Context, actor auth.Actor, in ExceptionInput) (*Exception, error) {
	if !s.perms.Can(actor, auth.PermManageSchedules) {
		return nil, apperr.Forbidden("actor may not manage schedules")
	}
	if in.DoctorID == uuid.Nil {
		return nil, apperr.Validation("doctor_id is required")
	}
	if in.Date.IsZero() {
		return nil, apperr.Validation("date is required")
	}

	e := &Exception{
		DoctorID: in.DoctorID,
		Date:     timerange.NormalizeDate(in.Date),
		Reason:   in.Reason,
	}

	switch {
	case in.StartTime == nil && in.EndTime == nil:
	case in.StartTime != nil && in.EndTime != nil:
		r, err := timerange.ParseRange(*in.StartTime, *in.EndTime)
		if err != nil {
			return nil, apperr.Validation("exception time range: %v", err)
		}
		start, end := r.StartString(), r.EndString()
		e.StartTime, e.EndTime = &start, &end
	default:
		return nil, apperr.Validation("exception needs both start_time and end_time, or neither for a full day")
	}

	if err := s.store.CreateException(ctx, e); err != nil {
		return nil, apperr.Storage("create schedule exception", err)
	}

	s.invalidate(ctx, "day", func() error { return s.cache.InvalidateDay(ctx, e.DoctorID, e.Date) })
	return e, nil
}

func (s *Service) DeleteException(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	if !s.perms.Can(actor, auth.PermManageSchedules) {
		return apperr.Forbidden("actor may not manage schedules")
	}
	e, err := s.store.DeleteException(ctx, id)
	if err != nil {
		if errors.Is(err, ErrExceptionNotFound) {
			return apperr.NotFound("schedule exception %s not found", id)
		}
		return apperr.Storage("delete schedule exception", err)
	}

	s.invalidate(ctx, "day", func() error { return s.cache.InvalidateDay(ctx, e.DoctorID, e.Date) })
	return nil
}

func (s *Service) authorize(actor auth.Actor, perm auth.Permission, clinicID uuid.UUID) error {
	if !s.perms.Can(actor, perm) {
		return apperr.Forbidden("actor lacks permission %s", perm)
	}
	if clinicID != uuid.Nil && !actor.InClinic(clinicID) {
		return apperr.Forbidden("actor is not assigned to clinic %s", clinicID)
	}
	return nil
}

func (s *Service) invalidateBlock(ctx context.Context, b *Block) {
	if b.DoctorID != nil {
		s.invalidate(ctx, "doctor", func() error { return s.cache.InvalidateDoctor(ctx, *b.DoctorID) })
		return
	}
	s.invalidate(ctx, "clinic", func() error { return s.cache.InvalidateClinic(ctx, b.ClinicID) })
}

// invalidate is best effort; cached slots expire on their own.
func (s *Service) invalidate(ctx context.Context, scope string, fn func() error) {
	if s.cache == nil {
		return
	}
	if err := fn(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("scope", scope).Msg("slot cache invalidation failed")
	}
}
