package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/auth"
)

// SoftDelete hides an appointment and frees its time range. The row and its
// audit trail stay.
func (s *Service) SoftDelete(ctx context.Context, actor auth.Actor, id uuid.UUID) (appt *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.SoftDelete", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
	))
	defer func() { endSpan(span, err) }()

	appt, err = s.moveRecord(ctx, actor, auth.PermBookAppointments, id, RecordSoftDeleted)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, appt.DoctorID, appt.Date)
	s.logEvent(ctx, id, EventAppointmentSoftDeleted, map[string]any{"actor_id": actor.UserID.String()})
	return appt, nil
}

// Restore brings a soft-deleted appointment back. Its time range must still
// be free.
func (s *Service) Restore(ctx context.Context, actor auth.Actor, id uuid.UUID) (appt *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Restore", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
	))
	defer func() { endSpan(span, err) }()

	appt, err = s.moveRecord(ctx, actor, auth.PermBookAppointments, id, RecordActive)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, appt.DoctorID, appt.Date)
	s.logEvent(ctx, id, EventAppointmentRestored, map[string]any{"actor_id": actor.UserID.String()})
	return appt, nil
}

// Purge removes the appointment row for good. Audit entries are kept.
func (s *Service) Purge(ctx context.Context, actor auth.Actor, id uuid.UUID) (err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Purge", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
	))
	defer func() { endSpan(span, err) }()

	appt, err := s.moveRecord(ctx, actor, auth.PermHardDelete, id, RecordPurged)
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("appointment_id", id.String()).
		Str("actor_id", actor.UserID.String()).
		Msg("appointment purged")

	s.invalidate(ctx, appt.DoctorID, appt.Date)
	s.logEvent(ctx, id, EventAppointmentPurged, map[string]any{"actor_id": actor.UserID.String()})
	return nil
}

func (s *Service) moveRecord(ctx context.Context, actor auth.Actor, perm auth.Permission, id uuid.UUID, next RecordState) (*Appointment, error) {
	if !s.perms.Can(actor, perm) {
		return nil, apperr.Forbidden("actor lacks permission %s", perm)
	}

	var result *Appointment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return apperr.NotFound("appointment %s not found", id)
			}
			return fmt.Errorf("load appointment: %w", err)
		}
		if !actor.InClinic(cur.ClinicID) {
			return apperr.Forbidden("actor has no access to clinic %s", cur.ClinicID)
		}
		if !cur.RecordState.CanTransitionTo(next) {
			return apperr.Transition(GuardRecordState, "appointment %s cannot move from %s to %s", id, cur.RecordState, next)
		}

		if next == RecordPurged {
			if err := tx.PurgeAppointment(ctx, id); err != nil {
				return fmt.Errorf("purge appointment: %w", err)
			}
			cur.RecordState = RecordPurged
			result = cur
			return nil
		}

		cur.RecordState = next
		if next == RecordActive && cur.BlocksCalendar() {
			if err := s.lockAndCheck(ctx, tx, cur); err != nil {
				return err
			}
		}

		now := s.now()
		cur.DeletedAt = nil
		if next == RecordSoftDeleted {
			cur.DeletedAt = &now
		}
		cur.UpdatedAt = now
		if err := tx.SetRecordState(ctx, id, next, cur.DeletedAt); err != nil {
			return fmt.Errorf("set record state: %w", err)
		}
		result = cur
		return nil
	})
	if err != nil {
		return nil, storageErr("change appointment record state", err)
	}
	return result, nil
}
