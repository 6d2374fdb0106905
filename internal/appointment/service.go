package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/timerange"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentUpdated     = "APPOINTMENT_UPDATED"
	EventAppointmentTransition  = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentSoftDeleted = "APPOINTMENT_SOFT_DELETED"
	EventAppointmentRestored    = "APPOINTMENT_RESTORED"
	EventAppointmentPurged      = "APPOINTMENT_PURGED"
)

const (
	MinDurationMin = 5
	MaxDurationMin = 480
)

// Locker guards a scope across service instances. Lock contention is
// reported as an error and surfaces as a retryable storage failure.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// SlotInvalidator drops cached slot lists for a doctor's day.
type SlotInvalidator interface {
	InvalidateDay(ctx context.Context, doctorID uuid.UUID, date time.Time) error
}

type Service struct {
	repo     Repository
	dir      Directory
	types    TypeCatalog
	settings clinic.SettingsProvider
	perms    auth.PermissionChecker
	policy   TransitionPolicy
	locker   Locker
	slots    SlotInvalidator
	now      func() time.Time
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

func WithSlotCache(c SlotInvalidator) Option { return func(s *Service) { s.slots = c } }

func WithPolicy(p TransitionPolicy) Option { return func(s *Service) { s.policy = p } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(repo Repository, dir Directory, types TypeCatalog, settings clinic.SettingsProvider, perms auth.PermissionChecker, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		dir:      dir,
		types:    types,
		settings: settings,
		perms:    perms,
		policy:   DefaultPolicy(),
		now:      time.Now,
		tracer:   otel.Tracer("github.com/hackgods/clinic-scheduling/internal/appointment"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type BookInput struct {
	PatientID         uuid.UUID
	DoctorID          uuid.UUID
	ClinicID          uuid.UUID
	RoomID            *uuid.UUID
	AppointmentTypeID *uuid.UUID
	Date              time.Time
	StartTime         string
	EndTime           string
	CustomReason      *string
	CustomPrice       *decimal.Decimal
	DurationMin       *int
	Notes             *string
	PaymentMethod     *PaymentMethod
}

// UpdateInput carries the fields to change. Nil fields are left as they are.
type UpdateInput struct {
	PatientID         *uuid.UUID
	DoctorID          *uuid.UUID
	RoomID            *uuid.UUID
	ClearRoom         bool
	AppointmentTypeID *uuid.UUID
	Date              *time.Time
	StartTime         *string
	EndTime           *string
	CustomReason      *string
	CustomPrice       *decimal.Decimal
	DurationMin       *int
	Notes             *string
	PaymentMethod     *PaymentMethod
}

// Book validates and persists a new PENDING appointment. The conflict check
// and the insert share one transaction.
func (s *Service) Book(ctx context.Context, actor auth.Actor, in BookInput) (appt *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Book", trace.WithAttributes(
		attribute.String("doctor_id", in.DoctorID.String()),
		attribute.String("clinic_id", in.ClinicID.String()),
	))
	defer func() { endSpan(span, err) }()

	if err := s.authorize(actor, auth.PermBookAppointments, in.ClinicID); err != nil {
		return nil, err
	}
	if err := validateBookInput(in); err != nil {
		return nil, err
	}
	date := timerange.NormalizeDate(in.Date)

	settings, err := s.clinicSettings(ctx, in.ClinicID)
	if err != nil {
		return nil, err
	}
	if err := s.checkNotPast(actor, settings, date); err != nil {
		return nil, err
	}

	typ, err := s.checkReferences(ctx, in.ClinicID, in.PatientID, in.DoctorID, in.RoomID, in.AppointmentTypeID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	a := &Appointment{
		ID:                uuid.New(),
		PatientID:         in.PatientID,
		DoctorID:          in.DoctorID,
		ClinicID:          in.ClinicID,
		RoomID:            clonePtr(in.RoomID),
		AppointmentTypeID: clonePtr(in.AppointmentTypeID),
		Date:              date,
		StartTime:         in.StartTime,
		EndTime:           in.EndTime,
		Status:            StatusPending,
		CustomReason:      trimmed(in.CustomReason),
		Notes:             clonePtr(in.Notes),
		PaymentMethod:     clonePtr(in.PaymentMethod),
		RecordState:       RecordActive,
		CreatedBy:         actor.UserID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	a.CustomPrice = effectivePrice(in.CustomPrice, typ)
	a.DurationMin = rangeMinutes(a.StartTime, a.EndTime)

	err = s.withScopeLock(ctx, a.DoctorID, date, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := s.lockAndCheck(ctx, tx, a); err != nil {
				return err
			}
			if err := tx.InsertAppointment(ctx, a); err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}
			entry := AuditEntry{
				ID:              uuid.New(),
				AppointmentID:   a.ID,
				NewStatus:       StatusPending,
				RequestedStatus: StatusPending,
				ActorID:         actor.UserID,
				ActorRole:       string(actor.Role),
				Metadata:        s.auditMetadata(ctx, a, map[string]any{"trigger": "booking"}),
				CreatedAt:       now,
			}
			if err := tx.InsertAudit(ctx, entry); err != nil {
				return fmt.Errorf("insert audit entry: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("book appointment", err)
	}

	logger := logging.WithTrace(ctx)
	logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Str("date", timerange.FormatDate(a.Date)).
		Str("time", a.StartTime+"-"+a.EndTime).
		Msg("appointment booked")

	s.invalidate(ctx, a.DoctorID, a.Date)
	s.logEvent(ctx, a.ID, EventAppointmentCreated, map[string]any{
		"patient_id": a.PatientID.String(),
		"doctor_id":  a.DoctorID.String(),
		"date":       timerange.FormatDate(a.Date),
		"start_time": a.StartTime,
		"end_time":   a.EndTime,
	})
	return a, nil
}

// UpdateAppointment edits an appointment. Moving a REQUIRES_RESCHEDULE
// appointment to a new doctor, date or time puts it back to PENDING.
func (s *Service) UpdateAppointment(ctx context.Context, actor auth.Actor, id uuid.UUID, in UpdateInput) (appt *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.Update", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
	))
	defer func() { endSpan(span, err) }()

	current, err := s.loadForActor(ctx, actor, auth.PermBookAppointments, id)
	if err != nil {
		return nil, err
	}
	if err := validateUpdateInput(in); err != nil {
		return nil, err
	}

	// The redis scope comes from a pre-read; the transaction re-reads the row.
	preview := mergeUpdate(current, in)

	var updated *Appointment
	var rescheduled, scheduleChanged bool
	var oldDoctor uuid.UUID
	var oldDate time.Time

	err = s.withScopeLock(ctx, preview.DoctorID, preview.Date, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			cur, err := tx.GetAppointmentForUpdate(ctx, id)
			if err != nil {
				if errors.Is(err, ErrAppointmentNotFound) {
					return apperr.NotFound("appointment %s not found", id)
				}
				return fmt.Errorf("load appointment: %w", err)
			}
			if cur.RecordState != RecordActive {
				return apperr.Transition(GuardRecordState, "appointment %s is %s", id, cur.RecordState)
			}

			next := mergeUpdate(cur, in)
			scheduleChanged = schedulingChanged(cur, next)
			if cur.Status.IsTerminal() && (scheduleChanged || !sameDetails(cur, next)) {
				return apperr.Transition(GuardTerminalState,
					"appointment is %s; only notes can be edited", cur.Status)
			}

			if _, err := timerange.ParseRange(next.StartTime, next.EndTime); err != nil {
				return apperr.Validation("time range: %v", err)
			}
			if err := checkDurationRange(next.StartTime, next.EndTime); err != nil {
				return err
			}
			if err := checkExplicitDuration(in.DurationMin, next.StartTime, next.EndTime); err != nil {
				return err
			}
			if next.AppointmentTypeID == nil && blank(next.CustomReason) {
				return apperr.Validation("either appointment_type_id or custom_reason is required")
			}

			if scheduleChanged {
				settings, err := s.clinicSettings(ctx, next.ClinicID)
				if err != nil {
					return err
				}
				if !next.Date.Equal(cur.Date) || next.StartTime != cur.StartTime {
					if err := s.checkNotPast(actor, settings, next.Date); err != nil {
						return err
					}
				}
			}

			newType := typeIfChanged(cur, next)
			if scheduleChanged || newType != nil {
				typ, err := s.checkReferences(ctx, next.ClinicID, next.PatientID, next.DoctorID, next.RoomID, newType)
				if err != nil {
					return err
				}
				if typ != nil {
					next.CustomPrice = effectivePrice(in.CustomPrice, typ)
				}
			}

			if scheduleChanged && next.BlocksCalendar() {
				if err := s.lockAndCheck(ctx, tx, next); err != nil {
					return err
				}
			}

			now := s.now()
			next.UpdatedAt = now
			if next.Status == StatusRequiresReschedule && reschedulingFieldsChanged(cur, next) {
				next.Status = StatusPending
				rescheduled = true
			}
			if err := tx.UpdateAppointment(ctx, next); err != nil {
				return fmt.Errorf("update appointment: %w", err)
			}
			if rescheduled {
				entry := AuditEntry{
					ID:              uuid.New(),
					AppointmentID:   next.ID,
					OldStatus:       StatusRequiresReschedule,
					NewStatus:       StatusPending,
					RequestedStatus: StatusPending,
					ActorID:         actor.UserID,
					ActorRole:       string(actor.Role),
					Metadata:        s.auditMetadata(ctx, next, map[string]any{"trigger": "reschedule"}),
					CreatedAt:       now,
				}
				if err := tx.InsertAudit(ctx, entry); err != nil {
					return fmt.Errorf("insert audit entry: %w", err)
				}
			}

			oldDoctor, oldDate = cur.DoctorID, cur.Date
			updated = next
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("update appointment", err)
	}

	if scheduleChanged {
		s.invalidate(ctx, oldDoctor, oldDate)
		s.invalidate(ctx, updated.DoctorID, updated.Date)
	}
	payload := map[string]any{
		"doctor_id":  updated.DoctorID.String(),
		"date":       timerange.FormatDate(updated.Date),
		"start_time": updated.StartTime,
		"end_time":   updated.EndTime,
	}
	if rescheduled {
		payload["rescheduled"] = true
	}
	s.logEvent(ctx, updated.ID, EventAppointmentUpdated, payload)
	return updated, nil
}

// TransitionStatus moves an appointment through the lifecycle. A request
// that resolves to the current status is a no-op and writes no audit entry.
func (s *Service) TransitionStatus(ctx context.Context, actor auth.Actor, id uuid.UUID, requested Status, tc TransitionContext) (appt *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.TransitionStatus", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
		attribute.String("requested_status", string(requested)),
	))
	defer func() { endSpan(span, err) }()

	if !s.perms.Can(actor, auth.PermBookAppointments) {
		return nil, apperr.Forbidden("actor may not change appointment status")
	}
	tc.Actor = actor
	if tc.At.IsZero() {
		tc.At = s.now()
	}

	var result *Appointment
	var entry *AuditEntry

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
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
		if cur.RecordState != RecordActive {
			return apperr.Transition(GuardRecordState, "appointment %s is %s", id, cur.RecordState)
		}

		applied, err := ResolveEffectiveTransition(s.policy, cur, requested, tc)
		if err != nil {
			return err
		}
		if applied == cur.Status {
			result = cur
			return nil
		}

		if cur.Status == StatusConfirmed && applied == StatusInConsultation {
			if err := s.checkMandatoryData(ctx, cur.PatientID); err != nil {
				return err
			}
		}

		e := ApplyTransition(cur, requested, applied, tc)
		e.Metadata = s.auditMetadata(ctx, cur, e.Metadata)
		if err := tx.UpdateAppointment(ctx, cur); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		if err := tx.InsertAudit(ctx, e); err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		result, entry = cur, &e
		return nil
	})
	if err != nil {
		return nil, storageErr("transition appointment", err)
	}
	if entry == nil {
		return result, nil
	}

	logger := logging.WithTrace(ctx)
	logger.Info().
		Str("appointment_id", id.String()).
		Str("from", string(entry.OldStatus)).
		Str("to", string(entry.NewStatus)).
		Str("requested", string(entry.RequestedStatus)).
		Msg("appointment status changed")

	if entry.NewStatus == StatusCancelled {
		s.invalidate(ctx, result.DoctorID, result.Date)
	}
	s.logEvent(ctx, id, EventAppointmentTransition, map[string]any{
		"old_status":       entry.OldStatus,
		"new_status":       entry.NewStatus,
		"requested_status": entry.RequestedStatus,
	})
	return result, nil
}

// CheckConflicts is the advisory read-only conflict check. Booking repeats it
// inside its own transaction. A zero ClinicID defaults to the actor's only
// clinic.
func (s *Service) CheckConflicts(ctx context.Context, actor auth.Actor, q ConflictQuery) (reasons []string, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.CheckConflicts")
	defer func() { endSpan(span, err) }()

	if q.ClinicID == uuid.Nil && len(actor.ClinicIDs) == 1 {
		q.ClinicID = actor.ClinicIDs[0]
	}
	if q.ClinicID == uuid.Nil && !actor.IsGlobal() {
		return nil, apperr.Validation("clinic_id is required")
	}
	if err := s.authorize(actor, auth.PermViewAppointments, q.ClinicID); err != nil {
		return nil, err
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	reasons, err = FindConflicts(ctx, s.repo, q)
	if err != nil {
		return nil, storageErr("check conflicts", err)
	}
	return reasons, nil
}

func (s *Service) GetAppointment(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	return s.loadForActor(ctx, actor, auth.PermViewAppointments, id)
}

// ListAppointments lists appointments visible to actor. Only global admins
// may list without a clinic.
func (s *Service) ListAppointments(ctx context.Context, actor auth.Actor, f AppointmentFilter) ([]Appointment, error) {
	if !s.perms.Can(actor, auth.PermViewAppointments) {
		return nil, apperr.Forbidden("actor may not view appointments")
	}
	if f.ClinicID == nil {
		switch {
		case len(actor.ClinicIDs) == 1:
			id := actor.ClinicIDs[0]
			f.ClinicID = &id
		case !actor.IsGlobal():
			return nil, apperr.Validation("clinic_id is required")
		}
	} else if !actor.InClinic(*f.ClinicID) {
		return nil, apperr.Forbidden("actor has no access to clinic %s", *f.ClinicID)
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, apperr.Validation("unknown status %q", st)
		}
	}

	if f.Limit <= 0 {
		f.Limit = 20 // default
	}
	if f.Limit > 100 {
		f.Limit = 100 // max
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	list, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, storageErr("list appointments", err)
	}
	return list, nil
}

func (s *Service) ListAudit(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]AuditEntry, error) {
	if !s.perms.Can(actor, auth.PermViewAppointments) {
		return nil, apperr.Forbidden("actor may not view appointments")
	}
	a, err := s.repo.GetAppointmentByID(ctx, id)
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		// Audit outlives purged rows; only global admins can read it then.
		if !actor.IsGlobal() {
			return nil, apperr.NotFound("appointment %s not found", id)
		}
	case err != nil:
		return nil, storageErr("load appointment", err)
	case !actor.InClinic(a.ClinicID):
		return nil, apperr.Forbidden("actor has no access to clinic %s", a.ClinicID)
	}

	entries, err := s.repo.ListAudit(ctx, id)
	if err != nil {
		return nil, storageErr("list audit", err)
	}
	return entries, nil
}

func (s *Service) authorize(actor auth.Actor, perm auth.Permission, clinicID uuid.UUID) error {
	if !s.perms.Can(actor, perm) {
		return apperr.Forbidden("actor lacks permission %s", perm)
	}
	if clinicID != uuid.Nil && !actor.InClinic(clinicID) {
		return apperr.Forbidden("actor has no access to clinic %s", clinicID)
	}
	return nil
}

func (s *Service) loadForActor(ctx context.Context, actor auth.Actor, perm auth.Permission, id uuid.UUID) (*Appointment, error) {
	if !s.perms.Can(actor, perm) {
		return nil, apperr.Forbidden("actor lacks permission %s", perm)
	}
	a, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, apperr.NotFound("appointment %s not found", id)
		}
		return nil, storageErr("load appointment", err)
	}
	if !actor.InClinic(a.ClinicID) {
		return nil, apperr.Forbidden("actor has no access to clinic %s", a.ClinicID)
	}
	return a, nil
}

func (s *Service) clinicSettings(ctx context.Context, clinicID uuid.UUID) (clinic.Settings, error) {
	st, err := s.settings.GetSettings(ctx, clinicID)
	if err != nil {
		if errors.Is(err, clinic.ErrClinicNotFound) {
			return clinic.Settings{}, apperr.Referential("clinic %s does not exist or is inactive", clinicID)
		}
		return clinic.Settings{}, apperr.Storage("load clinic settings", err)
	}
	return st, nil
}

// checkNotPast rejects dates before the clinic-local today unless the actor
// may backfill.
func (s *Service) checkNotPast(actor auth.Actor, settings clinic.Settings, date time.Time) error {
	if !date.Before(settings.Today(s.now())) {
		return nil
	}
	if s.perms.Can(actor, auth.PermBackfillPastDates) {
		return nil
	}
	return apperr.Validation("date %s is in the past", timerange.FormatDate(date))
}

// checkReferences verifies patient, doctor, room and type in that order. It
// returns the appointment type when typeID is set.
func (s *Service) checkReferences(ctx context.Context, clinicID, patientID, doctorID uuid.UUID, roomID, typeID *uuid.UUID) (*AppointmentType, error) {
	p, err := s.dir.GetPatient(ctx, patientID)
	if err != nil {
		return nil, referenceErr("patient", patientID, err, ErrPatientNotFound)
	}
	if !p.IsActive || p.DeletedAt != nil {
		return nil, apperr.Referential("patient %s is inactive", patientID)
	}

	d, err := s.dir.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, referenceErr("doctor", doctorID, err, ErrDoctorNotFound)
	}
	if !d.IsActive || d.DeletedAt != nil {
		return nil, apperr.Referential("doctor %s is inactive", doctorID)
	}

	if roomID != nil {
		r, err := s.dir.GetRoom(ctx, *roomID)
		if err != nil {
			return nil, referenceErr("room", *roomID, err, ErrRoomNotFound)
		}
		if !r.IsActive || r.DeletedAt != nil {
			return nil, apperr.Referential("room %s is inactive", *roomID)
		}
		if r.ClinicID != clinicID {
			return nil, apperr.Referential("room %s does not belong to clinic %s", *roomID, clinicID)
		}
	}

	if typeID == nil {
		return nil, nil
	}
	t, err := s.types.GetAppointmentType(ctx, *typeID)
	if err != nil {
		return nil, referenceErr("appointment type", *typeID, err, ErrAppointmentTypeNotFound)
	}
	if !t.IsActive {
		return nil, apperr.Referential("appointment type %s is inactive", *typeID)
	}
	return t, nil
}

func referenceErr(what string, id uuid.UUID, err, notFound error) error {
	if errors.Is(err, notFound) {
		return apperr.Referential("%s %s does not exist", what, id)
	}
	return apperr.Storage("load "+what, err)
}

func (s *Service) checkMandatoryData(ctx context.Context, patientID uuid.UUID) error {
	p, err := s.dir.GetPatient(ctx, patientID)
	if err != nil {
		return referenceErr("patient", patientID, err, ErrPatientNotFound)
	}
	if missing := p.MissingMandatoryFields(); len(missing) > 0 {
		return apperr.Transition(GuardMandatoryData,
			"patient record is missing mandatory fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// lockAndCheck serializes writers on a's scopes and rejects the write if any
// scope already has an overlapping appointment.
func (s *Service) lockAndCheck(ctx context.Context, tx Tx, a *Appointment) error {
	if err := tx.LockScopes(ctx, lockKeys(a.DoctorID, a.PatientID, a.RoomID, a.Date)); err != nil {
		return fmt.Errorf("lock scopes: %w", err)
	}
	id := a.ID
	reasons, err := FindConflicts(ctx, tx, ConflictQuery{
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		RoomID:    a.RoomID,
		Date:      a.Date,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		ExcludeID: &id,
	})
	if err != nil {
		return err
	}
	if len(reasons) > 0 {
		return apperr.Conflict(reasons)
	}
	return nil
}

func (s *Service) withScopeLock(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, "doctor:"+doctorID.String()+":"+timerange.FormatDate(date), fn)
}

// auditMetadata adds display names and the appointment's slot to meta.
// Lookup failures only drop the names.
func (s *Service) auditMetadata(ctx context.Context, a *Appointment, meta map[string]any) map[string]any {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["date"] = timerange.FormatDate(a.Date)
	meta["start_time"] = a.StartTime
	meta["end_time"] = a.EndTime
	if p, err := s.dir.GetPatient(ctx, a.PatientID); err == nil {
		meta["patient_name"] = p.FullName()
	}
	if d, err := s.dir.GetDoctor(ctx, a.DoctorID); err == nil {
		meta["doctor_name"] = d.FullName()
	}
	return meta
}

func (s *Service) invalidate(ctx context.Context, doctorID uuid.UUID, date time.Time) {
	if s.slots == nil {
		return
	}
	if err := s.slots.InvalidateDay(ctx, doctorID, date); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("doctor_id", doctorID.String()).
			Str("date", timerange.FormatDate(date)).
			Msg("failed to invalidate slot cache")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

func validateBookInput(in BookInput) error {
	switch {
	case in.PatientID == uuid.Nil:
		return apperr.Validation("patient_id is required")
	case in.DoctorID == uuid.Nil:
		return apperr.Validation("doctor_id is required")
	case in.ClinicID == uuid.Nil:
		return apperr.Validation("clinic_id is required")
	case in.Date.IsZero():
		return apperr.Validation("date is required")
	}
	if _, err := timerange.ParseRange(in.StartTime, in.EndTime); err != nil {
		return apperr.Validation("time range: %v", err)
	}
	if err := checkDurationRange(in.StartTime, in.EndTime); err != nil {
		return err
	}

	hasType := in.AppointmentTypeID != nil
	hasReason := !blank(in.CustomReason)
	if hasType == hasReason {
		return apperr.Validation("exactly one of appointment_type_id or custom_reason is required")
	}
	if err := validateOverrides(in.CustomPrice, in.DurationMin, in.PaymentMethod); err != nil {
		return err
	}
	return checkExplicitDuration(in.DurationMin, in.StartTime, in.EndTime)
}

func validateUpdateInput(in UpdateInput) error {
	if in.AppointmentTypeID != nil && in.CustomReason != nil && !blank(in.CustomReason) {
		return apperr.Validation("appointment_type_id and custom_reason are mutually exclusive")
	}
	if in.RoomID != nil && in.ClearRoom {
		return apperr.Validation("room_id and clear_room are mutually exclusive")
	}
	if in.Date != nil && in.Date.IsZero() {
		return apperr.Validation("date must not be empty")
	}
	return validateOverrides(in.CustomPrice, in.DurationMin, in.PaymentMethod)
}

func validateOverrides(price *decimal.Decimal, duration *int, method *PaymentMethod) error {
	if price != nil && price.IsNegative() {
		return apperr.Validation("custom_price must not be negative")
	}
	if duration != nil && (*duration < MinDurationMin || *duration > MaxDurationMin) {
		return apperr.Validation("duration must be between %d and %d minutes", MinDurationMin, MaxDurationMin)
	}
	if method != nil && !method.Valid() {
		return apperr.Validation("unknown payment method %q", *method)
	}
	return nil
}

func checkDurationRange(start, end string) error {
	r, err := timerange.ParseRange(start, end)
	if err != nil {
		return apperr.Validation("time range: %v", err)
	}
	if m := r.Minutes(); m < MinDurationMin || m > MaxDurationMin {
		return apperr.Validation("appointment length must be between %d and %d minutes, got %d",
			MinDurationMin, MaxDurationMin, m)
	}
	return nil
}

// checkExplicitDuration rejects a duration_min that disagrees with the booked
// range. The range is what blocks the calendar, so it wins.
func checkExplicitDuration(duration *int, start, end string) error {
	if duration == nil {
		return nil
	}
	r, err := timerange.ParseRange(start, end)
	if err != nil {
		return apperr.Validation("time range: %v", err)
	}
	if *duration != r.Minutes() {
		return apperr.Validation("duration_min %d does not match the booked range of %d minutes", *duration, r.Minutes())
	}
	return nil
}

// effectivePrice resolves explicit value, then type default, then nil.
func effectivePrice(price *decimal.Decimal, typ *AppointmentType) *decimal.Decimal {
	if price != nil {
		return clonePtr(price)
	}
	if typ != nil {
		return clonePtr(typ.DefaultPrice)
	}
	return nil
}

// rangeMinutes is the stored duration of an appointment. It returns nil for
// a range that does not parse; callers validate the range first.
func rangeMinutes(start, end string) *int {
	r, err := timerange.ParseRange(start, end)
	if err != nil {
		return nil
	}
	m := r.Minutes()
	return &m
}

func mergeUpdate(cur *Appointment, in UpdateInput) *Appointment {
	c := cur.Clone()
	next := &c
	if in.PatientID != nil {
		next.PatientID = *in.PatientID
	}
	if in.DoctorID != nil {
		next.DoctorID = *in.DoctorID
	}
	if in.ClearRoom {
		next.RoomID = nil
	} else if in.RoomID != nil {
		next.RoomID = clonePtr(in.RoomID)
	}
	if in.Date != nil {
		next.Date = timerange.NormalizeDate(*in.Date)
	}
	if in.StartTime != nil {
		next.StartTime = *in.StartTime
	}
	if in.EndTime != nil {
		next.EndTime = *in.EndTime
	}
	if in.AppointmentTypeID != nil {
		next.AppointmentTypeID = clonePtr(in.AppointmentTypeID)
		next.CustomReason = nil
	} else if in.CustomReason != nil {
		next.CustomReason = trimmed(in.CustomReason)
		if next.CustomReason != nil && next.AppointmentTypeID != nil {
			// The old type's default price no longer applies to an ad-hoc reason.
			next.AppointmentTypeID = nil
			next.CustomPrice = nil
		}
	}
	if in.CustomPrice != nil {
		next.CustomPrice = clonePtr(in.CustomPrice)
	}
	if in.DurationMin != nil || cur.StartTime != next.StartTime || cur.EndTime != next.EndTime {
		if d := rangeMinutes(next.StartTime, next.EndTime); d != nil {
			next.DurationMin = d
		}
	}
	if in.Notes != nil {
		next.Notes = clonePtr(in.Notes)
	}
	if in.PaymentMethod != nil {
		next.PaymentMethod = clonePtr(in.PaymentMethod)
	}
	return next
}

// typeIfChanged returns the new type id when it differs from the current one,
// so its defaults are reapplied.
func typeIfChanged(cur, next *Appointment) *uuid.UUID {
	if next.AppointmentTypeID == nil {
		return nil
	}
	if cur.AppointmentTypeID != nil && *cur.AppointmentTypeID == *next.AppointmentTypeID {
		return nil
	}
	return next.AppointmentTypeID
}

func reschedulingFieldsChanged(cur, next *Appointment) bool {
	return cur.DoctorID != next.DoctorID ||
		!cur.Date.Equal(next.Date) ||
		cur.StartTime != next.StartTime ||
		cur.EndTime != next.EndTime
}

func schedulingChanged(cur, next *Appointment) bool {
	return reschedulingFieldsChanged(cur, next) ||
		cur.PatientID != next.PatientID ||
		!equalPtr(cur.RoomID, next.RoomID)
}

// sameDetails compares everything except notes and scheduling fields.
func sameDetails(cur, next *Appointment) bool {
	return equalPtr(cur.AppointmentTypeID, next.AppointmentTypeID) &&
		equalPtr(cur.CustomReason, next.CustomReason) &&
		equalDecimal(cur.CustomPrice, next.CustomPrice) &&
		equalPtr(cur.DurationMin, next.DurationMin) &&
		equalPtr(cur.PaymentMethod, next.PaymentMethod)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// storageErr passes typed errors through and classifies everything else as
// a retryable storage failure.
func storageErr(op string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Storage(op, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
