package appointment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/memstore"
)

// Monday 2026-03-02 08:00 UTC.
var fixedNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memstore.Store
	svc      *appointment.Service
	clinicID uuid.UUID
	doctorID uuid.UUID
	patient  appointment.Patient
	roomID   uuid.UUID
	typeID   uuid.UUID
	desk     auth.Actor
	admin    auth.Actor
	tomorrow time.Time
}

func strPtr(s string) *string { return &s }

func newFixture(t *testing.T, opts ...appointment.Option) *fixture {
	t.Helper()

	f := &fixture{
		store:    memstore.New(30),
		clinicID: uuid.New(),
		doctorID: uuid.New(),
		roomID:   uuid.New(),
		typeID:   uuid.New(),
		tomorrow: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
	}
	birth := time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)
	f.patient = appointment.Patient{
		ID:               uuid.New(),
		FirstName:        "Ana",
		LastName:         "Lopez",
		NoSecondLastName: true,
		Phone:            strPtr("+52 55 1234 5678"),
		BirthDate:        &birth,
		Gender:           strPtr("F"),
		IsActive:         true,
	}

	f.store.AddClinic(f.clinicID, "UTC", nil)
	f.store.AddPatient(f.patient)
	f.store.AddDoctor(appointment.Doctor{ID: f.doctorID, FirstName: "Luis", LastName: "Ortega", IsActive: true})
	f.store.AddRoom(appointment.Room{ID: f.roomID, ClinicID: f.clinicID, Name: "Room 1", IsActive: true})
	price := decimal.RequireFromString("600")
	duration := 30
	f.store.AddAppointmentType(appointment.AppointmentType{
		ID: f.typeID, Name: "General consultation", DefaultPrice: &price, DefaultDurationMin: &duration, IsActive: true,
	})

	f.desk = auth.Actor{UserID: uuid.New(), Role: auth.RoleReceptionist, ClinicIDs: []uuid.UUID{f.clinicID}}
	f.admin = auth.Actor{UserID: uuid.New(), Role: auth.RoleAdmin}

	opts = append([]appointment.Option{appointment.WithClock(func() time.Time { return fixedNow })}, opts...)
	f.svc = appointment.NewService(f.store, f.store, f.store, f.store, auth.DefaultRolePolicy(), opts...)
	return f
}

func (f *fixture) addPatient(t *testing.T) uuid.UUID {
	t.Helper()
	p := f.patient
	p.ID = uuid.New()
	f.store.AddPatient(p)
	return p.ID
}

func (f *fixture) bookInput(start, end string) appointment.BookInput {
	typeID := f.typeID
	return appointment.BookInput{
		PatientID:         f.patient.ID,
		DoctorID:          f.doctorID,
		ClinicID:          f.clinicID,
		AppointmentTypeID: &typeID,
		Date:              f.tomorrow,
		StartTime:         start,
		EndTime:           end,
	}
}

// put stores an appointment fixture in the given status.
func (f *fixture) put(t *testing.T, st appointment.Status, start, end string) *appointment.Appointment {
	t.Helper()
	a := appointment.Appointment{
		ID:           uuid.New(),
		PatientID:    f.patient.ID,
		DoctorID:     f.doctorID,
		ClinicID:     f.clinicID,
		Date:         f.tomorrow,
		StartTime:    start,
		EndTime:      end,
		Status:       st,
		CustomReason: strPtr("follow-up"),
		RecordState:  appointment.RecordActive,
		CreatedAt:    fixedNow,
		UpdatedAt:    fixedNow,
	}
	f.store.PutAppointment(a)
	return &a
}

func requireKind(t *testing.T, err error, kind apperr.Kind) *apperr.Error {
	t.Helper()
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok, "expected typed error, got %v", err)
	require.Equal(t, kind, ae.Kind, ae.Error())
	return ae
}

func TestBook_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.bookInput("10:00", "10:30")
	roomID := f.roomID
	in.RoomID = &roomID

	appt, err := f.svc.Book(ctx, f.desk, in)
	require.NoError(t, err)

	assert.Equal(t, appointment.StatusPending, appt.Status)
	assert.Equal(t, appointment.RecordActive, appt.RecordState)
	require.NotNil(t, appt.CustomPrice)
	assert.True(t, appt.CustomPrice.Equal(decimal.RequireFromString("600")))
	require.NotNil(t, appt.DurationMin)
	assert.Equal(t, 30, *appt.DurationMin)
	assert.Equal(t, f.desk.UserID, appt.CreatedBy)

	stored, err := f.svc.GetAppointment(ctx, f.desk, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "10:00", stored.StartTime)

	audit, err := f.svc.ListAudit(ctx, f.desk, appt.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, appointment.Status(""), audit[0].OldStatus)
	assert.Equal(t, appointment.StatusPending, audit[0].NewStatus)
	assert.Equal(t, "booking", audit[0].Metadata["trigger"])
	assert.Equal(t, "Ana Lopez", audit[0].Metadata["patient_name"])
	assert.Equal(t, "Luis Ortega", audit[0].Metadata["doctor_name"])

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, appointment.EventAppointmentCreated, events[0].EventType)
}

func TestBook_DurationFollowsBookedRange(t *testing.T) {
	f := newFixture(t)

	// The type default is 30 minutes; the booked range decides.
	appt, err := f.svc.Book(context.Background(), f.desk, f.bookInput("10:00", "11:00"))
	require.NoError(t, err)
	require.NotNil(t, appt.DurationMin)
	assert.Equal(t, 60, *appt.DurationMin)
	assert.True(t, appt.CustomPrice.Equal(decimal.RequireFromString("600")))

	in := f.bookInput("12:00", "12:30")
	duration := 45
	in.DurationMin = &duration
	_, err = f.svc.Book(context.Background(), f.desk, in)
	requireKind(t, err, apperr.KindValidation)
}

func TestBook_CustomReasonWithoutPriceStoresNil(t *testing.T) {
	f := newFixture(t)

	in := f.bookInput("10:00", "10:20")
	in.AppointmentTypeID = nil
	in.CustomReason = strPtr("  walk-in ")
	appt, err := f.svc.Book(context.Background(), f.desk, in)
	require.NoError(t, err)
	assert.Equal(t, "walk-in", *appt.CustomReason)
	assert.Nil(t, appt.CustomPrice)
	require.NotNil(t, appt.DurationMin)
	assert.Equal(t, 20, *appt.DurationMin)
}

func TestBook_ExplicitOverridesWin(t *testing.T) {
	f := newFixture(t)

	in := f.bookInput("10:00", "11:00")
	price := decimal.RequireFromString("0")
	duration := 60
	in.CustomPrice = &price
	in.DurationMin = &duration

	appt, err := f.svc.Book(context.Background(), f.desk, in)
	require.NoError(t, err)
	assert.True(t, appt.CustomPrice.IsZero())
	assert.Equal(t, 60, *appt.DurationMin)
}

func TestBook_Rejections(t *testing.T) {
	f := newFixture(t)
	otherClinic := uuid.New()
	f.store.AddClinic(otherClinic, "UTC", nil)
	foreignRoom := uuid.New()
	f.store.AddRoom(appointment.Room{ID: foreignRoom, ClinicID: otherClinic, Name: "Elsewhere", IsActive: true})
	inactiveDoctor := uuid.New()
	f.store.AddDoctor(appointment.Doctor{ID: inactiveDoctor, FirstName: "Old", LastName: "Doc", IsActive: false})

	tests := []struct {
		name  string
		actor auth.Actor
		edit  func(in *appointment.BookInput)
		kind  apperr.Kind
	}{
		{
			name:  "actor outside clinic",
			actor: auth.Actor{UserID: uuid.New(), Role: auth.RoleReceptionist, ClinicIDs: []uuid.UUID{otherClinic}},
			edit:  func(in *appointment.BookInput) {},
			kind:  apperr.KindForbidden,
		},
		{
			name: "end before start",
			edit: func(in *appointment.BookInput) { in.StartTime, in.EndTime = "11:00", "10:00" },
			kind: apperr.KindValidation,
		},
		{
			name: "malformed time",
			edit: func(in *appointment.BookInput) { in.StartTime = "9:5" },
			kind: apperr.KindValidation,
		},
		{
			name: "too short",
			edit: func(in *appointment.BookInput) { in.StartTime, in.EndTime = "10:00", "10:03" },
			kind: apperr.KindValidation,
		},
		{
			name: "type and custom reason together",
			edit: func(in *appointment.BookInput) { in.CustomReason = strPtr("pain") },
			kind: apperr.KindValidation,
		},
		{
			name: "neither type nor reason",
			edit: func(in *appointment.BookInput) { in.AppointmentTypeID = nil },
			kind: apperr.KindValidation,
		},
		{
			name: "negative price",
			edit: func(in *appointment.BookInput) {
				p := decimal.RequireFromString("-1")
				in.CustomPrice = &p
			},
			kind: apperr.KindValidation,
		},
		{
			name: "past date",
			edit: func(in *appointment.BookInput) { in.Date = fixedNow.AddDate(0, 0, -1) },
			kind: apperr.KindValidation,
		},
		{
			name:  "unknown clinic",
			actor: auth.Actor{UserID: uuid.New(), Role: auth.RoleAdmin},
			edit:  func(in *appointment.BookInput) { in.ClinicID = uuid.New() },
			kind:  apperr.KindReferential,
		},
		{
			name: "unknown patient",
			edit: func(in *appointment.BookInput) { in.PatientID = uuid.New() },
			kind: apperr.KindReferential,
		},
		{
			name: "inactive doctor",
			edit: func(in *appointment.BookInput) { in.DoctorID = inactiveDoctor },
			kind: apperr.KindReferential,
		},
		{
			name: "room of another clinic",
			edit: func(in *appointment.BookInput) { in.RoomID = &foreignRoom },
			kind: apperr.KindReferential,
		},
		{
			name: "unknown appointment type",
			edit: func(in *appointment.BookInput) {
				id := uuid.New()
				in.AppointmentTypeID = &id
			},
			kind: apperr.KindReferential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor := tt.actor
			if actor.UserID == uuid.Nil {
				actor = f.desk
			}
			in := f.bookInput("10:00", "10:30")
			tt.edit(&in)

			_, err := f.svc.Book(context.Background(), actor, in)
			requireKind(t, err, tt.kind)
		})
	}

	list, err := f.svc.ListAppointments(context.Background(), f.desk, appointment.AppointmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBook_AdminMayBackfill(t *testing.T) {
	f := newFixture(t)

	in := f.bookInput("10:00", "10:30")
	in.Date = fixedNow.AddDate(0, 0, -7)

	_, err := f.svc.Book(context.Background(), f.admin, in)
	require.NoError(t, err)
}

func TestBook_ConflictsByScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roomID := f.roomID
	first := f.bookInput("10:00", "10:30")
	first.RoomID = &roomID
	_, err := f.svc.Book(ctx, f.desk, first)
	require.NoError(t, err)

	otherDoctor := uuid.New()
	f.store.AddDoctor(appointment.Doctor{ID: otherDoctor, FirstName: "Eva", LastName: "Ruiz", IsActive: true})

	// Same patient and room, different doctor.
	second := f.bookInput("10:15", "10:45")
	second.DoctorID = otherDoctor
	second.RoomID = &roomID
	_, err = f.svc.Book(ctx, f.desk, second)
	ae := requireKind(t, err, apperr.KindConflict)
	require.Len(t, ae.Reasons, 2)
	assert.Contains(t, ae.Reasons[0], "room")
	assert.Contains(t, ae.Reasons[1], "patient")
	assert.Contains(t, ae.Reasons[1], "10:00-10:30")

	// Back-to-back is fine.
	third := f.bookInput("10:30", "11:00")
	third.RoomID = &roomID
	_, err = f.svc.Book(ctx, f.desk, third)
	require.NoError(t, err)
}

func TestBook_CancelledAppointmentFreesSlot(t *testing.T) {
	f := newFixture(t)
	f.put(t, appointment.StatusCancelled, "10:00", "10:30")
	f.put(t, appointment.StatusNoShow, "11:00", "11:30")

	_, err := f.svc.Book(context.Background(), f.desk, f.bookInput("10:00", "10:30"))
	require.NoError(t, err)

	_, err = f.svc.Book(context.Background(), f.desk, f.bookInput("11:00", "11:30"))
	requireKind(t, err, apperr.KindConflict)
}

func TestBook_ConcurrentRequestsForSameDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	inputs := make([]appointment.BookInput, n)
	for i := range inputs {
		in := f.bookInput("10:00", "10:30")
		in.PatientID = f.addPatient(t)
		if i%2 == 1 {
			in.StartTime, in.EndTime = "10:15", "10:45"
		}
		inputs[i] = in
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Book(ctx, f.desk, inputs[i])
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		ae := requireKind(t, err, apperr.KindConflict)
		require.Len(t, ae.Reasons, 1)
		assert.Contains(t, ae.Reasons[0], "doctor")
	}
	assert.Equal(t, 1, succeeded)

	list, err := f.svc.ListAppointments(ctx, f.desk, appointment.AppointmentFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

type recordingLocker struct {
	mu   sync.Mutex
	keys []string
}

func (l *recordingLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return fn(ctx)
}

type recordingInvalidator struct {
	days []string
}

func (r *recordingInvalidator) InvalidateDay(_ context.Context, doctorID uuid.UUID, date time.Time) error {
	r.days = append(r.days, doctorID.String()+"/"+date.Format("2006-01-02"))
	return nil
}

func TestBook_UsesScopeLockAndInvalidatesCache(t *testing.T) {
	locker := &recordingLocker{}
	cache := &recordingInvalidator{}
	f := newFixture(t, appointment.WithLocker(locker), appointment.WithSlotCache(cache))

	_, err := f.svc.Book(context.Background(), f.desk, f.bookInput("10:00", "10:30"))
	require.NoError(t, err)

	assert.Equal(t, []string{"doctor:" + f.doctorID.String() + ":2026-03-03"}, locker.keys)
	assert.Equal(t, []string{f.doctorID.String() + "/2026-03-03"}, cache.days)
}

func TestBook_AuditFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.FailAudit(errors.New("disk full"))

	_, err := f.svc.Book(context.Background(), f.desk, f.bookInput("10:00", "10:30"))
	ae := requireKind(t, err, apperr.KindStorage)
	assert.True(t, ae.Retryable())

	f.store.FailAudit(nil)
	list, err := f.svc.ListAppointments(context.Background(), f.desk, appointment.AppointmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBook_EventFailureDoesNotFailBooking(t *testing.T) {
	f := newFixture(t)
	f.store.FailEvents(errors.New("event table locked"))

	appt, err := f.svc.Book(context.Background(), f.desk, f.bookInput("10:00", "10:30"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, appt.ID)
	assert.Empty(t, f.store.Events())
}

func TestTransitionStatus_TransferLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.put(t, appointment.StatusInConsultation, "10:00", "10:30")
	transfer := appointment.PaymentTransfer

	got, err := f.svc.TransitionStatus(ctx, f.desk, a.ID, appointment.StatusPaid,
		appointment.TransitionContext{PaymentMethod: &transfer})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusTransferPending, got.Status)
	assert.False(t, got.PaymentConfirmed)

	_, err = f.svc.TransitionStatus(ctx, f.desk, a.ID, appointment.StatusCancelled,
		appointment.TransitionContext{CancelReason: "no money"})
	ae := requireKind(t, err, apperr.KindTransition)
	assert.Equal(t, appointment.GuardTransferConfirmation, ae.Guard)

	// Asking again without confirmation changes nothing.
	got, err = f.svc.TransitionStatus(ctx, f.desk, a.ID, appointment.StatusPaid, appointment.TransitionContext{})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusTransferPending, got.Status)

	confirmed := true
	got, err = f.svc.TransitionStatus(ctx, f.desk, a.ID, appointment.StatusPaid,
		appointment.TransitionContext{PaymentConfirmed: &confirmed})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPaid, got.Status)
	assert.True(t, got.PaymentConfirmed)

	audit, err := f.svc.ListAudit(ctx, f.desk, a.ID)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, appointment.StatusPaid, audit[0].RequestedStatus)
	assert.Equal(t, appointment.StatusTransferPending, audit[0].NewStatus)
	assert.Equal(t, appointment.StatusTransferPending, audit[1].OldStatus)
	assert.Equal(t, appointment.StatusPaid, audit[1].RequestedStatus)
	assert.Equal(t, appointment.StatusPaid, audit[1].NewStatus)
}

func TestTransitionStatus_NoopWritesNothing(t *testing.T) {
	f := newFixture(t)
	a := f.put(t, appointment.StatusConfirmed, "10:00", "10:30")

	got, err := f.svc.TransitionStatus(context.Background(), f.desk, a.ID, appointment.StatusConfirmed, appointment.TransitionContext{})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, got.Status)

	audit, err := f.svc.ListAudit(context.Background(), f.desk, a.ID)
	require.NoError(t, err)
	assert.Empty(t, audit)
	assert.Empty(t, f.store.Events())
}

func TestTransitionStatus_MandatoryPatientData(t *testing.T) {
	f := newFixture(t)
	incomplete := f.patient
	incomplete.ID = uuid.New()
	incomplete.Phone = nil
	incomplete.NoSecondLastName = false
	f.store.AddPatient(incomplete)

	a := f.put(t, appointment.StatusConfirmed, "10:00", "10:30")
	a.PatientID = incomplete.ID
	f.store.PutAppointment(*a)

	_, err := f.svc.TransitionStatus(context.Background(), f.desk, a.ID, appointment.StatusInConsultation, appointment.TransitionContext{})
	ae := requireKind(t, err, apperr.KindTransition)
	assert.Equal(t, appointment.GuardMandatoryData, ae.Guard)
	assert.Contains(t, ae.Message, "second_last_name")
	assert.Contains(t, ae.Message, "phone")

	got, err := f.svc.TransitionStatus(context.Background(), f.desk, a.ID, appointment.StatusCancelled,
		appointment.TransitionContext{CancelReason: "incomplete file"})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, got.Status)
}

func TestTransitionStatus_CancelStampsAndFreesSlot(t *testing.T) {
	cache := &recordingInvalidator{}
	f := newFixture(t, appointment.WithSlotCache(cache))
	a := f.put(t, appointment.StatusPending, "10:00", "10:30")

	got, err := f.svc.TransitionStatus(context.Background(), f.desk, a.ID, appointment.StatusCancelled,
		appointment.TransitionContext{CancelReason: "travel"})
	require.NoError(t, err)
	require.NotNil(t, got.CancelledBy)
	assert.Equal(t, f.desk.UserID, *got.CancelledBy)
	require.NotNil(t, got.CancelledAt)
	assert.True(t, got.CancelledAt.Equal(fixedNow))
	assert.Len(t, cache.days, 1)

	reasons, err := f.svc.CheckConflicts(context.Background(), f.desk, appointment.ConflictQuery{
		DoctorID: f.doctorID, PatientID: f.patient.ID, Date: f.tomorrow, StartTime: "10:00", EndTime: "10:30",
	})
	require.NoError(t, err)
	assert.Empty(t, reasons)
}

func TestTransitionStatus_AuditFailureLeavesStatus(t *testing.T) {
	f := newFixture(t)
	a := f.put(t, appointment.StatusPending, "10:00", "10:30")
	f.store.FailAudit(errors.New("audit unavailable"))

	_, err := f.svc.TransitionStatus(context.Background(), f.desk, a.ID, appointment.StatusConfirmed, appointment.TransitionContext{})
	requireKind(t, err, apperr.KindStorage)

	f.store.FailAudit(nil)
	got, err := f.svc.GetAppointment(context.Background(), f.desk, a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, got.Status)
}

func TestTransitionStatus_Forbidden(t *testing.T) {
	f := newFixture(t)
	a := f.put(t, appointment.StatusPending, "10:00", "10:30")
	outsider := auth.Actor{UserID: uuid.New(), Role: auth.RoleDoctor, ClinicIDs: []uuid.UUID{uuid.New()}}

	_, err := f.svc.TransitionStatus(context.Background(), outsider, a.ID, appointment.StatusConfirmed, appointment.TransitionContext{})
	requireKind(t, err, apperr.KindForbidden)

	_, err = f.svc.TransitionStatus(context.Background(), f.desk, uuid.New(), appointment.StatusConfirmed, appointment.TransitionContext{})
	requireKind(t, err, apperr.KindNotFound)
}

func TestUpdateAppointment_RescheduleReturnsToPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.put(t, appointment.StatusRequiresReschedule, "10:00", "10:30")

	start, end := "12:00", "12:30"
	got, err := f.svc.UpdateAppointment(ctx, f.desk, a.ID, appointment.UpdateInput{StartTime: &start, EndTime: &end})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, got.Status)
	assert.Equal(t, "12:00", got.StartTime)

	audit, err := f.svc.ListAudit(ctx, f.desk, a.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, appointment.StatusRequiresReschedule, audit[0].OldStatus)
	assert.Equal(t, appointment.StatusPending, audit[0].NewStatus)
	assert.Equal(t, "reschedule", audit[0].Metadata["trigger"])
}

func TestUpdateAppointment_NotesOnlyDoesNotReschedule(t *testing.T) {
	f := newFixture(t)
	a := f.put(t, appointment.StatusRequiresReschedule, "10:00", "10:30")

	got, err := f.svc.UpdateAppointment(context.Background(), f.desk, a.ID, appointment.UpdateInput{Notes: strPtr("call first")})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusRequiresReschedule, got.Status)
	assert.Equal(t, "call first", *got.Notes)
}

func TestUpdateAppointment_OverlapWithItselfIsAllowed(t *testing.T) {
	f := newFixture(t)
	a := f.put(t, appointment.StatusConfirmed, "10:00", "10:30")

	start, end := "10:15", "10:45"
	got, err := f.svc.UpdateAppointment(context.Background(), f.desk, a.ID, appointment.UpdateInput{StartTime: &start, EndTime: &end})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, got.Status)
	assert.Equal(t, "10:45", got.EndTime)
}

func TestUpdateAppointment_RescheduleIntoConflictKeepsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, appointment.StatusConfirmed, "11:00", "11:30")
	a := f.put(t, appointment.StatusRequiresReschedule, "10:00", "10:30")

	start, end := "11:00", "11:30"
	_, err := f.svc.UpdateAppointment(ctx, f.desk, a.ID, appointment.UpdateInput{StartTime: &start, EndTime: &end})
	ae := requireKind(t, err, apperr.KindConflict)
	assert.Contains(t, ae.Reasons[0], "doctor")

	got, err := f.svc.GetAppointment(ctx, f.desk, a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusRequiresReschedule, got.Status)
	assert.Equal(t, "10:00", got.StartTime)

	audit, err := f.svc.ListAudit(ctx, f.desk, a.ID)
	require.NoError(t, err)
	assert.Empty(t, audit)
	assert.Empty(t, f.store.Events())
}

func TestUpdateAppointment_ConflictWithOther(t *testing.T) {
	f := newFixture(t)
	f.put(t, appointment.StatusConfirmed, "11:00", "11:30")
	a := f.put(t, appointment.StatusConfirmed, "10:00", "10:30")

	start, end := "11:15", "11:45"
	_, err := f.svc.UpdateAppointment(context.Background(), f.desk, a.ID, appointment.UpdateInput{StartTime: &start, EndTime: &end})
	ae := requireKind(t, err, apperr.KindConflict)
	assert.Contains(t, ae.Reasons[0], "doctor")

	got, err := f.svc.GetAppointment(context.Background(), f.desk, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "10:00", got.StartTime)
}

func TestUpdateAppointment_TerminalOnlyNotes(t *testing.T) {
	f := newFixture(t)
	a := f.put(t, appointment.StatusCompleted, "10:00", "10:30")

	start, end := "12:00", "12:30"
	_, err := f.svc.UpdateAppointment(context.Background(), f.desk, a.ID, appointment.UpdateInput{StartTime: &start, EndTime: &end})
	ae := requireKind(t, err, apperr.KindTransition)
	assert.Equal(t, appointment.GuardTerminalState, ae.Guard)

	_, err = f.svc.UpdateAppointment(context.Background(), f.desk, a.ID, appointment.UpdateInput{CustomReason: strPtr("other")})
	requireKind(t, err, apperr.KindTransition)

	got, err := f.svc.UpdateAppointment(context.Background(), f.desk, a.ID, appointment.UpdateInput{Notes: strPtr("sent summary")})
	require.NoError(t, err)
	assert.Equal(t, "sent summary", *got.Notes)
}

func TestUpdateAppointment_ChangingTypeReappliesDefaults(t *testing.T) {
	f := newFixture(t)
	a := f.put(t, appointment.StatusPending, "10:00", "10:30")
	typeID := f.typeID

	got, err := f.svc.UpdateAppointment(context.Background(), f.desk, a.ID, appointment.UpdateInput{AppointmentTypeID: &typeID})
	require.NoError(t, err)
	assert.Nil(t, got.CustomReason)
	require.NotNil(t, got.CustomPrice)
	assert.True(t, got.CustomPrice.Equal(decimal.RequireFromString("600")))
}

func TestUpdateAppointment_SwitchingToCustomReasonDropsTypePrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	booked, err := f.svc.Book(ctx, f.desk, f.bookInput("10:00", "10:30"))
	require.NoError(t, err)
	require.NotNil(t, booked.CustomPrice)

	got, err := f.svc.UpdateAppointment(ctx, f.desk, booked.ID, appointment.UpdateInput{CustomReason: strPtr("walk-in")})
	require.NoError(t, err)
	assert.Nil(t, got.AppointmentTypeID)
	assert.Equal(t, "walk-in", *got.CustomReason)
	assert.Nil(t, got.CustomPrice)
	require.NotNil(t, got.DurationMin)
	assert.Equal(t, 30, *got.DurationMin)

	// An explicit price on the same edit is kept.
	price := decimal.RequireFromString("250")
	again, err := f.svc.Book(ctx, f.desk, f.bookInput("11:00", "11:30"))
	require.NoError(t, err)
	got, err = f.svc.UpdateAppointment(ctx, f.desk, again.ID, appointment.UpdateInput{CustomReason: strPtr("walk-in"), CustomPrice: &price})
	require.NoError(t, err)
	require.NotNil(t, got.CustomPrice)
	assert.True(t, got.CustomPrice.Equal(price))
}

func TestUpdateAppointment_DurationFollowsNewRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	booked, err := f.svc.Book(ctx, f.desk, f.bookInput("10:00", "10:30"))
	require.NoError(t, err)

	end := "11:15"
	got, err := f.svc.UpdateAppointment(ctx, f.desk, booked.ID, appointment.UpdateInput{EndTime: &end})
	require.NoError(t, err)
	require.NotNil(t, got.DurationMin)
	assert.Equal(t, 75, *got.DurationMin)

	wrong := 30
	_, err = f.svc.UpdateAppointment(ctx, f.desk, booked.ID, appointment.UpdateInput{DurationMin: &wrong})
	requireKind(t, err, apperr.KindValidation)
}

func TestSoftDeleteRestorePurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, f.desk, f.bookInput("10:00", "10:30"))
	require.NoError(t, err)

	deleted, err := f.svc.SoftDelete(ctx, f.desk, a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.RecordSoftDeleted, deleted.RecordState)
	require.NotNil(t, deleted.DeletedAt)

	_, err = f.svc.SoftDelete(ctx, f.desk, a.ID)
	requireKind(t, err, apperr.KindTransition)

	_, err = f.svc.TransitionStatus(ctx, f.desk, a.ID, appointment.StatusConfirmed, appointment.TransitionContext{})
	ae := requireKind(t, err, apperr.KindTransition)
	assert.Equal(t, appointment.GuardRecordState, ae.Guard)

	list, err := f.svc.ListAppointments(ctx, f.desk, appointment.AppointmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = f.svc.ListAppointments(ctx, f.desk, appointment.AppointmentFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// The freed slot is taken by someone else, so restoring collides.
	other := f.bookInput("10:00", "10:30")
	other.PatientID = f.addPatient(t)
	_, err = f.svc.Book(ctx, f.desk, other)
	require.NoError(t, err)

	_, err = f.svc.Restore(ctx, f.desk, a.ID)
	requireKind(t, err, apperr.KindConflict)

	err = f.svc.Purge(ctx, f.desk, a.ID)
	requireKind(t, err, apperr.KindForbidden)

	require.NoError(t, f.svc.Purge(ctx, f.admin, a.ID))

	_, err = f.svc.GetAppointment(ctx, f.admin, a.ID)
	requireKind(t, err, apperr.KindNotFound)

	audit, err := f.svc.ListAudit(ctx, f.admin, a.ID)
	require.NoError(t, err)
	assert.Len(t, audit, 1)

	_, err = f.svc.ListAudit(ctx, f.desk, a.ID)
	requireKind(t, err, apperr.KindNotFound)

	var types []string
	for _, ev := range f.store.Events() {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{
		appointment.EventAppointmentCreated,
		appointment.EventAppointmentSoftDeleted,
		appointment.EventAppointmentCreated,
		appointment.EventAppointmentPurged,
	}, types)
}

func TestRestore_FreeSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.put(t, appointment.StatusPending, "10:00", "10:30")

	_, err := f.svc.SoftDelete(ctx, f.desk, a.ID)
	require.NoError(t, err)

	got, err := f.svc.Restore(ctx, f.desk, a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.RecordActive, got.RecordState)
	assert.Nil(t, got.DeletedAt)
}

func TestListAppointments_ClinicScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.put(t, appointment.StatusPending, fmt.Sprintf("%02d:00", 9+i), fmt.Sprintf("%02d:30", 9+i))
	}

	list, err := f.svc.ListAppointments(ctx, f.desk, appointment.AppointmentFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "09:00", list[0].StartTime)

	multi := auth.Actor{UserID: uuid.New(), Role: auth.RoleDoctor, ClinicIDs: []uuid.UUID{f.clinicID, uuid.New()}}
	_, err = f.svc.ListAppointments(ctx, multi, appointment.AppointmentFilter{})
	requireKind(t, err, apperr.KindValidation)

	foreign := uuid.New()
	_, err = f.svc.ListAppointments(ctx, f.desk, appointment.AppointmentFilter{ClinicID: &foreign})
	requireKind(t, err, apperr.KindForbidden)

	list, err = f.svc.ListAppointments(ctx, f.admin, appointment.AppointmentFilter{
		Statuses: []appointment.Status{appointment.StatusPending},
	})
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestCheckConflicts_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CheckConflicts(context.Background(), f.desk, appointment.ConflictQuery{
		DoctorID: f.doctorID, PatientID: f.patient.ID, Date: f.tomorrow, StartTime: "10:00", EndTime: "09:00",
	})
	requireKind(t, err, apperr.KindValidation)

	_, err = f.svc.CheckConflicts(context.Background(), f.desk, appointment.ConflictQuery{
		PatientID: f.patient.ID, Date: f.tomorrow, StartTime: "10:00", EndTime: "11:00",
	})
	requireKind(t, err, apperr.KindValidation)
}

func TestCheckConflicts_ClinicScope(t *testing.T) {
	f := newFixture(t)
	f.put(t, appointment.StatusConfirmed, "10:00", "10:30")
	ctx := context.Background()
	q := appointment.ConflictQuery{
		DoctorID: f.doctorID, PatientID: uuid.New(), Date: f.tomorrow, StartTime: "10:00", EndTime: "10:30",
	}

	outsider := auth.Actor{UserID: uuid.New(), Role: auth.RoleReceptionist, ClinicIDs: []uuid.UUID{uuid.New()}}
	foreign := q
	foreign.ClinicID = f.clinicID
	_, err := f.svc.CheckConflicts(ctx, outsider, foreign)
	requireKind(t, err, apperr.KindForbidden)

	multi := auth.Actor{UserID: uuid.New(), Role: auth.RoleDoctor, ClinicIDs: []uuid.UUID{f.clinicID, uuid.New()}}
	_, err = f.svc.CheckConflicts(ctx, multi, q)
	requireKind(t, err, apperr.KindValidation)

	_, err = f.svc.CheckConflicts(ctx, auth.Actor{UserID: uuid.New(), Role: auth.Role("GUEST"), ClinicIDs: []uuid.UUID{f.clinicID}}, q)
	requireKind(t, err, apperr.KindForbidden)

	reasons, err := f.svc.CheckConflicts(ctx, f.admin, q)
	require.NoError(t, err)
	assert.Len(t, reasons, 1)
}
