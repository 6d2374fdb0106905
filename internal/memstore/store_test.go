package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

var day = time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

func appt(doctorID uuid.UUID, start, end string, status appointment.Status) appointment.Appointment {
	return appointment.Appointment{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		ClinicID:  uuid.New(),
		Date:      day,
		StartTime: start,
		EndTime:   end,
		Status:    status,
	}
}

func TestWithTx_RollbackDiscardsStagedWrites(t *testing.T) {
	s := New(30)
	ctx := context.Background()
	a := appt(uuid.New(), "09:00", "09:30", appointment.StatusPending)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
		require.NoError(t, tx.InsertAppointment(ctx, &a))
		_, err := tx.GetAppointmentByID(ctx, a.ID)
		require.NoError(t, err, "staged write is visible inside the tx")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetAppointmentByID(ctx, a.ID)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}

func TestWithTx_CommitPublishes(t *testing.T) {
	s := New(30)
	ctx := context.Background()
	a := appt(uuid.New(), "09:00", "09:30", appointment.StatusPending)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
		if err := tx.InsertAppointment(ctx, &a); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, appointment.AuditEntry{ID: uuid.New(), AppointmentID: a.ID, NewStatus: appointment.StatusPending})
	}))

	got, err := s.GetAppointmentByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "09:00", got.StartTime)

	audit, err := s.ListAudit(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestWithTx_CancelledContext(t *testing.T) {
	s := New(30)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithTx(ctx, func(context.Context, appointment.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestFindOverlapping(t *testing.T) {
	s := New(30)
	ctx := context.Background()
	doctorID := uuid.New()

	busy := appt(doctorID, "10:00", "11:00", appointment.StatusConfirmed)
	cancelled := appt(doctorID, "10:00", "11:00", appointment.StatusCancelled)
	noShow := appt(doctorID, "12:00", "12:30", appointment.StatusNoShow)
	deleted := appt(doctorID, "10:15", "10:45", appointment.StatusPending)
	deleted.RecordState = appointment.RecordSoftDeleted
	for _, a := range []appointment.Appointment{busy, cancelled, noShow, deleted} {
		s.PutAppointment(a)
	}

	tests := []struct {
		name       string
		start, end string
		exclude    *uuid.UUID
		want       int
	}{
		{"overlapping", "10:30", "11:30", nil, 1},
		{"touching end", "11:00", "11:30", nil, 0},
		{"touching start", "09:30", "10:00", nil, 0},
		{"no show still blocks", "12:00", "12:15", nil, 1},
		{"self excluded", "10:00", "11:00", &busy.ID, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.FindOverlapping(ctx, appointment.OverlapQuery{
				Date: day, StartTime: tt.start, EndTime: tt.end, DoctorID: &doctorID, ExcludeID: tt.exclude,
			})
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	other := uuid.New()
	got, err := s.FindOverlapping(ctx, appointment.OverlapQuery{Date: day, StartTime: "10:00", EndTime: "11:00", DoctorID: &other})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListAppointments_FilterAndPage(t *testing.T) {
	s := New(30)
	ctx := context.Background()
	doctorID := uuid.New()

	for _, start := range []string{"11:00", "09:00", "10:00"} {
		s.PutAppointment(appt(doctorID, start, start[:2]+":30", appointment.StatusPending))
	}
	s.PutAppointment(appt(uuid.New(), "08:00", "08:30", appointment.StatusPending))

	list, err := s.ListAppointments(ctx, appointment.AppointmentFilter{DoctorID: &doctorID})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"09:00", "10:00", "11:00"}, []string{list[0].StartTime, list[1].StartTime, list[2].StartTime})

	page, err := s.ListAppointments(ctx, appointment.AppointmentFilter{DoctorID: &doctorID, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "10:00", page[0].StartTime)

	page, err = s.ListAppointments(ctx, appointment.AppointmentFilter{DoctorID: &doctorID, Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestExceptionsInRange(t *testing.T) {
	s := New(30)
	ctx := context.Background()
	doctorID := uuid.New()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateException(ctx, &schedule.Exception{ID: uuid.New(), DoctorID: doctorID, Date: day.AddDate(0, 0, i)}))
	}
	list, err := s.ListExceptions(ctx, doctorID, day.AddDate(0, 0, 1), day.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
