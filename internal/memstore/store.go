// Package memstore is an in-memory implementation of every store the
// scheduling core consumes. Transactions are serialized by one mutex and
// staged on a copy that replaces the committed state only when fn succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clinic"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/timerange"
)

type clinicRow struct {
	timezone    string
	granularity *int
	active      bool
}

type state struct {
	appointments map[uuid.UUID]appointment.Appointment
	audit        []appointment.AuditEntry
}

func (s state) clone() state {
	c := state{
		appointments: make(map[uuid.UUID]appointment.Appointment, len(s.appointments)),
		audit:        append([]appointment.AuditEntry(nil), s.audit...),
	}
	for id, a := range s.appointments {
		c.appointments[id] = a.Clone()
	}
	return c
}

type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	committed state
	events    []appointment.EventLog

	clinics            map[uuid.UUID]clinicRow
	defaultGranularity int
	patients           map[uuid.UUID]appointment.Patient
	doctors            map[uuid.UUID]appointment.Doctor
	rooms              map[uuid.UUID]appointment.Room
	types              map[uuid.UUID]appointment.AppointmentType
	blocks             map[uuid.UUID]schedule.Block
	exceptions         map[uuid.UUID]schedule.Exception

	auditErr error
	eventErr error
}

func New(defaultGranularity int) *Store {
	return &Store{
		committed:          state{appointments: map[uuid.UUID]appointment.Appointment{}},
		clinics:            map[uuid.UUID]clinicRow{},
		defaultGranularity: defaultGranularity,
		patients:           map[uuid.UUID]appointment.Patient{},
		doctors:            map[uuid.UUID]appointment.Doctor{},
		rooms:              map[uuid.UUID]appointment.Room{},
		types:              map[uuid.UUID]appointment.AppointmentType{},
		blocks:             map[uuid.UUID]schedule.Block{},
		exceptions:         map[uuid.UUID]schedule.Exception{},
	}
}

// Seeding

func (s *Store) AddClinic(id uuid.UUID, timezone string, granularity *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clinics[id] = clinicRow{timezone: timezone, granularity: granularity, active: true}
}

func (s *Store) AddPatient(p appointment.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
}

func (s *Store) AddDoctor(d appointment.Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors[d.ID] = d
}

func (s *Store) AddRoom(r appointment.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.ID] = r
}

func (s *Store) AddAppointmentType(t appointment.AppointmentType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[t.ID] = t
}

// PutAppointment stores a fixture directly, bypassing every check.
func (s *Store) PutAppointment(a appointment.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.RecordState == "" {
		a.RecordState = appointment.RecordActive
	}
	a.Date = timerange.NormalizeDate(a.Date)
	s.committed.appointments[a.ID] = a.Clone()
}

// FailAudit makes every audit insert fail with err until reset with nil.
func (s *Store) FailAudit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditErr = err
}

// FailEvents makes every event insert fail with err until reset with nil.
func (s *Store) FailEvents(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventErr = err
}

func (s *Store) Events() []appointment.EventLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]appointment.EventLog(nil), s.events...)
}

// clinic.SettingsProvider

func (s *Store) GetSettings(_ context.Context, clinicID uuid.UUID) (clinic.Settings, error) {
	s.mu.RLock()
	c, ok := s.clinics[clinicID]
	s.mu.RUnlock()
	if !ok || !c.active {
		return clinic.Settings{}, clinic.ErrClinicNotFound
	}
	return clinic.Build(clinicID, c.timezone, c.granularity, s.defaultGranularity)
}

// appointment.Directory and appointment.TypeCatalog

func (s *Store) GetPatient(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return &p, nil
}

func (s *Store) GetDoctor(_ context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	return &d, nil
}

func (s *Store) GetRoom(_ context.Context, id uuid.UUID) (*appointment.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, appointment.ErrRoomNotFound
	}
	return &r, nil
}

func (s *Store) GetAppointmentType(_ context.Context, id uuid.UUID) (*appointment.AppointmentType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.types[id]
	if !ok {
		return nil, appointment.ErrAppointmentTypeNotFound
	}
	return &t, nil
}

// appointment.Repository

func (s *Store) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAppointment(s.committed, id)
}

func (s *Store) ListAppointments(_ context.Context, f appointment.AppointmentFilter) ([]appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAppointments(s.committed, f), nil
}

func (s *Store) FindOverlapping(_ context.Context, q appointment.OverlapQuery) ([]appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findOverlapping(s.committed, q)
}

func (s *Store) ListAudit(_ context.Context, appointmentID uuid.UUID) ([]appointment.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAudit(s.committed, appointmentID), nil
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx appointment.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	staged := s.committed.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{store: s, st: staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.committed = staged
	s.mu.Unlock()
	return nil
}

func (s *Store) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventErr != nil {
		return s.eventErr
	}
	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, ev)
	return nil
}

type tx struct {
	store *Store
	st    state
}

func (t *tx) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return getAppointment(t.st, id)
}

func (t *tx) ListAppointments(_ context.Context, f appointment.AppointmentFilter) ([]appointment.Appointment, error) {
	return listAppointments(t.st, f), nil
}

func (t *tx) FindOverlapping(_ context.Context, q appointment.OverlapQuery) ([]appointment.Appointment, error) {
	return findOverlapping(t.st, q)
}

func (t *tx) ListAudit(_ context.Context, appointmentID uuid.UUID) ([]appointment.AuditEntry, error) {
	return listAudit(t.st, appointmentID), nil
}

// LockScopes is a no-op; WithTx already runs one transaction at a time.
func (t *tx) LockScopes(context.Context, []string) error { return nil }

func (t *tx) GetAppointmentForUpdate(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return getAppointment(t.st, id)
}

func (t *tx) InsertAppointment(_ context.Context, a *appointment.Appointment) error {
	c := a.Clone()
	c.Date = timerange.NormalizeDate(c.Date)
	t.st.appointments[a.ID] = c
	return nil
}

func (t *tx) UpdateAppointment(_ context.Context, a *appointment.Appointment) error {
	if _, ok := t.st.appointments[a.ID]; !ok {
		return appointment.ErrAppointmentNotFound
	}
	t.st.appointments[a.ID] = a.Clone()
	return nil
}

func (t *tx) SetRecordState(_ context.Context, id uuid.UUID, state appointment.RecordState, deletedAt *time.Time) error {
	a, ok := t.st.appointments[id]
	if !ok {
		return appointment.ErrAppointmentNotFound
	}
	a.RecordState = state
	a.DeletedAt = nil
	if deletedAt != nil {
		d := *deletedAt
		a.DeletedAt = &d
	}
	t.st.appointments[id] = a
	return nil
}

func (t *tx) PurgeAppointment(_ context.Context, id uuid.UUID) error {
	if _, ok := t.st.appointments[id]; !ok {
		return appointment.ErrAppointmentNotFound
	}
	delete(t.st.appointments, id)
	return nil
}

func (t *tx) InsertAudit(_ context.Context, e appointment.AuditEntry) error {
	t.store.mu.RLock()
	err := t.store.auditErr
	t.store.mu.RUnlock()
	if err != nil {
		return err
	}
	t.st.audit = append(t.st.audit, e)
	return nil
}

func getAppointment(st state, id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := st.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	c := a.Clone()
	return &c, nil
}

func listAppointments(st state, f appointment.AppointmentFilter) []appointment.Appointment {
	var out []appointment.Appointment
	for _, a := range st.appointments {
		if !matches(a, f) {
			continue
		}
		out = append(out, a.Clone())
	}
	sortAppointments(out)

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func matches(a appointment.Appointment, f appointment.AppointmentFilter) bool {
	switch {
	case f.ClinicID != nil && a.ClinicID != *f.ClinicID,
		f.DoctorID != nil && a.DoctorID != *f.DoctorID,
		f.PatientID != nil && a.PatientID != *f.PatientID,
		f.RoomID != nil && (a.RoomID == nil || *a.RoomID != *f.RoomID),
		f.DateFrom != nil && a.Date.Before(timerange.NormalizeDate(*f.DateFrom)),
		f.DateTo != nil && a.Date.After(timerange.NormalizeDate(*f.DateTo)),
		!f.IncludeDeleted && a.RecordState != appointment.RecordActive:
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if a.Status == st {
			return true
		}
	}
	return false
}

func findOverlapping(st state, q appointment.OverlapQuery) ([]appointment.Appointment, error) {
	rg, err := timerange.ParseRange(q.StartTime, q.EndTime)
	if err != nil {
		return nil, err
	}
	date := timerange.NormalizeDate(q.Date)

	var out []appointment.Appointment
	for _, a := range st.appointments {
		if !a.BlocksCalendar() || !a.Date.Equal(date) {
			continue
		}
		if q.ExcludeID != nil && a.ID == *q.ExcludeID {
			continue
		}
		switch {
		case q.DoctorID != nil:
			if a.DoctorID != *q.DoctorID {
				continue
			}
		case q.RoomID != nil:
			if a.RoomID == nil || *a.RoomID != *q.RoomID {
				continue
			}
		case q.PatientID != nil:
			if a.PatientID != *q.PatientID {
				continue
			}
		}
		other, err := timerange.ParseRange(a.StartTime, a.EndTime)
		if err != nil {
			return nil, err
		}
		if rg.Overlaps(other) {
			out = append(out, a.Clone())
		}
	}
	sortAppointments(out)
	return out, nil
}

func listAudit(st state, appointmentID uuid.UUID) []appointment.AuditEntry {
	var out []appointment.AuditEntry
	for _, e := range st.audit {
		if e.AppointmentID == appointmentID {
			out = append(out, e)
		}
	}
	return out
}

func sortAppointments(list []appointment.Appointment) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID.String() < b.ID.String()
	})
}
