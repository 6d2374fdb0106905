package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound         = errors.New("patient not found")
	ErrDoctorNotFound          = errors.New("doctor not found")
	ErrRoomNotFound            = errors.New("room not found")
	ErrAppointmentTypeNotFound = errors.New("appointment type not found")
	ErrAppointmentNotFound     = errors.New("appointment not found")
)

// Reader contains the read side of the appointment store.
type Reader interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	// FindOverlapping returns calendar-blocking appointments matching q.
	FindOverlapping(ctx context.Context, q OverlapQuery) ([]Appointment, error)
	ListAudit(ctx context.Context, appointmentID uuid.UUID) ([]AuditEntry, error)
}

// Tx is the store as seen from inside one atomic unit. Everything written
// through a Tx commits or rolls back together.
type Tx interface {
	Reader

	// LockScopes serializes concurrent writers on the given scope keys until
	// the transaction ends.
	LockScopes(ctx context.Context, keys []string) error
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)

	InsertAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
	SetRecordState(ctx context.Context, id uuid.UUID, state RecordState, deletedAt *time.Time) error
	PurgeAppointment(ctx context.Context, id uuid.UUID) error

	InsertAudit(ctx context.Context, e AuditEntry) error
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	Reader

	// WithTx runs fn in a serializable transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Event logging, best effort and outside any transaction.
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Directory resolves the people and places an appointment references.
type Directory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*Room, error)
}

// TypeCatalog looks up appointment type defaults.
type TypeCatalog interface {
	GetAppointmentType(ctx context.Context, id uuid.UUID) (*AppointmentType, error)
}
