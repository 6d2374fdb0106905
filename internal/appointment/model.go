package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending            Status = "PENDING"
	StatusConfirmed          Status = "CONFIRMED"
	StatusInConsultation     Status = "IN_CONSULTATION"
	StatusCompleted          Status = "COMPLETED"
	StatusPaid               Status = "PAID"
	StatusCancelled          Status = "CANCELLED"
	StatusNoShow             Status = "NO_SHOW"
	StatusTransferPending    Status = "TRANSFER_PENDING"
	StatusRequiresReschedule Status = "REQUIRES_RESCHEDULE"
)

var allStatuses = []Status{
	StatusPending, StatusConfirmed, StatusInConsultation, StatusCompleted, StatusPaid,
	StatusCancelled, StatusNoShow, StatusTransferPending, StatusRequiresReschedule,
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown appointment status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	for _, st := range allStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPaid, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "CASH"
	PaymentCard      PaymentMethod = "CARD"
	PaymentTransfer  PaymentMethod = "TRANSFER"
	PaymentInsurance PaymentMethod = "INSURANCE"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentInsurance:
		return true
	}
	return false
}

// IsDeferred reports whether the money arrives after the fact and needs an
// explicit confirmation before the appointment counts as paid.
func (m PaymentMethod) IsDeferred() bool { return m == PaymentTransfer }

// RecordState is the storage lifecycle of an appointment row, independent of
// its scheduling Status.
type RecordState string

const (
	RecordActive      RecordState = "ACTIVE"
	RecordSoftDeleted RecordState = "SOFT_DELETED"
	RecordPurged      RecordState = "PURGED"
)

// CanTransitionTo lists the legal record state moves. PURGED is final and is
// never stored; it only describes a row that no longer exists.
func (s RecordState) CanTransitionTo(next RecordState) bool {
	switch s {
	case RecordActive:
		return next == RecordSoftDeleted || next == RecordPurged
	case RecordSoftDeleted:
		return next == RecordActive || next == RecordPurged
	}
	return false
}

type Appointment struct {
	ID                uuid.UUID
	PatientID         uuid.UUID
	DoctorID          uuid.UUID
	ClinicID          uuid.UUID
	RoomID            *uuid.UUID
	AppointmentTypeID *uuid.UUID
	Date              time.Time
	StartTime         string
	EndTime           string
	Status            Status
	CustomReason      *string
	// CustomPrice and DurationMin hold the effective values, copied from the
	// appointment type when not overridden.
	CustomPrice      *decimal.Decimal
	DurationMin      *int
	Notes            *string
	PaymentMethod    *PaymentMethod
	PaymentConfirmed bool
	CancelReason     *string
	CancelledAt      *time.Time
	CancelledBy      *uuid.UUID
	RecordState      RecordState
	DeletedAt        *time.Time
	CreatedBy        uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BlocksCalendar reports whether the appointment occupies its time range for
// conflict purposes.
func (a *Appointment) BlocksCalendar() bool {
	return a.RecordState == RecordActive && a.Status != StatusCancelled
}

// Clone returns a deep copy so callers can diff or stage changes.
func (a Appointment) Clone() Appointment {
	c := a
	c.RoomID = clonePtr(a.RoomID)
	c.AppointmentTypeID = clonePtr(a.AppointmentTypeID)
	c.CustomReason = clonePtr(a.CustomReason)
	c.CustomPrice = clonePtr(a.CustomPrice)
	c.DurationMin = clonePtr(a.DurationMin)
	c.Notes = clonePtr(a.Notes)
	c.PaymentMethod = clonePtr(a.PaymentMethod)
	c.CancelReason = clonePtr(a.CancelReason)
	c.CancelledAt = clonePtr(a.CancelledAt)
	c.CancelledBy = clonePtr(a.CancelledBy)
	c.DeletedAt = clonePtr(a.DeletedAt)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// AuditEntry is the write-once record of a status transition. RequestedStatus
// differs from NewStatus when a substitution was applied.
type AuditEntry struct {
	ID              uuid.UUID
	AppointmentID   uuid.UUID
	OldStatus       Status
	NewStatus       Status
	RequestedStatus Status
	ActorID         uuid.UUID
	ActorRole       string
	Metadata        map[string]any
	CreatedAt       time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type Patient struct {
	ID               uuid.UUID
	FirstName        string
	LastName         string
	SecondLastName   *string
	NoSecondLastName bool
	Phone            *string
	BirthDate        *time.Time
	Gender           *string
	IsActive         bool
	DeletedAt        *time.Time
}

func (p *Patient) FullName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if p.SecondLastName != nil && *p.SecondLastName != "" {
		name += " " + *p.SecondLastName
	}
	return name
}

// MissingMandatoryFields lists the fields a patient needs before a
// consultation can start.
func (p *Patient) MissingMandatoryFields() []string {
	var missing []string
	if strings.TrimSpace(p.FirstName) == "" {
		missing = append(missing, "first_name")
	}
	if strings.TrimSpace(p.LastName) == "" {
		missing = append(missing, "last_name")
	}
	if !p.NoSecondLastName && blank(p.SecondLastName) {
		missing = append(missing, "second_last_name")
	}
	if blank(p.Phone) {
		missing = append(missing, "phone")
	}
	if p.BirthDate == nil || p.BirthDate.IsZero() {
		missing = append(missing, "birth_date")
	}
	if blank(p.Gender) {
		missing = append(missing, "gender")
	}
	return missing
}

func blank(s *string) bool { return s == nil || strings.TrimSpace(*s) == "" }

type Doctor struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	IsActive  bool
	DeletedAt *time.Time
}

func (d *Doctor) FullName() string { return strings.TrimSpace(d.FirstName + " " + d.LastName) }

type Room struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	Name      string
	IsActive  bool
	DeletedAt *time.Time
}

type AppointmentType struct {
	ID                 uuid.UUID
	Name               string
	DefaultPrice       *decimal.Decimal
	DefaultDurationMin *int
	IsActive           bool
}

// AppointmentFilter selects appointments for listing. Nil fields do not filter.
type AppointmentFilter struct {
	ClinicID       *uuid.UUID
	DoctorID       *uuid.UUID
	PatientID      *uuid.UUID
	RoomID         *uuid.UUID
	DateFrom       *time.Time
	DateTo         *time.Time
	Statuses       []Status
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// OverlapQuery finds calendar-blocking appointments on Date that overlap
// [StartTime, EndTime) for exactly one of the scope ids.
type OverlapQuery struct {
	Date      time.Time
	StartTime string
	EndTime   string
	DoctorID  *uuid.UUID
	RoomID    *uuid.UUID
	PatientID *uuid.UUID
	ExcludeID *uuid.UUID
}
