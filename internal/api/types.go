package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/timerange"
)

type ErrorResponse struct {
	Error     string   `json:"error"`
	Details   string   `json:"details,omitempty"`
	Reasons   []string `json:"reasons,omitempty"`
	Guard     string   `json:"guard,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`
}

type BookAppointmentRequest struct {
	PatientID         uuid.UUID                  `json:"patient_id"`
	DoctorID          uuid.UUID                  `json:"doctor_id"`
	ClinicID          uuid.UUID                  `json:"clinic_id"`
	RoomID            *uuid.UUID                 `json:"room_id"`
	AppointmentTypeID *uuid.UUID                 `json:"appointment_type_id"`
	Date              string                     `json:"date"`
	StartTime         string                     `json:"start_time"`
	EndTime           string                     `json:"end_time"`
	CustomReason      *string                    `json:"custom_reason"`
	CustomPrice       *decimal.Decimal           `json:"custom_price"`
	DurationMin       *int                       `json:"duration_min"`
	Notes             *string                    `json:"notes"`
	PaymentMethod     *appointment.PaymentMethod `json:"payment_method"`
}

type UpdateAppointmentRequest struct {
	PatientID         *uuid.UUID                 `json:"patient_id"`
	DoctorID          *uuid.UUID                 `json:"doctor_id"`
	RoomID            *uuid.UUID                 `json:"room_id"`
	ClearRoom         bool                       `json:"clear_room"`
	AppointmentTypeID *uuid.UUID                 `json:"appointment_type_id"`
	Date              *string                    `json:"date"`
	StartTime         *string                    `json:"start_time"`
	EndTime           *string                    `json:"end_time"`
	CustomReason      *string                    `json:"custom_reason"`
	CustomPrice       *decimal.Decimal           `json:"custom_price"`
	DurationMin       *int                       `json:"duration_min"`
	Notes             *string                    `json:"notes"`
	PaymentMethod     *appointment.PaymentMethod `json:"payment_method"`
}

type TransitionRequest struct {
	Status           string                     `json:"status"`
	PaymentMethod    *appointment.PaymentMethod `json:"payment_method"`
	PaymentConfirmed *bool                      `json:"payment_confirmed"`
	CancelReason     string                     `json:"cancel_reason"`
	PaidAmount       *decimal.Decimal           `json:"paid_amount"`
}

type ConflictCheckRequest struct {
	ClinicID  uuid.UUID  `json:"clinic_id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	PatientID uuid.UUID  `json:"patient_id"`
	RoomID    *uuid.UUID `json:"room_id"`
	Date      string     `json:"date"`
	StartTime string     `json:"start_time"`
	EndTime   string     `json:"end_time"`
	ExcludeID *uuid.UUID `json:"exclude_id"`
}

type ConflictCheckResponse struct {
	HasConflict bool     `json:"has_conflict"`
	Conflicts   []string `json:"conflicts"`
}

type AppointmentResponse struct {
	ID                uuid.UUID        `json:"id"`
	PatientID         uuid.UUID        `json:"patient_id"`
	DoctorID          uuid.UUID        `json:"doctor_id"`
	ClinicID          uuid.UUID        `json:"clinic_id"`
	RoomID            *uuid.UUID       `json:"room_id,omitempty"`
	AppointmentTypeID *uuid.UUID       `json:"appointment_type_id,omitempty"`
	Date              string           `json:"date"`
	StartTime         string           `json:"start_time"`
	EndTime           string           `json:"end_time"`
	Status            string           `json:"status"`
	CustomReason      *string          `json:"custom_reason,omitempty"`
	CustomPrice       *decimal.Decimal `json:"custom_price,omitempty"`
	DurationMin       *int             `json:"duration_min,omitempty"`
	Notes             *string          `json:"notes,omitempty"`
	PaymentMethod     *string          `json:"payment_method,omitempty"`
	PaymentConfirmed  bool             `json:"payment_confirmed"`
	CancelReason      *string          `json:"cancel_reason,omitempty"`
	CancelledAt       *time.Time       `json:"cancelled_at,omitempty"`
	CancelledBy       *uuid.UUID       `json:"cancelled_by,omitempty"`
	RecordState       string           `json:"record_state"`
	DeletedAt         *time.Time       `json:"deleted_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:                a.ID,
		PatientID:         a.PatientID,
		DoctorID:          a.DoctorID,
		ClinicID:          a.ClinicID,
		RoomID:            a.RoomID,
		AppointmentTypeID: a.AppointmentTypeID,
		Date:              timerange.FormatDate(a.Date),
		StartTime:         a.StartTime,
		EndTime:           a.EndTime,
		Status:            string(a.Status),
		CustomReason:      a.CustomReason,
		CustomPrice:       a.CustomPrice,
		DurationMin:       a.DurationMin,
		Notes:             a.Notes,
		PaymentConfirmed:  a.PaymentConfirmed,
		CancelReason:      a.CancelReason,
		CancelledAt:       a.CancelledAt,
		CancelledBy:       a.CancelledBy,
		RecordState:       string(a.RecordState),
		DeletedAt:         a.DeletedAt,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
	if a.PaymentMethod != nil {
		m := string(*a.PaymentMethod)
		resp.PaymentMethod = &m
	}
	return resp
}

type AuditEntryResponse struct {
	ID              uuid.UUID      `json:"id"`
	AppointmentID   uuid.UUID      `json:"appointment_id"`
	OldStatus       string         `json:"old_status,omitempty"`
	NewStatus       string         `json:"new_status"`
	RequestedStatus string         `json:"requested_status"`
	ActorID         uuid.UUID      `json:"actor_id"`
	ActorRole       string         `json:"actor_role"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

func toAuditResponse(e appointment.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:              e.ID,
		AppointmentID:   e.AppointmentID,
		OldStatus:       string(e.OldStatus),
		NewStatus:       string(e.NewStatus),
		RequestedStatus: string(e.RequestedStatus),
		ActorID:         e.ActorID,
		ActorRole:       e.ActorRole,
		Metadata:        e.Metadata,
		CreatedAt:       e.CreatedAt,
	}
}

type SlotsResponse struct {
	DoctorID    uuid.UUID           `json:"doctor_id"`
	ClinicID    uuid.UUID           `json:"clinic_id"`
	Date        string              `json:"date"`
	DurationMin int                 `json:"duration_min"`
	Slots       []availability.Slot `json:"slots"`
}

type DayAvailabilityResponse struct {
	Date      string `json:"date"`
	Available bool   `json:"available"`
}

type BlockRequest struct {
	ClinicID  uuid.UUID  `json:"clinic_id"`
	DoctorID  *uuid.UUID `json:"doctor_id"`
	Weekday   int        `json:"weekday"`
	StartTime string     `json:"start_time"`
	EndTime   string     `json:"end_time"`
}

type BlockResponse struct {
	ID        uuid.UUID  `json:"id"`
	ClinicID  uuid.UUID  `json:"clinic_id"`
	DoctorID  *uuid.UUID `json:"doctor_id,omitempty"`
	Weekday   int        `json:"weekday"`
	StartTime string     `json:"start_time"`
	EndTime   string     `json:"end_time"`
}

func toBlockResponse(b schedule.Block) BlockResponse {
	return BlockResponse{
		ID:        b.ID,
		ClinicID:  b.ClinicID,
		DoctorID:  b.DoctorID,
		Weekday:   b.Weekday,
		StartTime: b.StartTime,
		EndTime:   b.EndTime,
	}
}

type ExceptionRequest struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	StartTime *string   `json:"start_time"`
	EndTime   *string   `json:"end_time"`
	Reason    *string   `json:"reason"`
}

type ExceptionResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	StartTime *string   `json:"start_time,omitempty"`
	EndTime   *string   `json:"end_time,omitempty"`
	Reason    *string   `json:"reason,omitempty"`
	FullDay   bool      `json:"full_day"`
}

func toExceptionResponse(e schedule.Exception) ExceptionResponse {
	return ExceptionResponse{
		ID:        e.ID,
		DoctorID:  e.DoctorID,
		Date:      timerange.FormatDate(e.Date),
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
		Reason:    e.Reason,
		FullDay:   e.IsFullDay(),
	}
}
