package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/auth"
)

// Guards reported in TRANSITION errors.
const (
	GuardUnknownStatus        = "unknown_status"
	GuardIllegalTransition    = "illegal_transition"
	GuardTerminalState        = "terminal_state"
	GuardCancellationReason   = "cancellation_reason"
	GuardPaymentMethod        = "payment_method"
	GuardTransferConfirmation = "transfer_confirmation"
	GuardMandatoryData        = "patient_mandatory_data"
	GuardRecordState          = "record_state"
)

// TransitionPolicy is the legal-transition table. The engine layers its own
// guards on top of it.
type TransitionPolicy interface {
	Allowed(from, to Status) bool
}

type PolicyTable map[Status][]Status

func (p PolicyTable) Allowed(from, to Status) bool {
	for _, s := range p[from] {
		if s == to {
			return true
		}
	}
	return false
}

func DefaultPolicy() PolicyTable {
	return PolicyTable{
		StatusPending: {
			StatusConfirmed, StatusCancelled, StatusNoShow, StatusRequiresReschedule,
		},
		StatusConfirmed: {
			StatusInConsultation, StatusCancelled, StatusNoShow, StatusRequiresReschedule, StatusPending,
		},
		StatusInConsultation: {
			StatusCompleted, StatusPaid, StatusTransferPending,
		},
		StatusTransferPending: {
			StatusPaid,
		},
		StatusRequiresReschedule: {
			StatusPending, StatusCancelled,
		},
	}
}

// TransitionContext carries everything a status change request may supply.
type TransitionContext struct {
	Actor         auth.Actor
	PaymentMethod *PaymentMethod
	// PaymentConfirmed marks a deferred payment as received.
	PaymentConfirmed *bool
	CancelReason     string
	// PaidAmount overwrites the stored effective price when landing on PAID.
	PaidAmount *decimal.Decimal
	At         time.Time
}

// ResolveEffectiveTransition decides which status a request actually lands
// on. It never touches the appointment. A result equal to the current status
// means the request is a no-op.
func ResolveEffectiveTransition(policy TransitionPolicy, appt *Appointment, requested Status, tc TransitionContext) (Status, error) {
	if !requested.Valid() {
		return "", apperr.Transition(GuardUnknownStatus, "unknown status %q", requested)
	}
	if requested == StatusCancelled && strings.TrimSpace(tc.CancelReason) == "" {
		return "", apperr.Transition(GuardCancellationReason, "a cancellation reason is required")
	}
	if tc.PaymentMethod != nil && !tc.PaymentMethod.Valid() {
		return "", apperr.Transition(GuardPaymentMethod, "unknown payment method %q", *tc.PaymentMethod)
	}

	applied := requested
	if requested == StatusPaid && appt.Status != StatusPaid {
		method := tc.PaymentMethod
		if method == nil {
			method = appt.PaymentMethod
		}
		if method == nil {
			return "", apperr.Transition(GuardPaymentMethod, "a payment method is required to mark the appointment paid")
		}
		if method.IsDeferred() && !paymentConfirmed(appt, tc) {
			applied = StatusTransferPending
		}
	}

	if applied == appt.Status {
		return applied, nil
	}
	if appt.Status == StatusTransferPending {
		return "", apperr.Transition(GuardTransferConfirmation,
			"appointment is awaiting transfer confirmation and can only move to %s", StatusPaid)
	}
	if appt.Status.IsTerminal() {
		return "", apperr.Transition(GuardTerminalState, "appointment is %s and can no longer change", appt.Status)
	}
	if !policy.Allowed(appt.Status, applied) {
		return "", apperr.Transition(GuardIllegalTransition, "cannot move from %s to %s", appt.Status, applied)
	}
	return applied, nil
}

// paymentConfirmed decides confirmation for the request. Switching to an
// instant method counts as confirmation.
func paymentConfirmed(appt *Appointment, tc TransitionContext) bool {
	if tc.PaymentMethod != nil && !tc.PaymentMethod.IsDeferred() {
		return true
	}
	if tc.PaymentConfirmed != nil {
		return *tc.PaymentConfirmed
	}
	if tc.PaymentMethod != nil && appt.PaymentMethod != nil && *tc.PaymentMethod != *appt.PaymentMethod {
		return false
	}
	return appt.PaymentConfirmed
}

// ApplyTransition moves appt to applied and stamps the side-effect fields.
// It returns the audit entry describing the change; the caller persists both
// in one transaction.
func ApplyTransition(appt *Appointment, requested, applied Status, tc TransitionContext) AuditEntry {
	old := appt.Status
	at := tc.At
	if at.IsZero() {
		at = time.Now()
	}

	appt.Status = applied
	appt.UpdatedAt = at

	switch applied {
	case StatusCancelled:
		reason := strings.TrimSpace(tc.CancelReason)
		by := tc.Actor.UserID
		appt.CancelReason = &reason
		appt.CancelledAt = &at
		appt.CancelledBy = &by
	case StatusTransferPending:
		if tc.PaymentMethod != nil {
			m := *tc.PaymentMethod
			appt.PaymentMethod = &m
		}
		appt.PaymentConfirmed = false
	case StatusPaid:
		if tc.PaymentMethod != nil {
			m := *tc.PaymentMethod
			appt.PaymentMethod = &m
		}
		appt.PaymentConfirmed = true
		if tc.PaidAmount != nil {
			amount := *tc.PaidAmount
			appt.CustomPrice = &amount
		}
	}

	meta := map[string]any{}
	if appt.PaymentMethod != nil {
		meta["payment_method"] = string(*appt.PaymentMethod)
	}
	if applied == StatusCancelled {
		meta["cancel_reason"] = *appt.CancelReason
	}
	if applied == StatusPaid && tc.PaidAmount != nil {
		meta["paid_amount"] = tc.PaidAmount.String()
	}

	return AuditEntry{
		ID:              uuid.New(),
		AppointmentID:   appt.ID,
		OldStatus:       old,
		NewStatus:       applied,
		RequestedStatus: requested,
		ActorID:         tc.Actor.UserID,
		ActorRole:       string(tc.Actor.Role),
		Metadata:        meta,
		CreatedAt:       at,
	}
}
