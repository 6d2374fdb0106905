package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/auth"
)

func method(m PaymentMethod) *PaymentMethod { return &m }

func boolPtr(b bool) *bool { return &b }

func apptIn(st Status) *Appointment {
	return &Appointment{ID: uuid.New(), Status: st, RecordState: RecordActive}
}

func requireGuard(t *testing.T, err error, guard string) {
	t.Helper()
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok, "expected typed error, got %v", err)
	assert.Equal(t, apperr.KindTransition, ae.Kind)
	assert.Equal(t, guard, ae.Guard)
}

func TestResolveEffectiveTransition_PolicyTable(t *testing.T) {
	policy := DefaultPolicy()
	tc := TransitionContext{CancelReason: "patient asked", PaymentMethod: method(PaymentCash)}

	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusRequiresReschedule, true},
		{StatusPending, StatusInConsultation, false},
		{StatusPending, StatusPaid, false},
		{StatusConfirmed, StatusInConsultation, true},
		{StatusConfirmed, StatusPending, true},
		{StatusConfirmed, StatusCompleted, false},
		{StatusInConsultation, StatusCompleted, true},
		{StatusInConsultation, StatusPaid, true},
		{StatusInConsultation, StatusCancelled, false},
		{StatusRequiresReschedule, StatusPending, true},
		{StatusRequiresReschedule, StatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, err := ResolveEffectiveTransition(policy, apptIn(tt.from), tt.to, tc)
			if !tt.ok {
				requireGuard(t, err, GuardIllegalTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, got)
		})
	}
}

func TestResolveEffectiveTransition_UnknownStatus(t *testing.T) {
	_, err := ResolveEffectiveTransition(DefaultPolicy(), apptIn(StatusPending), Status("ARCHIVED"), TransitionContext{})
	requireGuard(t, err, GuardUnknownStatus)
}

func TestResolveEffectiveTransition_CancellationNeedsReason(t *testing.T) {
	_, err := ResolveEffectiveTransition(DefaultPolicy(), apptIn(StatusPending), StatusCancelled, TransitionContext{CancelReason: "   "})
	requireGuard(t, err, GuardCancellationReason)

	// The reason is checked before the no-op shortcut.
	_, err = ResolveEffectiveTransition(DefaultPolicy(), apptIn(StatusCancelled), StatusCancelled, TransitionContext{})
	requireGuard(t, err, GuardCancellationReason)
}

func TestResolveEffectiveTransition_SameStatusIsNoop(t *testing.T) {
	for _, st := range []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusNoShow} {
		got, err := ResolveEffectiveTransition(DefaultPolicy(), apptIn(st), st, TransitionContext{})
		require.NoError(t, err, st)
		assert.Equal(t, st, got)
	}
}

func TestResolveEffectiveTransition_TerminalStates(t *testing.T) {
	for _, st := range []Status{StatusCompleted, StatusPaid, StatusCancelled, StatusNoShow} {
		_, err := ResolveEffectiveTransition(DefaultPolicy(), apptIn(st), StatusConfirmed, TransitionContext{})
		requireGuard(t, err, GuardTerminalState)
	}
}

func TestResolveEffectiveTransition_PaidNeedsMethod(t *testing.T) {
	_, err := ResolveEffectiveTransition(DefaultPolicy(), apptIn(StatusInConsultation), StatusPaid, TransitionContext{})
	requireGuard(t, err, GuardPaymentMethod)

	_, err = ResolveEffectiveTransition(DefaultPolicy(), apptIn(StatusInConsultation), StatusPaid,
		TransitionContext{PaymentMethod: method("BITCOIN")})
	requireGuard(t, err, GuardPaymentMethod)
}

func TestResolveEffectiveTransition_TransferSubstitution(t *testing.T) {
	a := apptIn(StatusInConsultation)

	got, err := ResolveEffectiveTransition(DefaultPolicy(), a, StatusPaid, TransitionContext{PaymentMethod: method(PaymentTransfer)})
	require.NoError(t, err)
	assert.Equal(t, StatusTransferPending, got)

	got, err = ResolveEffectiveTransition(DefaultPolicy(), a, StatusPaid, TransitionContext{
		PaymentMethod:    method(PaymentTransfer),
		PaymentConfirmed: boolPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got)

	got, err = ResolveEffectiveTransition(DefaultPolicy(), a, StatusPaid, TransitionContext{PaymentMethod: method(PaymentCard)})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got)
}

func TestResolveEffectiveTransition_TransferPendingOnlyLeavesToPaid(t *testing.T) {
	a := apptIn(StatusTransferPending)
	a.PaymentMethod = method(PaymentTransfer)

	_, err := ResolveEffectiveTransition(DefaultPolicy(), a, StatusCancelled, TransitionContext{CancelReason: "changed mind"})
	requireGuard(t, err, GuardTransferConfirmation)

	_, err = ResolveEffectiveTransition(DefaultPolicy(), a, StatusCompleted, TransitionContext{})
	requireGuard(t, err, GuardTransferConfirmation)

	// Still unconfirmed: PAID resolves back to the current status.
	got, err := ResolveEffectiveTransition(DefaultPolicy(), a, StatusPaid, TransitionContext{})
	require.NoError(t, err)
	assert.Equal(t, StatusTransferPending, got)

	got, err = ResolveEffectiveTransition(DefaultPolicy(), a, StatusPaid, TransitionContext{PaymentConfirmed: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got)

	// Switching to an instant method confirms the payment.
	got, err = ResolveEffectiveTransition(DefaultPolicy(), a, StatusPaid, TransitionContext{PaymentMethod: method(PaymentCash)})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got)
}

func TestResolveEffectiveTransition_DoesNotMutate(t *testing.T) {
	a := apptIn(StatusInConsultation)
	before := a.Clone()

	_, err := ResolveEffectiveTransition(DefaultPolicy(), a, StatusPaid, TransitionContext{PaymentMethod: method(PaymentTransfer)})
	require.NoError(t, err)
	assert.Equal(t, before, *a)
}

func TestResolveEffectiveTransition_CustomPolicy(t *testing.T) {
	policy := PolicyTable{StatusPending: {StatusCompleted}}

	got, err := ResolveEffectiveTransition(policy, apptIn(StatusPending), StatusCompleted, TransitionContext{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got)

	_, err = ResolveEffectiveTransition(policy, apptIn(StatusPending), StatusConfirmed, TransitionContext{})
	requireGuard(t, err, GuardIllegalTransition)
}

func TestApplyTransition_Cancel(t *testing.T) {
	actor := auth.Actor{UserID: uuid.New(), Role: auth.RoleReceptionist}
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := apptIn(StatusConfirmed)

	e := ApplyTransition(a, StatusCancelled, StatusCancelled, TransitionContext{Actor: actor, CancelReason: "  sick  ", At: at})

	assert.Equal(t, StatusCancelled, a.Status)
	require.NotNil(t, a.CancelReason)
	assert.Equal(t, "sick", *a.CancelReason)
	require.NotNil(t, a.CancelledAt)
	assert.True(t, a.CancelledAt.Equal(at))
	require.NotNil(t, a.CancelledBy)
	assert.Equal(t, actor.UserID, *a.CancelledBy)

	assert.Equal(t, StatusConfirmed, e.OldStatus)
	assert.Equal(t, StatusCancelled, e.NewStatus)
	assert.Equal(t, StatusCancelled, e.RequestedStatus)
	assert.Equal(t, actor.UserID, e.ActorID)
	assert.Equal(t, "RECEPTIONIST", e.ActorRole)
	assert.Equal(t, "sick", e.Metadata["cancel_reason"])
}

func TestApplyTransition_Substitution(t *testing.T) {
	a := apptIn(StatusInConsultation)

	e := ApplyTransition(a, StatusPaid, StatusTransferPending, TransitionContext{PaymentMethod: method(PaymentTransfer)})

	assert.Equal(t, StatusTransferPending, a.Status)
	assert.False(t, a.PaymentConfirmed)
	require.NotNil(t, a.PaymentMethod)
	assert.Equal(t, PaymentTransfer, *a.PaymentMethod)
	assert.Equal(t, StatusPaid, e.RequestedStatus)
	assert.Equal(t, StatusTransferPending, e.NewStatus)
	assert.Equal(t, "TRANSFER", e.Metadata["payment_method"])
}

func TestApplyTransition_PaidAmountOverwritesPrice(t *testing.T) {
	a := apptIn(StatusInConsultation)
	list := decimal.RequireFromString("500")
	a.CustomPrice = &list
	paid := decimal.RequireFromString("450.50")

	e := ApplyTransition(a, StatusPaid, StatusPaid, TransitionContext{PaymentMethod: method(PaymentCard), PaidAmount: &paid})

	assert.True(t, a.PaymentConfirmed)
	require.NotNil(t, a.CustomPrice)
	assert.True(t, a.CustomPrice.Equal(paid))
	assert.Equal(t, "450.5", e.Metadata["paid_amount"])
}
