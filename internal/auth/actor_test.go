package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRolePolicy(t *testing.T) {
	policy := DefaultRolePolicy()

	admin := Actor{UserID: uuid.New(), Role: RoleAdmin}
	reception := Actor{UserID: uuid.New(), Role: RoleReceptionist}
	nobody := Actor{UserID: uuid.New(), Role: Role("GUEST")}

	assert.True(t, policy.Can(admin, PermHardDelete))
	assert.True(t, policy.Can(admin, PermBackfillPastDates))
	assert.True(t, policy.Can(reception, PermBookAppointments))
	assert.False(t, policy.Can(reception, PermBackfillPastDates))
	assert.False(t, policy.Can(reception, PermHardDelete))
	assert.False(t, policy.Can(nobody, PermViewAppointments))
}

func TestInClinic(t *testing.T) {
	clinicA, clinicB := uuid.New(), uuid.New()

	globalAdmin := Actor{Role: RoleAdmin}
	scopedAdmin := Actor{Role: RoleAdmin, ClinicIDs: []uuid.UUID{clinicA}}
	reception := Actor{Role: RoleReceptionist, ClinicIDs: []uuid.UUID{clinicB}}
	unscoped := Actor{Role: RoleReceptionist}

	assert.True(t, globalAdmin.InClinic(clinicA))
	assert.True(t, scopedAdmin.InClinic(clinicA))
	assert.False(t, scopedAdmin.InClinic(clinicB))
	assert.True(t, reception.InClinic(clinicB))
	assert.False(t, reception.InClinic(clinicA))
	assert.False(t, unscoped.InClinic(clinicA))
}
