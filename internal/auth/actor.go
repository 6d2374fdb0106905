package auth

import (
	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin        Role = "ADMIN"
	RoleDoctor       Role = "DOCTOR"
	RoleReceptionist Role = "RECEPTIONIST"
)

type Permission string

const (
	PermViewAppointments  Permission = "appointments:view"
	PermBookAppointments  Permission = "appointments:book"
	PermBackfillPastDates Permission = "appointments:backfill"
	PermHardDelete        Permission = "appointments:purge"
	PermManageSchedules   Permission = "schedules:manage"
)

// Actor identifies who is calling the scheduling core. It is always passed
// explicitly; nothing reads it from ambient state.
type Actor struct {
	UserID    uuid.UUID
	Role      Role
	ClinicIDs []uuid.UUID
}

// InClinic reports whether the actor may operate on the given clinic.
// Admins without an explicit clinic list are global.
func (a Actor) InClinic(clinicID uuid.UUID) bool {
	if a.IsGlobal() {
		return true
	}
	for _, id := range a.ClinicIDs {
		if id == clinicID {
			return true
		}
	}
	return false
}

// IsGlobal reports whether the actor is an admin not scoped to any clinic.
func (a Actor) IsGlobal() bool { return a.Role == RoleAdmin && len(a.ClinicIDs) == 0 }

// PermissionChecker is the boolean gate consulted by the orchestrator.
type PermissionChecker interface {
	Can(actor Actor, perm Permission) bool
}

// RolePolicy grants permissions by role.
type RolePolicy map[Role][]Permission

// DefaultRolePolicy is used when no external policy is wired.
func DefaultRolePolicy() RolePolicy {
	return RolePolicy{
		RoleAdmin: {
			PermViewAppointments, PermBookAppointments, PermBackfillPastDates,
			PermHardDelete, PermManageSchedules,
		},
		RoleDoctor: {
			PermViewAppointments, PermBookAppointments, PermManageSchedules,
		},
		RoleReceptionist: {
			PermViewAppointments, PermBookAppointments,
		},
	}
}

func (p RolePolicy) Can(actor Actor, perm Permission) bool {
	for _, granted := range p[actor.Role] {
		if granted == perm {
			return true
		}
	}
	return false
}
