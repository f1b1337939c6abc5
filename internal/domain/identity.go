package domain

import "github.com/google/uuid"

// ============================================================
// Caller identity (resolved by the identity gate, never ambient)
// ============================================================

// Role is the closed set of user roles.
type Role string

const (
	RoleClient   Role = "CLIENT"
	RoleEmployee Role = "EMPLOYEE"
	RoleAdmin    Role = "ADMIN"
)

// UserStatus is the account standing of the caller as reported by the
// identity service.
type UserStatus string

const (
	UserActive  UserStatus = "ACTIVE"
	UserBlocked UserStatus = "BLOCKED"
	UserPending UserStatus = "PENDING"
)

// Identity is the resolved caller: who they are, what they may do, and
// whether they are in good standing. Every core operation receives it
// explicitly.
type Identity struct {
	UserID uuid.UUID
	Role   Role
	Status UserStatus
}

// Privileged reports whether the caller holds an elevated role.
// EMPLOYEE and ADMIN get read/administrative access beyond their own
// resources; money movement never uses this bypass.
func (i Identity) Privileged() bool {
	return i.Role == RoleAdmin || i.Role == RoleEmployee
}

// Active reports whether the caller is in good standing.
func (i Identity) Active() bool {
	return i.Status == UserActive
}
