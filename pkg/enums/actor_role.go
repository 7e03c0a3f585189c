package enums

import "slices"

// ActorRole is the privilege level of whoever drives an order operation.
type ActorRole string

const (
	ActorRoleCustomer ActorRole = "customer"
	ActorRoleStaff    ActorRole = "staff"
	// ActorRoleSystem drives payment settlement and scheduled jobs. No
	// token can carry it.
	ActorRoleSystem ActorRole = "system"
)

var tokenRoles = []ActorRole{ActorRoleCustomer, ActorRoleStaff}

func (r ActorRole) String() string { return string(r) }

func (r ActorRole) IsValid() bool {
	return r == ActorRoleSystem || r.IsTokenRole()
}

func (r ActorRole) IsTokenRole() bool {
	return slices.Contains(tokenRoles, r)
}

// ParseActorRole reads a role from token claims and rejects the system role.
func ParseActorRole(value string) (ActorRole, error) {
	return parse("actor role", value, tokenRoles)
}
