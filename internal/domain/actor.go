package domain

type ActorRole string

const (
	RoleBuyer  ActorRole = "BUYER"
	RoleSeller ActorRole = "SELLER"
	RoleAdmin  ActorRole = "ADMIN"
	RoleSystem ActorRole = "SYSTEM"
)

// Actor is the party requesting a transition. System is reserved for
// machine-originated triggers (payment capture, delivery confirmation).
type Actor struct {
	Ref  string
	Role ActorRole
}

func (a Actor) Privileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

func ParseActorRole(s string) (ActorRole, bool) {
	switch ActorRole(s) {
	case RoleBuyer, RoleSeller, RoleAdmin, RoleSystem:
		return ActorRole(s), true
	}
	return "", false
}
