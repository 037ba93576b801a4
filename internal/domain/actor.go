package domain

import "strings"

// Role is the coarse role an actor claims.
type Role string

const (
	RoleDonor    Role = "donor"
	RoleOfficial Role = "official"
	RoleNGO      Role = "ngo"
)

// ParseRole maps a header value onto a known role. Unknown values yield "".
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleDonor, RoleOfficial, RoleNGO:
		return r
	}
	return ""
}

// Capability is a permission checked by the lifecycle managers.
type Capability string

const (
	CapabilityReport       Capability = "report"
	CapabilityVerify       Capability = "verify"
	CapabilityApproveFunds Capability = "approve_funds"
	CapabilityAudit        Capability = "audit"
	CapabilityManageRules  Capability = "manage_rules"
)

var roleCapabilities = map[Role][]Capability{
	RoleOfficial: {
		CapabilityReport,
		CapabilityVerify,
		CapabilityApproveFunds,
		CapabilityAudit,
		CapabilityManageRules,
	},
	RoleNGO: {CapabilityReport},
}

// Actor is the identity performing an operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Anonymous reports whether the actor carries no identity.
func (a Actor) Anonymous() bool {
	return a.ID == ""
}

// Can reports whether the actor holds capability c.
func (a Actor) Can(c Capability) bool {
	if a.Anonymous() {
		return false
	}
	for _, granted := range roleCapabilities[a.Role] {
		if granted == c {
			return true
		}
	}
	return false
}

// Require returns a forbidden error when the actor lacks capability c.
func (a Actor) Require(op string, c Capability) error {
	if a.Can(c) {
		return nil
	}
	who := a.ID
	if who == "" {
		who = "anonymous"
	}
	return Forbiddenf(op, "%s (role %q) lacks %s capability", who, a.Role, c)
}
