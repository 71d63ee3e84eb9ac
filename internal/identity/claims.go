// Package identity verifies session tokens against the MediCorex identity
// provider and caches the resulting claims. Verification fails closed: when
// the provider cannot be reached, tokens are treated as unverified rather
// than trusted.
package identity

// Tenant roles carried in verified claims. The identity provider is the
// source of truth; the edge only interprets them.
const (
	RoleOwner             = "owner"
	RoleOwnerTrialExpired = "owner_trial_expired"
	RoleMember            = "member"
)

// Claims is the verified identity attached to a session token.
type Claims struct {
	UID     string `json:"uid"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	// Tenants maps tenant slug to the user's role in that tenant.
	Tenants map[string]string `json:"tenants,omitempty"`
}

// RoleFor returns the user's role in the given tenant, or "" when the user
// has no access to it.
func (c *Claims) RoleFor(slug string) string {
	if c == nil {
		return ""
	}
	return c.Tenants[slug]
}

// HasTenant reports whether the user belongs to the given tenant.
func (c *Claims) HasTenant(slug string) bool {
	return c.RoleFor(slug) != ""
}

// TrialExpired reports whether the user owns the given tenant but its trial
// has lapsed, which routes all tenant traffic to the billing page.
func (c *Claims) TrialExpired(slug string) bool {
	return c.RoleFor(slug) == RoleOwnerTrialExpired
}
