package auth

import "strings"

// ScopeRolePrefix is prepended to every scope-derived role.
const ScopeRolePrefix = "ROLE_"

// ScopeRole converts a single scope name into its role label.
func ScopeRole(scope string) string {
	return ScopeRolePrefix + strings.ToUpper(scope)
}

// DeriveRoles builds the ordered role list for a credential: the identity's
// own roles unmodified, followed by one role per non-empty space-separated
// scope segment. Collisions between the two groups are kept.
func DeriveRoles(identityRoles []string, scope string) []string {
	var segments []string
	if strings.TrimSpace(scope) != "" {
		segments = strings.Split(scope, " ")
	}

	roles := make([]string, 0, len(identityRoles)+len(segments))
	roles = append(roles, identityRoles...)
	for _, s := range segments {
		if s == "" {
			continue
		}
		roles = append(roles, ScopeRole(s))
	}
	return roles
}
