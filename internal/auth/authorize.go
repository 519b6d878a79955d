package auth

import "strings"

// Principal is the caller identity carried by a verified token.
type Principal struct {
	UserID string
	Role   string
}

// PrincipalFromClaims builds the caller identity from verified claims.
func PrincipalFromClaims(c *Claims) Principal {
	return Principal{UserID: c.Subject, Role: normalizeRole(c.Role)}
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role string) bool {
	role = normalizeRole(role)
	return role != "" && strings.EqualFold(p.Role, role)
}
