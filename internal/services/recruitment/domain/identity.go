package domain

import (
	"fmt"
	"strings"
)

// Role is the authorization role of an identity.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole parses a role, defaulting empty input to USER.
func ParseRole(raw string) (Role, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	switch Role(value) {
	case "":
		return RoleUser, nil
	case RoleUser, RoleAdmin:
		return Role(value), nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// Identity is a resolved caller.
type Identity struct {
	ID   string
	Role Role
}

// IsAdmin reports whether the identity carries the ADMIN role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
