package models

const RoleAdmin = "admin"

// User is the identity asserted by the bearer token. Participant ids are
// opaque and owned by the identity provider.
type User struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
