package domain

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// HasPermission reports whether the role satisfies the required minimum role.
func (r Role) HasPermission(min Role) bool {
	if min == RoleAdmin {
		return r == RoleAdmin
	}
	return r == RoleUser || r == RoleAdmin
}

// User is a telegram mini-app user resolved from verified init data.
type User struct {
	ID           int64 // telegram user id
	FirstName    string
	Username     string
	LanguageCode string
	Role         Role
}
