// Package rbac decides what each user role may do.
package rbac

type Role string
type Action string

const (
	RoleUser   Role = "user"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	// ActionModerate covers reviewing submissions.
	ActionModerate Action = "moderate"
	// ActionManageContent covers tool and article CRUD.
	ActionManageContent Action = "manage_content"
	// ActionAdmin covers user management and index maintenance.
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionModerate || action == ActionManageContent
	default:
		return false
	}
}

// Normalize maps unknown roles to the least privileged one.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}

// Valid reports whether role names a known role exactly.
func Valid(role string) bool {
	return Normalize(role) == Role(role)
}
