package actor

// Role is the closed set of roles the auth collaborator may hand us.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleApprover Role = "approver"
	RoleEditor   Role = "editor"
	RoleViewer   Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleApprover, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// CanWrite reports whether the role may stage changes and own change requests.
func (r Role) CanWrite() bool {
	switch r {
	case RoleAdmin, RoleApprover, RoleEditor:
		return true
	}
	return false
}

// CanReview reports whether the role may approve or reject change requests.
func (r Role) CanReview() bool {
	return r == RoleAdmin || r == RoleApprover
}

// Actor is the authenticated identity passed explicitly into every
// state-changing operation. The engine never reads it from ambient state.
type Actor struct {
	ID       uint32 `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}
