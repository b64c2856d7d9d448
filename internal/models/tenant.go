package models

// UserRole determines which row-level-security policy applies to a request.
type UserRole string

const (
	RoleOwner  UserRole = "owner"
	RoleAdmin  UserRole = "admin"
	RoleMember UserRole = "member"
	RoleSystem UserRole = "system"
)

// TenantContext identifies the team (and optionally the user) on whose
// behalf an operation runs. It is injected into every storage transaction
// as session variables and stamped onto every queue envelope.
type TenantContext struct {
	TeamID   string   `json:"teamId"`
	UserRole UserRole `json:"userRole"`
	UserID   string   `json:"userId,omitempty"`
}

func (tc TenantContext) Valid() bool {
	return tc.TeamID != "" && tc.UserRole != ""
}

// SystemTenant returns a tenant context for background jobs that operate
// on a single team without an acting user.
func SystemTenant(teamID string) TenantContext {
	return TenantContext{TeamID: teamID, UserRole: RoleSystem}
}
