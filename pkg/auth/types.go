package auth

import "time"

// Principal represents an authenticated actor whose permissions are evaluated.
// Authentication itself happens upstream; the engine only consumes the result.
type Principal struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name,omitempty"`
	RoleLabel string    `json:"role_label"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Well-known static role labels. These predate dynamic role assignments and
// are kept for the legacy resolution fallback: a principal with no active
// assignments is resolved through the role whose name equals its label.
const (
	RoleLabelAdmin         = "ADMIN"
	RoleLabelPrincipal     = "PRINCIPAL"
	RoleLabelTeacher       = "TEACHER"
	RoleLabelStudent       = "STUDENT"
	RoleLabelSupplyManager = "SUPPLY_MANAGER"
)
