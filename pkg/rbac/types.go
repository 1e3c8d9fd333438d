package rbac

import (
	"encoding/json"
	"strconv"
	"time"
)

// Scope bounds which resource instances a permission applies to.
type Scope string

const (
	// ScopeAll grants access to every instance of the resource.
	ScopeAll Scope = "ALL"
	// ScopeOwn grants access only to instances owned by the principal.
	ScopeOwn Scope = "OWN"
	// ScopeGroup grants access to instances belonging to the principal's
	// group, as narrowed by the assignment context.
	ScopeGroup Scope = "GROUP"
	// ScopeDepartment grants access to instances belonging to the
	// principal's department, as narrowed by the assignment context.
	ScopeDepartment Scope = "DEPARTMENT"
	// ScopeAssigned grants access to instances explicitly assigned to the
	// principal, decided by an AssignmentChecker.
	ScopeAssigned Scope = "ASSIGNED"
)

// ValidScopes lists every accepted scope value.
var ValidScopes = []Scope{ScopeAll, ScopeOwn, ScopeGroup, ScopeDepartment, ScopeAssigned}

// IsValid reports whether s is a known scope
func (s Scope) IsValid() bool {
	switch s {
	case ScopeAll, ScopeOwn, ScopeGroup, ScopeDepartment, ScopeAssigned:
		return true
	}
	return false
}

// Permission is a grantable capability: an action on a module, optionally
// narrowed to a resource, bounded by a scope. Module and action may be the
// wildcard "*". System permissions cannot be modified or deleted.
type Permission struct {
	ID          int64     `json:"id"`
	Module      string    `json:"module"`
	Action      string    `json:"action"`
	Resource    string    `json:"resource,omitempty"`
	Scope       Scope     `json:"scope"`
	Description string    `json:"description,omitempty"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Role is a named set of permissions. System roles cannot be deleted or
// renamed. Deletion is a soft delete: the row survives for audit history
// but the role stops resolving.
type Role struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	IsSystem    bool       `json:"is_system"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`

	// Permissions is populated by read operations that expand the role.
	Permissions []RolePermission `json:"permissions,omitempty"`
}

// RolePermission links a permission to a role, optionally with a JSON
// conditions document interpreted by downstream consumers.
type RolePermission struct {
	RoleID       int64           `json:"role_id"`
	PermissionID int64           `json:"permission_id"`
	Permission   *Permission     `json:"permission,omitempty"`
	Conditions   json.RawMessage `json:"conditions,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// UserRoleAssignment grants a role to a principal. Assignments may expire
// and may carry a JSON context (for example a group or department binding)
// that narrows GROUP and DEPARTMENT scoped permissions.
type UserRoleAssignment struct {
	ID          int64           `json:"id"`
	PrincipalID int64           `json:"principal_id"`
	RoleID      int64           `json:"role_id"`
	AssignedBy  *int64          `json:"assigned_by,omitempty"`
	AssignedAt  time.Time       `json:"assigned_at"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	IsActive    bool            `json:"is_active"`
	Context     json.RawMessage `json:"context,omitempty"`
}

// ScopeContext is the recognized shape of an assignment context document.
// Absent fields leave the corresponding scope unnarrowed.
type ScopeContext struct {
	GroupID      *int64 `json:"group_id,omitempty"`
	DepartmentID *int64 `json:"department_id,omitempty"`
}

// EffectivePermission is one entry of a principal's resolved permission set:
// a permission joined with the conditions of its role link and the context
// of the assignment it arrived through.
type EffectivePermission struct {
	Module     string          `json:"module"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource,omitempty"`
	Scope      Scope           `json:"scope"`
	Conditions json.RawMessage `json:"conditions,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
	RoleName   string          `json:"role_name,omitempty"`
}

// AccessCheck describes one authorization question: may the principal
// perform Action on Module, optionally narrowed to Resource? The ID fields
// supply the instance attributes scope evaluation needs.
type AccessCheck struct {
	Module   string `json:"module"`
	Action   string `json:"action"`
	Resource string `json:"resource,omitempty"`

	ResourceID   *int64 `json:"resource_id,omitempty"`
	OwnerID      *int64 `json:"owner_id,omitempty"`
	GroupID      *int64 `json:"group_id,omitempty"`
	DepartmentID *int64 `json:"department_id,omitempty"`
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`

	// Matched is the permission that granted access, nil when denied.
	Matched *EffectivePermission `json:"matched,omitempty"`
}

// PermissionRef identifies a permission when building a role: either by ID,
// or by its (module, action, scope) triple. Exactly one form must be set.
type PermissionRef struct {
	ID *int64 `json:"id,omitempty"`

	Module string `json:"module,omitempty"`
	Action string `json:"action,omitempty"`
	Scope  Scope  `json:"scope,omitempty"`

	// Conditions is attached to the role link when the ref resolves.
	Conditions json.RawMessage `json:"conditions,omitempty"`
}

// ByID reports whether the ref uses the ID form
func (r PermissionRef) ByID() bool { return r.ID != nil }

// String renders the ref for error reporting
func (r PermissionRef) String() string {
	if r.ID != nil {
		return "id=" + strconv.FormatInt(*r.ID, 10)
	}
	return r.Module + ":" + r.Action + ":" + string(r.Scope)
}
