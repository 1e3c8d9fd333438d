package api

import (
	"net/http"
	"strconv"

	"github.com/gradekeep/gradekeep/pkg/auth"
	"github.com/gradekeep/gradekeep/pkg/contextkeys"
	"github.com/gradekeep/gradekeep/pkg/httputil"
	"github.com/gradekeep/gradekeep/pkg/rbac"
)

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var input rbac.AssignRoleInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if input.PrincipalID <= 0 || input.RoleID <= 0 {
		httputil.WriteBadRequest(w, "principal_id and role_id are required")
		return
	}

	// stamp the acting admin unless the caller set it explicitly
	if input.AssignedBy == nil {
		if caller, ok := r.Context().Value(contextkeys.PrincipalKey).(*auth.Principal); ok {
			input.AssignedBy = &caller.ID
		}
	}

	assignment, err := s.manager.AssignRole(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, assignment)
}

type revokeRequest struct {
	PrincipalID int64 `json:"principal_id"`
	RoleID      int64 `json:"role_id"`
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.PrincipalID <= 0 || req.RoleID <= 0 {
		httputil.WriteBadRequest(w, "principal_id and role_id are required")
		return
	}

	if err := s.manager.RevokeRole(r.Context(), req.PrincipalID, req.RoleID); err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.WriteBadRequest(w, "invalid principal id")
		return
	}

	activeOnly := r.URL.Query().Get("all") != "true"

	assignments, err := s.manager.ListAssignments(r.Context(), id, activeOnly)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if assignments == nil {
		assignments = []rbac.UserRoleAssignment{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"principal_id": id,
		"assignments":  assignments,
	})
}

func (s *Server) handlePrincipalPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.WriteBadRequest(w, "invalid principal id")
		return
	}

	perms, err := s.resolver.EffectivePermissions(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if perms == nil {
		perms = []rbac.EffectivePermission{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"principal_id": id,
		"permissions":  perms,
	})
}

// parseQueryInt reads an optional integer query parameter
func parseQueryInt(r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	return v, err == nil
}
