package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gradekeep/gradekeep/pkg/httputil"
	"github.com/gradekeep/gradekeep/pkg/rbac"
)

// roleResponse pairs a role with the permission refs the operation could
// not resolve.
type roleResponse struct {
	Role       *rbac.Role           `json:"role"`
	Unresolved []rbac.PermissionRef `json:"unresolved,omitempty"`
}

func pathID(r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var input rbac.CreateRoleInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	role, unresolved, err := s.manager.CreateRole(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, roleResponse{Role: role, Unresolved: unresolved})
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	roles, err := s.manager.ListRoles(r.Context(), includeInactive)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if roles == nil {
		roles = []rbac.Role{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles})
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.WriteBadRequest(w, "invalid role id")
		return
	}

	role, err := s.manager.GetRole(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, role)
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.WriteBadRequest(w, "invalid role id")
		return
	}

	var input rbac.UpdateRoleInput
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	role, unresolved, err := s.manager.UpdateRole(r.Context(), id, input)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, roleResponse{Role: role, Unresolved: unresolved})
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.WriteBadRequest(w, "invalid role id")
		return
	}

	if err := s.manager.DeleteRole(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

func (s *Server) handleToggleRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.WriteBadRequest(w, "invalid role id")
		return
	}

	role, err := s.manager.ToggleRoleStatus(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, role)
}
