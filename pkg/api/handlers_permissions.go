package api

import (
	"net/http"

	"github.com/gradekeep/gradekeep/pkg/httputil"
	"github.com/gradekeep/gradekeep/pkg/rbac"
)

func (s *Server) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var input rbac.Permission
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	perm, err := s.manager.CreatePermission(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, perm)
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := s.manager.ListPermissions(r.Context(), r.URL.Query().Get("module"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if perms == nil {
		perms = []rbac.Permission{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{"permissions": perms})
}

func (s *Server) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.WriteBadRequest(w, "invalid permission id")
		return
	}

	var input rbac.Permission
	if err := httputil.DecodeJSON(r, &input); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	perm, err := s.manager.UpdatePermission(r.Context(), id, input)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, perm)
}

func (s *Server) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httputil.WriteBadRequest(w, "invalid permission id")
		return
	}

	if err := s.manager.DeletePermission(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}
