package api

import (
	"net/http"
	"strconv"

	"github.com/gradekeep/gradekeep/pkg/auth"
	"github.com/gradekeep/gradekeep/pkg/contextkeys"
	"github.com/gradekeep/gradekeep/pkg/httputil"
	"github.com/gradekeep/gradekeep/pkg/observability"
	"github.com/gradekeep/gradekeep/pkg/rbac"
)

// checkRequest is the body of POST /authz/check. PrincipalID defaults to
// the caller; asking about someone else requires the admin permission.
type checkRequest struct {
	PrincipalID *int64           `json:"principal_id,omitempty"`
	Check       rbac.AccessCheck `json:"check"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	caller, ok := r.Context().Value(contextkeys.PrincipalKey).(*auth.Principal)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req checkRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	principalID := caller.ID
	if req.PrincipalID != nil && *req.PrincipalID != caller.ID {
		if !s.callerIsAdmin(r, caller.ID) {
			httputil.WriteForbidden(w, "checking another principal requires rbac:manage")
			return
		}
		principalID = *req.PrincipalID
	}

	decision, err := s.resolver.Authorize(r.Context(), principalID, req.Check)
	if err != nil && !rbac.IsInvalid(err) {
		observability.FromContext(r.Context()).WithError(err).Error("Authorization check failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "authorization check failed")
		return
	}
	if rbac.IsInvalid(err) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	httputil.WriteSuccess(w, decision)
}

func (s *Server) handleEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	caller, ok := r.Context().Value(contextkeys.PrincipalKey).(*auth.Principal)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	principalID := caller.ID
	if raw := r.URL.Query().Get("principal_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid principal_id")
			return
		}
		if id != caller.ID && !s.callerIsAdmin(r, caller.ID) {
			httputil.WriteForbidden(w, "listing another principal's permissions requires rbac:manage")
			return
		}
		principalID = id
	}

	perms, err := s.resolver.EffectivePermissions(r.Context(), principalID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if perms == nil {
		perms = []rbac.EffectivePermission{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"principal_id": principalID,
		"permissions":  perms,
	})
}

// callerIsAdmin checks the admin requirement for cross-principal queries
func (s *Server) callerIsAdmin(r *http.Request, callerID int64) bool {
	decision, err := s.resolver.Authorize(r.Context(), callerID, rbac.AccessCheck{
		Module: adminRequirement.Module,
		Action: adminRequirement.Action,
	})
	return err == nil && decision.Allowed
}
