package api

import (
	"net/http"

	"github.com/gradekeep/gradekeep/pkg/httputil"
	"github.com/gradekeep/gradekeep/pkg/rbac"
)

// writeDomainError maps classified engine errors to HTTP statuses
func writeDomainError(w http.ResponseWriter, err error) {
	switch rbac.KindOf(err) {
	case rbac.KindNotFound:
		httputil.WriteNotFoundError(w, err.Error())
	case rbac.KindConflict:
		httputil.WriteConflict(w, err.Error())
	case rbac.KindForbidden:
		httputil.WriteForbidden(w, err.Error())
	case rbac.KindInvalid:
		httputil.WriteBadRequest(w, err.Error())
	default:
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}
