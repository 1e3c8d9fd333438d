package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gradekeep/gradekeep/pkg/auth"
	"github.com/gradekeep/gradekeep/pkg/contextkeys"
	"github.com/gradekeep/gradekeep/pkg/httputil"
	"github.com/gradekeep/gradekeep/pkg/observability"
)

// PrincipalHeader carries the authenticated user's ID, set by the upstream
// gateway after it has verified the session.
const PrincipalHeader = "X-Principal-ID"

// Principal resolves the calling principal from the gateway header and puts
// it on the request context. Requests without the header, with an unknown
// principal, or with a deactivated account are rejected.
func Principal(principals auth.PrincipalStore, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(PrincipalHeader)
			if raw == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				httputil.WriteUnauthorized(w, "invalid principal")
				return
			}

			principal, err := principals.GetPrincipal(r.Context(), id)
			if errors.Is(err, auth.ErrPrincipalNotFound) {
				httputil.WriteUnauthorized(w, "unknown principal")
				return
			}
			if err != nil {
				logger.WithError(err).WithField("principal_id", id).Error("Principal lookup failed")
				httputil.WriteErrorMessage(w, http.StatusInternalServerError, "principal lookup failed")
				return
			}
			if !principal.IsActive {
				httputil.WriteForbidden(w, "account is deactivated")
				return
			}

			ctx := contextkeys.WithPrincipal(r.Context(), principal)
			ctx = observability.WithPrincipalID(ctx, strconv.FormatInt(principal.ID, 10))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
