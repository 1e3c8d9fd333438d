package rbac

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gradekeep/gradekeep/pkg/auth"
	"github.com/gradekeep/gradekeep/pkg/contextkeys"
	"github.com/gradekeep/gradekeep/pkg/httputil"
	"github.com/gradekeep/gradekeep/pkg/observability"
)

// Requirement is one acceptable permission for a guarded route.
type Requirement struct {
	Module   string
	Action   string
	Resource string
}

// Guard produces route middleware that enforces authorization. A route may
// accept several requirements; access is granted when any one of them is.
type Guard struct {
	resolver *Resolver
	logger   *observability.Logger
}

// NewGuard creates a Guard over the resolver
func NewGuard(resolver *Resolver, logger *observability.Logger) *Guard {
	return &Guard{resolver: resolver, logger: logger}
}

// Require returns middleware enforcing the requirements. With no
// requirements the route only demands an authenticated principal. Resource
// attributes for scope evaluation are read from route variables and query
// parameters (resource_id, owner_id, group_id, department_id).
func (g *Guard) Require(requirements ...Requirement) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := r.Context().Value(contextkeys.PrincipalKey).(*auth.Principal)
			if !ok || principal == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			if len(requirements) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			attrs := checkAttributes(r)
			for _, req := range requirements {
				check := AccessCheck{
					Module:       req.Module,
					Action:       req.Action,
					Resource:     req.Resource,
					ResourceID:   attrs.ResourceID,
					OwnerID:      attrs.OwnerID,
					GroupID:      attrs.GroupID,
					DepartmentID: attrs.DepartmentID,
				}

				decision, err := g.resolver.Authorize(r.Context(), principal.ID, check)
				if err != nil {
					g.logger.WithError(err).
						WithField("principal_id", principal.ID).
						WithField("module", req.Module).
						Error("Authorization check failed")
					httputil.WriteErrorMessage(w, http.StatusInternalServerError, "authorization check failed")
					return
				}
				if decision.Allowed {
					next.ServeHTTP(w, r)
					return
				}
			}

			httputil.WriteForbidden(w, "access denied")
		})
	}
}

// checkAttributes extracts scope evaluation attributes from the request.
// Route variables win over query parameters.
func checkAttributes(r *http.Request) AccessCheck {
	var attrs AccessCheck

	vars := mux.Vars(r)
	query := r.URL.Query()

	lookup := func(name string) *int64 {
		raw := vars[name]
		if raw == "" {
			raw = query.Get(name)
		}
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil
		}
		return &v
	}

	attrs.ResourceID = lookup("resource_id")
	attrs.OwnerID = lookup("owner_id")
	attrs.GroupID = lookup("group_id")
	attrs.DepartmentID = lookup("department_id")
	return attrs
}
