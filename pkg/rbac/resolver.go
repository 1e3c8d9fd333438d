package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gradekeep/gradekeep/pkg/audit"
	"github.com/gradekeep/gradekeep/pkg/auth"
	"github.com/gradekeep/gradekeep/pkg/observability"
)

// AssignmentChecker answers whether a resource instance is explicitly
// assigned to a principal, for permissions with ScopeAssigned. Deployments
// plug in their own checker; the default allows, leaving enforcement to the
// module that owns the assignment data.
type AssignmentChecker interface {
	IsAssigned(ctx context.Context, principalID int64, check AccessCheck) (bool, error)
}

// AssignmentCheckerFunc adapts a function to the AssignmentChecker interface.
type AssignmentCheckerFunc func(ctx context.Context, principalID int64, check AccessCheck) (bool, error)

// IsAssigned calls the wrapped function
func (f AssignmentCheckerFunc) IsAssigned(ctx context.Context, principalID int64, check AccessCheck) (bool, error) {
	return f(ctx, principalID, check)
}

// ResolverConfig wires a Resolver's collaborators. Store, Cache, Principals,
// and Logger are required; the rest are optional.
type ResolverConfig struct {
	Store       Store
	Cache       DecisionCache
	Principals  auth.PrincipalStore
	Assignments AssignmentChecker
	Recorder    audit.Recorder
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// Resolver answers authorization checks against a principal's resolved
// permission set. Checks fail closed: any resolution failure denies.
type Resolver struct {
	store       Store
	cache       DecisionCache
	principals  auth.PrincipalStore
	assignments AssignmentChecker
	recorder    audit.Recorder
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewResolver creates a Resolver from cfg
func NewResolver(cfg ResolverConfig) *Resolver {
	assignments := cfg.Assignments
	if assignments == nil {
		assignments = AssignmentCheckerFunc(func(ctx context.Context, principalID int64, check AccessCheck) (bool, error) {
			return true, nil
		})
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = audit.NoopRecorder{}
	}
	return &Resolver{
		store:       cfg.Store,
		cache:       cfg.Cache,
		principals:  cfg.Principals,
		assignments: assignments,
		recorder:    recorder,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// Authorize decides whether the principal may perform the access described
// by check. The returned Decision is always safe to act on: on any internal
// failure it denies, and the error reports the cause.
func (r *Resolver) Authorize(ctx context.Context, principalID int64, check AccessCheck) (Decision, error) {
	start := time.Now()

	if check.Module == "" || check.Action == "" {
		return Decision{Allowed: false, Reason: "module and action are required"},
			Invalidf("module and action are required")
	}

	perms, err := r.loadPermissions(ctx, principalID)
	if err != nil {
		r.observe(ctx, principalID, check, Decision{Allowed: false, Reason: "resolution failed"}, start)
		return Decision{Allowed: false, Reason: "resolution failed"}, err
	}

	decision := r.evaluate(ctx, principalID, check, perms)
	r.observe(ctx, principalID, check, decision, start)
	return decision, nil
}

// EffectivePermissions returns the principal's resolved permission set,
// using the same cache-first load path as Authorize.
func (r *Resolver) EffectivePermissions(ctx context.Context, principalID int64) ([]EffectivePermission, error) {
	return r.loadPermissions(ctx, principalID)
}

// loadPermissions is cache-first. A cache read failure degrades to a miss;
// a cache write failure is logged and the fresh set is still returned.
func (r *Resolver) loadPermissions(ctx context.Context, principalID int64) ([]EffectivePermission, error) {
	if perms, ok, err := r.cache.Get(ctx, principalID); err != nil {
		r.logger.WithError(err).WithField("principal_id", principalID).Warn("Permission cache read failed")
	} else if ok {
		if r.metrics != nil {
			r.metrics.CacheHitsTotal.WithLabelValues("decision").Inc()
		}
		return perms, nil
	}
	if r.metrics != nil {
		r.metrics.CacheMissesTotal.WithLabelValues("decision").Inc()
	}

	perms, err := r.resolve(ctx, principalID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Put(ctx, principalID, perms); err != nil {
		r.logger.WithError(err).WithField("principal_id", principalID).Warn("Permission cache write failed")
	}

	return perms, nil
}

// resolve builds the permission set from storage. Principals with no active
// assignments fall back to the role named by their static role label, which
// keeps accounts created before dynamic assignments resolving.
func (r *Resolver) resolve(ctx context.Context, principalID int64) ([]EffectivePermission, error) {
	perms, err := r.store.EffectivePermissions(ctx, principalID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if len(perms) > 0 {
		return perms, nil
	}

	principal, err := r.principals.GetPrincipal(ctx, principalID)
	if errors.Is(err, auth.ErrPrincipalNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !principal.IsActive || principal.RoleLabel == "" {
		return nil, nil
	}

	role, err := r.store.GetRoleByName(ctx, principal.RoleLabel)
	if IsNotFound(err) {
		r.logger.WithField("principal_id", principalID).
			WithField("role_label", principal.RoleLabel).
			Debug("No role matches principal's legacy label")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return r.store.RolePermissionSet(ctx, role.ID)
}

// evaluate walks the permission set in order. A permission that matches the
// module, action, and resource but fails its scope does not end the search;
// a later, broader permission may still grant.
func (r *Resolver) evaluate(ctx context.Context, principalID int64, check AccessCheck, perms []EffectivePermission) Decision {
	for i := range perms {
		ep := &perms[i]
		if !matches(ep, check) {
			continue
		}
		if r.scopeAllows(ctx, principalID, check, ep) {
			matched := *ep
			return Decision{
				Allowed: true,
				Reason:  fmt.Sprintf("matched %s:%s scope=%s", ep.Module, ep.Action, ep.Scope),
				Matched: &matched,
			}
		}
	}

	return Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("no permission grants %s:%s", check.Module, check.Action),
	}
}

// matches applies the wildcard rules. A permission without a resource
// applies to every resource of its module; a check without a resource is
// satisfied by any resource-narrowed permission for the module and action.
func matches(ep *EffectivePermission, check AccessCheck) bool {
	if ep.Module != "*" && ep.Module != check.Module {
		return false
	}
	if ep.Action != "*" && ep.Action != check.Action {
		return false
	}
	if ep.Resource != "" && check.Resource != "" && ep.Resource != check.Resource {
		return false
	}
	return true
}

func (r *Resolver) scopeAllows(ctx context.Context, principalID int64, check AccessCheck, ep *EffectivePermission) bool {
	switch ep.Scope {
	case ScopeAll:
		return true

	case ScopeOwn:
		return check.OwnerID != nil && *check.OwnerID == principalID

	case ScopeGroup:
		return r.narrowedScopeAllows(principalID, check, ep, "group",
			scopeContextOf(ep).GroupID, check.GroupID)

	case ScopeDepartment:
		return r.narrowedScopeAllows(principalID, check, ep, "department",
			scopeContextOf(ep).DepartmentID, check.DepartmentID)

	case ScopeAssigned:
		assigned, err := r.assignments.IsAssigned(ctx, principalID, check)
		if err != nil {
			r.logger.WithError(err).WithField("principal_id", principalID).
				Warn("Assignment check failed")
			return false
		}
		return assigned

	default:
		r.logger.WithField("scope", string(ep.Scope)).Warn("Unknown permission scope")
		return false
	}
}

// narrowedScopeAllows compares the assignment context's binding against the
// check's attribute. A bound context requires the matching attribute on the
// check. An unbound context accepts any value of the attribute as long as
// the check carries one at all; that permissive grant is logged so the gap
// is visible.
func (r *Resolver) narrowedScopeAllows(principalID int64, check AccessCheck, ep *EffectivePermission, kind string, bound, requested *int64) bool {
	if bound != nil {
		return requested != nil && *bound == *requested
	}
	if requested == nil {
		return false
	}

	r.logger.WithFields(map[string]interface{}{
		"principal_id": principalID,
		"module":       check.Module,
		"action":       check.Action,
		"scope":        string(ep.Scope),
	}).Warnf("Granting unnarrowed %s scope", kind)
	return true
}

// scopeContextOf builds the narrowing context for a permission. The
// assignment context takes precedence; a field it leaves unbound falls back
// to the role link's conditions. Malformed documents leave the scope
// unnarrowed.
func scopeContextOf(ep *EffectivePermission) ScopeContext {
	var sc ScopeContext
	if len(ep.Context) > 0 {
		_ = json.Unmarshal(ep.Context, &sc)
	}
	if len(ep.Conditions) > 0 {
		var cond ScopeContext
		_ = json.Unmarshal(ep.Conditions, &cond)
		if sc.GroupID == nil {
			sc.GroupID = cond.GroupID
		}
		if sc.DepartmentID == nil {
			sc.DepartmentID = cond.DepartmentID
		}
	}
	return sc
}

func (r *Resolver) observe(ctx context.Context, principalID int64, check AccessCheck, decision Decision, start time.Time) {
	outcome := "denied"
	if decision.Allowed {
		outcome = "allowed"
	}

	if r.metrics != nil {
		r.metrics.AuthzChecksTotal.WithLabelValues(check.Module, outcome).Inc()
		r.metrics.AuthzCheckDuration.Observe(time.Since(start).Seconds())
	}

	metadata, _ := json.Marshal(check)
	_ = r.recorder.Record(ctx, audit.Record{
		PrincipalID: principalID,
		Module:      check.Module,
		Action:      check.Action,
		Resource:    check.Resource,
		Allowed:     decision.Allowed,
		Reason:      decision.Reason,
		Metadata:    metadata,
	})
}
