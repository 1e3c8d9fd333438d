package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradekeep/gradekeep/pkg/audit"
	"github.com/gradekeep/gradekeep/pkg/auth"
	"github.com/gradekeep/gradekeep/pkg/middleware"
	"github.com/gradekeep/gradekeep/pkg/observability"
	"github.com/gradekeep/gradekeep/pkg/rbac"
)

type testServer struct {
	router  http.Handler
	db      *sql.DB
	store   *rbac.SQLStore
	manager *rbac.Manager
	adminID int64
	plainID int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := rbac.SetupTestDB(t)
	store := rbac.NewSQLStore(db)
	cache := rbac.NewStoreDecisionCache(db, time.Hour)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	principals := auth.NewSQLPrincipalStore(db)

	resolver := rbac.NewResolver(rbac.ResolverConfig{
		Store:      store,
		Cache:      cache,
		Principals: principals,
		Logger:     logger,
	})
	manager := rbac.NewManager(store, cache, logger, nil)

	server := NewServer(ServerConfig{
		Resolver:   resolver,
		Manager:    manager,
		Principals: principals,
		AuditLog:   audit.NewDBRecorder(db),
		Logger:     logger,
	})

	ctx := context.Background()
	manage := rbac.CreateTestPermission(t, store, "rbac", "manage", rbac.ScopeAll)
	adminRole := rbac.CreateTestRole(t, store, "ADMIN", manage)
	adminID := rbac.CreateTestUser(t, db, "admin", "")
	plainID := rbac.CreateTestUser(t, db, "plain", "")

	_, err := manager.AssignRole(ctx, rbac.AssignRoleInput{PrincipalID: adminID, RoleID: adminRole.ID})
	require.NoError(t, err)

	return &testServer{
		router:  server.Router(),
		db:      db,
		store:   store,
		manager: manager,
		adminID: adminID,
		plainID: plainID,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, principalID int64, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if principalID > 0 {
		req.Header.Set(middleware.PrincipalHeader, fmt.Sprintf("%d", principalID))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func TestCheckEndpoint(t *testing.T) {
	ts := newTestServer(t)

	perm := rbac.CreateTestPermission(t, ts.store, "grades", "read", rbac.ScopeAll)
	role := rbac.CreateTestRole(t, ts.store, "READER", perm)
	_, err := ts.manager.AssignRole(context.Background(), rbac.AssignRoleInput{PrincipalID: ts.plainID, RoleID: role.ID})
	require.NoError(t, err)

	rec := ts.request(t, "POST", "/api/v1/authz/check", ts.plainID, checkRequest{
		Check: rbac.AccessCheck{Module: "grades", Action: "read"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var decision rbac.Decision
	decodeBody(t, rec, &decision)
	assert.True(t, decision.Allowed)
	assert.NotNil(t, decision.Matched)

	rec = ts.request(t, "POST", "/api/v1/authz/check", ts.plainID, checkRequest{
		Check: rbac.AccessCheck{Module: "grades", Action: "delete"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &decision)
	assert.False(t, decision.Allowed)
}

func TestCheckRequiresAuthentication(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "POST", "/api/v1/authz/check", 0, checkRequest{
		Check: rbac.AccessCheck{Module: "grades", Action: "read"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckOtherPrincipalNeedsAdmin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "POST", "/api/v1/authz/check", ts.plainID, checkRequest{
		PrincipalID: &ts.adminID,
		Check:       rbac.AccessCheck{Module: "grades", Action: "read"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.request(t, "POST", "/api/v1/authz/check", ts.adminID, checkRequest{
		PrincipalID: &ts.plainID,
		Check:       rbac.AccessCheck{Module: "grades", Action: "read"},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "POST", "/api/v1/authz/check", ts.plainID, checkRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEffectivePermissionsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	perm := rbac.CreateTestPermission(t, ts.store, "grades", "read", rbac.ScopeOwn)
	role := rbac.CreateTestRole(t, ts.store, "SELF_READER", perm)
	_, err := ts.manager.AssignRole(context.Background(), rbac.AssignRoleInput{PrincipalID: ts.plainID, RoleID: role.ID})
	require.NoError(t, err)

	rec := ts.request(t, "GET", "/api/v1/authz/permissions", ts.plainID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		PrincipalID int64                      `json:"principal_id"`
		Permissions []rbac.EffectivePermission `json:"permissions"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, ts.plainID, body.PrincipalID)
	require.Len(t, body.Permissions, 1)
	assert.Equal(t, rbac.ScopeOwn, body.Permissions[0].Scope)

	// peeking at someone else requires admin
	rec = ts.request(t, "GET", fmt.Sprintf("/api/v1/authz/permissions?principal_id=%d", ts.adminID), ts.plainID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rbac.CreateTestPermission(t, ts.store, "grades", "read", rbac.ScopeAll)

	rec := ts.request(t, "POST", "/api/v1/roles", ts.adminID, rbac.CreateRoleInput{
		Name: "GRADE_READER",
		Permissions: []rbac.PermissionRef{
			{Module: "grades", Action: "read", Scope: rbac.ScopeAll},
			{Module: "grades", Action: "purge", Scope: rbac.ScopeAll},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created roleResponse
	decodeBody(t, rec, &created)
	require.NotNil(t, created.Role)
	assert.Len(t, created.Role.Permissions, 1)
	assert.Len(t, created.Unresolved, 1)

	rec = ts.request(t, "GET", fmt.Sprintf("/api/v1/roles/%d", created.Role.ID), ts.adminID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, "GET", "/api/v1/roles", ts.adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, "DELETE", fmt.Sprintf("/api/v1/roles/%d", created.Role.ID), ts.adminID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.request(t, "GET", fmt.Sprintf("/api/v1/roles/%d", created.Role.ID), ts.adminID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoleEndpointsRequireAdmin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "GET", "/api/v1/roles", ts.plainID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.request(t, "POST", "/api/v1/roles", ts.plainID, rbac.CreateRoleInput{Name: "SNEAKY"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDuplicateRoleConflict(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "POST", "/api/v1/roles", ts.adminID, rbac.CreateRoleInput{Name: "TEACHER"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.request(t, "POST", "/api/v1/roles", ts.adminID, rbac.CreateRoleInput{Name: "TEACHER"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPermissionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "POST", "/api/v1/permissions", ts.adminID, rbac.Permission{
		Module: "library", Action: "borrow", Scope: rbac.ScopeOwn,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var perm rbac.Permission
	decodeBody(t, rec, &perm)
	require.NotZero(t, perm.ID)

	rec = ts.request(t, "PUT", fmt.Sprintf("/api/v1/permissions/%d", perm.ID), ts.adminID, rbac.Permission{
		Module: "library", Action: "borrow", Scope: rbac.ScopeAll,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, "GET", "/api/v1/permissions?module=library", ts.adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Permissions []rbac.Permission `json:"permissions"`
	}
	decodeBody(t, rec, &listing)
	assert.Len(t, listing.Permissions, 1)

	rec = ts.request(t, "DELETE", fmt.Sprintf("/api/v1/permissions/%d", perm.ID), ts.adminID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.request(t, "POST", "/api/v1/permissions", ts.adminID, rbac.Permission{
		Module: "library", Action: "borrow", Scope: "SOMETIMES",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignmentEndpoints(t *testing.T) {
	ts := newTestServer(t)

	perm := rbac.CreateTestPermission(t, ts.store, "grades", "read", rbac.ScopeAll)
	role := rbac.CreateTestRole(t, ts.store, "READER", perm)

	rec := ts.request(t, "POST", "/api/v1/assignments", ts.adminID, map[string]interface{}{
		"principal_id": ts.plainID,
		"role_id":      role.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var assignment rbac.UserRoleAssignment
	decodeBody(t, rec, &assignment)
	assert.True(t, assignment.IsActive)
	require.NotNil(t, assignment.AssignedBy)
	assert.Equal(t, ts.adminID, *assignment.AssignedBy)

	// the grant is visible immediately
	rec = ts.request(t, "POST", "/api/v1/authz/check", ts.plainID, checkRequest{
		Check: rbac.AccessCheck{Module: "grades", Action: "read"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var decision rbac.Decision
	decodeBody(t, rec, &decision)
	assert.True(t, decision.Allowed)

	rec = ts.request(t, "GET", fmt.Sprintf("/api/v1/principals/%d/assignments", ts.plainID), ts.adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var assignList struct {
		Assignments []rbac.UserRoleAssignment `json:"assignments"`
	}
	decodeBody(t, rec, &assignList)
	assert.Len(t, assignList.Assignments, 1)

	rec = ts.request(t, "DELETE", "/api/v1/assignments", ts.adminID, revokeRequest{
		PrincipalID: ts.plainID, RoleID: role.ID,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	// and so is the revocation
	rec = ts.request(t, "POST", "/api/v1/authz/check", ts.plainID, checkRequest{
		Check: rbac.AccessCheck{Module: "grades", Action: "read"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &decision)
	assert.False(t, decision.Allowed)
}

func TestAuditEndpoint(t *testing.T) {
	ts := newTestServer(t)

	// generate a decision worth auditing
	recorder := audit.NewDBRecorder(ts.db)
	require.NoError(t, recorder.Record(context.Background(), audit.Record{
		PrincipalID: ts.plainID, Module: "grades", Action: "read", Allowed: false,
	}))

	rec := ts.request(t, "GET", fmt.Sprintf("/api/v1/audit?principal_id=%d", ts.plainID), ts.adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Records []audit.Record `json:"records"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Records, 1)
	assert.Equal(t, "grades", body.Records[0].Module)

	rec = ts.request(t, "GET", "/api/v1/audit", ts.plainID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
