// Package api exposes the authorization engine over HTTP: the check and
// effective-permission endpoints for callers, and the role, permission,
// assignment, and audit management endpoints for administrators. Management
// routes are themselves guarded by the rbac:manage permission.
package api
