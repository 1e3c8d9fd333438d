// Package middleware provides the HTTP middleware shared by all routes:
// principal resolution from the gateway's identity header and request ID
// tagging. Per-route authorization lives with rbac.Guard.
package middleware
