// Package auth defines the Principal model consumed by the authorization
// engine and the PrincipalStore used to resolve a principal's identity and
// static role label. It deliberately contains no authentication logic: who
// the caller is gets established upstream (gateway, session layer), and this
// package only looks the resulting identity up.
package auth
