// Package audit provides best-effort persistence of authorization decisions.
//
// The DBRecorder writes entries to the audit_records table; AsyncRecorder
// wraps any Recorder so writes happen off the request path with a bounded
// timeout. Audit failures are logged and counted but never block or fail
// the operation being audited.
package audit
