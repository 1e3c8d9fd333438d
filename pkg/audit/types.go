package audit

import (
	"encoding/json"
	"time"
)

// Record is a single authorization audit entry. Records are written on a
// best-effort basis: a failed write is logged and never surfaced to the
// caller, and it never changes an authorization outcome.
type Record struct {
	ID          int64           `json:"id,omitempty"`
	PrincipalID int64           `json:"principal_id"`
	Module      string          `json:"module"`
	Action      string          `json:"action"`
	Resource    string          `json:"resource,omitempty"`
	Allowed     bool            `json:"allowed"`
	Reason      string          `json:"reason,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	At          time.Time       `json:"at"`
}

// Filter narrows a ListRecords query. Zero values mean "no constraint".
type Filter struct {
	PrincipalID int64
	Module      string
	Allowed     *bool
	Since       time.Time
	Until       time.Time
	Limit       int
	Offset      int
}
