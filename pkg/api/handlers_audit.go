package api

import (
	"net/http"
	"time"

	"github.com/gradekeep/gradekeep/pkg/audit"
	"github.com/gradekeep/gradekeep/pkg/httputil"
)

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	var filter audit.Filter

	if v, ok := parseQueryInt(r, "principal_id"); ok {
		filter.PrincipalID = v
	}
	filter.Module = r.URL.Query().Get("module")

	switch r.URL.Query().Get("allowed") {
	case "true":
		allowed := true
		filter.Allowed = &allowed
	case "false":
		allowed := false
		filter.Allowed = &allowed
	}

	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "since must be RFC 3339")
			return
		}
		filter.Since = t
	}

	if v, ok := parseQueryInt(r, "limit"); ok {
		filter.Limit = int(v)
	}
	if v, ok := parseQueryInt(r, "offset"); ok {
		filter.Offset = int(v)
	}

	records, err := s.auditLog.ListRecords(r.Context(), filter)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to list audit records")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{"records": records})
}
