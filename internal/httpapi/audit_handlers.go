package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"babycash.store/internal/audit"
)

const (
	defaultAuditLimit          = 100
	maxAuditLimit              = 1000
	defaultSecurityEventWindow = 24 * time.Hour
)

// handleAuditEvents serves admin queries over the audit trail. Exactly one of
// identity_id, action or entity_type+entity_id selects the filter.
func (a *API) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"))

	var (
		events []audit.Event
		err    error
	)
	switch {
	case q.Get("identity_id") != "":
		events, err = a.rec.QueryByIdentity(r.Context(), q.Get("identity_id"), limit)
	case q.Get("action") != "":
		events, err = a.rec.QueryByAction(r.Context(), audit.Action(strings.ToUpper(q.Get("action"))), limit)
	case q.Get("entity_type") != "" && q.Get("entity_id") != "":
		events, err = a.rec.QueryByEntity(r.Context(), q.Get("entity_type"), q.Get("entity_id"))
	default:
		writeError(w, r, http.StatusBadRequest,
			"one of identity_id, action, or entity_type+entity_id is required")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// handleSecurityEvents lists SECURITY_EVENT entries within a lookback window
// (hours=N, default 24).
func (a *API) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	window := defaultSecurityEventWindow
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			writeError(w, r, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		window = time.Duration(hours) * time.Hour
	}

	events, err := a.rec.RecentSecurityEvents(r.Context(), window)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultAuditLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultAuditLimit
	}
	if n > maxAuditLimit {
		return maxAuditLimit
	}
	return n
}
