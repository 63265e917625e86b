package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-blebridge/internal/audit"
	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

// handleListEvents lists the event log.
//
// Query parameters: type, address, since (RFC 3339), limit, offset.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeUnavailable(w, "event log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Type: q.Get("type")}

	if v := q.Get("address"); v != "" {
		addr, err := ble.ParseAddress(v)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		filter.Address = addr.String()
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be RFC 3339")
			return
		}
		filter.Since = since
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeBadRequest(w, name+" must be an integer")
				return
			}
			*dst = n
		}
	}

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
