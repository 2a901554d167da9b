package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/rako-bridge/internal/audit"
)

// handleListCommands returns paginated command journal entries, newest
// first.
//
// Query parameters:
//   - outcome: filter by outcome (accepted, rejected, dropped)
//   - room: filter by room index
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command journal not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Outcome: q.Get("outcome")}

	switch filter.Outcome {
	case "", audit.OutcomeAccepted, audit.OutcomeRejected, audit.OutcomeDropped:
	default:
		writeBadRequest(w, "unknown outcome: "+filter.Outcome)
		return
	}

	if v := q.Get("room"); v != "" {
		room, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "room must be an integer")
			return
		}
		filter.Room = &room
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command journal", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
