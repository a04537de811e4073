package engine

import (
	"net/http"
	"strings"

	"github.com/getmockd/mockcore/pkg/websocket"
)

// SessionList is the response body of a session listing.
type SessionList struct {
	Sessions []websocket.SessionInfo `json:"sessions"`
	Count    int                     `json:"count"`
}

// handleSessions serves the running WebSocket sessions:
//
//	GET    /__mockcore/sessions        list, oldest first
//	DELETE /__mockcore/sessions/{id}   close one session
func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, SessionsPath), "/")

	switch {
	case r.Method == http.MethodGet && sessionID == "":
		sessions := h.sessions.SessionList()
		writeJSON(w, http.StatusOK, SessionList{Sessions: sessions, Count: len(sessions)})
	case r.Method == http.MethodDelete && sessionID != "":
		if !h.sessions.CloseSession(sessionID, "closed by operator") {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error":   "not_found",
				"message": "Session not found",
			})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
			"error":   "method_not_allowed",
			"message": "Method not allowed",
		})
	}
}
