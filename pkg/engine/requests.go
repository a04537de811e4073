package engine

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/getmockd/mockcore/pkg/mock"
	"github.com/getmockd/mockcore/pkg/requestlog"
)

// RequestList is the response body of a request history listing.
type RequestList struct {
	Requests []*requestlog.Entry `json:"requests"`
	Count    int                 `json:"count"`
	Total    int                 `json:"total"`
}

// handleRequests serves the request history:
//
//	GET    /__mockcore/requests        list, newest first
//	GET    /__mockcore/requests/{id}   one entry
//	DELETE /__mockcore/requests        clear
func (h *Handler) handleRequests(w http.ResponseWriter, r *http.Request) {
	entryID := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, RequestsPath), "/")

	switch {
	case r.Method == http.MethodGet && entryID == "":
		h.handleListRequests(w, r)
	case r.Method == http.MethodGet:
		entry := h.requests.Get(entryID)
		if entry == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error":   "not_found",
				"message": "Request log entry not found",
			})
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case r.Method == http.MethodDelete && entryID == "":
		h.requests.Clear()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
			"error":   "method_not_allowed",
			"message": "Method not allowed",
		})
	}
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := &requestlog.Filter{
		Limit:  100,
		Method: q.Get("method"),
		Path:   q.Get("path"),
		Route:  q.Get("route"),
		Source: mock.Source(q.Get("source")),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset >= 0 {
		filter.Offset = offset
	}
	if status, err := strconv.Atoi(q.Get("status")); err == nil {
		filter.Status = status
	}
	if hasError, err := strconv.ParseBool(q.Get("hasError")); err == nil {
		filter.HasError = &hasError
	}

	entries := h.requests.List(filter)
	writeJSON(w, http.StatusOK, RequestList{
		Requests: entries,
		Count:    len(entries),
		Total:    h.requests.Count(),
	})
}
