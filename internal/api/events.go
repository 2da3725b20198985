package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/invigilo-ai/sentinel/internal/evread"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// handleListEvents implements GET /api/courses/{course_id}/events.
// Query params: session_id, user_id, kind, informational, start_time,
// end_time (RFC3339), page, page_size.
func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Event history not available"})
		return
	}

	courseID := r.PathValue("course_id")
	page, pageSize := paginationParams(r)

	var sessionID *string
	if v := r.URL.Query().Get("session_id"); v != "" {
		sessionID = &v
	}

	events, total, err := d.Reader.ListEvents(r.Context(), listParamsFromQuery(r, courseID, sessionID, page, pageSize))
	if err != nil {
		d.Logger.Error("list events failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list events"})
		return
	}

	writeJSON(w, http.StatusOK, eventListResp(events, total, page, pageSize))
}

// handleGetEvent implements GET /api/courses/{course_id}/events/{event_id}.
func (d *Dependencies) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Event history not available"})
		return
	}

	event, err := d.Reader.GetEvent(r.Context(), r.PathValue("course_id"), r.PathValue("event_id"))
	if err != nil {
		d.Logger.Error("get event failed", zap.Error(err))
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Event not found"})
		return
	}
	if event == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Event not found"})
		return
	}

	writeJSON(w, http.StatusOK, historyEventResp(*event))
}

// handleGetAnalytics implements GET /api/courses/{course_id}/analytics.
// Query param: days (default 7).
func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Analytics not available"})
		return
	}

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 90 {
			days = n
		}
	}

	result, err := d.Reader.GetAnalytics(r.Context(), r.PathValue("course_id"), days)
	if err != nil {
		d.Logger.Error("analytics query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to compute analytics"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// --- query helpers ---

func paginationParams(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = defaultPageSize
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxPageSize {
			pageSize = n
		}
	}
	return page, pageSize
}

func listParamsFromQuery(r *http.Request, courseID string, sessionID *string, page, pageSize int) evread.ListEventsParams {
	params := evread.ListEventsParams{
		CourseID:  courseID,
		SessionID: sessionID,
		Page:      page,
		PageSize:  pageSize,
	}

	q := r.URL.Query()
	if v := q.Get("user_id"); v != "" {
		params.UserID = &v
	}
	if v := q.Get("kind"); v != "" {
		params.Kind = &v
	}
	if v := q.Get("informational"); v != "" {
		b := v == "true" || v == "1"
		params.Informational = &b
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}
	return params
}

func historyEventResp(e evread.EventRow) HistoryEventResp {
	return HistoryEventResp{
		EventID:          e.EventID,
		SessionID:        e.SessionID,
		UserID:           e.UserID,
		CourseID:         e.CourseID,
		Timestamp:        e.Timestamp,
		Kind:             e.Kind,
		Message:          e.Message,
		Confidence:       e.Confidence,
		Informational:    e.Informational == 1,
		Source:           e.Source,
		SustainedSeconds: e.SustainedSeconds,
		TabSwitchCount:   e.TabSwitchCount,
		AlertDispatched:  e.AlertDispatched == 1,
	}
}

func eventListResp(events []evread.EventRow, total, page, pageSize int) EventListResp {
	out := make([]HistoryEventResp, 0, len(events))
	for _, e := range events {
		out = append(out, historyEventResp(e))
	}
	return EventListResp{
		Events:   out,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
}
