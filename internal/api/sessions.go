package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	_ "image/jpeg" // frame dimension decoding
	_ "image/png"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/invigilo-ai/sentinel/internal/alert"
	"github.com/invigilo-ai/sentinel/internal/auth"
	"github.com/invigilo-ai/sentinel/internal/detector"
	"github.com/invigilo-ai/sentinel/internal/evaluate"
	"github.com/invigilo-ai/sentinel/internal/session"
	"github.com/invigilo-ai/sentinel/internal/storage"
	"go.uber.org/zap"
)

// handleStartSession implements POST /v1/sessions.
func (d *Dependencies) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_id is required"})
		return
	}

	course := courseFromContext(r.Context())
	if course == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing course context"})
		return
	}

	cfg := session.Config{
		Evaluate:       course.Overrides.Apply(d.Defaults.Evaluate),
		MaxTabSwitches: course.Overrides.EffectiveMaxTabSwitches(d.Defaults.MaxTabSwitches),
		GraceDelay:     course.Overrides.EffectiveGraceDelay(d.Defaults.GraceDelay),
	}

	s := d.Sessions.Start(r.Context(), req.UserID, course.CourseID, cfg, time.Now())
	d.Metrics.TotalSessions.Add(1)
	d.Metrics.ActiveSessions.Add(1)

	writeJSON(w, http.StatusCreated, sessionResp(s.State()))
}

// handleGetSession implements GET /v1/sessions/{session_id}.
func (d *Dependencies) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := d.ownedSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResp(s.State()))
}

// handleFrame implements POST /v1/sessions/{session_id}/frames: one full
// detection cycle. A frame arriving while the previous cycle is still in
// flight is dropped with 202; a detector failure skips the cycle without
// touching evaluator state.
func (d *Dependencies) handleFrame(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	d.Metrics.FramesReceived.Add(1)

	s, ok := d.ownedSession(w, r)
	if !ok {
		return
	}

	if !s.BeginCycle() {
		d.Metrics.FramesDropped.Add(1)
		writeJSON(w, http.StatusAccepted, FrameResp{
			Skipped:    true,
			SkipReason: "cycle_in_flight",
			Active:     []string{},
			Events:     []ViolationEventResp{},
		})
		return
	}
	defer s.EndCycle()

	var req FrameReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.ImageB64 == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "image_b64 is required"})
		return
	}

	imageBytes, err := base64.StdEncoding.DecodeString(req.ImageB64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "image_b64 is not valid base64"})
		return
	}

	width, height := req.Width, req.Height
	if width == 0 || height == 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(imageBytes)); err == nil {
			width, height = cfg.Width, cfg.Height
		}
	}

	detectStart := time.Now()
	result, err := d.Detector.DetectUnified(r.Context(), imageBytes)
	d.Metrics.ObserveDetector(time.Since(detectStart))
	if err != nil {
		// Skipped cycle: sustained counters stay untouched, never reset.
		d.Metrics.CyclesSkipped.Add(1)
		d.Logger.Warn("detector unavailable, skipping cycle",
			zap.String("session_id", s.ID),
			zap.Error(err),
		)
		st := s.State()
		resp := sessionResp(st)
		writeJSON(w, http.StatusOK, FrameResp{
			Skipped:    true,
			SkipReason: "detector_unavailable",
			Active:     []string{},
			Events:     []ViolationEventResp{},
			Session:    &resp,
		})
		return
	}

	now := time.Now()
	snap := detector.Snapshot(result, width, height, now)

	res, err := s.ApplyCycle(r.Context(), d.Evaluator, snap, now)
	if err != nil {
		if errors.Is(err, session.ErrEnded) {
			writeJSON(w, http.StatusConflict, ErrorResp{Detail: "session already ended"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "cycle evaluation failed"})
		return
	}
	d.Metrics.FramesEvaluated.Add(1)

	// Fire-and-forget: persist events and dispatch alerts.
	for _, event := range res.Events {
		d.writeViolationEvent(s, event, res.State, snap.HeadSource, !event.Informational)
	}
	if len(res.Events) > 0 && !res.Informational {
		course := courseFromContext(r.Context())
		d.dispatchAlerts(course, alert.Notification{
			Subject:             "Exam violation detected",
			StudentIdentity:     s.UserID,
			ActivityDescription: describeEvents(res.Events),
			Timestamp:           now,
		})
	}

	d.Metrics.ObserveCycle(start)

	st := res.State
	resp := sessionResp(st)
	writeJSON(w, http.StatusOK, FrameResp{
		Skipped:    false,
		Active:     kindStrings(res.Active),
		WarnActive: res.WarnActive,
		Events:     eventResps(res.Events),
		Session:    &resp,
	})
}

// handleTabSwitch implements POST /v1/sessions/{session_id}/tab-switch.
func (d *Dependencies) handleTabSwitch(w http.ResponseWriter, r *http.Request) {
	s, ok := d.ownedSession(w, r)
	if !ok {
		return
	}

	event, st, lockedNow, err := s.RecordTabSwitch(r.Context(), time.Now())
	if err != nil {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "session already ended"})
		return
	}

	d.writeViolationEvent(s, event, st, "tracker", lockedNow)

	if lockedNow {
		d.Metrics.SessionsLocked.Add(1)
		course := courseFromContext(r.Context())
		d.dispatchAlerts(course, alert.Notification{
			Subject:             "Exam session locked",
			StudentIdentity:     s.UserID,
			ActivityDescription: "tab switch limit reached, session will terminate",
			Timestamp:           event.Timestamp,
		})
	}

	writeJSON(w, http.StatusOK, BrowserEventResp{
		Event:   eventResp(event),
		Session: sessionResp(st),
	})
}

// handleWindowBlur implements POST /v1/sessions/{session_id}/blur.
// A soft signal: recorded for the log, never counted toward the lock.
func (d *Dependencies) handleWindowBlur(w http.ResponseWriter, r *http.Request) {
	s, ok := d.ownedSession(w, r)
	if !ok {
		return
	}

	event, st, err := s.RecordWindowBlur(r.Context(), time.Now())
	if err != nil {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "session already ended"})
		return
	}

	d.writeViolationEvent(s, event, st, "tracker", false)

	writeJSON(w, http.StatusOK, BrowserEventResp{
		Event:   eventResp(event),
		Session: sessionResp(st),
	})
}

// handleEndSession implements POST /v1/sessions/{session_id}/end. Idempotent.
func (d *Dependencies) handleEndSession(w http.ResponseWriter, r *http.Request) {
	s, ok := d.ownedSession(w, r)
	if !ok {
		return
	}

	var req EndSessionReq
	_ = readJSON(r, &req) // empty body is fine
	reason := req.Reason
	if reason == "" {
		reason = "completed"
	}

	// The active-sessions gauge is decremented by the manager's end hook,
	// which covers grace-timer terminations too.
	if err := s.End(r.Context(), reason, time.Now()); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to end session"})
		return
	}

	writeJSON(w, http.StatusOK, sessionResp(s.State()))
}

// handleSessionEvents implements GET /v1/sessions/{session_id}/events.
func (d *Dependencies) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Event history not available"})
		return
	}

	s, ok := d.ownedSession(w, r)
	if !ok {
		return
	}
	course := courseFromContext(r.Context())

	page, pageSize := paginationParams(r)
	sessionID := s.ID
	events, total, err := d.Reader.ListEvents(r.Context(), listParamsFromQuery(r, course.CourseID, &sessionID, page, pageSize))
	if err != nil {
		d.Logger.Error("list session events failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list events"})
		return
	}

	writeJSON(w, http.StatusOK, eventListResp(events, total, page, pageSize))
}

// ownedSession resolves the {session_id} path value to a live session owned
// by the authenticated course. Writes the error response itself on failure.
func (d *Dependencies) ownedSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	course := courseFromContext(r.Context())
	if course == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing course context"})
		return nil, false
	}

	id := r.PathValue("session_id")
	s, err := d.Sessions.Get(id)
	if err != nil || s.CourseID != course.CourseID {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Session not found"})
		return nil, false
	}
	return s, true
}

// writeViolationEvent fires one event to the async event writer.
func (d *Dependencies) writeViolationEvent(s *session.Session, event evaluate.ViolationEvent, st session.State, source string, alerted bool) {
	if source == "" {
		source = "detector"
	}
	d.Metrics.ViolationEvents.Add(1)
	d.Writer.Write(&storage.ViolationRecord{
		EventID:          uuid.New().String(),
		SessionID:        s.ID,
		UserID:           s.UserID,
		CourseID:         s.CourseID,
		Timestamp:        event.Timestamp,
		Kind:             event.Kind.String(),
		Message:          event.Message,
		Confidence:       event.Confidence,
		Informational:    event.Informational,
		Source:           source,
		SustainedSeconds: float32(st.ConsecutiveViolationSeconds),
		TabSwitchCount:   uint32(st.TabSwitchCount),
		AlertDispatched:  alerted,
	})
}

// dispatchAlerts fans an alert out to the course's recipient roster in the
// background. Delivery failures never affect the frame cycle.
func (d *Dependencies) dispatchAlerts(course *auth.CourseContext, n alert.Notification) {
	if course == nil || d.Store == nil || d.Dispatcher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		rows, err := d.Store.ListRecipients(ctx, course.CourseID)
		if err != nil {
			d.Logger.Warn("recipient lookup failed, alert not sent",
				zap.String("course_id", course.CourseID),
				zap.Error(err),
			)
			return
		}

		recipients := make([]alert.Recipient, 0, len(rows))
		for _, row := range rows {
			recipients = append(recipients, alert.Recipient{
				Name:    row.Name,
				Address: row.Address,
				Channel: alert.Channel(row.Channel),
				Active:  row.Active,
			})
		}

		result := d.Dispatcher.Dispatch(ctx, n, recipients)
		d.Metrics.AlertsSent.Add(uint64(result.SuccessCount))
		if failed := result.TotalCount - result.SuccessCount; failed > 0 {
			d.Metrics.AlertsFailed.Add(uint64(failed))
		}
	}()
}

// --- response helpers ---

func sessionResp(st session.State) SessionResp {
	return SessionResp{
		SessionID:                   st.ID,
		UserID:                      st.UserID,
		CourseID:                    st.CourseID,
		StartedAt:                   st.StartedAt,
		EndedAt:                     st.EndedAt,
		EndReason:                   st.EndReason,
		TabSwitchCount:              st.TabSwitchCount,
		MaxTabSwitches:              st.MaxTabSwitches,
		ViolationCount:              st.ViolationCount,
		ConsecutiveViolationSeconds: st.ConsecutiveViolationSeconds,
		WarnActive:                  st.WarnActive,
		Locked:                      st.Locked,
	}
}

func eventResp(event evaluate.ViolationEvent) ViolationEventResp {
	return ViolationEventResp{
		Kind:          event.Kind.String(),
		Message:       event.Message,
		Confidence:    event.Confidence,
		Timestamp:     event.Timestamp,
		Informational: event.Informational,
	}
}

func eventResps(events []evaluate.ViolationEvent) []ViolationEventResp {
	out := make([]ViolationEventResp, 0, len(events))
	for _, e := range events {
		out = append(out, eventResp(e))
	}
	return out
}

func kindStrings(kinds []evaluate.ViolationKind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, k.String())
	}
	return out
}

func describeEvents(events []evaluate.ViolationEvent) string {
	if len(events) == 0 {
		return "suspicious activity"
	}
	desc := events[0].Message
	for _, e := range events[1:] {
		desc += "; " + e.Message
	}
	return desc
}
