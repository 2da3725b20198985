package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/invigilo-ai/sentinel/internal/alert"
	"github.com/invigilo-ai/sentinel/internal/store"
	"go.uber.org/zap"
)

// handleCreateCourse implements POST /api/courses.
func (d *Dependencies) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req CreateCourseReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name is required"})
		return
	}

	course, apiKey, err := d.Store.CreateCourse(r.Context(), req.Name, req.ProctorConfig)
	if err != nil {
		d.Logger.Error("create course failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create course"})
		return
	}

	writeJSON(w, http.StatusCreated, CreateCourseResp{
		ID:           course.ID,
		Name:         course.Name,
		APIKey:       apiKey,
		APIKeyPrefix: course.APIKeyPrefix,
		CreatedAt:    course.CreatedAt,
	})
}

// handleListCourses implements GET /api/courses.
func (d *Dependencies) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := d.Store.ListCourses(r.Context())
	if err != nil {
		d.Logger.Error("list courses failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list courses"})
		return
	}

	out := make([]CourseResp, 0, len(courses))
	for _, c := range courses {
		out = append(out, CourseResp{
			ID:           c.ID,
			Name:         c.Name,
			APIKeyPrefix: c.APIKeyPrefix,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetCourse implements GET /api/courses/{course_id}.
func (d *Dependencies) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	course, err := d.Store.GetCourse(r.Context(), r.PathValue("course_id"))
	if err != nil {
		d.Logger.Error("get course failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get course"})
		return
	}
	if course == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Course not found"})
		return
	}

	writeJSON(w, http.StatusOK, CourseResp{
		ID:            course.ID,
		Name:          course.Name,
		APIKeyPrefix:  course.APIKeyPrefix,
		ProctorConfig: course.ProctorConfig,
		CreatedAt:     course.CreatedAt,
		UpdatedAt:     course.UpdatedAt,
	})
}

// handleUpdateCourse implements PATCH /api/courses/{course_id}.
func (d *Dependencies) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	var req UpdateCourseReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	course, err := d.Store.UpdateCourse(r.Context(), r.PathValue("course_id"), store.UpdateCourseParams{
		Name:          req.Name,
		ProctorConfig: req.ProctorConfig,
	})
	if err != nil {
		d.Logger.Error("update course failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update course"})
		return
	}
	if course == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Course not found"})
		return
	}

	writeJSON(w, http.StatusOK, CourseResp{
		ID:            course.ID,
		Name:          course.Name,
		APIKeyPrefix:  course.APIKeyPrefix,
		ProctorConfig: course.ProctorConfig,
		CreatedAt:     course.CreatedAt,
		UpdatedAt:     course.UpdatedAt,
	})
}

// handleDeleteCourse implements DELETE /api/courses/{course_id}.
func (d *Dependencies) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	err := d.Store.DeleteCourse(r.Context(), r.PathValue("course_id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Course not found"})
		return
	}
	if err != nil {
		d.Logger.Error("delete course failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete course"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRotateKey implements POST /api/courses/{course_id}/rotate-key.
func (d *Dependencies) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	course, apiKey, err := d.Store.RotateAPIKey(r.Context(), r.PathValue("course_id"))
	if err != nil {
		d.Logger.Error("rotate key failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to rotate key"})
		return
	}
	if course == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Course not found"})
		return
	}

	writeJSON(w, http.StatusOK, RotateKeyResp{
		APIKey:       apiKey,
		APIKeyPrefix: course.APIKeyPrefix,
	})
}

// --- Recipients ---

// handleCreateRecipient implements POST /api/courses/{course_id}/recipients.
func (d *Dependencies) handleCreateRecipient(w http.ResponseWriter, r *http.Request) {
	var req CreateRecipientReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Name == "" || req.Address == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name and address are required"})
		return
	}
	if req.Channel != string(alert.ChannelEmail) && req.Channel != string(alert.ChannelWhatsApp) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "channel must be email or whatsapp"})
		return
	}

	recipient, err := d.Store.CreateRecipient(r.Context(), r.PathValue("course_id"), req.Name, req.Address, req.Channel)
	if err != nil {
		d.Logger.Error("create recipient failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create recipient"})
		return
	}

	writeJSON(w, http.StatusCreated, recipientResp(recipient))
}

// handleListRecipients implements GET /api/courses/{course_id}/recipients.
func (d *Dependencies) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	recipients, err := d.Store.ListRecipients(r.Context(), r.PathValue("course_id"))
	if err != nil {
		d.Logger.Error("list recipients failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list recipients"})
		return
	}

	out := make([]RecipientResp, 0, len(recipients))
	for _, rec := range recipients {
		out = append(out, recipientResp(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleUpdateRecipient implements PATCH /api/recipients/{recipient_id}.
func (d *Dependencies) handleUpdateRecipient(w http.ResponseWriter, r *http.Request) {
	var req UpdateRecipientReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	recipient, err := d.Store.UpdateRecipient(r.Context(), r.PathValue("recipient_id"), store.UpdateRecipientParams{
		Name:    req.Name,
		Address: req.Address,
		Channel: req.Channel,
		Active:  req.Active,
	})
	if err != nil {
		d.Logger.Error("update recipient failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update recipient"})
		return
	}
	if recipient == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Recipient not found"})
		return
	}

	writeJSON(w, http.StatusOK, recipientResp(recipient))
}

// handleDeleteRecipient implements DELETE /api/recipients/{recipient_id}.
func (d *Dependencies) handleDeleteRecipient(w http.ResponseWriter, r *http.Request) {
	err := d.Store.DeleteRecipient(r.Context(), r.PathValue("recipient_id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Recipient not found"})
		return
	}
	if err != nil {
		d.Logger.Error("delete recipient failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete recipient"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func recipientResp(r *store.Recipient) RecipientResp {
	return RecipientResp{
		ID:        r.ID,
		CourseID:  r.CourseID,
		Name:      r.Name,
		Address:   r.Address,
		Channel:   r.Channel,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// --- Session mirror review ---

// handleListCourseSessions implements GET /api/courses/{course_id}/sessions.
func (d *Dependencies) handleListCourseSessions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	rows, err := d.Store.ListSessions(r.Context(), r.PathValue("course_id"), limit)
	if err != nil {
		d.Logger.Error("list sessions failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list sessions"})
		return
	}

	out := make([]MirrorSessionResp, 0, len(rows))
	for _, row := range rows {
		out = append(out, mirrorSessionResp(row))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetCourseSession implements GET /api/courses/{course_id}/sessions/{session_id}.
func (d *Dependencies) handleGetCourseSession(w http.ResponseWriter, r *http.Request) {
	row, err := d.Store.GetSession(r.Context(), r.PathValue("session_id"))
	if err != nil {
		d.Logger.Error("get session row failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get session"})
		return
	}
	if row == nil || row.CourseID != r.PathValue("course_id") {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Session not found"})
		return
	}
	writeJSON(w, http.StatusOK, mirrorSessionResp(row))
}

func mirrorSessionResp(row *store.SessionRow) MirrorSessionResp {
	return MirrorSessionResp{
		SessionID:      row.ID,
		UserID:         row.UserID,
		CourseID:       row.CourseID,
		StartedAt:      row.StartedAt,
		EndedAt:        row.EndedAt,
		EndReason:      row.EndReason,
		TabSwitchCount: row.TabSwitchCount,
		ViolationCount: row.ViolationCount,
		Locked:         row.Locked,
	}
}

// --- Manual alert ---

// handleManualAlert implements POST /api/alert: an explicit fan-out to the
// course's roster, synchronous so the caller sees per-recipient results.
func (d *Dependencies) handleManualAlert(w http.ResponseWriter, r *http.Request) {
	var req AlertReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.StudentIdentity == "" || req.Activity == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "student_identity and activity are required"})
		return
	}

	course := courseFromContext(r.Context())
	if course == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing course context"})
		return
	}

	rows, err := d.Store.ListRecipients(r.Context(), course.CourseID)
	if err != nil {
		d.Logger.Error("recipient lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to load recipients"})
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

	subject := req.Subject
	if subject == "" {
		subject = "Exam violation detected"
	}

	result := d.Dispatcher.Dispatch(r.Context(), alert.Notification{
		Subject:             subject,
		StudentIdentity:     req.StudentIdentity,
		ActivityDescription: req.Activity,
		Timestamp:           time.Now(),
	}, recipients)

	d.Metrics.AlertsSent.Add(uint64(result.SuccessCount))
	if failed := result.TotalCount - result.SuccessCount; failed > 0 {
		d.Metrics.AlertsFailed.Add(uint64(failed))
	}

	records := make([]AlertRecordResp, 0, len(result.Records))
	for _, rec := range result.Records {
		records = append(records, AlertRecordResp{
			Recipient: rec.Recipient,
			Channel:   string(rec.Channel),
			Delivered: rec.Delivered,
			Error:     rec.Error,
		})
	}

	// Zero successes is reported, not failed: the exam flow never depends
	// on alert delivery.
	writeJSON(w, http.StatusOK, AlertResp{
		SuccessCount: result.SuccessCount,
		TotalCount:   result.TotalCount,
		Records:      records,
		Hint:         result.Hint,
	})
}
