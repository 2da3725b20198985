package api

import (
	"encoding/json"
	"time"
)

// --- Sessions ---

// StartSessionReq is the JSON body for POST /v1/sessions.
type StartSessionReq struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
}

// SessionResp is the session state returned by session endpoints.
type SessionResp struct {
	SessionID                   string     `json:"session_id"`
	UserID                      string     `json:"user_id"`
	CourseID                    string     `json:"course_id"`
	StartedAt                   time.Time  `json:"started_at"`
	EndedAt                     *time.Time `json:"ended_at"`
	EndReason                   string     `json:"end_reason,omitempty"`
	TabSwitchCount              int        `json:"tab_switch_count"`
	MaxTabSwitches              int        `json:"max_tab_switches"`
	ViolationCount              int        `json:"violation_count"`
	ConsecutiveViolationSeconds float64    `json:"consecutive_violation_seconds"`
	WarnActive                  bool       `json:"warn_active"`
	Locked                      bool       `json:"locked"`
}

// FrameReq is the JSON body for POST /v1/sessions/{session_id}/frames.
// Width and height are optional; when absent the server decodes them from
// the image itself.
type FrameReq struct {
	ImageB64 string `json:"image_b64"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// ViolationEventResp is one violation event in a frame or history response.
type ViolationEventResp struct {
	Kind          string    `json:"kind"`
	Message       string    `json:"message"`
	Confidence    float32   `json:"confidence"`
	Timestamp     time.Time `json:"timestamp"`
	Informational bool      `json:"informational"`
}

// FrameResp is the outcome of one evaluated (or skipped) frame cycle.
type FrameResp struct {
	Skipped    bool                 `json:"skipped"`
	SkipReason string               `json:"skip_reason,omitempty"`
	Active     []string             `json:"active"`
	WarnActive bool                 `json:"warn_active"`
	Events     []ViolationEventResp `json:"events"`
	Session    *SessionResp         `json:"session,omitempty"`
}

// EndSessionReq is the JSON body for POST /v1/sessions/{session_id}/end.
type EndSessionReq struct {
	Reason string `json:"reason,omitempty"`
}

// BrowserEventResp is the response to tab-switch and blur reports.
type BrowserEventResp struct {
	Event   ViolationEventResp `json:"event"`
	Session SessionResp        `json:"session"`
}

// --- Manual alert ---

// AlertReq is the JSON body for POST /api/alert.
type AlertReq struct {
	Subject         string `json:"subject"`
	StudentIdentity string `json:"student_identity"`
	Activity        string `json:"activity"`
	CourseID        string `json:"course_id,omitempty"`
}

// AlertRecordResp is one delivery attempt in an alert response.
type AlertRecordResp struct {
	Recipient string `json:"recipient"`
	Channel   string `json:"channel"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// AlertResp summarizes an alert fan-out.
type AlertResp struct {
	SuccessCount int               `json:"success_count"`
	TotalCount   int               `json:"total_count"`
	Records      []AlertRecordResp `json:"records"`
	Hint         string            `json:"hint,omitempty"`
}

// --- Course CRUD ---

// CreateCourseReq is the JSON body for POST /api/courses.
type CreateCourseReq struct {
	Name          string          `json:"name"`
	ProctorConfig json.RawMessage `json:"proctor_config,omitempty"`
}

// CreateCourseResp includes the plaintext API key (shown once).
type CreateCourseResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKey       string    `json:"api_key"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	CreatedAt    time.Time `json:"created_at"`
}

// UpdateCourseReq is the JSON body for PATCH /api/courses/{course_id}.
type UpdateCourseReq struct {
	Name          *string          `json:"name,omitempty"`
	ProctorConfig *json.RawMessage `json:"proctor_config,omitempty"`
}

// CourseResp is a course without the plaintext key.
type CourseResp struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	APIKeyPrefix  string          `json:"api_key_prefix"`
	ProctorConfig json.RawMessage `json:"proctor_config,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RotateKeyResp includes the new plaintext API key (shown once).
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// --- Recipients ---

// CreateRecipientReq is the JSON body for POST /api/courses/{course_id}/recipients.
type CreateRecipientReq struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Channel string `json:"channel"`
}

// UpdateRecipientReq is the JSON body for PATCH /api/recipients/{recipient_id}.
type UpdateRecipientReq struct {
	Name    *string `json:"name,omitempty"`
	Address *string `json:"address,omitempty"`
	Channel *string `json:"channel,omitempty"`
	Active  *bool   `json:"active,omitempty"`
}

// RecipientResp is one alert recipient.
type RecipientResp struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Channel   string    `json:"channel"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MirrorSessionResp is one persisted session row (review surface; the live
// session endpoints stay authoritative while an attempt is running).
type MirrorSessionResp struct {
	SessionID      string     `json:"session_id"`
	UserID         string     `json:"user_id"`
	CourseID       string     `json:"course_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
	EndReason      string     `json:"end_reason,omitempty"`
	TabSwitchCount int        `json:"tab_switch_count"`
	ViolationCount int        `json:"violation_count"`
	Locked         bool       `json:"locked"`
}

// --- Event history ---

// HistoryEventResp is one persisted violation event.
type HistoryEventResp struct {
	EventID          string    `json:"event_id"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	CourseID         string    `json:"course_id"`
	Timestamp        time.Time `json:"timestamp"`
	Kind             string    `json:"kind"`
	Message          string    `json:"message"`
	Confidence       float32   `json:"confidence"`
	Informational    bool      `json:"informational"`
	Source           string    `json:"source"`
	SustainedSeconds float32   `json:"sustained_seconds"`
	TabSwitchCount   uint32    `json:"tab_switch_count"`
	AlertDispatched  bool      `json:"alert_dispatched"`
}

// EventListResp is a page of violation events.
type EventListResp struct {
	Events   []HistoryEventResp `json:"events"`
	Total    int                `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
