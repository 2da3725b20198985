package api

import (
	"net/http"
	"time"

	"github.com/invigilo-ai/sentinel/internal/alert"
	"github.com/invigilo-ai/sentinel/internal/auth"
	"github.com/invigilo-ai/sentinel/internal/detector"
	"github.com/invigilo-ai/sentinel/internal/evaluate"
	"github.com/invigilo-ai/sentinel/internal/evread"
	"github.com/invigilo-ai/sentinel/internal/metrics"
	"github.com/invigilo-ai/sentinel/internal/session"
	"github.com/invigilo-ai/sentinel/internal/storage"
	"github.com/invigilo-ai/sentinel/internal/store"
	"go.uber.org/zap"
)

// Defaults holds the server-wide proctoring limits used when a course has
// no overrides.
type Defaults struct {
	Evaluate       evaluate.Config
	MaxTabSwitches int
	GraceDelay     time.Duration
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store      *store.Store
	Sessions   *session.Manager
	Evaluator  *evaluate.Evaluator
	Detector   detector.Client
	Dispatcher *alert.Dispatcher
	Writer     storage.EventWriter
	Reader     *evread.Reader // nil if ClickHouse unavailable
	Auth       auth.Authenticator
	Metrics    *metrics.Metrics
	Defaults   Defaults
	Logger     *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	// Every termination path runs through the manager's end hook, so the
	// gauge stays balanced against the start-time increment even when the
	// grace timer ends the session.
	if deps.Sessions != nil && deps.Metrics != nil {
		deps.Sessions.OnEnded = func(string) {
			deps.Metrics.ActiveSessions.Add(^uint64(0))
		}
	}

	mux := http.NewServeMux()

	// Session lifecycle (auth required via Bearer esk_ token)
	mux.HandleFunc("POST /v1/sessions", deps.authMiddleware(deps.handleStartSession))
	mux.HandleFunc("GET /v1/sessions/{session_id}", deps.authMiddleware(deps.handleGetSession))
	mux.HandleFunc("POST /v1/sessions/{session_id}/frames", deps.authMiddleware(deps.handleFrame))
	mux.HandleFunc("POST /v1/sessions/{session_id}/tab-switch", deps.authMiddleware(deps.handleTabSwitch))
	mux.HandleFunc("POST /v1/sessions/{session_id}/blur", deps.authMiddleware(deps.handleWindowBlur))
	mux.HandleFunc("POST /v1/sessions/{session_id}/end", deps.authMiddleware(deps.handleEndSession))
	mux.HandleFunc("GET /v1/sessions/{session_id}/events", deps.authMiddleware(deps.handleSessionEvents))

	// Raw detection pass-through (auth required; used by the exam client's
	// preflight camera check)
	mux.HandleFunc("POST /api/detections/unified", deps.authMiddleware(deps.handleDetectUnified))
	mux.HandleFunc("POST /api/detections/head_pose", deps.authMiddleware(deps.handleDetectHeadPose))
	mux.HandleFunc("POST /api/detections/multi_person", deps.authMiddleware(deps.handleDetectMultiPerson))
	mux.HandleFunc("POST /api/detections/body_visibility", deps.authMiddleware(deps.handleDetectBodyVisibility))

	// Manual alert trigger (auth required)
	mux.HandleFunc("POST /api/alert", deps.authMiddleware(deps.requireStore(deps.handleManualAlert)))

	// Course CRUD (no auth — dashboard auth added later). 503 without
	// Postgres.
	mux.HandleFunc("POST /api/courses", deps.requireStore(deps.handleCreateCourse))
	mux.HandleFunc("GET /api/courses", deps.requireStore(deps.handleListCourses))
	mux.HandleFunc("GET /api/courses/{course_id}", deps.requireStore(deps.handleGetCourse))
	mux.HandleFunc("PATCH /api/courses/{course_id}", deps.requireStore(deps.handleUpdateCourse))
	mux.HandleFunc("DELETE /api/courses/{course_id}", deps.requireStore(deps.handleDeleteCourse))
	mux.HandleFunc("POST /api/courses/{course_id}/rotate-key", deps.requireStore(deps.handleRotateKey))

	// Recipient roster (no auth)
	mux.HandleFunc("POST /api/courses/{course_id}/recipients", deps.requireStore(deps.handleCreateRecipient))
	mux.HandleFunc("GET /api/courses/{course_id}/recipients", deps.requireStore(deps.handleListRecipients))
	mux.HandleFunc("PATCH /api/recipients/{recipient_id}", deps.requireStore(deps.handleUpdateRecipient))
	mux.HandleFunc("DELETE /api/recipients/{recipient_id}", deps.requireStore(deps.handleDeleteRecipient))

	// Session mirror review (no auth)
	mux.HandleFunc("GET /api/courses/{course_id}/sessions", deps.requireStore(deps.handleListCourseSessions))
	mux.HandleFunc("GET /api/courses/{course_id}/sessions/{session_id}", deps.requireStore(deps.handleGetCourseSession))

	// Event history & analytics (no auth)
	mux.HandleFunc("GET /api/courses/{course_id}/events", deps.handleListEvents)
	mux.HandleFunc("GET /api/courses/{course_id}/events/{event_id}", deps.handleGetEvent)
	mux.HandleFunc("GET /api/courses/{course_id}/analytics", deps.handleGetAnalytics)

	// Detector sidecar status
	mux.HandleFunc("GET /api/system/status", deps.handleSystemStatus)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Prometheus metrics
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
