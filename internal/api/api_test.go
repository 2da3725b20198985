package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/invigilo-ai/sentinel/internal/alert"
	"github.com/invigilo-ai/sentinel/internal/auth"
	"github.com/invigilo-ai/sentinel/internal/detector"
	"github.com/invigilo-ai/sentinel/internal/evaluate"
	"github.com/invigilo-ai/sentinel/internal/metrics"
	"github.com/invigilo-ai/sentinel/internal/session"
	"github.com/invigilo-ai/sentinel/internal/storage"
	"go.uber.org/zap"
)

const testKey = "esk_test_key_000000000000000000000000"

// fakeDetector returns canned results, or an error when failing is set.
type fakeDetector struct {
	mu      sync.Mutex
	failing bool
	result  detector.UnifiedResult
	calls   int
}

func (f *fakeDetector) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeDetector) DetectUnified(_ context.Context, _ []byte) (*detector.UnifiedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return nil, errors.New("sidecar down")
	}
	res := f.result
	return &res, nil
}

func (f *fakeDetector) DetectHeadPose(_ context.Context, _ []byte) (*detector.HeadPoseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("sidecar down")
	}
	res := f.result.HeadPose
	return &res, nil
}

func (f *fakeDetector) DetectMultiPerson(_ context.Context, _ []byte) (*detector.MultiPersonResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("sidecar down")
	}
	res := f.result.MultiPerson
	return &res, nil
}

func (f *fakeDetector) DetectBodyVisibility(_ context.Context, _ []byte) (*detector.BodyVisibilityResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("sidecar down")
	}
	res := f.result.BodyVisibility
	return &res, nil
}

func (f *fakeDetector) SystemStatus(_ context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("sidecar down")
	}
	return json.RawMessage(`{"models":"loaded"}`), nil
}

func (f *fakeDetector) Healthy(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.failing
}

// fakeEventWriter captures written records.
type fakeEventWriter struct {
	mu      sync.Mutex
	records []*storage.ViolationRecord
}

func (f *fakeEventWriter) Write(rec *storage.ViolationRecord) {
	f.mu.Lock()
	f.records = append(f.records, rec)
	f.mu.Unlock()
}

func (f *fakeEventWriter) Close() {}

func (f *fakeEventWriter) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r.Kind)
	}
	return out
}

func cleanResult() detector.UnifiedResult {
	return detector.UnifiedResult{
		MultiPerson: detector.MultiPersonResult{NumPeople: 1, Confidence: 0.95},
		HeadPose:    detector.HeadPoseResult{Direction: "forward", Confidence: 0.9},
		BodyVisibility: detector.BodyVisibilityResult{
			UpperBodyVisible: true,
			Confidence:       0.9,
		},
	}
}

func multiPersonResult() detector.UnifiedResult {
	res := cleanResult()
	res.MultiPerson = detector.MultiPersonResult{
		NumPeople:  2,
		Confidence: 0.92,
		Violation:  true,
	}
	return res
}

func newTestDeps(t *testing.T, det detector.Client) (*Dependencies, http.Handler, *fakeEventWriter) {
	t.Helper()
	logger := zap.NewNop()
	writer := &fakeEventWriter{}
	evaluator := evaluate.NewEvaluator(evaluate.DefaultRules(), logger)

	deps := &Dependencies{
		Sessions:   session.NewManager(evaluator, nil, logger),
		Evaluator:  evaluator,
		Detector:   det,
		Dispatcher: alert.NewDispatcher(nil, logger),
		Writer:     writer,
		Auth:       auth.NewStaticAuthenticator(),
		Metrics:    metrics.New(),
		Defaults: Defaults{
			Evaluate:       evaluate.DefaultConfig(),
			MaxTabSwitches: 3,
			GraceDelay:     50 * time.Millisecond,
		},
		Logger: logger,
	}
	return deps, NewRouter(deps), writer
}

func authedRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func startSession(t *testing.T, router http.Handler, userID string) SessionResp {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("POST", "/v1/sessions", StartSessionReq{UserID: userID}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("start session: got status %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp SessionResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	return resp
}

func frameBody() FrameReq {
	return FrameReq{
		ImageB64: base64.StdEncoding.EncodeToString([]byte("not-a-real-frame")),
		Width:    640,
		Height:   480,
	}
}

func TestAuthRequired(t *testing.T) {
	_, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc123", http.StatusUnauthorized},
		{"wrong prefix", "Bearer sk_1234567890", http.StatusUnauthorized},
		{"too short", "Bearer esk_", http.StatusUnauthorized},
		{"valid", "Bearer " + testKey, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_ = json.NewEncoder(&buf).Encode(StartSessionReq{UserID: "student-1"})
			req := httptest.NewRequest("POST", "/v1/sessions", &buf)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("got status %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestStartSession(t *testing.T) {
	_, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})

	resp := startSession(t, router, "student-1")
	if resp.SessionID == "" {
		t.Error("expected non-empty session id")
	}
	if resp.UserID != "student-1" {
		t.Errorf("user id = %q, want %q", resp.UserID, "student-1")
	}
	if resp.CourseID != "course_dev" {
		t.Errorf("course id = %q, want %q", resp.CourseID, "course_dev")
	}
	if resp.MaxTabSwitches != 3 {
		t.Errorf("max tab switches = %d, want 3", resp.MaxTabSwitches)
	}
	if resp.Locked || resp.EndedAt != nil {
		t.Error("new session should be unlocked and not ended")
	}
}

func TestStartSessionRequiresUserID(t *testing.T) {
	_, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("POST", "/v1/sessions", StartSessionReq{}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", rec.Code)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	_, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("GET", "/v1/sessions/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("got status %d, want 404", rec.Code)
	}
}

func TestFrameCleanCycle(t *testing.T) {
	_, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})
	sess := startSession(t, router, "student-1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("POST", "/v1/sessions/"+sess.SessionID+"/frames", frameBody()))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp FrameResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Skipped {
		t.Error("clean frame should not be skipped")
	}
	if len(resp.Active) != 0 || len(resp.Events) != 0 {
		t.Errorf("clean frame: active=%v events=%v, want none", resp.Active, resp.Events)
	}
	if resp.Session == nil || resp.Session.ConsecutiveViolationSeconds != 0 {
		t.Errorf("clean frame should leave sustained counter at zero: %+v", resp.Session)
	}
}

func TestFrameSustainedViolationEmitsEvent(t *testing.T) {
	_, router, writer := newTestDeps(t, &fakeDetector{result: multiPersonResult()})
	sess := startSession(t, router, "student-1")

	// Default thresholds: 2s per cycle, alert at 5s. Cycles 1 and 2 only
	// accumulate; cycle 3 crosses the threshold.
	var last FrameResp
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest("POST", "/v1/sessions/"+sess.SessionID+"/frames", frameBody()))
		if rec.Code != http.StatusOK {
			t.Fatalf("frame %d: got status %d: %s", i+1, rec.Code, rec.Body.String())
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &last); err != nil {
			t.Fatalf("frame %d decode: %v", i+1, err)
		}
		wantEvents := 0
		if i == 2 {
			wantEvents = 1
		}
		if len(last.Events) != wantEvents {
			t.Fatalf("frame %d: got %d events, want %d", i+1, len(last.Events), wantEvents)
		}
	}

	if last.Events[0].Kind != "multiple_persons" {
		t.Errorf("event kind = %q, want multiple_persons", last.Events[0].Kind)
	}
	if last.Events[0].Confidence != 0.92 {
		t.Errorf("event confidence = %v, want the detector's 0.92", last.Events[0].Confidence)
	}
	if last.Session.ViolationCount != 1 {
		t.Errorf("violation count = %d, want 1", last.Session.ViolationCount)
	}
	if last.Session.ConsecutiveViolationSeconds != 6 {
		t.Errorf("sustained = %v, want 6", last.Session.ConsecutiveViolationSeconds)
	}

	kinds := writer.kinds()
	if len(kinds) != 1 || kinds[0] != "multiple_persons" {
		t.Errorf("persisted kinds = %v, want [multiple_persons]", kinds)
	}
}

func TestFrameDetectorUnavailableSkipsCycle(t *testing.T) {
	det := &fakeDetector{result: multiPersonResult()}
	_, router, _ := newTestDeps(t, det)
	sess := startSession(t, router, "student-1")

	// Two violating cycles, then an outage, then another violating cycle.
	// The skipped cycle must neither reset nor advance the counter.
	post := func() FrameResp {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest("POST", "/v1/sessions/"+sess.SessionID+"/frames", frameBody()))
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %s", rec.Code, rec.Body.String())
		}
		var resp FrameResp
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp
	}

	post()
	post()

	det.setFailing(true)
	skipped := post()
	if !skipped.Skipped || skipped.SkipReason != "detector_unavailable" {
		t.Fatalf("outage frame: %+v, want skipped with detector_unavailable", skipped)
	}
	if skipped.Session.ConsecutiveViolationSeconds != 4 {
		t.Errorf("sustained after skip = %v, want 4", skipped.Session.ConsecutiveViolationSeconds)
	}

	det.setFailing(false)
	resumed := post()
	if resumed.Session.ConsecutiveViolationSeconds != 6 {
		t.Errorf("sustained after resume = %v, want 6", resumed.Session.ConsecutiveViolationSeconds)
	}
	if len(resumed.Events) != 1 {
		t.Errorf("resume frame: got %d events, want 1", len(resumed.Events))
	}
}

func TestFrameDroppedWhileCycleInFlight(t *testing.T) {
	deps, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})
	sess := startSession(t, router, "student-1")

	s, err := deps.Sessions.Get(sess.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if !s.BeginCycle() {
		t.Fatal("failed to claim cycle slot")
	}
	defer s.EndCycle()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("POST", "/v1/sessions/"+sess.SessionID+"/frames", frameBody()))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("got status %d, want 202", rec.Code)
	}
	var resp FrameResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Skipped || resp.SkipReason != "cycle_in_flight" {
		t.Errorf("got %+v, want skipped with cycle_in_flight", resp)
	}
}

func TestFrameRejectsBadPayload(t *testing.T) {
	_, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})
	sess := startSession(t, router, "student-1")

	tests := []struct {
		name string
		body any
	}{
		{"empty image", FrameReq{}},
		{"invalid base64", FrameReq{ImageB64: "!!not-base64!!"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, authedRequest("POST", "/v1/sessions/"+sess.SessionID+"/frames", tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("got status %d, want 400", rec.Code)
			}
		})
	}
}

func TestTabSwitchLocksAtLimit(t *testing.T) {
	_, router, writer := newTestDeps(t, &fakeDetector{result: cleanResult()})
	sess := startSession(t, router, "student-1")

	var last BrowserEventResp
	for i := 1; i <= 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest("POST", "/v1/sessions/"+sess.SessionID+"/tab-switch", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("tab switch %d: got status %d", i, rec.Code)
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &last); err != nil {
			t.Fatal(err)
		}
		wantLocked := i == 3
		if last.Session.Locked != wantLocked {
			t.Errorf("after switch %d: locked = %v, want %v", i, last.Session.Locked, wantLocked)
		}
	}

	if last.Session.TabSwitchCount != 3 {
		t.Errorf("tab switch count = %d, want 3", last.Session.TabSwitchCount)
	}
	if last.Event.Kind != "tab_switch" {
		t.Errorf("event kind = %q, want tab_switch", last.Event.Kind)
	}
	if got := len(writer.kinds()); got != 3 {
		t.Errorf("persisted %d events, want 3", got)
	}
}

func TestLockedSessionTerminatesAfterGrace(t *testing.T) {
	deps, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})
	sess := startSession(t, router, "student-1")

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest("POST", "/v1/sessions/"+sess.SessionID+"/tab-switch", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("tab switch: got status %d", rec.Code)
		}
	}

	s, err := deps.Sessions.Get(sess.SessionID)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for !s.Ended() {
		select {
		case <-deadline:
			t.Fatal("session did not terminate after grace delay")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if reason := s.State().EndReason; reason != "tab_switch_limit" {
		t.Errorf("end reason = %q, want tab_switch_limit", reason)
	}

	// Grace-timer termination must release the active-sessions gauge just
	// like an explicit end.
	deadline = time.After(2 * time.Second)
	for deps.Metrics.ActiveSessions.Load() != 0 {
		select {
		case <-deadline:
			t.Fatalf("active sessions gauge = %d after termination, want 0",
				deps.Metrics.ActiveSessions.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWindowBlur(t *testing.T) {
	_, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})
	sess := startSession(t, router, "student-1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("POST", "/v1/sessions/"+sess.SessionID+"/blur", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var resp BrowserEventResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Event.Kind != "window_blur" {
		t.Errorf("event kind = %q, want window_blur", resp.Event.Kind)
	}
	if resp.Session.Locked || resp.Session.TabSwitchCount != 0 {
		t.Error("window blur must not count toward the tab switch lock")
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	deps, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})
	sess := startSession(t, router, "student-1")

	end := func(reason string) SessionResp {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest("POST", "/v1/sessions/"+sess.SessionID+"/end", EndSessionReq{Reason: reason}))
		if rec.Code != http.StatusOK {
			t.Fatalf("end: got status %d", rec.Code)
		}
		var resp SessionResp
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		return resp
	}

	first := end("completed")
	if first.EndedAt == nil || first.EndReason != "completed" {
		t.Fatalf("first end: %+v", first)
	}

	second := end("abandoned")
	if second.EndReason != "completed" {
		t.Errorf("second end changed reason to %q, want completed kept", second.EndReason)
	}
	if got := deps.Metrics.ActiveSessions.Load(); got != 0 {
		t.Errorf("active sessions gauge = %d after double end, want 0", got)
	}
}

func TestFrameAfterEndConflicts(t *testing.T) {
	_, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})
	sess := startSession(t, router, "student-1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("POST", "/v1/sessions/"+sess.SessionID+"/end", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("end: got status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("POST", "/v1/sessions/"+sess.SessionID+"/frames", frameBody()))
	if rec.Code != http.StatusConflict {
		t.Errorf("frame after end: got status %d, want 409", rec.Code)
	}
}

func TestSessionEventsWithoutReader(t *testing.T) {
	_, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})
	sess := startSession(t, router, "student-1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("GET", "/v1/sessions/"+sess.SessionID+"/events", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got status %d, want 503", rec.Code)
	}
}

func TestStoreRoutesUnavailableWithoutPostgres(t *testing.T) {
	// newTestDeps wires no store, matching the dev mode with a static key.
	_, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})

	tests := []struct {
		method string
		path   string
		authed bool
	}{
		{"POST", "/api/courses", false},
		{"GET", "/api/courses", false},
		{"GET", "/api/courses/c1", false},
		{"PATCH", "/api/courses/c1", false},
		{"DELETE", "/api/courses/c1", false},
		{"POST", "/api/courses/c1/rotate-key", false},
		{"POST", "/api/courses/c1/recipients", false},
		{"GET", "/api/courses/c1/recipients", false},
		{"PATCH", "/api/recipients/r1", false},
		{"DELETE", "/api/recipients/r1", false},
		{"GET", "/api/courses/c1/sessions", false},
		{"GET", "/api/courses/c1/sessions/s1", false},
		{"POST", "/api/alert", true},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.authed {
				req = authedRequest(tt.method, tt.path, AlertReq{StudentIdentity: "s", Activity: "a"})
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("got status %d, want 503", rec.Code)
			}
		})
	}
}

func TestDetectionPassThrough(t *testing.T) {
	_, router, _ := newTestDeps(t, &fakeDetector{result: multiPersonResult()})

	body := detectionReq{ImageB64: base64.StdEncoding.EncodeToString([]byte("frame"))}
	paths := []string{
		"/api/detections/unified",
		"/api/detections/head_pose",
		"/api/detections/multi_person",
		"/api/detections/body_visibility",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, authedRequest("POST", path, body))
			if rec.Code != http.StatusOK {
				t.Errorf("got status %d, want 200: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestDetectionPassThroughDetectorDown(t *testing.T) {
	det := &fakeDetector{}
	det.setFailing(true)
	_, router, _ := newTestDeps(t, det)

	body := detectionReq{ImageB64: base64.StdEncoding.EncodeToString([]byte("frame"))}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("POST", "/api/detections/unified", body))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("got status %d, want 502", rec.Code)
	}
}

func TestSystemStatus(t *testing.T) {
	det := &fakeDetector{result: cleanResult()}
	_, router, _ := newTestDeps(t, det)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/system/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["server"] != "ok" {
		t.Errorf("server = %v, want ok", resp["server"])
	}

	// Detector outage still answers 200; only the detector field changes.
	det.setFailing(true)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/system/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("outage: got status %d, want 200", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["detector"] != "unreachable" {
		t.Errorf("detector = %v, want unreachable", resp["detector"])
	}
}

func TestHealthz(t *testing.T) {
	_, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want 200", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/v1/sessions", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got status %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q, want *", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})
	startSession(t, router, "student-1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("sentinel_total_sessions")) {
		t.Errorf("metrics output missing sentinel_total_sessions:\n%s", rec.Body.String())
	}
}

func TestConcurrentFrames(t *testing.T) {
	_, router, _ := newTestDeps(t, &fakeDetector{result: cleanResult()})
	sess := startSession(t, router, "student-1")

	// Concurrent frames against one session: exactly the in-flight guard's
	// territory. Every request must answer 200 or 202, never anything else.
	var wg sync.WaitGroup
	errCh := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, authedRequest("POST", "/v1/sessions/"+sess.SessionID+"/frames", frameBody()))
			if rec.Code != http.StatusOK && rec.Code != http.StatusAccepted {
				errCh <- fmt.Errorf("unexpected status %d", rec.Code)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
}
