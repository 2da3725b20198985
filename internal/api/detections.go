package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// detectionReq is the JSON body shared by the raw detection endpoints.
type detectionReq struct {
	ImageB64 string `json:"image_b64"`
}

// decodeDetectionImage reads and validates the image payload, writing the
// error response itself on failure.
func decodeDetectionImage(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	var req detectionReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return nil, false
	}
	if req.ImageB64 == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "image_b64 is required"})
		return nil, false
	}
	imageBytes, err := base64.StdEncoding.DecodeString(req.ImageB64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "image_b64 is not valid base64"})
		return nil, false
	}
	return imageBytes, true
}

// handleDetectUnified implements POST /api/detections/unified: a raw
// detector round trip with no session state involved. The exam client uses
// it for the preflight camera check.
func (d *Dependencies) handleDetectUnified(w http.ResponseWriter, r *http.Request) {
	imageBytes, ok := decodeDetectionImage(w, r)
	if !ok {
		return
	}

	result, err := d.Detector.DetectUnified(r.Context(), imageBytes)
	if err != nil {
		d.Logger.Warn("unified detection failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, ErrorResp{Detail: "Detector unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDetectHeadPose implements POST /api/detections/head-pose.
func (d *Dependencies) handleDetectHeadPose(w http.ResponseWriter, r *http.Request) {
	imageBytes, ok := decodeDetectionImage(w, r)
	if !ok {
		return
	}

	result, err := d.Detector.DetectHeadPose(r.Context(), imageBytes)
	if err != nil {
		d.Logger.Warn("head pose detection failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, ErrorResp{Detail: "Detector unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDetectMultiPerson implements POST /api/detections/multi-person.
func (d *Dependencies) handleDetectMultiPerson(w http.ResponseWriter, r *http.Request) {
	imageBytes, ok := decodeDetectionImage(w, r)
	if !ok {
		return
	}

	result, err := d.Detector.DetectMultiPerson(r.Context(), imageBytes)
	if err != nil {
		d.Logger.Warn("multi person detection failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, ErrorResp{Detail: "Detector unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDetectBodyVisibility implements POST /api/detections/body-visibility.
func (d *Dependencies) handleDetectBodyVisibility(w http.ResponseWriter, r *http.Request) {
	imageBytes, ok := decodeDetectionImage(w, r)
	if !ok {
		return
	}

	result, err := d.Detector.DetectBodyVisibility(r.Context(), imageBytes)
	if err != nil {
		d.Logger.Warn("body visibility detection failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, ErrorResp{Detail: "Detector unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSystemStatus implements GET /api/system/status: detector sidecar
// status passed through verbatim, with server health wrapped around it.
func (d *Dependencies) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, err := d.Detector.SystemStatus(ctx)
	if err != nil {
		d.Logger.Warn("system status fetch failed", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]any{
			"server":   "ok",
			"detector": "unreachable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"server":   "ok",
		"detector": status,
	})
}
