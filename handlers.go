package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	_ "golang.org/x/image/webp"

	"github.com/garbedge/waste-classifier/annotate"
	"github.com/garbedge/waste-classifier/categories"
	"github.com/garbedge/waste-classifier/detections"
	"github.com/garbedge/waste-classifier/models"
	"github.com/garbedge/waste-classifier/results"
	"github.com/garbedge/waste-classifier/stabilizer"
)

const maxUploadSize = 10 << 20

type ResultResponse struct {
	SessionID      string              `json:"session_id,omitempty"`
	State          string              `json:"state,omitempty"`
	Message        string              `json:"message"`
	Results        results.RenderModel `json:"results"`
	Rejected       []string            `json:"rejected,omitempty"`
	AnnotatedImage string              `json:"annotated_image,omitempty"`
}

type SessionResponse struct {
	SessionID string    `json:"session_id"`
	Started   time.Time `json:"started"`
}

type DetectionsRequest struct {
	Detections []models.DetectionInput `json:"detections"`
}

type CategoryResponse struct {
	Name        models.Category `json:"name"`
	Display     string          `json:"display"`
	Color       string          `json:"color"`
	Description string          `json:"description"`
	Legend      string          `json:"legend"`
	Labels      []string        `json:"labels"`
}

type HealthResponse struct {
	Status         string `json:"status"`
	ModelLoaded    bool   `json:"model_loaded"`
	Categories     int    `json:"categories"`
	ActiveSessions int    `json:"active_sessions"`
}

type MetricsResponse struct {
	Pool     *PoolSnapshot           `json:"pool,omitempty"`
	Sessions stabilizer.ArenaMetrics `json:"sessions"`
}

func newTimings() *models.ProcessingTimings {
	return &models.ProcessingTimings{RequestID: fmt.Sprintf("%d", time.Now().UnixNano())}
}

func (s *AppState) handleClassify(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	timings := newTimings()

	if s.Detector == nil {
		sendErrorResponse(w, "model_unavailable", MsgModelUnavailable, http.StatusServiceUnavailable)
		return
	}
	threshold, err := s.threshold(r)
	if err != nil {
		sendErrorResponse(w, "invalid_threshold", MsgInvalidThreshold, http.StatusBadRequest, err.Error())
		return
	}
	img, err := readImage(r, timings)
	if err != nil {
		sendErrorResponse(w, "invalid_image", MsgInvalidImage, http.StatusBadRequest, err.Error())
		return
	}

	classified, rejected, err := s.detectAndClassify(r.Context(), img, threshold, timings)
	if err != nil {
		sendProcessingError(w, err)
		return
	}

	formatStart := time.Now()
	resp := ResultResponse{Results: s.Formatter.Format(classified), Rejected: rejected}
	resp.Message = resultMessage(resp.Results.Total)
	if wantAnnotation(r) {
		if resp.AnnotatedImage, err = encodeAnnotated(img, classified); err != nil {
			log.Printf("Annotation failed: %v", err)
		}
	}
	timings.Format = time.Since(formatStart)

	timings.Total = time.Since(startTotal)
	logTimings(timings)
	sendJSON(w, http.StatusOK, resp)
}

func (s *AppState) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	session := s.Arena.Create()
	log.Printf("Stream session %s started", session.ID)
	sendJSON(w, http.StatusCreated, SessionResponse{SessionID: session.ID, Started: session.Started})
}

func (s *AppState) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.Arena.Remove(id); err != nil {
		sendErrorResponse(w, "session_not_found", MsgSessionNotFound, http.StatusNotFound)
		return
	}
	log.Printf("Stream session %s ended", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *AppState) handleFrame(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	timings := newTimings()

	if s.Detector == nil {
		sendErrorResponse(w, "model_unavailable", MsgModelUnavailable, http.StatusServiceUnavailable)
		return
	}
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	threshold, err := s.threshold(r)
	if err != nil {
		sendErrorResponse(w, "invalid_threshold", MsgInvalidThreshold, http.StatusBadRequest, err.Error())
		return
	}
	img, err := readImage(r, timings)
	if err != nil {
		sendErrorResponse(w, "invalid_image", MsgInvalidImage, http.StatusBadRequest, err.Error())
		return
	}

	resp := ResultResponse{SessionID: session.ID}
	annotated := wantAnnotation(r)
	var stabilizeStart time.Time
	_, err = session.HandleFrame(func() ([]models.ClassifiedDetection, time.Time, error) {
		classified, rejected, err := s.detectAndClassify(r.Context(), img, threshold, timings)
		resp.Rejected = rejected
		stabilizeStart = time.Now()
		return classified, s.Arena.Now(), err
	}, func(published []models.ClassifiedDetection) {
		timings.Stabilize = time.Since(stabilizeStart)
		s.render(&resp, published, timings)
		if annotated {
			var err error
			if resp.AnnotatedImage, err = encodeAnnotated(img, published); err != nil {
				log.Printf("Annotation failed: %v", err)
			}
		}
	})
	if err != nil {
		sendProcessingError(w, err)
		return
	}
	resp.State = session.State().String()

	timings.Total = time.Since(startTotal)
	logTimings(timings)
	sendJSON(w, http.StatusOK, resp)
}

func (s *AppState) handleDetections(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	timings := newTimings()

	session, ok := s.session(w, r)
	if !ok {
		return
	}
	threshold, err := s.threshold(r)
	if err != nil {
		sendErrorResponse(w, "invalid_threshold", MsgInvalidThreshold, http.StatusBadRequest, err.Error())
		return
	}

	var req DetectionsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadSize)).Decode(&req); err != nil {
		sendErrorResponse(w, "invalid_request", MsgInvalidDetections, http.StatusBadRequest, err.Error())
		return
	}
	dets := make([]models.Detection, len(req.Detections))
	for i, in := range req.Detections {
		dets[i] = in.Detection()
	}

	resp := ResultResponse{SessionID: session.ID}
	var stabilizeStart time.Time
	// Classification cannot fail a frame, so HandleFrame never errors here.
	_, _ = session.HandleFrame(func() ([]models.ClassifiedDetection, time.Time, error) {
		current := s.classifyGated(dets, threshold, timings, &resp)
		stabilizeStart = time.Now()
		return current, s.Arena.Now(), nil
	}, func(published []models.ClassifiedDetection) {
		timings.Stabilize = time.Since(stabilizeStart)
		s.render(&resp, published, timings)
	})
	resp.State = session.State().String()

	timings.Total = time.Since(startTotal)
	logTimings(timings)
	sendJSON(w, http.StatusOK, resp)
}

func (s *AppState) handleCategories(w http.ResponseWriter, _ *http.Request) {
	infos := s.Classifier.Registry().Categories()
	out := make([]CategoryResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, CategoryResponse{
			Name:        info.Name,
			Display:     results.DisplayName(info.Name),
			Color:       categories.HexColor(info.Color),
			Description: info.Description,
			Legend:      info.Legend,
			Labels:      info.Labels,
		})
	}
	sendJSON(w, http.StatusOK, out)
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	resp := MetricsResponse{Sessions: s.Arena.Metrics()}
	if s.Pool != nil {
		snapshot := s.Pool.GetMetrics()
		resp.Pool = &snapshot
	}
	sendJSON(w, http.StatusOK, resp)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		ModelLoaded:    s.Detector != nil,
		Categories:     len(s.Classifier.Registry().Names()),
		ActiveSessions: s.Arena.Len(),
	})
}

func (s *AppState) session(w http.ResponseWriter, r *http.Request) (*stabilizer.Session, bool) {
	session, err := s.Arena.Get(mux.Vars(r)["id"])
	if err != nil {
		sendErrorResponse(w, "session_not_found", MsgSessionNotFound, http.StatusNotFound)
		return nil, false
	}
	return session, true
}

// threshold is the confidence gate for this request: the configured value
// unless ?threshold= overrides it.
func (s *AppState) threshold(r *http.Request) (float64, error) {
	raw := r.URL.Query().Get("threshold")
	if raw == "" {
		return s.Config.ConfThreshold, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, fmt.Errorf("threshold must be between 0 and 1, got %s", raw)
	}
	return v, nil
}

func (s *AppState) detectAndClassify(ctx context.Context, img image.Image, threshold float64, timings *models.ProcessingTimings) ([]models.ClassifiedDetection, []string, error) {
	dets, err := s.Detector.Detect(ctx, img, threshold, timings)
	if err != nil {
		return nil, nil, err
	}
	dets = detections.NewScoreFilter(threshold)(dets)

	classifyStart := time.Now()
	classified, err := s.Classifier.ClassifyFrame(dets)
	timings.Classify = time.Since(classifyStart)
	return classified, rejections(timings.RequestID, err), nil
}

// classifyGated validates and classifies externally computed detections,
// then applies the confidence gate. Classifying first means malformed
// detections are reported even when their confidence is missing.
func (s *AppState) classifyGated(dets []models.Detection, threshold float64, timings *models.ProcessingTimings, resp *ResultResponse) []models.ClassifiedDetection {
	classifyStart := time.Now()
	classified, err := s.Classifier.ClassifyFrame(dets)
	resp.Rejected = rejections(timings.RequestID, err)
	kept := categories.AboveThreshold(classified, threshold)
	timings.Classify = time.Since(classifyStart)
	return kept
}

func (s *AppState) render(resp *ResultResponse, published []models.ClassifiedDetection, timings *models.ProcessingTimings) {
	formatStart := time.Now()
	resp.Results = s.Formatter.Format(published)
	resp.Message = resultMessage(resp.Results.Total)
	timings.Format = time.Since(formatStart)
}

// rejections logs the malformed detections of one frame and returns their
// messages. They never fail the request.
func rejections(requestID string, err error) []string {
	errs := categories.Rejected(err)
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	log.Printf("RequestID: %s - rejected %d detections: %s", requestID, len(out), strings.Join(out, "; "))
	return out
}

func readImage(r *http.Request, timings *models.ProcessingTimings) (image.Image, error) {
	var imgBytes []byte
	var err error

	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		imgBytes, err = handleJSONRequest(r)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		imgBytes, err = handleMultipartRequest(r)
	default:
		imgBytes, err = handleRawRequest(r)
	}
	if err != nil {
		return nil, err
	}
	if len(imgBytes) == 0 {
		return nil, errors.New("empty image")
	}

	decodeStart := time.Now()
	img, err := decodeImage(imgBytes)
	timings.ImageDecode = time.Since(decodeStart)
	return img, err
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadSize)).Decode(&req); err != nil {
		return nil, err
	}
	// Browser canvases send data URLs.
	if i := strings.Index(req.Image, ";base64,"); i >= 0 {
		req.Image = req.Image[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
}

func decodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

func wantAnnotation(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("annotate"))
	return v
}

func encodeAnnotated(img image.Image, dets []models.ClassifiedDetection) (string, error) {
	var buf bytes.Buffer
	if err := annotate.EncodeJPEG(&buf, annotate.Frame(img, dets)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func sendProcessingError(w http.ResponseWriter, err error) {
	var procErr *detections.ProcessingError
	switch {
	case errors.As(err, &procErr):
		sendErrorResponse(w, "processing_error", MsgProcessingFailed, http.StatusInternalServerError, err.Error())
	case errors.Is(err, context.Canceled):
		sendErrorResponse(w, "request_canceled", MsgRequestCanceled, http.StatusServiceUnavailable, err.Error())
	default:
		sendErrorResponse(w, "session_error", MsgModelBusy, http.StatusServiceUnavailable, err.Error())
	}
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int, details ...string) {
	sendJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
		Details: strings.Join(details, "; "),
	})
}
