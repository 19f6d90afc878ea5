package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garbedge/waste-classifier/categories"
	"github.com/garbedge/waste-classifier/config"
	"github.com/garbedge/waste-classifier/detections"
	"github.com/garbedge/waste-classifier/models"
)

type fakeDetector struct {
	mu    sync.Mutex
	dets  []models.Detection
	err   error
	calls int
	conf  float64
}

func (f *fakeDetector) Detect(_ context.Context, _ image.Image, conf float64, _ *models.ProcessingTimings) ([]models.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.conf = conf
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Detection(nil), f.dets...), nil
}

func (f *fakeDetector) set(dets ...models.Detection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dets = dets
}

type testServer struct {
	state    *AppState
	detector *fakeDetector
	clock    *clock.Mock
	handler  http.Handler
}

func newTestServer(t *testing.T, withModel bool) *testServer {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	state := newAppState(config.Default(), categories.Default(), mock)
	ts := &testServer{state: state, clock: mock}
	if withModel {
		ts.detector = &fakeDetector{}
		state.Detector = ts.detector
	}
	ts.handler = state.routes()
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) newSession(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/sessions", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func det(label string, conf float64) models.Detection {
	return models.Detection{Label: label, Confidence: conf, BBox: [4]float64{8, 8, 40, 40}}
}

func TestHandleClassify_NoModel(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodPost, "/classify", "image/png", pngImage(t))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "model_unavailable", resp.Code)
}

func TestHandleClassify_RawUpload(t *testing.T) {
	ts := newTestServer(t, true)
	ts.detector.set(det("Cardboard", 0.91), det("Wood", 0.2), det("Styrofoam", 0.5))

	rec := ts.do(t, http.MethodPost, "/classify", "image/png", pngImage(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ResultResponse](t, rec)
	assert.Equal(t, "2 waste items detected", resp.Message)
	assert.Empty(t, resp.AnnotatedImage)
	assert.Empty(t, resp.SessionID)

	model := resp.Results
	assert.Equal(t, 2, model.Total)
	assert.Equal(t, map[models.Category]int{models.Compost: 0, models.Recyclable: 1, models.Garbage: 1}, model.Counts)
	require.Len(t, model.Items, 2)
	assert.Equal(t, "Cardboard", model.Items[0].Label)
	assert.Equal(t, "91.0%", model.Items[0].ConfidenceText)
	assert.Equal(t, "Styrofoam", model.Items[1].Label)
	assert.Equal(t, categories.FallbackReasoning, model.Items[1].Reasoning)
}

func TestHandleClassify_ThresholdReachesDetector(t *testing.T) {
	ts := newTestServer(t, true)
	ts.detector.set(det("Wood", 0.2))

	rec := ts.do(t, http.MethodPost, "/classify?threshold=0.1", "image/png", pngImage(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0.1, ts.detector.conf)
	assert.Equal(t, 1, decode[ResultResponse](t, rec).Results.Total)

	id := ts.newSession(t)
	rec = ts.do(t, http.MethodPost, "/sessions/"+id+"/frames", "image/png", pngImage(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.35, ts.detector.conf, "frames default to the configured threshold")
}

func TestHandleClassify_JSONAndMultipart(t *testing.T) {
	ts := newTestServer(t, true)
	ts.detector.set(det("Tin", 0.8))
	img := pngImage(t)

	body, err := json.Marshal(map[string]string{
		"image": "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
	})
	require.NoError(t, err)
	rec := ts.do(t, http.MethodPost, "/classify", "application/json; charset=utf-8", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[ResultResponse](t, rec).Results.Total)

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile("file", "frame.png")
	require.NoError(t, err)
	_, err = part.Write(img)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec = ts.do(t, http.MethodPost, "/classify", mw.FormDataContentType(), form.Bytes())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[ResultResponse](t, rec).Results.Total)
}

func TestHandleClassify_Annotated(t *testing.T) {
	ts := newTestServer(t, true)
	ts.detector.set(det("Glass bottle", 0.77))

	rec := ts.do(t, http.MethodPost, "/classify?annotate=true", "image/png", pngImage(t))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[ResultResponse](t, rec)
	raw, err := base64.StdEncoding.DecodeString(resp.AnnotatedImage)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
}

func TestHandleClassify_BadRequests(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(t, http.MethodPost, "/classify", "image/png", []byte("not an image"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_image", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/classify", "image/png", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/classify?threshold=2", "image/png", pngImage(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_threshold", decode[ErrorResponse](t, rec).Code)
	assert.Zero(t, ts.detector.calls)
}

func TestHandleClassify_DetectorErrors(t *testing.T) {
	ts := newTestServer(t, true)

	ts.detector.err = &detections.ProcessingError{Message: "inference failed", Cause: errors.New("boom")}
	rec := ts.do(t, http.MethodPost, "/classify", "image/png", pngImage(t))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "processing_error", decode[ErrorResponse](t, rec).Code)

	ts.detector.err = ErrPoolClosed
	rec = ts.do(t, http.MethodPost, "/classify", "image/png", pngImage(t))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "session_error", decode[ErrorResponse](t, rec).Code)
}

func TestHandleFrame_PersistsThroughEmptyFrames(t *testing.T) {
	ts := newTestServer(t, true)
	id := ts.newSession(t)
	frameURL := "/sessions/" + id + "/frames"

	ts.detector.set(det("Cardboard", 0.9), det("Wood", 0.85))
	rec := ts.do(t, http.MethodPost, frameURL, "image/png", pngImage(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ResultResponse](t, rec)
	assert.Equal(t, id, resp.SessionID)
	assert.Equal(t, "populated", resp.State)
	assert.Equal(t, 2, resp.Results.Total)

	ts.detector.set()
	ts.clock.Add(1500 * time.Millisecond)
	rec = ts.do(t, http.MethodPost, frameURL, "image/png", pngImage(t))
	resp = decode[ResultResponse](t, rec)
	assert.Equal(t, 2, resp.Results.Total, "empty frame inside the window keeps the last result")

	ts.clock.Add(time.Second)
	rec = ts.do(t, http.MethodPost, frameURL, "image/png", pngImage(t))
	resp = decode[ResultResponse](t, rec)
	assert.True(t, resp.Results.Empty)
	assert.Equal(t, "empty", resp.State)
	assert.Equal(t, "No waste items detected", resp.Message)
}

func TestHandleFrame_UnknownSession(t *testing.T) {
	ts := newTestServer(t, true)
	rec := ts.do(t, http.MethodPost, "/sessions/nope/frames", "image/png", pngImage(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "session_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestHandleFrame_FailedFrameLeavesStateAlone(t *testing.T) {
	ts := newTestServer(t, true)
	id := ts.newSession(t)
	frameURL := "/sessions/" + id + "/frames"

	ts.detector.set(det("Foil", 0.6))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, frameURL, "image/png", pngImage(t)).Code)

	ts.detector.err = &detections.ProcessingError{Message: "inference failed"}
	assert.Equal(t, http.StatusInternalServerError, ts.do(t, http.MethodPost, frameURL, "image/png", pngImage(t)).Code)

	session, err := ts.state.Arena.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), session.Frames())
}

func TestHandleDetections(t *testing.T) {
	ts := newTestServer(t, false)
	id := ts.newSession(t)

	body := `{"detections": [
		{"label": "Organic", "confidence": 0.93, "bounding_box": [10, 10, 50, 50]},
		{"label": "Plastic bottle", "confidence": 0.4, "bounding_box": [60, 10, 90, 80]},
		{"label": "Tin", "confidence": 0.1, "bounding_box": [0, 0, 5, 5]},
		{"label": "", "confidence": 0.9, "bounding_box": [0, 0, 5, 5]},
		{"label": "Foil", "bounding_box": [0, 0, 5, 5]},
		{"label": "Textile", "confidence": 0.9, "bounding_box": [0, 0]}
	]}`
	rec := ts.do(t, http.MethodPost, "/sessions/"+id+"/detections", "application/json", []byte(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ResultResponse](t, rec)
	assert.Equal(t, 2, resp.Results.Total)
	assert.Equal(t, "Organic", resp.Results.Items[0].Label)
	assert.Equal(t, models.Compost, resp.Results.Items[0].Category)
	assert.Equal(t, "Plastic bottle", resp.Results.Items[1].Label)

	require.Len(t, resp.Rejected, 3)
	assert.Contains(t, resp.Rejected[0], "detection 3")
	assert.Contains(t, resp.Rejected[0], "label")
	assert.Contains(t, resp.Rejected[1], "confidence")
	assert.Contains(t, resp.Rejected[2], "bounding_box")
}

func TestHandleDetections_ThresholdOverride(t *testing.T) {
	ts := newTestServer(t, false)
	id := ts.newSession(t)

	body := `{"detections": [{"label": "Tin", "confidence": 0.1, "bounding_box": [0, 0, 5, 5]}]}`
	rec := ts.do(t, http.MethodPost, "/sessions/"+id+"/detections?threshold=0.05", "application/json", []byte(body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ResultResponse](t, rec).Results.Total)

	rec = ts.do(t, http.MethodPost, "/sessions/"+id+"/detections?threshold=abc", "application/json", []byte(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/sessions/"+id+"/detections", "application/json", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode[ErrorResponse](t, rec).Code)
}

func TestEndSession(t *testing.T) {
	ts := newTestServer(t, false)
	id := ts.newSession(t)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/sessions/"+id, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/sessions/"+id, "", nil).Code)

	body := `{"detections": []}`
	rec := ts.do(t, http.MethodPost, "/sessions/"+id+"/detections", "application/json", []byte(body))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCategories(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodGet, "/categories", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[[]CategoryResponse](t, rec)
	require.Len(t, resp, 3)
	assert.Equal(t, models.Compost, resp[0].Name)
	assert.Equal(t, "COMPOST", resp[0].Display)
	assert.Equal(t, "#00b400", resp[0].Color)
	assert.Equal(t, "Biodegradable items that break down naturally", resp[0].Legend)
	assert.Contains(t, resp[1].Labels, "Cardboard")
	assert.Equal(t, "#ff0000", resp[2].Color)
}

func TestMonitoringRoutes(t *testing.T) {
	ts := newTestServer(t, false)
	id := ts.newSession(t)
	ts.newSession(t)

	body := `{"detections": [{"label": "Wood", "confidence": 0.9, "bounding_box": [0, 0, 5, 5]}]}`
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/sessions/"+id+"/detections", "application/json", []byte(body)).Code)
	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/sessions/"+id, "", nil).Code)

	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := decode[MetricsResponse](t, rec)
	assert.Nil(t, metrics.Pool)
	assert.Equal(t, 1, metrics.Sessions.Active)
	assert.Equal(t, int64(2), metrics.Sessions.Created)
	assert.Equal(t, int64(1), metrics.Sessions.Ended)
	assert.Equal(t, int64(1), metrics.Sessions.Frames)

	rec = ts.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, HealthResponse{Status: "ok", Categories: 3, ActiveSessions: 1}, health)
}

func TestResultMessage(t *testing.T) {
	assert.Equal(t, "No waste items detected", resultMessage(0))
	assert.Equal(t, "1 waste item detected", resultMessage(1))
	assert.True(t, strings.HasPrefix(resultMessage(7), "7 "))
}
