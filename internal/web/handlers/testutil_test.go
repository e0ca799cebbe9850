package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/findwatch/findwatch/internal/crops"
	"github.com/findwatch/findwatch/internal/match"
	"github.com/findwatch/findwatch/internal/pipeline"
	"github.com/findwatch/findwatch/internal/store/mock"
)

// stubDetector returns fixed boxes so handler tests run without OpenCV.
type stubDetector struct {
	boxes []image.Rectangle
	err   error
}

func (d *stubDetector) Detect(img image.Image) ([]image.Rectangle, error) {
	return d.boxes, d.err
}

func (d *stubDetector) Close() error { return nil }

type testEnv struct {
	store    *mock.MockStore
	crops    *crops.Store
	detector *stubDetector
	pipeline *pipeline.Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := mock.NewMockStore()
	cropStore, err := crops.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create crop store: %v", err)
	}
	det := &stubDetector{}

	cfg := pipeline.Config{
		QueueSize:         4,
		Workers:           1,
		FrameTimeout:      10 * time.Second,
		MaxInFlightFrames: 4,
		MaxActiveCases:    20,
		MinCropSize:       20,
		FramesDir:         t.TempDir(),
	}
	p, err := pipeline.New(cfg, zap.NewNop(), st, cropStore, det, match.NewEngine(0.6, 100))
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	return &testEnv{store: st, crops: cropStore, detector: det, pipeline: p}
}

// testImagePNG encodes a simple two-tone image.
func testImagePNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := uint8(60)
			if x >= size/2 {
				v = 200
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// multipartRequest builds a multipart upload request with one file field.
func multipartRequest(t *testing.T, path, field, filename string, data []byte, form map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range form {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write form field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters.
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type.
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code.
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message.
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
