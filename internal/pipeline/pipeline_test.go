package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/findwatch/findwatch/internal/crops"
	"github.com/findwatch/findwatch/internal/imaging"
	"github.com/findwatch/findwatch/internal/match"
	"github.com/findwatch/findwatch/internal/store"
	"github.com/findwatch/findwatch/internal/store/mock"
)

// stubDetector returns a fixed set of boxes without OpenCV.
type stubDetector struct {
	boxes []image.Rectangle
	err   error
}

func (d *stubDetector) Detect(img image.Image) ([]image.Rectangle, error) {
	return d.boxes, d.err
}

func (d *stubDetector) Close() error { return nil }

// blockFace builds a face stand-in from two flat regions. Flat regions keep
// the intensity histogram spiky, which survives the JPEG round trip through
// the crop store.
func blockFace(size int, left, right uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := left
			if x >= size/2 {
				v = right
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

// frameWithFace pastes a face block into a dark frame at the given box.
func frameWithFace(face image.Image, box image.Rectangle) *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, 200, 200))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)
	draw.Draw(frame, box, face, face.Bounds().Min, draw.Src)
	return frame
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type testEnv struct {
	pipeline *Pipeline
	store    *mock.MockStore
	crops    *crops.Store
}

func newTestEnv(t *testing.T, det *stubDetector, tweak func(*Config)) *testEnv {
	t.Helper()

	cfg := Config{
		QueueSize:         8,
		Workers:           1,
		FrameTimeout:      10 * time.Second,
		MaxInFlightFrames: 8,
		MaxActiveCases:    20,
		MinCropSize:       20,
		FramesDir:         t.TempDir(),
	}
	if tweak != nil {
		tweak(&cfg)
	}

	st := mock.NewMockStore()
	cropStore, err := crops.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create crop store: %v", err)
	}

	p, err := New(cfg, zap.NewNop(), st, cropStore, det, match.NewEngine(0.6, 100))
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	return &testEnv{pipeline: p, store: st, crops: cropStore}
}

func (e *testEnv) addOpenCase(t *testing.T, id string) {
	t.Helper()
	err := e.store.CreateCase(context.Background(), &store.Case{
		ID:        id,
		Name:      id,
		Status:    store.CaseStatusOpen,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
}

func TestSubmitRejectsUndecodableUpload(t *testing.T) {
	env := newTestEnv(t, &stubDetector{}, nil)

	_, err := env.pipeline.Submit(context.Background(), "cam-1", strings.NewReader("not an image"))
	if !errors.Is(err, imaging.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	// One slot, no workers draining it.
	env := newTestEnv(t, &stubDetector{}, func(c *Config) { c.QueueSize = 1 })
	ctx := context.Background()
	body := pngBytes(t, blockFace(100, 60, 200))

	if _, err := env.pipeline.Submit(ctx, "cam-1", bytes.NewReader(body)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := env.pipeline.Submit(ctx, "cam-1", bytes.NewReader(body))
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestProcessFrameMatchCreatesNotification(t *testing.T) {
	face := blockFace(100, 60, 200)
	box := image.Rect(50, 50, 150, 150)
	det := &stubDetector{boxes: []image.Rectangle{box}}
	env := newTestEnv(t, det, nil)
	ctx := context.Background()

	env.addOpenCase(t, "case-1")
	if _, err := env.crops.SaveReference("case-1", face); err != nil {
		t.Fatalf("save reference: %v", err)
	}

	frame, err := env.pipeline.Submit(ctx, "cam-1", bytes.NewReader(pngBytes(t, frameWithFace(face, box))))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	env.pipeline.processFrame(ctx, frame.ID)

	got, err := env.store.GetFrame(ctx, frame.ID)
	if err != nil {
		t.Fatalf("get frame: %v", err)
	}
	if got.Status != store.FrameStatusDone {
		t.Fatalf("expected done frame, got %q (error %q)", got.Status, got.Error)
	}
	if got.FaceCount != 1 {
		t.Errorf("expected face count 1, got %d", got.FaceCount)
	}

	notifications, err := env.store.ListNotifications(ctx, "", "")
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifications))
	}
	n := notifications[0]
	if n.CaseID != "case-1" || n.FrameID != frame.ID {
		t.Errorf("unexpected notification: %+v", n)
	}
	if n.Score <= 0.6 {
		t.Errorf("expected score above threshold, got %v", n.Score)
	}
	if n.Status != store.NotificationStatusPending {
		t.Errorf("expected pending notification, got %q", n.Status)
	}
}

func TestProcessFrameNoMatch(t *testing.T) {
	face := blockFace(100, 60, 200)
	other := blockFace(100, 110, 140)
	box := image.Rect(50, 50, 150, 150)
	det := &stubDetector{boxes: []image.Rectangle{box}}
	env := newTestEnv(t, det, nil)
	ctx := context.Background()

	env.addOpenCase(t, "case-1")
	if _, err := env.crops.SaveReference("case-1", other); err != nil {
		t.Fatalf("save reference: %v", err)
	}

	frame, err := env.pipeline.Submit(ctx, "cam-1", bytes.NewReader(pngBytes(t, frameWithFace(face, box))))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	env.pipeline.processFrame(ctx, frame.ID)

	got, err := env.store.GetFrame(ctx, frame.ID)
	if err != nil {
		t.Fatalf("get frame: %v", err)
	}
	if got.Status != store.FrameStatusDone {
		t.Fatalf("expected done frame, got %q (error %q)", got.Status, got.Error)
	}

	notifications, err := env.store.ListNotifications(ctx, "", "")
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifications) != 0 {
		t.Errorf("expected no notifications, got %d", len(notifications))
	}
}

func TestTwoMatchingFacesOneNotification(t *testing.T) {
	face := blockFace(100, 60, 200)
	boxA := image.Rect(0, 0, 100, 100)
	boxB := image.Rect(100, 100, 200, 200)
	det := &stubDetector{boxes: []image.Rectangle{boxA, boxB}}
	env := newTestEnv(t, det, nil)
	ctx := context.Background()

	env.addOpenCase(t, "case-1")
	if _, err := env.crops.SaveReference("case-1", face); err != nil {
		t.Fatalf("save reference: %v", err)
	}

	// Both boxes contain the same face.
	frame := frameWithFace(face, boxA)
	draw.Draw(frame, boxB, face, face.Bounds().Min, draw.Src)

	submitted, err := env.pipeline.Submit(ctx, "cam-1", bytes.NewReader(pngBytes(t, frame)))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	env.pipeline.processFrame(ctx, submitted.ID)

	got, err := env.store.GetFrame(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("get frame: %v", err)
	}
	if got.FaceCount != 2 {
		t.Errorf("expected face count 2, got %d", got.FaceCount)
	}

	notifications, err := env.store.ListNotifications(ctx, "", "case-1")
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifications) != 1 {
		t.Errorf("expected exactly 1 notification for (case, frame), got %d", len(notifications))
	}
}

func TestProcessFrameDetectorFailure(t *testing.T) {
	det := &stubDetector{err: errors.New("classifier exploded")}
	env := newTestEnv(t, det, nil)
	ctx := context.Background()

	frame, err := env.pipeline.Submit(ctx, "cam-1", bytes.NewReader(pngBytes(t, blockFace(100, 60, 200))))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	env.pipeline.processFrame(ctx, frame.ID)

	got, err := env.store.GetFrame(ctx, frame.ID)
	if err != nil {
		t.Fatalf("get frame: %v", err)
	}
	if got.Status != store.FrameStatusFailed {
		t.Fatalf("expected failed frame, got %q", got.Status)
	}
	if !strings.HasPrefix(got.Error, "detect:") {
		t.Errorf("expected detect stage error, got %q", got.Error)
	}
}

func TestReadinessGate(t *testing.T) {
	env := newTestEnv(t, &stubDetector{}, func(c *Config) {
		c.MaxInFlightFrames = 2
		c.MaxActiveCases = 3
	})
	ctx := context.Background()

	// No open cases: not ready by default.
	r, err := env.pipeline.Ready(ctx)
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if r.Ready || r.Reason != "no open cases" {
		t.Errorf("expected not ready with no open cases, got %+v", r)
	}

	env.addOpenCase(t, "case-1")
	r, err = env.pipeline.Ready(ctx)
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if !r.Ready {
		t.Errorf("expected ready with one open case, got %+v", r)
	}

	// Backlog at the bound refuses uploads.
	now := time.Now().UTC()
	for _, id := range []string{"f1", "f2"} {
		err := env.store.CreateFrame(ctx, &store.Frame{
			ID: id, Path: "x", Status: store.FrameStatusPending, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("create frame: %v", err)
		}
	}
	r, err = env.pipeline.Ready(ctx)
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if r.Ready || r.Reason != "frame backlog full" {
		t.Errorf("expected backlog refusal, got %+v", r)
	}
}

func TestReadinessTooManyCases(t *testing.T) {
	env := newTestEnv(t, &stubDetector{}, func(c *Config) { c.MaxActiveCases = 2 })
	ctx := context.Background()

	for _, id := range []string{"case-1", "case-2", "case-3"} {
		env.addOpenCase(t, id)
	}

	r, err := env.pipeline.Ready(ctx)
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if r.Ready || r.Reason != "too many open cases" {
		t.Errorf("expected refusal over case bound, got %+v", r)
	}
}

func TestReadinessWhenIdle(t *testing.T) {
	env := newTestEnv(t, &stubDetector{}, func(c *Config) { c.ReadyWhenIdle = true })

	r, err := env.pipeline.Ready(context.Background())
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if !r.Ready {
		t.Errorf("expected ready when idle, got %+v", r)
	}
}

func TestWorkersProcessSubmittedFrames(t *testing.T) {
	face := blockFace(100, 60, 200)
	box := image.Rect(50, 50, 150, 150)
	det := &stubDetector{boxes: []image.Rectangle{box}}
	env := newTestEnv(t, det, func(c *Config) { c.Workers = 2 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.addOpenCase(t, "case-1")
	if _, err := env.crops.SaveReference("case-1", face); err != nil {
		t.Fatalf("save reference: %v", err)
	}

	env.pipeline.Start(ctx)

	frame, err := env.pipeline.Submit(ctx, "cam-1", bytes.NewReader(pngBytes(t, frameWithFace(face, box))))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	env.pipeline.Stop()

	got, err := env.store.GetFrame(ctx, frame.ID)
	if err != nil {
		t.Fatalf("get frame: %v", err)
	}
	if got.Status != store.FrameStatusDone {
		t.Errorf("expected done frame after drain, got %q (error %q)", got.Status, got.Error)
	}
}
