// Package pipeline implements asynchronous frame processing: queued frames
// are decoded, scanned for faces, matched against open cases, and matches
// raise notifications. It also hosts the readiness gate the edge device polls
// before uploading.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/findwatch/findwatch/internal/crops"
	"github.com/findwatch/findwatch/internal/detect"
	"github.com/findwatch/findwatch/internal/imaging"
	"github.com/findwatch/findwatch/internal/match"
	"github.com/findwatch/findwatch/internal/store"
)

// ErrBusy is returned by Submit when the processing queue is full. The
// readiness gate is the primary admission control; this is the backstop for
// devices that upload without polling.
var ErrBusy = errors.New("processing queue full")

// Config holds the pipeline tunables.
type Config struct {
	// QueueSize bounds the frame queue between Submit and the workers.
	QueueSize int
	Workers   int
	// FrameTimeout is the processing budget per frame.
	FrameTimeout time.Duration
	// MaxInFlightFrames is the pending+processing bound enforced by the
	// readiness gate.
	MaxInFlightFrames int
	// MaxActiveCases caps how many open cases the matcher considers.
	MaxActiveCases int
	// ReadyWhenIdle makes the gate report ready even with zero open cases.
	ReadyWhenIdle bool
	// MinCropSize skips detected boxes smaller than this after clamping.
	MinCropSize int
	// FramesDir is where uploaded frame files are kept.
	FramesDir string
}

// Pipeline processes uploaded frames through detection and matching.
type Pipeline struct {
	cfg      Config
	log      *zap.Logger
	store    store.Store
	crops    *crops.Store
	detector detect.Detector
	engine   *match.Engine

	queue    chan string
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a pipeline and its frame directory. Workers do not run until
// Start is called.
func New(
	cfg Config,
	log *zap.Logger,
	st store.Store,
	cropStore *crops.Store,
	detector detect.Detector,
	engine *match.Engine,
) (*Pipeline, error) {
	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("queue size must be >= 1, got %d", cfg.QueueSize)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("worker count must be >= 1, got %d", cfg.Workers)
	}
	if err := os.MkdirAll(cfg.FramesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frames directory: %w", err)
	}

	return &Pipeline{
		cfg:      cfg,
		log:      log,
		store:    st,
		crops:    cropStore,
		detector: detector,
		engine:   engine,
		queue:    make(chan string, cfg.QueueSize),
	}, nil
}

// Start launches the worker pool. Workers exit when Stop closes the queue or
// the context is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop closes the queue and waits for workers to drain it.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.queue) })
	p.wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.log.With(zap.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopping", zap.Error(ctx.Err()))
			return
		case frameID, ok := <-p.queue:
			if !ok {
				return
			}
			p.processFrame(ctx, frameID)
		}
	}
}

// Submit validates and persists an uploaded frame, then queues it for
// asynchronous processing. Undecodable uploads are rejected synchronously
// with an error wrapping imaging.ErrDecode; a full queue returns ErrBusy.
func (p *Pipeline) Submit(ctx context.Context, source string, r io.Reader) (*store.Frame, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	// Validate before accepting: the device gets an immediate error for
	// corrupt uploads instead of a frame that fails later.
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	format := "jpg"
	if _, f, err := image.DecodeConfig(bytes.NewReader(data)); err == nil && f != "" {
		format = f
	}

	id := uuid.NewString()
	path := filepath.Join(p.cfg.FramesDir, id+"."+format)
	if err := writeFileAtomic(path, data); err != nil {
		return nil, fmt.Errorf("store frame file: %w", err)
	}

	now := time.Now().UTC()
	frame := &store.Frame{
		ID:        id,
		Source:    source,
		Path:      path,
		Status:    store.FrameStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateFrame(ctx, frame); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("create frame record: %w", err)
	}

	select {
	case p.queue <- id:
	default:
		frame.Status = store.FrameStatusFailed
		frame.Error = "processing queue full"
		if err := p.store.UpdateFrame(ctx, frame); err != nil {
			p.log.Error("failed to mark overflowed frame",
				zap.String("frame_id", id), zap.Error(err))
		}
		os.Remove(path)
		return nil, ErrBusy
	}

	p.log.Info("frame queued",
		zap.String("frame_id", id),
		zap.String("source", source),
		zap.Int("bytes", len(data)))
	return frame, nil
}

// processFrame runs the full detection and matching pass for one frame.
func (p *Pipeline) processFrame(ctx context.Context, frameID string) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FrameTimeout)
	defer cancel()

	log := p.log.With(zap.String("frame_id", frameID))

	frame, err := p.store.GetFrame(ctx, frameID)
	if err != nil {
		log.Error("failed to load queued frame", zap.Error(err))
		return
	}

	frame.Status = store.FrameStatusProcessing
	if err := p.store.UpdateFrame(ctx, frame); err != nil {
		log.Error("failed to mark frame processing", zap.Error(err))
		return
	}

	img, err := p.decodeFrameFile(frame.Path)
	if err != nil {
		p.failFrame(ctx, log, frame, "decode", err)
		return
	}

	boxes, err := p.detector.Detect(img)
	if err != nil {
		p.failFrame(ctx, log, frame, "detect", err)
		return
	}
	frame.FaceCount = len(boxes)
	log.Info("faces detected", zap.Int("count", len(boxes)))

	if len(boxes) > 0 {
		if err := p.matchFaces(ctx, log, frame, img, boxes); err != nil {
			p.failFrame(ctx, log, frame, "match", err)
			return
		}
	}

	frame.Status = store.FrameStatusDone
	frame.Error = ""
	if err := p.store.UpdateFrame(ctx, frame); err != nil {
		log.Error("failed to mark frame done", zap.Error(err))
	}
}

// matchFaces scores each detected face against the open cases and raises a
// notification per winning (case, frame) pair.
func (p *Pipeline) matchFaces(
	ctx context.Context,
	log *zap.Logger,
	frame *store.Frame,
	img image.Image,
	boxes []image.Rectangle,
) error {
	candidates, err := p.loadCandidates(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	for _, box := range boxes {
		if err := ctx.Err(); err != nil {
			return err
		}

		crop, ok := imaging.ExtractCrop(img, box, p.cfg.MinCropSize)
		if !ok {
			log.Debug("skipping tiny face box",
				zap.Int("w", box.Dx()), zap.Int("h", box.Dy()))
			continue
		}

		res, matched := p.engine.BestMatch(crop, candidates)
		if !matched {
			continue
		}
		if err := p.notify(ctx, log, frame, res, crop); err != nil {
			return err
		}
	}
	return nil
}

// loadCandidates snapshots the open cases and their reference crops. The
// snapshot is taken once per frame so every face in the frame sees the same
// case set.
func (p *Pipeline) loadCandidates(ctx context.Context) ([]match.Candidate, error) {
	cases, err := p.store.ListCases(ctx, store.CaseStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("list open cases: %w", err)
	}
	if len(cases) > p.cfg.MaxActiveCases {
		// The readiness gate refuses uploads past this bound; frames
		// already in flight match against the first cases by id.
		cases = cases[:p.cfg.MaxActiveCases]
	}

	candidates := make([]match.Candidate, 0, len(cases))
	for _, c := range cases {
		refs, err := p.crops.LoadReferences(c.ID)
		if err != nil {
			return nil, fmt.Errorf("load references for case %s: %w", c.ID, err)
		}
		cand := match.Candidate{CaseID: c.ID}
		for _, ref := range refs {
			cand.Refs = append(cand.Refs, ref.Image)
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

// notify records a match. The store enforces at most one notification per
// (case, frame) pair; duplicates from additional faces are silently dropped.
func (p *Pipeline) notify(
	ctx context.Context,
	log *zap.Logger,
	frame *store.Frame,
	res match.Result,
	crop image.Image,
) error {
	n := &store.Notification{
		ID:        uuid.NewString(),
		CaseID:    res.CaseID,
		FrameID:   frame.ID,
		Score:     res.Score,
		Status:    store.NotificationStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	created, err := p.store.CreateNotification(ctx, n)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	if !created {
		log.Debug("duplicate match suppressed", zap.String("case_id", res.CaseID))
		return nil
	}

	if _, err := p.crops.SaveSighting(res.CaseID, crop); err != nil {
		// The notification already exists; a lost sighting crop is not
		// worth failing the frame over.
		log.Warn("failed to save sighting crop",
			zap.String("case_id", res.CaseID), zap.Error(err))
	}

	log.Info("match notification created",
		zap.String("case_id", res.CaseID),
		zap.String("notification_id", n.ID),
		zap.Float64("score", res.Score))
	return nil
}

// failFrame marks a frame failed with the stage that broke.
func (p *Pipeline) failFrame(ctx context.Context, log *zap.Logger, frame *store.Frame, stage string, err error) {
	log.Error("frame processing failed", zap.String("stage", stage), zap.Error(err))

	frame.Status = store.FrameStatusFailed
	frame.Error = fmt.Sprintf("%s: %v", stage, err)
	// Use a fresh context: the frame context may already be past its
	// deadline, and the failure must still be recorded.
	updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.UpdateFrame(updateCtx, frame); err != nil {
		log.Error("failed to mark frame failed", zap.Error(err))
	}
}

func (p *Pipeline) decodeFrameFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame file: %w", err)
	}
	defer f.Close()
	return imaging.Decode(f)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
