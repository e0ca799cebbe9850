// Package detect finds faces in frames using an OpenCV Haar cascade
// classifier. The Detector interface keeps the rest of the pipeline free of
// the cgo dependency so it can be tested with stub detectors.
package detect

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Detector locates face bounding boxes in an image. Implementations must be
// safe for concurrent use by multiple pipeline workers.
type Detector interface {
	Detect(img image.Image) ([]image.Rectangle, error)
	Close() error
}

// Params configure the Haar cascade scan.
type Params struct {
	// ScaleFactor is the image pyramid step, must be > 1.
	ScaleFactor float64
	// MinNeighbors is the detection merge threshold; higher values trade
	// recall for fewer false positives.
	MinNeighbors int
	// MinSize is the smallest face side in pixels the scan reports.
	MinSize int
}

// Cascade is a Haar cascade face detector. OpenCV's classifier is not
// reentrant, so a mutex-free design would corrupt detections under load;
// callers get one Cascade and it serializes internally via a worker channel.
type Cascade struct {
	classifier gocv.CascadeClassifier
	params     Params

	// sem serializes access to the classifier.
	sem chan struct{}
}

// NewCascade loads the cascade XML from path. It fails fast on a missing or
// malformed file so the serve command can refuse to start without a working
// detector.
func NewCascade(path string, params Params) (*Cascade, error) {
	if params.ScaleFactor <= 1 {
		return nil, fmt.Errorf("cascade scale factor must be > 1, got %v", params.ScaleFactor)
	}
	if params.MinNeighbors < 1 {
		return nil, fmt.Errorf("cascade min neighbors must be >= 1, got %d", params.MinNeighbors)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load cascade classifier from %q", path)
	}

	c := &Cascade{
		classifier: classifier,
		params:     params,
		sem:        make(chan struct{}, 1),
	}
	c.sem <- struct{}{}
	return c, nil
}

// Detect runs the cascade over the grayscale conversion of img and returns
// face bounding boxes in deterministic order (see SortBoxes).
func (c *Cascade) Detect(img image.Image) ([]image.Rectangle, error) {
	<-c.sem
	defer func() { c.sem <- struct{}{} }()

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image to mat: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorRGBToGray)

	minSize := image.Pt(c.params.MinSize, c.params.MinSize)
	boxes := c.classifier.DetectMultiScaleWithParams(
		gray,
		c.params.ScaleFactor,
		c.params.MinNeighbors,
		0,
		minSize,
		image.Pt(0, 0),
	)

	SortBoxes(boxes)
	return boxes, nil
}

// Close releases the underlying OpenCV classifier.
func (c *Cascade) Close() error {
	<-c.sem
	defer func() { c.sem <- struct{}{} }()
	return c.classifier.Close()
}
