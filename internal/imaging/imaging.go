// Package imaging implements the image math used by the matching pipeline:
// decoding uploads, extracting face crops from detector bounding boxes, and
// scoring crop similarity via grayscale histogram correlation.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
)

// ErrDecode marks image bytes that could not be decoded. Callers must treat
// this differently from "no face found".
var ErrDecode = errors.New("undecodable image")

// Decode reads and decodes an image from r. A decode failure wraps ErrDecode.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// ExtractCrop clips the sub-image for a bounding box, clamping the box to the
// image bounds. Returns ok=false when the clamped box falls below minSize on
// either side; such boxes are skipped, not errors.
func ExtractCrop(img image.Image, box image.Rectangle, minSize int) (image.Image, bool) {
	clamped := box.Intersect(img.Bounds())
	if clamped.Dx() < minSize || clamped.Dy() < minSize {
		return nil, false
	}

	crop := image.NewRGBA(image.Rect(0, 0, clamped.Dx(), clamped.Dy()))
	draw.Draw(crop, crop.Bounds(), img, clamped.Min, draw.Src)
	return crop, true
}

// resizeCanonical scales an image to size x size using the CatmullRom kernel.
// The scaler is deterministic, so identical inputs always produce identical
// pixels and therefore identical histograms.
func resizeCanonical(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// grayHistogram builds a 256-bin intensity histogram of the grayscale
// conversion of img.
func grayHistogram(img image.Image) [256]float64 {
	var hist [256]float64
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma, same weighting as image/color.GrayModel.
			luma := (19595*r + 38470*g + 7471*b + 1<<15) >> 24
			hist[luma]++
		}
	}
	return hist
}

// correlation computes the Pearson correlation coefficient between two
// histograms, in [-1, 1]. Returns ok=false when either histogram has zero
// variance, in which case correlation is undefined.
func correlation(a, b [256]float64) (float64, bool) {
	n := float64(len(a))
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}

// Similarity scores two face crops in [0, 1]. Both crops are resized to the
// canonical size, converted to grayscale, and their intensity histograms
// compared with Pearson correlation rescaled from [-1, 1] to [0, 1].
// Degenerate inputs (empty crop, zero-variance histogram) score 0: a crop
// that carries no signal can never match.
func Similarity(a, b image.Image, canonicalSize int) float64 {
	if a == nil || b == nil || canonicalSize <= 0 {
		return 0
	}
	if a.Bounds().Empty() || b.Bounds().Empty() {
		return 0
	}

	ha := grayHistogram(resizeCanonical(a, canonicalSize))
	hb := grayHistogram(resizeCanonical(b, canonicalSize))

	corr, ok := correlation(ha, hb)
	if !ok {
		return 0
	}
	return (corr + 1) / 2
}
