package detect

import (
	"image"
	"sort"
)

// SortBoxes orders bounding boxes largest-area first, breaking ties by the
// top-left corner (x, then y). OpenCV returns detections in scan order that
// can vary between runs; a fixed order keeps downstream processing and
// notification outcomes reproducible for the same frame.
func SortBoxes(boxes []image.Rectangle) {
	sort.Slice(boxes, func(i, j int) bool {
		ai := boxes[i].Dx() * boxes[i].Dy()
		aj := boxes[j].Dx() * boxes[j].Dy()
		if ai != aj {
			return ai > aj
		}
		if boxes[i].Min.X != boxes[j].Min.X {
			return boxes[i].Min.X < boxes[j].Min.X
		}
		return boxes[i].Min.Y < boxes[j].Min.Y
	})
}
