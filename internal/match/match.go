// Package match scores detected face crops against the reference crops of
// open cases and arbitrates a single winner per face.
package match

import (
	"image"

	"github.com/findwatch/findwatch/internal/imaging"
)

// Candidate is one open case with its reference crops.
type Candidate struct {
	CaseID string
	Refs   []image.Image
}

// Result is the winning case for a query crop.
type Result struct {
	CaseID string
	Score  float64
}

// Engine arbitrates matches with a fixed threshold and canonical crop size.
type Engine struct {
	threshold     float64
	canonicalSize int
}

// NewEngine creates a match engine. Threshold is strict: a score equal to it
// does not match.
func NewEngine(threshold float64, canonicalSize int) *Engine {
	return &Engine{threshold: threshold, canonicalSize: canonicalSize}
}

// caseScore is the best similarity between the query and any reference crop
// of one case. A case with no reference crops scores 0.
func (e *Engine) caseScore(query image.Image, refs []image.Image) float64 {
	best := 0.0
	for _, ref := range refs {
		if s := imaging.Similarity(query, ref, e.canonicalSize); s > best {
			best = s
		}
	}
	return best
}

// BestMatch returns the single case whose reference crops best match the
// query, provided the score strictly exceeds the threshold. When two cases
// score identically the lexicographically smaller case id wins, which keeps
// the outcome independent of candidate order.
func (e *Engine) BestMatch(query image.Image, candidates []Candidate) (Result, bool) {
	var winner Result
	found := false

	for _, cand := range candidates {
		score := e.caseScore(query, cand.Refs)
		if score <= e.threshold {
			continue
		}
		if !found || score > winner.Score || (score == winner.Score && cand.CaseID < winner.CaseID) {
			winner = Result{CaseID: cand.CaseID, Score: score}
			found = true
		}
	}
	return winner, found
}

// Threshold returns the configured similarity threshold.
func (e *Engine) Threshold() float64 {
	return e.threshold
}
