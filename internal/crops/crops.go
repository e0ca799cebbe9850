// Package crops stores face crops on disk, one directory per case.
// Reference crops come from registered photos of the missing person;
// sighting crops are matched faces kept for operator review.
package crops

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Crop sources.
const (
	SourceReference = "ref"
	SourceSighting  = "sighting"
)

// Crop is a face crop loaded from disk.
type Crop struct {
	ID    string
	Image image.Image
}

// Store persists face crops as JPEG files under root/<case-id>/.
// Writes go through a temp file and an atomic rename so readers never see a
// partially written crop.
type Store struct {
	root string
	mu   sync.Mutex
}

// NewStore creates the crop root directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create crop root: %w", err)
	}
	return &Store{root: root}, nil
}

// SaveReference stores a reference crop for a case and returns the crop id.
func (s *Store) SaveReference(caseID string, img image.Image) (string, error) {
	return s.save(caseID, SourceReference, img)
}

// SaveSighting stores a matched sighting crop for a case.
func (s *Store) SaveSighting(caseID string, img image.Image) (string, error) {
	return s.save(caseID, SourceSighting, img)
}

func (s *Store) save(caseID, source string, img image.Image) (string, error) {
	if caseID == "" {
		return "", fmt.Errorf("case id is required")
	}
	if img == nil || img.Bounds().Empty() {
		return "", fmt.Errorf("crop image is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, caseID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create case directory: %w", err)
	}

	id := source + "_" + uuid.NewString()
	final := filepath.Join(dir, id+".jpg")
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create crop file: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("encode crop: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close crop file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("publish crop: %w", err)
	}
	return id, nil
}

// LoadReferences loads all reference crops for a case, sorted by id so the
// matching order is stable. A case with no crops returns an empty slice.
func (s *Store) LoadReferences(caseID string) ([]Crop, error) {
	dir := filepath.Join(s.root, caseID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read case directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, SourceReference+"_") || !strings.HasSuffix(name, ".jpg") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	crops := make([]Crop, 0, len(names))
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("open crop %s: %w", name, err)
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decode crop %s: %w", name, err)
		}
		crops = append(crops, Crop{
			ID:    strings.TrimSuffix(name, ".jpg"),
			Image: img,
		})
	}
	return crops, nil
}

// CountReferences returns how many reference crops a case has.
func (s *Store) CountReferences(caseID string) (int, error) {
	dir := filepath.Join(s.root, caseID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read case directory: %w", err)
	}

	count := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), SourceReference+"_") && strings.HasSuffix(e.Name(), ".jpg") {
			count++
		}
	}
	return count, nil
}

// DeleteCase removes all crops for a case. Closing a case drops its crops so
// a reopened investigation starts from fresh reference photos.
func (s *Store) DeleteCase(caseID string) error {
	if caseID == "" {
		return fmt.Errorf("case id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(s.root, caseID)); err != nil {
		return fmt.Errorf("delete case crops: %w", err)
	}
	return nil
}
