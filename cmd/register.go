package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/findwatch/findwatch/internal/config"
	"github.com/findwatch/findwatch/internal/crops"
	"github.com/findwatch/findwatch/internal/detect"
	"github.com/findwatch/findwatch/internal/imaging"
	"github.com/findwatch/findwatch/internal/store"
)

var registerCmd = &cobra.Command{
	Use:   "register <case-id> <folder-path> [folder-path...]",
	Short: "Register reference photos for a case",
	Long: `Register reference photos of a missing person from one or more folders.

Each photo is run through the face detector; the largest detected face is
cropped and stored as a reference crop for the case. Photos with no
detectable face are reported and skipped.

By default, only files in the specified folders are registered
(non-recursive). Use -r to search recursively in subdirectories.
Supported formats: jpg, jpeg, png, gif, bmp

Example:
  findwatch register 6f1c9b2a-... /path/to/photos
  findwatch register -r 6f1c9b2a-... /path/to/photos  # recursive search`,
	Args: cobra.MinimumNArgs(2),
	RunE: runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().BoolP("recursive", "r", false, "Search for photos recursively in subdirectories")
}

// isImageFile checks if a file has an extension the decoder supports.
func isImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	supported := map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".gif":  true,
		".bmp":  true,
	}
	return supported[ext]
}

// collectImageFiles gathers image paths from the given folders.
func collectImageFiles(folderPaths []string, recursive bool) ([]string, error) {
	var filePaths []string
	for _, folderPath := range folderPaths {
		info, err := os.Stat(folderPath)
		if err != nil {
			return nil, fmt.Errorf("cannot access folder %s: %w", folderPath, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", folderPath)
		}

		if recursive {
			err := filepath.WalkDir(folderPath, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isImageFile(d.Name()) {
					filePaths = append(filePaths, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("cannot walk folder %s: %w", folderPath, err)
			}
		} else {
			entries, err := os.ReadDir(folderPath)
			if err != nil {
				return nil, fmt.Errorf("cannot read folder %s: %w", folderPath, err)
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				if isImageFile(entry.Name()) {
					filePaths = append(filePaths, filepath.Join(folderPath, entry.Name()))
				}
			}
		}
	}
	return filePaths, nil
}

func openCropStore(cfg *config.Config) (*crops.Store, error) {
	return crops.NewStore(filepath.Join(cfg.Storage.DataDir, "crops"))
}

// removeCaseCrops deletes all stored crops for a case.
func removeCaseCrops(cfg *config.Config, caseID string) error {
	cropStore, err := openCropStore(cfg)
	if err != nil {
		return err
	}
	return cropStore.DeleteCase(caseID)
}

func runRegister(cmd *cobra.Command, args []string) error {
	caseID := args[0]
	folderPaths := args[1:]
	recursive := mustGetBool(cmd, "recursive")

	cfg := config.Load()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	c, err := st.GetCase(context.Background(), caseID)
	if err != nil {
		return fmt.Errorf("failed to look up case: %w", err)
	}
	if c.Status != store.CaseStatusOpen {
		return fmt.Errorf("cannot register photos for case %s: %w", caseID, store.ErrCaseClosed)
	}

	filePaths, err := collectImageFiles(folderPaths, recursive)
	if err != nil {
		return err
	}
	if len(filePaths) == 0 {
		fmt.Println("No image files found in the specified folders.")
		return nil
	}

	fmt.Printf("Found %d photo(s) to register from %d folder(s)\n", len(filePaths), len(folderPaths))
	fmt.Printf("Registering to case: %s\n\n", c.Name)

	detector, err := detect.NewCascade(cfg.Detector.CascadePath, detect.Params{
		ScaleFactor:  cfg.Detector.ScaleFactor,
		MinNeighbors: cfg.Detector.MinNeighbors,
		MinSize:      cfg.Detector.MinSize,
	})
	if err != nil {
		return fmt.Errorf("failed to load face detector: %w", err)
	}
	defer detector.Close()

	cropStore, err := openCropStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open crop store: %w", err)
	}

	bar := progressbar.NewOptions(len(filePaths),
		progressbar.OptionSetDescription("Registering"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	registered := 0
	var skipped []string
	for _, filePath := range filePaths {
		fileName := filepath.Base(filePath)

		if err := registerPhoto(cropStore, detector, cfg, caseID, filePath); err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", fileName, err))
			bar.Add(1)
			continue
		}
		registered++
		bar.Add(1)
	}
	fmt.Println()

	for _, msg := range skipped {
		fmt.Printf("Skipped: %s\n", msg)
	}

	if registered == 0 {
		return fmt.Errorf("no photos were registered")
	}

	total, err := cropStore.CountReferences(caseID)
	if err != nil {
		return fmt.Errorf("failed to count reference crops: %w", err)
	}
	fmt.Printf("\nDone! Registered %d photo(s); case '%s' now has %d reference crop(s)\n", registered, c.Name, total)
	return nil
}

// registerPhoto extracts the largest face from a photo and stores it as a
// reference crop.
func registerPhoto(cropStore *crops.Store, detector detect.Detector, cfg *config.Config, caseID, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	img, err := imaging.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	boxes, err := detector.Detect(img)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	if len(boxes) == 0 {
		return fmt.Errorf("no face found")
	}

	// Boxes come back largest first; the largest face is assumed to be the
	// subject of a reference photo.
	crop, ok := imaging.ExtractCrop(img, boxes[0], cfg.Matching.MinCropSize)
	if !ok {
		return fmt.Errorf("detected face smaller than %dpx", cfg.Matching.MinCropSize)
	}

	if _, err := cropStore.SaveReference(caseID, crop); err != nil {
		return fmt.Errorf("save crop: %w", err)
	}
	return nil
}
