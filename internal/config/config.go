package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all runtime configuration for the service.
// Values come from the embedded defaults.yaml, overridable via environment
// variables so edge deployments can tune the pipeline without rebuilding.
type Config struct {
	Server   ServerConfig
	Matching MatchingConfig
	Detector DetectorConfig
	Pipeline PipelineConfig
	Storage  StorageConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type MatchingConfig struct {
	// SimilarityThreshold is the minimum histogram-correlation score
	// (0..1) a case must strictly exceed to count as a match.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// MaxActiveCases caps how many open cases are considered for matching.
	MaxActiveCases int `yaml:"max_active_cases"`
	// CanonicalSize is the side length crops are resized to before
	// histogram comparison. Must be identical for reference and query crops.
	CanonicalSize int `yaml:"canonical_size"`
	// MinCropSize skips clamped bounding boxes smaller than this per side.
	MinCropSize int `yaml:"min_crop_size"`
}

type DetectorConfig struct {
	// CascadePath points at the Haar cascade XML. The serve command
	// refuses to start when the classifier cannot be loaded.
	CascadePath  string  `yaml:"cascade_path"`
	ScaleFactor  float64 `yaml:"scale_factor"`
	MinNeighbors int     `yaml:"min_neighbors"`
	MinSize      int     `yaml:"min_size"`
}

type PipelineConfig struct {
	// MaxInFlightFrames bounds pending+processing frames; the readiness
	// gate reports not-ready at or above this count.
	MaxInFlightFrames int
	Workers           int
	// FrameTimeout is the processing budget per frame.
	FrameTimeout time.Duration
	// ReadyWhenIdle controls whether the readiness gate reports ready
	// when there are zero open cases. The original deployment refused
	// frames with nothing to match against; set to true to accept
	// frames anyway.
	ReadyWhenIdle bool
}

type StorageConfig struct {
	// Driver selects the store backend: "sqlite" or "postgres".
	Driver string
	// DataDir holds frame files and face crops.
	DataDir string
	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string
	// PostgresURL is the connection URL for the postgres driver.
	PostgresURL  string
	MaxOpenConns int
	MaxIdleConns int
}

type LoggingConfig struct {
	Level  string
	Format string // json or text
}

// defaults mirrors the yaml layout of defaults.yaml.
type defaults struct {
	Matching MatchingConfig   `yaml:"matching"`
	Detector DetectorConfig   `yaml:"detector"`
	Pipeline pipelineDefaults `yaml:"pipeline"`
}

// pipelineDefaults keeps the frame timeout as a duration string in yaml.
type pipelineDefaults struct {
	MaxInFlightFrames int    `yaml:"max_inflight_frames"`
	Workers           int    `yaml:"workers"`
	FrameTimeout      string `yaml:"frame_timeout"`
	ReadyWhenIdle     bool   `yaml:"ready_when_idle"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float in (0, 1].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

// envScale reads an environment variable as a cascade scale step (> 1).
func envScale(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 1 {
		return f
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean.
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return b
}

// envString reads an environment variable with a fallback.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envDuration reads an environment variable as a duration string (e.g. "30s").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func Load() *Config {
	var d defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// Embedded file, parse failure means a broken build.
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	frameTimeout, err := time.ParseDuration(d.Pipeline.FrameTimeout)
	if err != nil || frameTimeout <= 0 {
		frameTimeout = 30 * time.Second
	}

	return &Config{
		Server: ServerConfig{
			Host: envString("WEB_HOST", "0.0.0.0"),
			Port: envInt("WEB_PORT", 8080),
		},
		Matching: MatchingConfig{
			SimilarityThreshold: envFloat("SIMILARITY_THRESHOLD", d.Matching.SimilarityThreshold),
			MaxActiveCases:      envInt("MAX_ACTIVE_CASES", d.Matching.MaxActiveCases),
			CanonicalSize:       envInt("CANONICAL_CROP_SIZE", d.Matching.CanonicalSize),
			MinCropSize:         envInt("MIN_CROP_SIZE", d.Matching.MinCropSize),
		},
		Detector: DetectorConfig{
			CascadePath:  envString("CASCADE_PATH", d.Detector.CascadePath),
			ScaleFactor:  envScale("CASCADE_SCALE_FACTOR", d.Detector.ScaleFactor),
			MinNeighbors: envInt("CASCADE_MIN_NEIGHBORS", d.Detector.MinNeighbors),
			MinSize:      envInt("CASCADE_MIN_SIZE", d.Detector.MinSize),
		},
		Pipeline: PipelineConfig{
			MaxInFlightFrames: envInt("MAX_INFLIGHT_FRAMES", d.Pipeline.MaxInFlightFrames),
			Workers:           envInt("WORKERS", d.Pipeline.Workers),
			FrameTimeout:      envDuration("FRAME_TIMEOUT", frameTimeout),
			ReadyWhenIdle:     envBool("READY_WHEN_IDLE", d.Pipeline.ReadyWhenIdle),
		},
		Storage: StorageConfig{
			Driver:       envString("STORAGE_DRIVER", "sqlite"),
			DataDir:      envString("DATA_DIR", "./data"),
			SQLitePath:   envString("SQLITE_PATH", "./data/findwatch.db"),
			PostgresURL:  os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Logging: LoggingConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
	}
}
