package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"asterism/internal/match"
	"asterism/internal/params"
)

const (
	defaultConfigPath = "~/.config/asterism/config.json"
	defaultParallel   = 2

	// EnvConfig names the environment variable that overrides the config path.
	EnvConfig = "ASTERISM_CONFIG"
)

// Config holds user-editable settings.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Detection  Detection  `json:"detection"`
	Matching   Matching   `json:"matching"`
	Server     Server     `json:"server"`
	Remote     Remote     `json:"remote"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs        int `json:"parallel_jobs"`
	MatchWorkers        int `json:"match_workers"`         // 0 = GOMAXPROCS
	MatchTimeoutSeconds int `json:"match_timeout_seconds"` // 0 = no limit
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`
	MaxSizeMB  int    `json:"max_size_mb"`  // rotate the day's file past this size
	MaxAgeDays int    `json:"max_age_days"` // delete rotated files after this
}

// Paths configures default output and database locations.
type Paths struct {
	DefaultOutput  string `json:"default_output"`
	DatabasePath   string `json:"database_path"`
	DatabaseDriver string `json:"database_driver"` // sqlite (pure Go) or sqlite3 (cgo)
}

// Detection holds star detection defaults.
type Detection struct {
	Threshold int    `json:"threshold"`
	MaxStars  int    `json:"max_stars"`
	Loader    string `json:"loader"` // auto, native, imagemagick
}

// Matching holds asterism matching defaults.
type Matching struct {
	GridCells int     `json:"grid_cells"`
	Tolerance float64 `json:"tolerance"`
	Policy    string  `json:"policy"` // first, best
}

// Server configures listen addresses for `serve`.
type Server struct {
	HTTPAddr    string `json:"http_addr"`
	GRPCAddr    string `json:"grpc_addr"` // empty disables gRPC
	TLSCertPath string `json:"tls_cert_path"`
	TLSKeyPath  string `json:"tls_key_path"`
}

// Remote points the CLI at another asterism's gRPC service instead of
// processing frames locally. Paths in requests are resolved on the server.
type Remote struct {
	Address     string `json:"address"` // empty = local processing
	CACertPath  string `json:"ca_cert_path"`
	TLSCertPath string `json:"tls_cert_path"`
	TLSKeyPath  string `json:"tls_key_path"`
	Insecure    bool   `json:"insecure"`
}

// Path returns the config file location, honouring ASTERISM_CONFIG.
func Path() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile decodes path over the defaults. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	p := params.Default()
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
			MaxSizeMB:  100,
			MaxAgeDays: 7,
		},
		Paths: Paths{
			DefaultOutput:  "./output",
			DatabasePath:   filepath.Join(os.TempDir(), "asterism.db"),
			DatabaseDriver: "sqlite",
		},
		Detection: Detection{
			Threshold: p.Threshold,
			Loader:    "auto",
		},
		Matching: Matching{
			GridCells: p.GridCells,
			Tolerance: p.Tolerance,
			Policy:    string(match.FirstMatch),
		},
		Server: Server{
			HTTPAddr: ":8080",
		},
	}
}

// Params returns the detection and matching defaults as validated inputs.
func (c *Config) Params() params.Params {
	return params.Params{
		Threshold: c.Detection.Threshold,
		GridCells: c.Matching.GridCells,
		Tolerance: c.Matching.Tolerance,
	}
}

// Validate checks the values that would otherwise only fail once a job runs.
func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}
	if c.Detection.MaxStars < 0 {
		return fmt.Errorf("%w: detection.max_stars must not be negative", params.ErrInvalidParameter)
	}
	if _, err := match.ParsePolicy(c.Matching.Policy); err != nil {
		return err
	}
	if c.Processing.ParallelJobs < 0 || c.Processing.MatchWorkers < 0 || c.Processing.MatchTimeoutSeconds < 0 {
		return fmt.Errorf("%w: processing values must not be negative", params.ErrInvalidParameter)
	}
	switch c.Paths.DatabaseDriver {
	case "", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("%w: unknown database driver %q", params.ErrInvalidParameter, c.Paths.DatabaseDriver)
	}
	return nil
}

// DatabasePath returns the expanded database location.
func (c *Config) DatabasePath() (string, error) {
	return expandUser(c.Paths.DatabasePath)
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
