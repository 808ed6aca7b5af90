package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"transcript-pipeline/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// YAMLStore persists settings in a single YAML file on disk. Values missing
// from the file keep their defaults; environment variables override both.
type YAMLStore struct {
	path    string
	environ func() []string
}

// NewYAMLStore creates a YAML-backed settings store reading the process environment.
func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{path: path, environ: os.Environ}
}

// NewYAMLStoreWithEnv creates a store with an explicit environment, for tests.
func NewYAMLStoreWithEnv(path string, environ []string) *YAMLStore {
	return &YAMLStore{path: path, environ: func() []string { return environ }}
}

// Path returns the settings file location.
func (s *YAMLStore) Path() string {
	return s.path
}

// Load reads settings from disk, or defaults when missing, then applies env overrides.
func (s *YAMLStore) Load() (domain.Settings, error) {
	cfg := DefaultSettings()

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return domain.Settings{}, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return domain.Settings{}, fmt.Errorf("parse %s: %w", s.path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: env.ToMap(s.environ())}); err != nil {
		return domain.Settings{}, fmt.Errorf("apply environment: %w", err)
	}
	return cfg, nil
}

// Save writes settings as YAML and creates parent directories.
// Credentials are never written back to disk.
func (s *YAMLStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	cfg.Google.APIKey = ""
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o600)
}

// Validate reports the first setting that would make a run impossible.
func Validate(cfg domain.Settings) error {
	rc := cfg.Recognition
	switch {
	case strings.TrimSpace(cfg.Bucket) == "":
		return fmt.Errorf("bucket is required")
	case rc.SampleRateHz <= 0:
		return fmt.Errorf("recognition sample rate must be positive, got %d", rc.SampleRateHz)
	case strings.TrimSpace(rc.LanguageCode) == "":
		return fmt.Errorf("recognition language code is required")
	case rc.ChunkDuration <= 0:
		return fmt.Errorf("chunk duration must be positive, got %s", rc.ChunkDuration)
	case rc.PollInterval <= 0:
		return fmt.Errorf("poll interval must be positive, got %s", rc.PollInterval)
	case rc.ProgressStep <= 0:
		return fmt.Errorf("progress step must be positive, got %d", rc.ProgressStep)
	case rc.ProgressCap < 0 || rc.ProgressCap >= 100:
		return fmt.Errorf("progress cap must be in [0, 100), got %d", rc.ProgressCap)
	case rc.FetchTimeout <= 0:
		return fmt.Errorf("fetch timeout must be positive, got %s", rc.FetchTimeout)
	case cfg.MaxConcurrentJobs <= 0:
		return fmt.Errorf("max concurrent jobs must be positive, got %d", cfg.MaxConcurrentJobs)
	}

	if _, err := BucketScheme(cfg.Bucket); err != nil {
		return err
	}
	return nil
}

// BucketScheme returns the scheme of a bucket URL if a storage driver exists for it.
func BucketScheme(bucket string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(bucket))
	if err != nil {
		return "", fmt.Errorf("parse bucket url %q: %w", bucket, err)
	}
	switch u.Scheme {
	case "gs", "file", "mem":
		return u.Scheme, nil
	case "":
		return "", fmt.Errorf("bucket url %q has no scheme (want gs://, file:// or mem://)", bucket)
	default:
		return "", fmt.Errorf("unsupported bucket scheme %q", u.Scheme)
	}
}
