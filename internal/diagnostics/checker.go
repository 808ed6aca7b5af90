package diagnostics

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"transcript-pipeline/internal/config"
	"transcript-pipeline/internal/domain"
	"transcript-pipeline/internal/recognize"
)

// Check IDs reported by Run.
const (
	CheckFFmpeg      = "tool_ffmpeg"
	CheckWorkDir     = "work_dir"
	CheckOutputDir   = "output_dir"
	CheckBucket      = "bucket"
	CheckCredentials = "credentials"
	CheckSettings    = "settings"
)

// Checker validates external tools, paths, storage and credentials.
type Checker struct {
	lookPath         func(string) (string, error)
	mkdirAll         func(string, os.FileMode) error
	createTemp       func(string, string) (*os.File, error)
	remove           func(string) error
	checkBucket      func(ctx context.Context, namespace string) error
	checkCredentials func(ctx context.Context, cfg domain.GoogleConfig) (string, error)
}

// NewChecker builds a checker using real OS dependencies. checkBucket
// verifies bucket access and may be nil to skip that check.
func NewChecker(checkBucket func(ctx context.Context, namespace string) error) *Checker {
	return &Checker{
		lookPath:         exec.LookPath,
		mkdirAll:         os.MkdirAll,
		createTemp:       os.CreateTemp,
		remove:           os.Remove,
		checkBucket:      checkBucket,
		checkCredentials: recognize.CheckCredentials,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool(settings.FFmpegPath),
		c.checkWritableDir(CheckWorkDir, "Work directory", settings.WorkDir, true),
		c.checkWritableDir(CheckOutputDir, "Output directory", settings.OutputDir, false),
		c.checkBucketItem(ctx, settings.Bucket),
		c.checkCredentialsItem(ctx, settings.Google),
		checkSettings(settings),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies the ffmpeg executable is on PATH.
func (c *Checker) checkTool(name string) domain.DiagnosticItem {
	if strings.TrimSpace(name) == "" {
		name = "ffmpeg"
	}
	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      CheckFFmpeg,
			Name:    "ffmpeg",
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found in PATH: %s", name),
			Hint:    "Install ffmpeg to convert non-OGG inputs; OGG/Opus voice notes are decoded without it.",
			Fixable: true,
		}
	}

	return domain.DiagnosticItem{
		ID:      CheckFFmpeg,
		Name:    "ffmpeg",
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkWritableDir validates directory existence and write access. An
// optional directory may be empty.
func (c *Checker) checkWritableDir(id, name, dir string, required bool) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(dir) == "" {
		if !required {
			item.Status = domain.DiagnosticStatusWarn
			item.Message = fmt.Sprintf("%s is empty; transcripts are not written to disk.", name)
			return item
		}
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is empty.", name)
		item.Hint = "Set a directory where temporary files can be written."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		item.Fixable = true
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// checkBucketItem validates the staging bucket URL and, when possible, access.
func (c *Checker) checkBucketItem(ctx context.Context, bucket string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   CheckBucket,
		Name: "Staging bucket",
	}

	if strings.TrimSpace(bucket) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Staging bucket is not configured."
		item.Hint = "Set bucket to gs://<bucket> (or TRANSCRIBER_BUCKET)."
		return item
	}
	scheme, err := config.BucketScheme(bucket)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = err.Error()
		item.Hint = "Use a gs://, file:// or mem:// bucket URL."
		return item
	}

	if c.checkBucket != nil {
		if err := c.checkBucket(ctx, bucket); err != nil {
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Bucket is not accessible: %v", err)
			item.Hint = "Check the bucket name and storage permissions of the configured credentials."
			return item
		}
	}

	if scheme != "gs" {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Bucket %s is local; Google Speech can only read gs:// objects.", bucket)
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Bucket reachable: %s", bucket)
	return item
}

// checkCredentialsItem validates that recognition credentials resolve.
func (c *Checker) checkCredentialsItem(ctx context.Context, cfg domain.GoogleConfig) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   CheckCredentials,
		Name: "Google credentials",
	}

	source, err := c.checkCredentials(ctx, cfg)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = err.Error()
		item.Hint = "Set GOOGLE_API_KEY or GOOGLE_APPLICATION_CREDENTIALS, or run gcloud auth application-default login."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Using %s", source)
	return item
}

// checkSettings validates recognition and concurrency settings.
func checkSettings(settings domain.Settings) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   CheckSettings,
		Name: "Settings",
	}
	if err := config.Validate(settings); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = err.Error()
		return item
	}
	item.Status = domain.DiagnosticStatusPass
	item.Message = "Recognition settings are valid."
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
	checkBucket func(ctx context.Context, namespace string) error,
	checkCredentials func(ctx context.Context, cfg domain.GoogleConfig) (string, error),
) *Checker {
	return &Checker{
		lookPath:         lookPath,
		mkdirAll:         mkdirAll,
		createTemp:       createTemp,
		remove:           remove,
		checkBucket:      checkBucket,
		checkCredentials: checkCredentials,
	}
}
