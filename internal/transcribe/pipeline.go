package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"transcript-pipeline/internal/domain"
	. "transcript-pipeline/internal/logging"
	"transcript-pipeline/internal/media"
	"transcript-pipeline/internal/recognize"
	"transcript-pipeline/internal/transcript"
)

const cleanupTimeout = 30 * time.Second

// Request contains input media and observer callbacks for one run. The
// callbacks run synchronously on the run goroutine in emission order.
type Request struct {
	InputPath  string
	RunID      string
	OnStage    func(stage domain.JobStatus)
	OnStatus   func(message string)
	OnProgress func(percent int)
	OnLog      func(log media.CommandLog)
}

// Result contains the staged locator, transcript text and command logs.
type Result struct {
	RunID      string
	Input      domain.InputRef
	Artifact   string
	Staged     domain.StagedRef
	Transcript string
	WordCount  int
	TextPath   string
	Logs       []media.CommandLog
}

// Normalizer converts input media into the canonical WAV artifact.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath, outPath string) (media.CommandLog, error)
}

// Stager places artifacts in durable storage.
type Stager interface {
	Upload(ctx context.Context, localPath, namespace, key string) (domain.StagedRef, error)
	Delete(ctx context.Context, ref domain.StagedRef) error
}

// Pipeline orchestrates normalization, staging, recognition, aggregation
// and export for one input at a time. Separate runs share no mutable state.
type Pipeline struct {
	normalizer Normalizer
	stager     Stager
	backend    recognize.Backend
	settings   domain.Settings

	inspect   func(path string) (domain.InputRef, error)
	mkdirTemp func(dir, pattern string) (string, error)
	mkdirAll  func(path string, perm os.FileMode) error
	removeAll func(path string) error
	newRunID  func() string
}

// NewPipeline constructs the production pipeline.
func NewPipeline(normalizer Normalizer, stager Stager, backend recognize.Backend, settings domain.Settings) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		stager:     stager,
		backend:    backend,
		settings:   settings,
		inspect:    media.Inspect,
		mkdirTemp:  os.MkdirTemp,
		mkdirAll:   os.MkdirAll,
		removeAll:  os.RemoveAll,
		newRunID:   uuid.NewString,
	}
}

// NewPipelineForTests constructs a pipeline with injectable dependencies.
func NewPipelineForTests(
	normalizer Normalizer,
	stager Stager,
	backend recognize.Backend,
	settings domain.Settings,
	inspect func(path string) (domain.InputRef, error),
	removeAll func(path string) error,
) *Pipeline {
	p := NewPipeline(normalizer, stager, backend, settings)
	if inspect != nil {
		p.inspect = inspect
	}
	if removeAll != nil {
		p.removeAll = removeAll
	}
	return p
}

// Run executes every stage strictly in order and fails fast: a stage only
// starts after the previous one succeeded and no partial transcript is ever
// returned. Cancellation returns ctx.Err().
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = p.newRunID()
	}
	result := Result{RunID: runID}
	started := time.Now()

	if strings.TrimSpace(req.InputPath) == "" {
		return Result{}, newStageError(domain.JobStatusConverting, "input media path is required", media.CommandLog{},
			fmt.Errorf("%w: input media path is required", domain.ErrConversion))
	}

	emitStage(req.OnStage, domain.JobStatusConverting)
	emitStatus(req.OnStatus, "Converting audio...")

	input, err := p.inspect(req.InputPath)
	if err != nil {
		return Result{}, p.stageError(ctx, domain.JobStatusConverting, "unsupported or unreadable input media", media.CommandLog{}, err)
	}
	result.Input = input

	workspace, err := p.workspace()
	if err != nil {
		return Result{}, p.stageError(ctx, domain.JobStatusConverting, "failed to create temporary workspace", media.CommandLog{},
			fmt.Errorf("%w: %w", domain.ErrConversion, err))
	}
	defer p.cleanupWorkspace(workspace)

	artifact := filepath.Join(workspace, media.ArtifactName(req.InputPath))
	log, err := p.normalizer.Normalize(ctx, req.InputPath, artifact)
	if log.Command != "" {
		result.Logs = append(result.Logs, log)
		emitLog(req.OnLog, log)
	}
	if err != nil {
		return Result{}, p.stageError(ctx, domain.JobStatusConverting, "audio conversion failed", log, err)
	}
	result.Artifact = artifact

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	emitStage(req.OnStage, domain.JobStatusUploading)
	emitStatus(req.OnStatus, "Uploading to storage...")

	key := runID + "/" + filepath.Base(artifact)
	staged, err := p.stager.Upload(ctx, artifact, p.settings.Bucket, key)
	if err != nil {
		return Result{}, p.stageError(ctx, domain.JobStatusUploading, "upload to storage failed", media.CommandLog{}, err)
	}
	result.Staged = staged
	defer p.cleanupStaged(ctx, staged)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	emitStage(req.OnStage, domain.JobStatusTranscribing)

	poller := recognize.NewPoller(p.backend, p.settings.Recognition)
	rs, err := poller.Run(ctx, staged.URI, func(percent int) {
		emitProgress(req.OnProgress, percent)
		emitStatus(req.OnStatus, fmt.Sprintf("Transcribing (%d%%)", percent))
	})
	if err != nil {
		return Result{}, p.stageError(ctx, domain.JobStatusTranscribing, "speech recognition failed", media.CommandLog{}, err)
	}

	emitStage(req.OnStage, domain.JobStatusAggregating)
	result.Transcript = transcript.Aggregate(rs, p.settings.Recognition.ChunkDuration)
	result.WordCount = rs.WordCount()

	if dir := strings.TrimSpace(p.settings.OutputDir); dir != "" {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		emitStage(req.OnStage, domain.JobStatusExporting)
		textPath, err := transcript.Export(dir, req.InputPath, result.Transcript)
		if err != nil {
			return Result{}, p.stageError(ctx, domain.JobStatusExporting, "failed to write transcript file", media.CommandLog{}, err)
		}
		result.TextPath = textPath
	}

	if !p.settings.KeepArtifacts {
		result.Artifact = ""
	}
	emitStatus(req.OnStatus, "Completed.")
	L_elapsed(started, "transcribe: run completed", "run", runID, "words", result.WordCount)
	return result, nil
}

// workspace creates the per-run directory holding the normalized artifact.
func (p *Pipeline) workspace() (string, error) {
	root := strings.TrimSpace(p.settings.WorkDir)
	if root == "" {
		root = os.TempDir()
	}
	if err := p.mkdirAll(root, 0o755); err != nil {
		return "", err
	}
	return p.mkdirTemp(root, "transcribe-*")
}

func (p *Pipeline) cleanupWorkspace(dir string) {
	if p.settings.KeepArtifacts {
		L_debug("transcribe: keeping workspace", "dir", dir)
		return
	}
	if err := p.removeAll(dir); err != nil {
		L_warn("transcribe: workspace cleanup failed", "dir", dir, "error", err)
	}
}

// cleanupStaged deletes the staged object even when ctx was cancelled.
func (p *Pipeline) cleanupStaged(ctx context.Context, ref domain.StagedRef) {
	if p.settings.KeepUploads {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := p.stager.Delete(ctx, ref); err != nil {
		L_warn("transcribe: staged object cleanup failed", "uri", ref.URI, "error", err)
	}
}

// stageError reports cancellation as ctx.Err() and anything else as a
// PipelineError for the stage.
func (p *Pipeline) stageError(ctx context.Context, stage domain.JobStatus, message string, log media.CommandLog, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	L_error("transcribe: stage failed", "stage", stage, "error", err)
	return newStageError(stage, message, log, err)
}

// emitStage forwards stage updates when callback is configured.
func emitStage(cb func(stage domain.JobStatus), stage domain.JobStatus) {
	if cb != nil {
		cb(stage)
	}
}

func emitStatus(cb func(message string), message string) {
	if cb != nil {
		cb(message)
	}
}

func emitProgress(cb func(percent int), percent int) {
	if cb != nil {
		cb(percent)
	}
}

// emitLog forwards command logs when callback is configured.
func emitLog(cb func(log media.CommandLog), log media.CommandLog) {
	if cb != nil {
		cb(log)
	}
}
