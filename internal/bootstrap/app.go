package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"transcript-pipeline/internal/config"
	"transcript-pipeline/internal/diagnostics"
	"transcript-pipeline/internal/domain"
	"transcript-pipeline/internal/jobs"
	. "transcript-pipeline/internal/logging"
	"transcript-pipeline/internal/media"
	"transcript-pipeline/internal/recognize"
	"transcript-pipeline/internal/storage"
	"transcript-pipeline/internal/transcribe"
)

// App wires configuration, jobs, pipeline and the status event stream.
type App struct {
	Store       config.Store
	Jobs        *jobs.Manager
	Pipeline    transcribe.Runner
	Diagnostics domain.DiagnosticReport
	checker     *diagnostics.Checker
	stager      *storage.Stager

	mu     sync.Mutex
	runs   map[string]*run
	events *jobs.EventBus
}

// run tracks one job's task and final outcome.
type run struct {
	task   *transcribe.Task
	done   chan struct{}
	result transcribe.Result
	err    error
}

// BatchItem is the outcome of one input of a batch.
type BatchItem struct {
	InputPath string
	JobID     string
	Result    transcribe.Result
	Err       error
}

// New builds the application from persisted settings. Diagnostics run on
// demand through RefreshDiagnostics.
func New(ctx context.Context, store config.Store) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)
	if err := SetLevel(settings.LogLevel); err != nil {
		L_warn("bootstrap: ignoring log level", "level", settings.LogLevel, "error", err)
	}

	stager := storage.NewStager()
	checker := diagnostics.NewChecker(stager.Check)

	app := &App{
		Store:    store,
		Jobs:     jobs.NewManagerWithLimit(settings.MaxConcurrentJobs),
		Pipeline: buildPipeline(ctx, settings, stager),
		checker:  checker,
		stager:   stager,
		events:   jobs.NewEventBus(1000),
	}
	return app, nil
}

// buildPipeline assembles the production pipeline for settings. Missing
// credentials do not prevent startup; runs fail at submission instead.
func buildPipeline(ctx context.Context, settings domain.Settings, stager *storage.Stager) *transcribe.Pipeline {
	var backend recognize.Backend
	google, err := recognize.NewGoogleBackend(ctx, settings.Google)
	if err != nil {
		L_warn("bootstrap: recognition backend unavailable", "error", err)
		backend = unavailableBackend{err: err}
	} else {
		backend = google
	}

	normalizer := media.NewNormalizer(settings.FFmpegPath, settings.Recognition.SampleRateHz)
	return transcribe.NewPipeline(normalizer, stager, backend, settings)
}

// Close releases storage connections.
func (a *App) Close() error {
	if a.stager == nil {
		return nil
	}
	return a.stager.Close()
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and normalizes the persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return normalizeSettings(settings), nil
}

// SaveSettings normalizes, validates and persists settings, then refreshes
// diagnostics. Runs started afterwards use the new settings.
func (a *App) SaveSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := config.Validate(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	if a.stager != nil {
		a.Pipeline = buildPipeline(ctx, normalized, a.stager)
	}
	a.mu.Unlock()

	a.refreshDiagnosticsFromSettings(ctx, normalized)
	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics(ctx context.Context) (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(ctx, normalizeSettings(settings)), nil
}

func (a *App) refreshDiagnosticsFromSettings(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	var report domain.DiagnosticReport
	if a.checker != nil {
		report = a.checker.Run(ctx, settings)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Diagnostics = report
	return report
}

// StartTranscription creates a job and runs it asynchronously.
func (a *App) StartTranscription(inputPath string) (domain.Job, error) {
	jobID := uuid.NewString()
	if err := a.Jobs.Start(jobID, inputPath); err != nil {
		return domain.Job{}, err
	}
	r := a.launch(context.Background(), jobID, inputPath)
	go a.finish(jobID, r)

	job, _ := a.Jobs.Get(jobID)
	return job, nil
}

// CancelTranscription cancels one running job, or the most recent one when
// jobID is empty.
func (a *App) CancelTranscription(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		jobID = a.Jobs.Current().ID
	}

	a.mu.Lock()
	r := a.runs[jobID]
	a.mu.Unlock()
	if r == nil {
		return jobs.ErrNoRunningJob
	}

	if err := a.Jobs.Cancel(jobID); err != nil {
		return err
	}
	r.task.Cancel()
	L_info("bootstrap: cancellation requested", "job", jobID)
	return nil
}

// Wait blocks until a job has finished and its final events are published.
func (a *App) Wait(ctx context.Context, jobID string) (transcribe.Result, error) {
	a.mu.Lock()
	r := a.runs[jobID]
	a.mu.Unlock()
	if r == nil {
		return transcribe.Result{}, fmt.Errorf("%w: %s", jobs.ErrUnknownJob, jobID)
	}

	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return transcribe.Result{}, ctx.Err()
	}
}

// TranscribeBatch runs every input as its own job, at most MaxActive at a
// time. A failing input does not stop the others.
func (a *App) TranscribeBatch(ctx context.Context, inputs []string) []BatchItem {
	items := make([]BatchItem, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Jobs.MaxActive())
	for i, input := range inputs {
		i, input := i, input
		items[i].InputPath = input
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}
			jobID := uuid.NewString()
			items[i].JobID = jobID
			if err := a.Jobs.Start(jobID, input); err != nil {
				items[i].Err = err
				return nil
			}
			r := a.launch(gctx, jobID, input)
			a.finish(jobID, r)
			items[i].Result, items[i].Err = r.result, r.err
			return nil
		})
	}
	_ = g.Wait()

	return items
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// SubscribeEvents registers a live event subscriber.
func (a *App) SubscribeEvents(buffer int) (string, <-chan jobs.Event) {
	return a.events.Subscribe(buffer)
}

// UnsubscribeEvents removes a live event subscriber.
func (a *App) UnsubscribeEvents(id string) {
	a.events.Unsubscribe(id)
}

// launch starts the pipeline for a registered job and records its handle.
func (a *App) launch(ctx context.Context, jobID, inputPath string) *run {
	a.mu.Lock()
	pipeline := a.Pipeline
	a.mu.Unlock()

	a.publishStatus(jobID, domain.JobStatusConverting, "Job started")

	req := transcribe.Request{
		InputPath: inputPath,
		RunID:     jobID,
		OnStage: func(stage domain.JobStatus) {
			if err := a.Jobs.Transition(jobID, stage); err == nil {
				a.publishStatus(jobID, stage, "Running "+string(stage)+" stage")
			}
		},
		OnStatus: func(message string) {
			L_debug("bootstrap: status", "job", jobID, "message", message)
		},
		OnProgress: func(percent int) {
			if err := a.Jobs.SetProgress(jobID, percent); err == nil {
				a.publishEvent(jobs.Event{
					JobID:    jobID,
					Type:     jobs.EventTypeProgress,
					Status:   domain.JobStatusTranscribing,
					Progress: percent,
					Message:  fmt.Sprintf("Transcribing (%d%%)", percent),
				})
			}
		},
		OnLog: func(log media.CommandLog) {
			a.publishEvent(jobs.Event{
				JobID:    jobID,
				Type:     jobs.EventTypeLog,
				Message:  "Command completed",
				Command:  log.Command,
				Args:     log.Args,
				ExitCode: log.ExitCode,
				Stdout:   log.Stdout,
				Stderr:   log.Stderr,
			})
		},
	}

	r := &run{
		task: transcribe.Start(ctx, pipeline, req),
		done: make(chan struct{}),
	}
	a.mu.Lock()
	if a.runs == nil {
		a.runs = make(map[string]*run)
	}
	a.runs[jobID] = r
	a.mu.Unlock()
	return r
}

// finish waits for the task and maps its outcome to job state and events.
func (a *App) finish(jobID string, r *run) {
	defer close(r.done)
	defer a.pruneRuns()

	result, err := r.task.Wait()
	r.result, r.err = result, err
	if err != nil {
		if errors.Is(err, context.Canceled) {
			_ = a.Jobs.Transition(jobID, domain.JobStatusCancelled)
			a.publishStatus(jobID, domain.JobStatusCancelled, "Job cancelled")
			return
		}

		_ = a.Jobs.Fail(jobID, err.Error())

		event := jobs.Event{
			JobID:     jobID,
			Type:      jobs.EventTypeError,
			Status:    domain.JobStatusFailed,
			Message:   err.Error(),
			ErrorKind: domain.KindOf(err),
		}
		var pipelineErr *transcribe.PipelineError
		if errors.As(err, &pipelineErr) {
			event.ErrorKind = pipelineErr.Kind
		}
		a.publishEvent(event)

		if pipelineErr != nil && pipelineErr.CommandLog.Command != "" {
			a.publishEvent(jobs.Event{
				JobID:    jobID,
				Type:     jobs.EventTypeLog,
				Message:  "Failed command",
				Command:  pipelineErr.CommandLog.Command,
				Args:     pipelineErr.CommandLog.Args,
				ExitCode: pipelineErr.CommandLog.ExitCode,
				Stdout:   pipelineErr.CommandLog.Stdout,
				Stderr:   pipelineErr.CommandLog.Stderr,
			})
		}
		return
	}

	if err := a.Jobs.Transition(jobID, domain.JobStatusDone); err != nil {
		L_warn("bootstrap: result discarded", "job", jobID, "error", err)
		return
	}
	a.publishStatus(jobID, domain.JobStatusDone, "Completed.")
	a.publishEvent(jobs.Event{
		JobID:      jobID,
		Type:       jobs.EventTypeResult,
		Status:     domain.JobStatusDone,
		Progress:   100,
		Message:    fmt.Sprintf("Transcript ready (%d words)", result.WordCount),
		TextPath:   result.TextPath,
		Transcript: result.Transcript,
	})
}

// pruneRuns forgets runs whose jobs the manager no longer retains.
func (a *App) pruneRuns() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id := range a.runs {
		if _, ok := a.Jobs.Get(id); !ok {
			delete(a.runs, id)
		}
	}
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(jobID string, status domain.JobStatus, message string) {
	a.publishEvent(jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeStatus,
		Status:  status,
		Message: message,
	})
}

// publishEvent stores event history and fans out to subscribers.
func (a *App) publishEvent(event jobs.Event) {
	a.events.Publish(event)
}

// normalizeSettings trims user inputs and fills empty values from defaults.
func normalizeSettings(settings domain.Settings) domain.Settings {
	defaults := config.DefaultSettings()
	settings.WorkDir = strings.TrimSpace(settings.WorkDir)
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.Bucket = strings.TrimSpace(settings.Bucket)
	settings.FFmpegPath = strings.TrimSpace(settings.FFmpegPath)
	settings.Recognition.LanguageCode = strings.TrimSpace(settings.Recognition.LanguageCode)

	if settings.WorkDir == "" {
		settings.WorkDir = defaults.WorkDir
	}
	if settings.FFmpegPath == "" {
		settings.FFmpegPath = defaults.FFmpegPath
	}
	if settings.MaxConcurrentJobs <= 0 {
		settings.MaxConcurrentJobs = defaults.MaxConcurrentJobs
	}
	if settings.Recognition.LanguageCode == "" {
		settings.Recognition.LanguageCode = defaults.Recognition.LanguageCode
	}
	if strings.TrimSpace(settings.LogLevel) == "" {
		settings.LogLevel = defaults.LogLevel
	}
	settings.Recognition = normalizeRecognition(settings.Recognition, defaults.Recognition)
	return settings
}

// normalizeRecognition replaces out-of-range recognition values with defaults.
func normalizeRecognition(rc, defaults domain.RecognitionConfig) domain.RecognitionConfig {
	if rc.SampleRateHz <= 0 {
		rc.SampleRateHz = defaults.SampleRateHz
	}
	if rc.ChunkDuration <= 0 {
		rc.ChunkDuration = defaults.ChunkDuration
	}
	if rc.PollInterval <= 0 {
		rc.PollInterval = defaults.PollInterval
	}
	if rc.ProgressStep <= 0 {
		rc.ProgressStep = defaults.ProgressStep
	}
	if rc.ProgressCap < 0 || rc.ProgressCap >= 100 {
		rc.ProgressCap = defaults.ProgressCap
	}
	if rc.FetchTimeout <= 0 {
		rc.FetchTimeout = defaults.FetchTimeout
	}
	return rc
}

// unavailableBackend rejects every submission with the construction error.
type unavailableBackend struct {
	err error
}

func (b unavailableBackend) Submit(context.Context, string, domain.RecognitionConfig) (recognize.Handle, error) {
	return recognize.Handle{}, fmt.Errorf("%w: %w", domain.ErrJobSubmission, b.err)
}

func (b unavailableBackend) Poll(context.Context, recognize.Handle) (bool, error) {
	return false, fmt.Errorf("%w: %w", domain.ErrUnknown, b.err)
}

func (b unavailableBackend) FetchResult(context.Context, recognize.Handle) (domain.ResultSet, error) {
	return domain.ResultSet{}, fmt.Errorf("%w: %w", domain.ErrUnknown, b.err)
}
