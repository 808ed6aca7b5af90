package jobs

import (
	"errors"
	"fmt"
	"sync"

	"transcript-pipeline/internal/domain"
)

// ErrJobAlreadyRunning is returned when starting a job would exceed the active limit.
var ErrJobAlreadyRunning = errors.New("job already running")

// ErrNoRunningJob is returned when cancel is requested for a job that is not active.
var ErrNoRunningJob = errors.New("no running job")

// ErrUnknownJob is returned for job IDs the manager has never seen.
var ErrUnknownJob = errors.New("unknown job")

// maxRetained bounds how many finished jobs stay queryable.
const maxRetained = 100

// Manager tracks jobs by ID and validates their transitions. At most
// maxActive jobs may be active at once; the default of one gives the
// single-flight behavior.
type Manager struct {
	mu        sync.RWMutex
	maxActive int
	jobs      map[string]*domain.Job
	order     []string
}

// NewManager creates a single-flight manager.
func NewManager() *Manager {
	return NewManagerWithLimit(1)
}

// NewManagerWithLimit creates a manager allowing maxActive concurrent jobs.
func NewManagerWithLimit(maxActive int) *Manager {
	if maxActive <= 0 {
		maxActive = 1
	}
	return &Manager{
		maxActive: maxActive,
		jobs:      make(map[string]*domain.Job),
	}
}

// MaxActive returns the concurrent job limit.
func (m *Manager) MaxActive() int {
	return m.maxActive
}

// Start registers a new job and moves it to the converting state.
func (m *Manager) Start(jobID, inputPath string) error {
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.jobs[jobID]; ok && isRunning(existing.Status) {
		return fmt.Errorf("job %s: %w", jobID, ErrJobAlreadyRunning)
	}
	if m.activeCountLocked() >= m.maxActive {
		return ErrJobAlreadyRunning
	}

	if _, ok := m.jobs[jobID]; !ok {
		m.order = append(m.order, jobID)
	}
	m.jobs[jobID] = &domain.Job{
		ID:        jobID,
		InputPath: inputPath,
		Status:    domain.JobStatusConverting,
	}
	m.pruneLocked()
	return nil
}

// Transition validates and applies a state transition for one job.
func (m *Manager) Transition(jobID string, status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if status == job.Status {
		return nil
	}
	if !isValidTransition(job.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", job.Status, status)
	}

	job.Status = status
	if status == domain.JobStatusDone {
		job.Progress = 100
	}
	return nil
}

// SetProgress records progress for an active job. Progress never decreases.
func (m *Manager) SetProgress(jobID string, percent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if !isRunning(job.Status) {
		return ErrNoRunningJob
	}
	if percent > job.Progress {
		job.Progress = min(percent, 100)
	}
	return nil
}

// Fail moves an active job to failed and records the message.
func (m *Manager) Fail(jobID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if !isRunning(job.Status) {
		return ErrNoRunningJob
	}
	job.Status = domain.JobStatusFailed
	job.Error = message
	return nil
}

// Cancel moves an active job to cancelled state.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || !isRunning(job.Status) {
		return ErrNoRunningJob
	}
	job.Status = domain.JobStatusCancelled
	return nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(jobID string) (domain.Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.Job{}, false
	}
	return *job, true
}

// Current returns the most recently started job, or an idle job when none exists.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.order) == 0 {
		return domain.Job{Status: domain.JobStatusIdle}
	}
	return *m.jobs[m.order[len(m.order)-1]]
}

// Active returns snapshots of every active job in start order.
func (m *Manager) Active() []domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Job
	for _, id := range m.order {
		if job := m.jobs[id]; isRunning(job.Status) {
			out = append(out, *job)
		}
	}
	return out
}

// List returns snapshots of every retained job in start order.
func (m *Manager) List() []domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Job, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.jobs[id])
	}
	return out
}

// IsRunning reports whether any job is in an active stage.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCountLocked() > 0
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, job := range m.jobs {
		if isRunning(job.Status) {
			n++
		}
	}
	return n
}

// pruneLocked drops the oldest finished jobs beyond the retention bound.
func (m *Manager) pruneLocked() {
	for len(m.order) > maxRetained {
		dropped := false
		for i, id := range m.order {
			if m.jobs[id].Status.IsTerminal() {
				delete(m.jobs, id)
				m.order = append(m.order[:i], m.order[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			return
		}
	}
}

// isRunning checks if a status represents active pipeline execution.
func isRunning(status domain.JobStatus) bool {
	switch status {
	case domain.JobStatusConverting,
		domain.JobStatusUploading,
		domain.JobStatusTranscribing,
		domain.JobStatusAggregating,
		domain.JobStatusExporting:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	if isRunning(from) && (to == domain.JobStatusFailed || to == domain.JobStatusCancelled) {
		return true
	}
	switch from {
	case domain.JobStatusIdle:
		return to == domain.JobStatusConverting
	case domain.JobStatusConverting:
		return to == domain.JobStatusUploading
	case domain.JobStatusUploading:
		return to == domain.JobStatusTranscribing
	case domain.JobStatusTranscribing:
		return to == domain.JobStatusAggregating
	case domain.JobStatusAggregating:
		return to == domain.JobStatusExporting || to == domain.JobStatusDone
	case domain.JobStatusExporting:
		return to == domain.JobStatusDone
	default:
		return false
	}
}
