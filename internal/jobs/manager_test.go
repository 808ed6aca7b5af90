package jobs

import (
	"errors"
	"fmt"
	"testing"

	"transcript-pipeline/internal/domain"
)

// TestManagerLifecycle verifies normal progression to done state.
func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	if m.IsRunning() {
		t.Fatal("new manager should be idle")
	}
	if m.Current().Status != domain.JobStatusIdle {
		t.Fatalf("current status = %s, want idle", m.Current().Status)
	}

	if err := m.Start("job-1", "a.mp3"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !m.IsRunning() {
		t.Fatal("expected running after start")
	}

	for _, status := range []domain.JobStatus{
		domain.JobStatusUploading,
		domain.JobStatusTranscribing,
		domain.JobStatusAggregating,
		domain.JobStatusExporting,
		domain.JobStatusDone,
	} {
		if err := m.Transition("job-1", status); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	current := m.Current()
	if current.Status != domain.JobStatusDone || current.Progress != 100 {
		t.Fatalf("current = %+v, want done at 100", current)
	}
	if m.IsRunning() {
		t.Fatal("done job should not be running")
	}
}

// TestManagerSkipsExport checks aggregating may finish directly.
func TestManagerSkipsExport(t *testing.T) {
	m := NewManager()
	_ = m.Start("job-1", "")
	for _, s := range []domain.JobStatus{domain.JobStatusUploading, domain.JobStatusTranscribing, domain.JobStatusAggregating, domain.JobStatusDone} {
		if err := m.Transition("job-1", s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
}

// TestManagerRejectsInvalidTransition checks state machine constraints.
func TestManagerRejectsInvalidTransition(t *testing.T) {
	m := NewManager()
	if err := m.Start("job-1", ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.Transition("job-1", domain.JobStatusDone); err == nil {
		t.Fatal("expected invalid transition error")
	}
	if err := m.Transition("job-1", domain.JobStatusTranscribing); err == nil {
		t.Fatal("expected error when skipping upload")
	}
	if err := m.Transition("missing", domain.JobStatusUploading); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("unknown job error = %v", err)
	}
}

// TestManagerSingleFlight checks the default limit of one active job.
func TestManagerSingleFlight(t *testing.T) {
	m := NewManager()
	if err := m.Start("job-1", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start("job-2", ""); !errors.Is(err, ErrJobAlreadyRunning) {
		t.Fatalf("second start error = %v, want ErrJobAlreadyRunning", err)
	}
	if err := m.Fail("job-1", "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := m.Start("job-2", ""); err != nil {
		t.Fatalf("start after failure: %v", err)
	}
	job, _ := m.Get("job-1")
	if job.Status != domain.JobStatusFailed || job.Error != "boom" {
		t.Fatalf("job-1 = %+v", job)
	}
}

// TestManagerConcurrentLimit checks independent runs up to the limit.
func TestManagerConcurrentLimit(t *testing.T) {
	m := NewManagerWithLimit(2)
	_ = m.Start("a", "")
	_ = m.Start("b", "")
	if err := m.Start("c", ""); !errors.Is(err, ErrJobAlreadyRunning) {
		t.Fatalf("third start error = %v", err)
	}
	if len(m.Active()) != 2 {
		t.Fatalf("active = %d, want 2", len(m.Active()))
	}
	if err := m.Transition("a", domain.JobStatusUploading); err != nil {
		t.Fatalf("transition a: %v", err)
	}
	if b, _ := m.Get("b"); b.Status != domain.JobStatusConverting {
		t.Fatalf("b status = %s, want converting", b.Status)
	}
}

// TestManagerProgressMonotonic checks progress never decreases.
func TestManagerProgressMonotonic(t *testing.T) {
	m := NewManager()
	_ = m.Start("job-1", "")
	for _, p := range []int{0, 5, 10, 3, 95} {
		if err := m.SetProgress("job-1", p); err != nil {
			t.Fatalf("progress %d: %v", p, err)
		}
	}
	if job, _ := m.Get("job-1"); job.Progress != 95 {
		t.Fatalf("progress = %d, want 95", job.Progress)
	}
}

// TestManagerCancel verifies cancel behavior and repeated cancel handling.
func TestManagerCancel(t *testing.T) {
	m := NewManager()
	if err := m.Start("job-1", ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.Cancel("job-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if m.Current().Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", m.Current().Status)
	}

	if err := m.Cancel("job-1"); err != ErrNoRunningJob {
		t.Fatalf("second cancel error = %v, want %v", err, ErrNoRunningJob)
	}
	if err := m.Transition("job-1", domain.JobStatusDone); err == nil {
		t.Fatal("cancelled job must not complete")
	}
}

// TestManagerPrunesFinishedJobs checks retention is bounded.
func TestManagerPrunesFinishedJobs(t *testing.T) {
	m := NewManager()
	for i := 0; i < maxRetained+10; i++ {
		id := fmt.Sprintf("job-%d", i)
		if err := m.Start(id, ""); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
		_ = m.Cancel(id)
	}
	if got := len(m.List()); got != maxRetained {
		t.Fatalf("retained = %d, want %d", got, maxRetained)
	}
	if _, ok := m.Get("job-0"); ok {
		t.Fatal("oldest job should be pruned")
	}
}
