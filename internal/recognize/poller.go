package recognize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"transcript-pipeline/internal/domain"
	. "transcript-pipeline/internal/logging"
)

// PollState is the lifecycle state of one recognition job.
type PollState string

const (
	PollIdle      PollState = "idle"
	PollSubmitted PollState = "submitted"
	PollPolling   PollState = "polling"
	PollCompleted PollState = "completed"
	PollFailed    PollState = "failed"
	PollCancelled PollState = "cancelled"
)

// Poller submits one job and waits for it, reporting synthetic progress.
// The backend exposes no fractional progress, so each unfinished poll
// advances progress by a fixed step up to a cap below 100.
type Poller struct {
	backend Backend
	cfg     domain.RecognitionConfig

	mu       sync.Mutex
	state    PollState
	progress int
	handle   Handle
}

// fallbackPollInterval replaces a non-positive poll interval so an
// unfinished job is never polled in a tight loop.
const fallbackPollInterval = 5 * time.Second

// NewPoller returns a poller for a single run.
func NewPoller(backend Backend, cfg domain.RecognitionConfig) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = fallbackPollInterval
	}
	return &Poller{
		backend: backend,
		cfg:     cfg,
		state:   PollIdle,
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Progress returns the last reported progress percentage.
func (p *Poller) Progress() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Handle returns the submitted operation handle, if any.
func (p *Poller) Handle() Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

// Run submits the job for uri, polls until done and fetches the result.
// onProgress sees 0 after submission, one value per unfinished poll and a
// single 100 after the result is fetched. Cancellation of ctx is observed
// within one poll interval and returns ctx.Err().
func (p *Poller) Run(ctx context.Context, uri string, onProgress func(int)) (domain.ResultSet, error) {
	if onProgress == nil {
		onProgress = func(int) {}
	}
	if err := ctx.Err(); err != nil {
		p.setState(PollCancelled)
		return domain.ResultSet{}, err
	}

	handle, err := p.backend.Submit(ctx, uri, p.cfg)
	if err != nil {
		return domain.ResultSet{}, p.fail(ctx, err, domain.ErrJobSubmission)
	}
	p.mu.Lock()
	p.handle = handle
	p.state = PollSubmitted
	p.mu.Unlock()
	p.report(0, onProgress)

	p.setState(PollPolling)
	polls := 0
	for {
		done, err := p.backend.Poll(ctx, handle)
		if err != nil {
			return domain.ResultSet{}, p.fail(ctx, err, domain.ErrUnknown)
		}
		polls++
		if done {
			break
		}

		if err := wait(ctx, p.cfg.PollInterval); err != nil {
			p.setState(PollCancelled)
			L_info("recognize: job cancelled", "operation", handle.Name, "polls", polls)
			return domain.ResultSet{}, err
		}
		p.report(min(p.Progress()+p.cfg.ProgressStep, p.cfg.ProgressCap), onProgress)
	}

	L_debug("recognize: job finished", "operation", handle.Name, "polls", polls)

	rs, err := p.fetch(ctx, handle)
	if err != nil {
		return domain.ResultSet{}, err
	}

	p.setState(PollCompleted)
	p.report(100, onProgress)
	return rs, nil
}

// fetch retrieves the terminal result within the configured fetch timeout.
func (p *Poller) fetch(ctx context.Context, handle Handle) (domain.ResultSet, error) {
	fetchCtx := ctx
	if p.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()
	}

	rs, err := p.backend.FetchResult(fetchCtx, handle)
	if err == nil {
		return rs, nil
	}
	if ctx.Err() != nil {
		p.setState(PollCancelled)
		return domain.ResultSet{}, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
		p.setState(PollFailed)
		return domain.ResultSet{}, fmt.Errorf("%w: result not retrieved within %s: %w", domain.ErrJobTimeout, p.cfg.FetchTimeout, err)
	}
	return domain.ResultSet{}, p.fail(ctx, err, domain.ErrUnknown)
}

// fail records the terminal state for err and ensures it carries a kind.
func (p *Poller) fail(ctx context.Context, err error, kind error) error {
	if ctx.Err() != nil {
		p.setState(PollCancelled)
		return ctx.Err()
	}
	p.setState(PollFailed)
	if domain.KindOf(err) == domain.ErrorKindUnknown && !errors.Is(err, domain.ErrUnknown) {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return err
}

func (p *Poller) report(progress int, onProgress func(int)) {
	p.mu.Lock()
	if progress < p.progress {
		progress = p.progress
	}
	p.progress = progress
	p.mu.Unlock()
	onProgress(progress)
}

func (p *Poller) setState(s PollState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
