// Package poller follows document processing jobs until they settle.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/apiclient"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval         = 2 * time.Second
	DefaultDocumentInterval = 5 * time.Second
	DefaultMaxAttempts      = 150
)

var (
	// ErrPollLimitReached is returned when a job is still running after
	// MaxAttempts fetches.
	ErrPollLimitReached = errors.New("job still running after maximum poll attempts")

	// ErrIdentityChanged is returned when the token or active organization
	// changed while a fetch was in flight. The response is discarded.
	ErrIdentityChanged = errors.New("session or organization changed while polling")
)

// FailedError carries the reason a job failed. Retrying is a separate
// process request on the document.
type FailedError struct {
	JobID  string
	Reason string
}

func (e *FailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}

// API is the part of the API client the poller calls.
type API interface {
	JobStatus(ctx context.Context, jobID string) (*apiclient.JobStatus, error)
	DocumentJobs(ctx context.Context, documentID uuid.UUID) ([]apiclient.JobStatus, error)
}

// Generation reports the identity generation. *apiclient.Identity
// implements it.
type Generation interface {
	Generation() uint64
}

// Poller re-fetches job status on a fixed interval while the job is
// waiting, active or delayed.
type Poller struct {
	api      API
	identity Generation

	Interval         time.Duration
	DocumentInterval time.Duration
	MaxAttempts      int

	// OnUpdate, when set, receives every accepted status including the
	// final one.
	OnUpdate func(apiclient.JobStatus)
}

// New returns a poller with default intervals. identity may be nil, which
// disables the generation check.
func New(api API, identity Generation) *Poller {
	return &Poller{
		api:              api,
		identity:         identity,
		Interval:         DefaultInterval,
		DocumentInterval: DefaultDocumentInterval,
		MaxAttempts:      DefaultMaxAttempts,
	}
}

func (p *Poller) generation() uint64 {
	if p.identity == nil {
		return 0
	}
	return p.identity.Generation()
}

// Watch fetches jobID immediately and then every Interval until the job
// settles. onComplete fires exactly once when the job completes. A failed
// job returns its status and a *FailedError.
func (p *Poller) Watch(ctx context.Context, jobID string, onComplete func(apiclient.JobStatus)) (*apiclient.JobStatus, error) {
	gen := p.generation()
	completed := false

	var last *apiclient.JobStatus
	err := p.loop(ctx, p.Interval, func(ctx context.Context) (bool, error) {
		status, err := p.api.JobStatus(ctx, jobID)
		if err := p.discard(ctx, gen); err != nil {
			return true, err
		}
		if err != nil {
			return true, err
		}

		last = status
		if p.OnUpdate != nil {
			p.OnUpdate(*status)
		}

		switch {
		case status.Running():
			return false, nil
		case status.Status == apiclient.JobCompleted:
			if !completed && onComplete != nil {
				completed = true
				onComplete(*status)
			}
			return true, nil
		case status.Status == apiclient.JobFailed:
			return true, &FailedError{JobID: jobID, Reason: status.FailedReason}
		default:
			return true, fmt.Errorf("job %s: unknown status %q", jobID, status.Status)
		}
	})
	return last, err
}

// WatchDocument polls every job of a document every DocumentInterval until
// none is running, and returns the final job list.
func (p *Poller) WatchDocument(ctx context.Context, documentID uuid.UUID) ([]apiclient.JobStatus, error) {
	gen := p.generation()

	var last []apiclient.JobStatus
	err := p.loop(ctx, p.DocumentInterval, func(ctx context.Context) (bool, error) {
		jobs, err := p.api.DocumentJobs(ctx, documentID)
		if err := p.discard(ctx, gen); err != nil {
			return true, err
		}
		if err != nil {
			return true, err
		}

		last = jobs
		running := 0
		for _, j := range jobs {
			if p.OnUpdate != nil {
				p.OnUpdate(j)
			}
			if j.Running() {
				running++
			}
		}
		log.Debug().Str("document_id", documentID.String()).Int("running", running).Msg("Polled document jobs")
		return running == 0, nil
	})
	return last, err
}

// discard reports why a response that just arrived must not be applied.
func (p *Poller) discard(ctx context.Context, gen uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.generation() != gen {
		return ErrIdentityChanged
	}
	return nil
}

// loop calls fetch until it reports done, the context ends or MaxAttempts
// is reached.
func (p *Poller) loop(ctx context.Context, interval time.Duration, fetch func(context.Context) (bool, error)) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		done, err := fetch(ctx)
		if done || err != nil {
			return err
		}
		if attempt >= maxAttempts {
			return ErrPollLimitReached
		}
		timer.Reset(interval)
	}
}
