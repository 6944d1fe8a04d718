// Package artifact polls a remote endpoint until a deferred payload, such as
// generated audio for a tutoring session, becomes available. At most one
// poll job runs per session; starting a new one cancels its predecessor, and
// a job that outlives its timeout is abandoned rather than looping forever.
package artifact

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAbandoned is returned when a poll job gives up after its timeout
// without the artifact ever becoming ready.
var ErrAbandoned = errors.New("artifact: abandoned after timeout")

// FetchFunc issues one readiness probe. ready=false with a nil error means
// the artifact is still being produced and another probe should follow.
type FetchFunc func(ctx context.Context) (payload []byte, ready bool, err error)

const (
	defaultInterval = 2 * time.Second
	defaultTimeout  = 2 * time.Minute
)

// Poll probes fetch every interval until it reports ready, the timeout
// elapses, or ctx is cancelled. The first probe fires after one interval,
// matching the cadence of the backend that begins producing the artifact
// only once the reply is delivered.
func Poll(ctx context.Context, fetch FetchFunc, interval, timeout time.Duration) ([]byte, error) {
	if interval <= 0 {
		interval = defaultInterval
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrAbandoned
		case <-ticker.C:
		}

		payload, ready, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if ready {
			return payload, nil
		}
	}
}

// Status describes where a job is in its lifecycle.
type Status int

const (
	StatusPolling Status = iota
	StatusReady
	StatusFailed
	StatusAbandoned
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPolling:
		return "polling"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	case StatusAbandoned:
		return "abandoned"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Job is one in-flight poll for one session.
type Job struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	status    Status
	cancelled bool
}

// Status returns the job's current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Done is closed once the job has finished, whatever the outcome.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) finish(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
	close(j.done)
}

// abort marks the job cancelled before tearing down its context, so a
// delivery racing the cancel can observe it.
func (j *Job) abort() {
	j.mu.Lock()
	j.cancelled = true
	j.mu.Unlock()
	j.cancel()
}

// deliver resolves the ready-versus-cancel race. The cancel check and the
// sink call share the job mutex: a cancel that wins the lock first
// suppresses the sink, and one that loses arrives after delivery is already
// committed.
func (j *Job) deliver(ctx context.Context, payload []byte, sink func([]byte)) {
	j.mu.Lock()
	if j.cancelled || ctx.Err() != nil {
		j.status = StatusCancelled
	} else {
		j.status = StatusReady
		sink(payload)
	}
	j.mu.Unlock()
	close(j.done)
}

// Jobs tracks poll jobs keyed by session id and enforces the
// one-job-per-session rule.
type Jobs struct {
	mu     sync.Mutex
	active map[string]*Job
}

// NewJobs returns an empty job registry.
func NewJobs() *Jobs {
	return &Jobs{active: make(map[string]*Job)}
}

// Begin starts polling for the given session, cancelling any job already
// running for it. On success the sink receives the payload exactly once; a
// cancelled or failed job never reaches the sink.
func (js *Jobs) Begin(ctx context.Context, sessionID string, fetch FetchFunc, sink func([]byte), interval, timeout time.Duration) *Job {
	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		sessionID: sessionID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	js.mu.Lock()
	if prev, ok := js.active[sessionID]; ok {
		prev.abort()
	}
	js.active[sessionID] = job
	js.mu.Unlock()

	go func() {
		payload, err := Poll(jobCtx, fetch, interval, timeout)

		js.mu.Lock()
		if js.active[sessionID] == job {
			delete(js.active, sessionID)
		}
		js.mu.Unlock()

		switch {
		case err == nil:
			job.deliver(jobCtx, payload, sink)
		case errors.Is(err, ErrAbandoned):
			job.finish(StatusAbandoned)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			job.finish(StatusCancelled)
		default:
			job.finish(StatusFailed)
		}
	}()

	return job
}

// Cancel stops the job for the given session, if any.
func (js *Jobs) Cancel(sessionID string) {
	js.mu.Lock()
	job, ok := js.active[sessionID]
	js.mu.Unlock()
	if ok {
		job.abort()
	}
}

// CancelAll stops every in-flight job. Used on teardown.
func (js *Jobs) CancelAll() {
	js.mu.Lock()
	jobs := make([]*Job, 0, len(js.active))
	for _, job := range js.active {
		jobs = append(jobs, job)
	}
	js.mu.Unlock()
	for _, job := range jobs {
		job.abort()
	}
}
