package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"attest/api/internal/worker"
)

// UpdateQuery is appended to the action path of every partial update.
const UpdateQuery = "?/updateRequirementAssessment"

// Update is one partial-field update of a requirement assessment.
type Update struct {
	ActionPath   string
	AssessmentID string
	Field        Field
	Value        any
}

// Request is an encoded Update. The body is a snapshot taken when the update
// was issued, so later local edits never leak into it.
type Request struct {
	Seq          uint64
	ActionPath   string
	AssessmentID string
	Field        Field
	Body         json.RawMessage
}

// Encode renders the `{id, [field]: value}` body.
func (u Update) Encode() (Request, error) {
	body, err := json.Marshal(map[string]any{
		"id":            u.AssessmentID,
		string(u.Field): u.Value,
	})
	if err != nil {
		return Request{}, fmt.Errorf("encode %s update for %s: %w", u.Field, u.AssessmentID, err)
	}
	return Request{
		ActionPath:   u.ActionPath,
		AssessmentID: u.AssessmentID,
		Field:        u.Field,
		Body:         body,
	}, nil
}

// Submitter accepts encoded requests and returns without waiting for them.
type Submitter interface {
	Submit(Request)
}

// Persister sends one request to the remote store.
type Persister interface {
	UpdateRequirementAssessment(ctx context.Context, req Request) error
}

// Outcome reports how a detached request ended.
type Outcome struct {
	Request  Request
	Attempts int
	Err      error
}

func (o Outcome) GetError() error { return o.Err }

type ResultHandler func(Outcome)

// LogFailures is the default handler: failed updates are logged and dropped.
// Local state is left as the user set it.
func LogFailures(o Outcome) {
	if o.Err == nil {
		return
	}
	log.Printf("persist: %s %s of %s failed after %d attempt(s): %v",
		o.Request.ActionPath, o.Request.Field, o.Request.AssessmentID, o.Attempts, o.Err)
}

// RetryTransient retries everything except cancellation and errors that
// carry a 4xx status.
func RetryTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var status interface{ StatusCode() int }
	if errors.As(err, &status) {
		code := status.StatusCode()
		return code < 400 || code > 499
	}
	return true
}

type DispatcherOptions struct {
	Workers   int
	QueueSize int
	Retries   int
	Backoff   time.Duration
	Timeout   time.Duration
	Limiter   *worker.Limiter
	OnResult  ResultHandler
	// Retryable decides whether a failed attempt is tried again.
	Retryable func(error) bool
}

// Dispatcher submits persistence requests and detaches from them. Requests
// leave the queue in issuance order; with a single worker they also reach
// the remote in that order.
type Dispatcher struct {
	persister Persister
	pool      *worker.Pool
	opts      DispatcherOptions
	seq       atomic.Uint64
}

func NewDispatcher(persister Persister, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Limiter == nil {
		opts.Limiter = worker.NewLimiter(0, 1)
	}
	if opts.OnResult == nil {
		opts.OnResult = LogFailures
	}
	if opts.Retryable == nil {
		opts.Retryable = RetryTransient
	}

	d := &Dispatcher{persister: persister, opts: opts}
	d.pool = worker.NewPool(opts.Workers, opts.QueueSize, func(r worker.Result) {
		if outcome, ok := r.(Outcome); ok {
			d.opts.OnResult(outcome)
		}
	})
	d.pool.Start()
	return d
}

func (d *Dispatcher) Submit(req Request) {
	req.Seq = d.seq.Add(1)
	if err := d.pool.Submit(&persistJob{dispatcher: d, req: req}); err != nil {
		d.opts.OnResult(Outcome{Request: req, Err: err})
	}
}

// Pending is the number of requests still waiting for a worker.
func (d *Dispatcher) Pending() int {
	return d.pool.Pending()
}

// Close waits for queued requests to finish.
func (d *Dispatcher) Close() {
	d.pool.Close()
}

// Shutdown abandons queued requests.
func (d *Dispatcher) Shutdown() {
	d.pool.Shutdown()
}

type persistJob struct {
	dispatcher *Dispatcher
	req        Request
}

func (j *persistJob) Execute(ctx context.Context) worker.Result {
	d := j.dispatcher
	outcome := Outcome{Request: j.req}
	for attempt := 0; attempt <= d.opts.Retries; attempt++ {
		delay := time.Duration(0)
		if attempt > 0 {
			delay = d.opts.Backoff << (attempt - 1)
		}
		if err := d.opts.Limiter.WaitWithDelay(ctx, j.req.ActionPath, delay); err != nil {
			outcome.Err = err
			return outcome
		}

		outcome.Attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
		outcome.Err = d.persister.UpdateRequirementAssessment(attemptCtx, j.req)
		cancel()
		if outcome.Err == nil || !d.opts.Retryable(outcome.Err) {
			return outcome
		}
	}
	return outcome
}
