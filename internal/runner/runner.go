package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/loadforge/internal/dispatcher"
)

// ErrAborted is returned by Result.Err when the run stopped on the error
// threshold.
var ErrAborted = errors.New("run aborted")

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("runner already started")

// Result captures execution summary.
type Result struct {
	Total       int64 // admitted records
	Successes   int64
	Errors      int64
	Discarded   int64 // records completed after an abort or cancelled mid-flight
	Duration    time.Duration
	Aborted     bool
	AbortReason string
	Interrupted bool // the parent context was cancelled
}

// Err reports ErrAborted for aborted runs.
func (r Result) Err() error {
	if !r.Aborted {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrAborted, r.AbortReason)
}

// Runner coordinates bounded-concurrency execution of request cycles.
type Runner struct {
	opt     Options
	arrival *uniformArrival
	logger  *zap.Logger

	state    atomic.Int32
	inFlight atomic.Int64
	aborted  atomic.Bool

	mu             sync.Mutex
	total          int64
	successes      int64
	errs           int64
	discarded      int64
	abortReason    string
	fatalErr       error
	stopIssuing    context.CancelFunc
	cancelDispatch context.CancelFunc
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{
		opt:     opt,
		arrival: newArrival(opt),
		logger:  opt.Logger.With(zap.String("component", "runner")),
	}
}

// State returns the current lifecycle phase.
func (r *Runner) State() State { return State(r.state.Load()) }

// InFlight returns the number of cycles currently executing.
func (r *Runner) InFlight() int64 { return r.inFlight.Load() }

// Aborted reports whether the run has been aborted.
func (r *Runner) Aborted() bool { return r.aborted.Load() }

// Abort stops issuing new requests, cancels in-flight ones and discards any
// record that completes afterwards.
func (r *Runner) Abort(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abortLocked(reason)
}

func (r *Runner) abortLocked(reason string) {
	if r.aborted.Load() {
		return
	}
	r.aborted.Store(true)
	r.abortReason = reason
	r.logger.Warn("aborting run", zap.String("reason", reason))
	if r.stopIssuing != nil {
		r.stopIssuing()
	}
	if r.cancelDispatch != nil {
		r.cancelDispatch()
	}
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
	r.logger.Debug("state changed", zap.Stringer("state", s))
	if r.opt.OnStateChange != nil {
		r.opt.OnStateChange(s)
	}
}

// Run executes request cycles until the duration elapses, the error
// threshold is reached, the context is cancelled, or the requester fails.
// It then drains in-flight cycles for at most DrainTimeout.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return Result{}, ErrAlreadyStarted
	}
	start := time.Now()

	// In-flight dispatches outlive the issue window; only drain expiry or an
	// abort cancels them.
	dispatchCtx, cancelDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDispatch()
	issueCtx, stopIssuing := context.WithCancel(ctx)
	defer stopIssuing()
	if r.opt.Duration > 0 {
		var cancelDeadline context.CancelFunc
		issueCtx, cancelDeadline = context.WithTimeout(issueCtx, r.opt.Duration)
		defer cancelDeadline()
	}

	r.mu.Lock()
	r.stopIssuing = stopIssuing
	r.cancelDispatch = cancelDispatch
	if r.aborted.Load() {
		stopIssuing()
		cancelDispatch()
	}
	r.mu.Unlock()

	r.logger.Info("run started",
		zap.Int("concurrency", r.opt.Concurrency),
		zap.Duration("duration", r.opt.Duration),
		zap.Duration("delay", r.opt.Delay),
		zap.Int("max_errors", r.opt.MaxErrors),
	)
	if r.opt.OnStateChange != nil {
		r.opt.OnStateChange(StateRunning)
	}

	var wg sync.WaitGroup
	wg.Add(r.opt.Concurrency)
	for i := 0; i < r.opt.Concurrency; i++ {
		go func() {
			defer wg.Done()
			r.worker(issueCtx, dispatchCtx)
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-issueCtx.Done():
	}
	r.setState(StateDraining)

	timer := time.NewTimer(r.opt.DrainTimeout)
	select {
	case <-done:
	case <-timer.C:
		r.logger.Warn("drain timeout reached, cancelling in-flight requests",
			zap.Int64("in_flight", r.InFlight()),
			zap.Duration("drain_timeout", r.opt.DrainTimeout),
		)
		cancelDispatch()
		<-done
	}
	timer.Stop()

	r.mu.Lock()
	res := Result{
		Total:       r.total,
		Successes:   r.successes,
		Errors:      r.errs,
		Discarded:   r.discarded,
		Duration:    time.Since(start),
		Aborted:     r.aborted.Load(),
		AbortReason: r.abortReason,
		Interrupted: ctx.Err() != nil,
	}
	fatalErr := r.fatalErr
	r.mu.Unlock()

	r.setState(StateFinished)
	r.logger.Info("run finished",
		zap.Int64("total", res.Total),
		zap.Int64("errors", res.Errors),
		zap.Int64("discarded", res.Discarded),
		zap.Duration("elapsed", res.Duration),
		zap.Bool("aborted", res.Aborted),
	)
	return res, fatalErr
}

func (r *Runner) worker(issueCtx, dispatchCtx context.Context) {
	for {
		if err := r.arrival.Wait(issueCtx); err != nil {
			return
		}
		if r.opt.Requester == nil {
			return
		}

		r.inFlight.Add(1)
		rec, err := r.opt.Requester.Do(dispatchCtx)
		r.inFlight.Add(-1)

		if err != nil {
			r.fail(err)
			return
		}
		if rec != nil {
			r.admit(*rec)
		}

		if r.opt.Delay > 0 && !sleep(issueCtx, r.opt.Delay) {
			return
		}
	}
}

// admit counts rec and forwards it to the sinks unless the run has been
// aborted. Admission is serialised so the error count never passes MaxErrors.
func (r *Runner) admit(rec dispatcher.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.Canceled() || r.aborted.Load() {
		r.discarded++
		return
	}
	r.total++
	if rec.Success() {
		r.successes++
	} else {
		r.errs++
	}
	for _, sink := range r.opt.Sinks {
		sink.Observe(rec)
	}
	if !rec.Success() && r.opt.MaxErrors > 0 && r.errs >= int64(r.opt.MaxErrors) {
		r.abortLocked(fmt.Sprintf("maximum errors reached (%d)", r.opt.MaxErrors))
	}
}

func (r *Runner) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatalErr == nil {
		r.fatalErr = err
		r.logger.Error("request cycle failed", zap.Error(err))
	}
	r.stopIssuing()
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
