package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/loadforge/internal/dispatcher"
)

// DefaultDrainTimeout bounds how long in-flight requests may finish after the
// run stops issuing new ones.
const DefaultDrainTimeout = 5 * time.Second

// Requester performs one request cycle: select a template, resolve it and
// dispatch it. A nil record means the cycle was cancelled and contributes
// nothing. A non-nil error is fatal and stops the run.
type Requester interface {
	Do(ctx context.Context) (*dispatcher.Record, error)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context) (*dispatcher.Record, error)

func (f RequesterFunc) Do(ctx context.Context) (*dispatcher.Record, error) { return f(ctx) }

// Sink receives every admitted record. Calls are serialised by the runner.
type Sink interface {
	Observe(rec dispatcher.Record)
}

// Options configure the Runner.
type Options struct {
	Concurrency    int                         // maximum in-flight requests
	Duration       time.Duration               // issue window (0 means until cancelled or aborted)
	Delay          time.Duration               // pause per slot after each completion
	MaxErrors      int                         // abort after this many error records (0 disables)
	DrainTimeout   time.Duration               // grace for in-flight requests when the run stops
	RatePerSecond  int                         // optional global pacing (0 means unlimited)
	Requester      Requester                   // request cycle (required)
	Sinks          []Sink                      // record consumers
	OnStateChange  func(State)                 // optional lifecycle hook
	Logger         *zap.Logger                 // optional
	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.Duration < 0 {
		o.Duration = 0
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.MaxErrors < 0 {
		o.MaxErrors = 0
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst equal to rps to smooth pacing under concurrency.
			return rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
}
