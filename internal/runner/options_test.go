package runner

import (
	"testing"

	"golang.org/x/time/rate"
)

func TestOptionsNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    Options
		validate func(*testing.T, Options)
	}{
		{
			name:  "defaults",
			input: Options{},
			validate: func(t *testing.T, o Options) {
				if o.Concurrency != 1 {
					t.Errorf("Concurrency = %d, want 1", o.Concurrency)
				}
				if o.DrainTimeout != DefaultDrainTimeout {
					t.Errorf("DrainTimeout = %s, want %s", o.DrainTimeout, DefaultDrainTimeout)
				}
				if o.Logger == nil {
					t.Error("Logger should not be nil")
				}
				if o.LimiterFactory == nil {
					t.Error("LimiterFactory should not be nil")
				}
			},
		},
		{
			name: "negative values corrected",
			input: Options{
				Concurrency:   -5,
				Duration:      -1,
				Delay:         -1,
				MaxErrors:     -3,
				RatePerSecond: -1,
			},
			validate: func(t *testing.T, o Options) {
				if o.Concurrency != 1 {
					t.Errorf("Concurrency = %d, want 1", o.Concurrency)
				}
				if o.Duration != 0 || o.Delay != 0 {
					t.Errorf("Duration/Delay = %s/%s, want 0", o.Duration, o.Delay)
				}
				if o.MaxErrors != 0 {
					t.Errorf("MaxErrors = %d, want 0", o.MaxErrors)
				}
				if o.RatePerSecond != 0 {
					t.Errorf("RatePerSecond = %d, want 0", o.RatePerSecond)
				}
			},
		},
		{
			name: "preserve valid values",
			input: Options{
				Concurrency:   10,
				MaxErrors:     7,
				RatePerSecond: 50,
				DrainTimeout:  DefaultDrainTimeout / 5,
			},
			validate: func(t *testing.T, o Options) {
				if o.Concurrency != 10 || o.MaxErrors != 7 || o.RatePerSecond != 50 {
					t.Errorf("unexpected values %+v", o)
				}
				if o.DrainTimeout != DefaultDrainTimeout/5 {
					t.Errorf("DrainTimeout = %s", o.DrainTimeout)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.input
			opts.normalize()
			tt.validate(t, opts)
		})
	}
}

func TestLimiterFactory(t *testing.T) {
	opts := Options{}
	opts.normalize()

	limiter := opts.LimiterFactory(0)
	if limiter.Limit() != rate.Inf {
		t.Errorf("Limit(0) = %v, want Inf", limiter.Limit())
	}

	rps := 100
	limiter = opts.LimiterFactory(rps)
	if limiter.Limit() != rate.Limit(rps) {
		t.Errorf("Limit(%d) = %v, want %v", rps, limiter.Limit(), rate.Limit(rps))
	}
	if limiter.Burst() != rps {
		t.Errorf("Burst(%d) = %d, want %d", rps, limiter.Burst(), rps)
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		StateIdle:     "idle",
		StateRunning:  "running",
		StateDraining: "draining",
		StateFinished: "finished",
		State(42):     "unknown",
	}
	for s, name := range want {
		if s.String() != name {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), name)
		}
	}
}
