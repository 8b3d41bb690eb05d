// Package runner provides the concurrency engine for loadforge.
//
// A run keeps a fixed number of worker slots busy executing request cycles
// and stops on the first of:
//   - the duration elapsing
//   - the error threshold (MaxErrors) being reached
//   - the parent context being cancelled
//   - the requester returning a fatal error
//
// # Basic Usage
//
//	r := runner.New(runner.Options{
//		Concurrency: 10,
//		Duration:    time.Minute,
//		Delay:       100 * time.Millisecond,
//		MaxErrors:   50,
//		Requester:   myRequester,
//		Sinks:       []runner.Sink{collector},
//	})
//	result, err := r.Run(ctx)
//
// # Lifecycle
//
// A runner moves through Idle, Running, Draining and Finished exactly once.
// When the run stops issuing, in-flight cycles get DrainTimeout to complete;
// any still running are then cancelled and contribute no record.
//
// # Abort
//
// Records are admitted one at a time. When the admitted error count reaches
// MaxErrors the run is aborted: no new cycles start, in-flight cycles are
// cancelled, and records that complete afterwards are discarded. The final
// error count therefore equals MaxErrors exactly.
//
// # Concurrency Model
//
// Each slot is a goroutine that runs one cycle at a time and then sleeps for
// Delay, so the number of in-flight cycles never exceeds Concurrency. An
// optional RatePerSecond cap is shared by all slots through a
// [golang.org/x/time/rate.Limiter].
package runner
