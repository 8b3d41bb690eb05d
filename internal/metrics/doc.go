// Package metrics aggregates dispatch records into run summaries.
//
// The central [Collector] type receives every admitted record from the
// runner:
//
//	collector := metrics.NewCollector()
//	collector.Start() // Mark test start for accurate RPS calculation
//	collector.Observe(rec)
//	stats := collector.Stats(elapsed)
//
// # Statistics
//
// The [Stats] type provides:
//   - Request counts (total, successes, failures)
//   - Latency min, max, mean and percentiles (P50, P90, P95, P99)
//   - Requests per second (RPS)
//   - Status code, failure kind and error message counts
//   - Per-template breakdowns
//
// Latencies are kept in an HDR histogram, so memory stays bounded no matter
// how many records a run produces. The exported histogram travels with the
// summary, which lets [Merge] compute exact percentiles across instances.
//
// # Thread Safety
//
// Observe and Stats may be called from multiple goroutines.
package metrics
