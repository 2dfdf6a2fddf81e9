// Package fetch executes batch price requests against the pricing API.
//
// A Worker drains an ordered queue of jobs (one world plus its item ids) with a
// fixed number of goroutines. Every attempt passes through a ratelimit.Gate,
// which bounds concurrency across jobs and spaces slot reuse. Failures follow a
// bounded retry loop:
//
//   - 429: flag the API as rate limiting, wait RateLimitBackoff, retry
//   - gateway timeout body, 5xx, transport errors: record a failure, wait TimeoutBackoff, retry
//   - parse error: record a failure, drop the batch, pause the worker for ParseBackoff
//   - other 4xx: drop
//   - cancellation: drop silently
//
// A batch that fails on its MaxRetries-th attempt is dropped. Every terminal
// outcome hands the unresolved item ids back to the Sink exactly once, so the
// caller can clear its in-flight markers.
//
// Example usage:
//
//	worker, err := fetch.NewWorker(fetch.DefaultConfig(), apiClient, gate, state, worlds)
//	worker.Start(ctx, priceCache)
//	worker.Submit(21, []uint32{5333, 5334})
package fetch
