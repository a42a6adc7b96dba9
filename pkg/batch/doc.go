// Package batch fetches statistics for many pages with bounded concurrency.
//
// One Request is built per page URL; at most MaxConcurrency fetches are in
// flight at any time and the rest queue. Results land in a slot array indexed
// by input position, so the output order always matches the input order.
//
// Example usage:
//
//	orch, err := batch.New(client, batch.Config{MaxConcurrency: 5})
//	results, err := orch.Run(ctx, urls, start, end, pageviews.Options{})
//	combined := results.Merge()
//	if err := results.Err(); err != nil {
//		// some pages failed; combined holds the rest
//	}
//
// Failure policy:
//   - default: partial results, each failed page carries its own error
//   - FailFast: the first failure cancels in-flight fetches and Run returns it
//
// Invalid page URLs never reach the network. In partial mode they are
// reported in their slot; in FailFast mode Run returns the ValidationError
// before any fetch starts.
package batch
