// Package pipeline implements the parallel dataset generation run: a single
// producer issuing circuit specs, a fixed worker pool processing them under
// per-task timeouts, a batch accumulator sealing results and failure
// records by size or age, and an asynchronous dispatcher syncing sealed
// batches to remote storage with retry, circuit breaking and a local spool
// fallback.
//
// Each spec is delivered to exactly one worker. Each task outcome, result
// or failure, lands in exactly one batch. A sealed batch reaches the remote
// store at least once, or is spooled locally for later replay.
package pipeline
