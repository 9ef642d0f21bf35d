// Package monitor supervises triggers and turns their fires into pipeline
// runs.
//
// Every trigger is polled on its own goroutine so a slow Check cannot delay
// the others. Fires are queued, never run on the polling path, and a bounded
// pool of workers drains the queue. A per-pipeline limit (one by default)
// keeps runs of the same pipeline from overlapping: a fire that arrives while
// its pipeline is busy waits in the queue.
//
// Shutdown stops polling and dispatch, lets in-flight runs finish within a
// timeout and reports what it had to abandon.
package monitor
