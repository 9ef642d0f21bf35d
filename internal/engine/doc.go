// Package engine drives a single pipeline run.
//
// Engine.Run walks a finalized pipeline.Graph in its canonical order, one step
// at a time. For every step it:
//
//  1. skips the step when any upstream step failed or was skipped,
//  2. evaluates the step condition against the live RunContext,
//  3. loads the persisted results of the declared inputs,
//  4. runs the step function and persists its result.
//
// Failures are isolated to the failing step and its descendants unless the
// pipeline (or engine) is configured to stop on the first failure.
// Cancellation is observed between steps; a step that already started runs
// to completion. Progress is reported as Events to the configured Observers.
package engine
