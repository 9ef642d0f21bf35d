// Package pipeline defines the static and per-run data model of a workflow.
//
// A Graph is a named set of Steps connected by dependency edges. Steps are
// added with AddStep (dependencies must already exist) or AddStepDeferred
// (references are checked later), and the graph is sealed by Finalize, which
// validates referential integrity, rejects cycles, and fixes the canonical
// execution order. Steps that become eligible at the same time are ordered by
// insertion, so identical graphs always execute identically.
//
// A RunContext is the mutable state of one execution of a Graph: per-step
// status, results, timings and errors, plus the parameters the run was
// started with. Only the engine driving the run mutates it; once sealed it is
// a read-only record used for inspection and reporting.
package pipeline
