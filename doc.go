// Package saga runs sequences of dependent writes as orchestrated sagas.
//
// A saga is an ordered list of steps. Each step pairs a forward action with a
// compensation that semantically undoes it. When a step fails, every step
// that already succeeded is compensated in reverse order, approximating
// atomicity across operations that cannot share a local transaction.
//
// Overview
//
//  1. Define steps with NewStep, pairing a "do" and a "compensate" function.
//     The value returned by a step is stored in the run Context under the
//     step's name; later steps read it with Lookup.
//  2. Describe the saga, either with New (a plain ordered list of steps) or
//     with a DagBuilder, which also records parallel stages and can render
//     the saga as Graphviz DOT.
//  3. Build an Orchestrator with a Store for run state. MemoryStore and
//     FileStore are provided; internal/database provides a SQL store.
//  4. Call Execute. It never panics and never returns a bare error: the
//     outcome is a Result carrying the final Status, the error that failed
//     the run, compensation errors and the run journal.
//
// Compensation is best-effort. A compensation that fails is logged and
// recorded in the Result, and the remaining compensations still run.
//
// Completed runs can be undone later with Orchestrator.Rollback, which loads
// the persisted state, rebuilds the context from the stored step outputs and
// compensates in reverse order.
package saga
