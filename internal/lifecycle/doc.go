// Package lifecycle moves tasks through their status state machine.
//
// The transition table in transitions.go is the only place legal edges are
// defined. The Coordinator enforces it together with blocking dependencies,
// approval and the pre-hook gates:
//
//	load → validate edge → gate "task.transition" (hard)
//	     → [to done] dependencies → approval → gate "task.complete" (soft)
//	     → persist → audit + notify → outcome
//
// A denied completion gate is not an error: the task lands in review with the
// hook feedback recorded in its metadata and the call succeeds. Every other
// check failure returns a *domain.Error and leaves the stored task untouched.
//
// The Coordinator does not serialize concurrent calls for the same task.
// Callers hold a ports.TaskLocker lock on the task for the duration of a
// Transition or Approve call.
package lifecycle
