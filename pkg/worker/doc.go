/*
Package worker implements the worker supervisor (component C8 in the
orchestrator's design): one process per runner slot, driving submissions
from dispatch through published result.

Each Worker owns exactly one runner slot and therefore at most one active
grader.Runner at a time. Its main loop alternates between two mutually
exclusive states:

  - idle: poll the dispatcher (pkg/store.TryAssign) at a configured interval,
    woken earlier by a write to the shared notification file (pkg/notify);
  - active: call the current Runner's Step repeatedly, checking for a
    shutdown signal between steps so it never blocks longer than one step.

On start-up a Worker first reclaims any submission left assigned to its slot
by a previous process that died mid-grade, marking it as an autograder
failure rather than leaving it "running" forever. On completion of a grade
it publishes the shadow-repository commit and the final comment and status
through pkg/notifier, then records the terminal status via pkg/store.
*/
package worker
