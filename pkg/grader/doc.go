/*
Package grader implements the test-runner state machine: the per-submission
small-step process that carries a cloned repository through static scanning,
containerized build, per-test execution and result aggregation.

A Runner is constructed once per admitted submission (admission clones the
repository and validates the requested tags) and then driven to completion by
repeated, non-blocking calls to Step, so the caller's worker loop can observe
a shutdown or notification signal between any two steps. Step always returns
promptly: each call performs at most one build or one test-case execution
before returning control.
*/
package grader
