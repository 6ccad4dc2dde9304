/*
Package supervisor implements the process supervisor (component C9): it
launches one ingress child and n_runners worker children, each a re-exec of
the same binary distinguished by role environment variables, restarts any
child that exits unexpectedly, and on SIGINT/SIGTERM terminates every child,
pings the notification bus once so any blocked listener wakes, and returns.

The ingress child's own HTTP-webhook logic is an external collaborator (see
spec.md's non-goals) and is intentionally not implemented here; its process
slot exists only so the supervisor's spawn/restart contract covers it.
*/
package supervisor
