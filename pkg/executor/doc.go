/*
Package executor runs external commands with bounded captured output, a hard
wall-clock deadline, and guaranteed process cleanup. It is the only part of
the autograder that ever spawns a subprocess; the container driver (pkg/container)
and everything above it call through Run.
*/
package executor
