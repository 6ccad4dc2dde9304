/*
Package container is a thin wrapper over an OCI-compatible CLI (podman),
invoked entirely through pkg/executor. It never talks to a container runtime
directly; every operation shells out and, where the CLI supports it, parses
`--format json` output.
*/
package container
