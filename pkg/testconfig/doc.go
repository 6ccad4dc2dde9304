/*
Package testconfig loads the hierarchical test tree that defines what a tag
builds and runs: a root TOML file declares tags (optionally extending one
another) and named tag groups, each tag points at one or more directories,
and each directory is recursively scanned for a config.toml carrying group
defaults and *.test.toml files carrying individual test cases.

Defaults cascade from the root file's [default] table down through each
directory's [test] section to the individual test file, with later layers
overriding earlier ones; a test kind's options are validated against the
kind's declared defaults, so referencing an unknown option key is a load
error rather than a silently ignored typo.
*/
package testconfig
