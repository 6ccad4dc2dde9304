/*
Package config loads the autograder's TOML settings file and applies
AUTOGRADER_<SECTION>_<KEY> environment overrides on top of it. Relative paths
inside the file are resolved against the file's own directory before the
Settings value is returned, so every other package can treat config.Settings
paths as already-absolute.
*/
package config
