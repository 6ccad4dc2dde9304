/*
Package log provides structured logging for the autograder using zerolog.

A single global zerolog.Logger is initialized once via Init and then reused
through package-level helpers (Info, Warn, Error, ...) and context loggers
(WithComponent, WithRunner, WithSubmission, WithTag) that attach the fields
relevant to the calling component without repeating them at every call site.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	runnerLog := log.WithRunner(2)
	runnerLog.Info().Int64("submission_id", 481).Msg("assigned submission")

Internal diagnostics go through this logger; user-visible grading failures
are rendered as markdown (see pkg/markdown) and never logged as the primary
channel of communication with a student.
*/
package log
