/*
Package notify implements the filesystem-mtime notification bus that wakes
idle workers when new submissions arrive: Ping overwrites a shared file with
the current nanosecond timestamp, and a Listener watches that file for
modification events with fsnotify, bounded by a poll timeout so it never
blocks a worker indefinitely.
*/
package notify
