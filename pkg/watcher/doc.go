/*
Package watcher observes the course data directory for filesystem
changes and debounces them into single re-plan-and-enqueue calls. It
knows nothing about jobs or the course model; the caller supplies a
Handler that decides what a changed path means.
*/
package watcher
