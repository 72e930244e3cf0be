/*
Package builddriver runs a planner.Plan to completion: enqueue one
stage's jobs, poll the queue until the stage drains or times out,
surface failures through pkg/errors, advance to the next stage, and
copy verbatim assets once every stage has finished. It publishes
progress.Event values as it goes and knows nothing about how those
events are displayed — that is the OutputFormatter's job.
*/
package builddriver
