/*
Package planner turns a coursemodel.Course and its effective output
targets into an ordered list of stages, each a set of jobs safe to run
concurrently.

The implicit-execution table (executionRequirements, cacheProviders) is a
direct port of the course-build tooling's fixed (format, kind) lookup:
"completed" HTML reuses the execution cache "speaker" HTML populates, so
requesting only completed HTML must still schedule (and suppress the
on-disk write of) a speaker HTML run.
*/
package planner
