/*
Package coursemodel defines the in-memory shape the Planner consumes:
Course, Section, Topic and File, where File is a tagged variant over the
handful of document kinds clm actually schedules jobs for (notebook,
diagram, plain asset).

Load reads a flat YAML course specification into this shape; the
authoring-DSL expander that would produce richer course sources is not
part of this package. Beyond Load, coursemodel defines the shape and the
Jobs factory method each File uses to describe the work it wants for a
given output target, grounded on the document-kind taxonomy of the
original course-build tooling (NotebookAffine vs. plain files) collapsed
to the distinctions that actually change scheduling: does this file run
through a worker kind, and at which execution_stage.
*/
package coursemodel
