/*
Package errors turns a raw worker error message into a types.BuildError:
a user/configuration/infrastructure classification, a short category, and
actionable guidance the CLI formatter can show directly.

Classification is pattern matching over the message text and job kind, in
priority order within Classify. Patterns are deliberately narrow: a naive
"not found" substring match would also catch "input file not found" and
misdirect the user toward reinstalling a tool that was never the problem.
See the drawio/plantuml tests for the exact regressions this guards.
*/
package errors
