/*
Package workerclient is the one interface clm-worker's claim loop codes
against, with two backends selected by CLM_USE_WORKER_API: DirectClient
talks to pkg/queue and pkg/lifecycle over the shared SQLite handle,
RemoteClient speaks the same operations over HTTP to pkg/workerapi.
The container executor starts its workers with CLM_USE_WORKER_API set, so
they use RemoteClient even though the database file is mounted into the
container; direct subprocess workers default to DirectClient to avoid an
extra network hop.
*/
package workerclient
