/*
Package processor is the worker-plugin boundary spec.md names as an
external collaborator: the notebook execution engine and the diagram
rasterizers are not implemented here, only invoked, via whatever binary
PLANTUML_JAR/DRAWIO_EXECUTABLE/the notebook Command point at. Dispatcher
wraps that invocation with the two-tier result cache so a repeat job for
the same content hash never re-invokes the external tool.
*/
package processor
