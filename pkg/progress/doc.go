/*
Package progress provides the in-memory event broker the BuildDriver uses
to report stage and job lifecycle events to one or more OutputFormatters
without knowing how many are listening or whether any are.
*/
package progress
