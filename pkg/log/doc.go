/*
Package log provides structured logging for gridpull built on zerolog.

Init configures the global logger once at startup; packages derive child
loggers with WithComponent and attach worker_id/task_id fields where the
context is known. Console output is the default, JSON is available for
log collectors.
*/
package log
