/*
Package dispatcher assembles the full control plane.

New wires the configured store, the event broker, the worker registry,
the protocol handler, the scheduler, liveness and retry pumps, the
metrics collector and the API server into a single process; Run starts
them and tears them down in reverse order on shutdown. Every HTTP
handler and pump receives its dependencies from here, so there is no
ambient process-wide state.
*/
package dispatcher
