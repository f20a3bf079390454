/*
Package api serves the dispatcher's HTTP surface.

Three kinds of endpoints share one chi router: the REST API for tasks,
workers and system status; the persistent worker control channel at
/ws/worker/{worker_id}; and operational endpoints (/healthz, /metrics,
/events). REST routes sit behind the optional X-API-Key gate; the
worker channel and operational endpoints do not, since workers and
scrapers are not browser clients holding operator credentials.

Handlers stay thin: validation and status-code mapping here, all state
transitions in the store, scheduler and registry.
*/
package api
