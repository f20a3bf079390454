/*
Package metrics exposes Prometheus instrumentation for the dispatcher.

Gauges for task and worker populations are refreshed from the store by
the Collector every 15 seconds; counters and histograms are updated
inline by the scheduler, retry controller and API server. Handler serves
the standard promhttp endpoint.
*/
package metrics
