/*
Package scheduler assigns pending tasks to workers.

A single pump runs a scheduling pass every five seconds (configurable)
and on demand via Kick. Each pass sorts pending tasks by priority then
age, snapshots the available workers, and walks the tasks applying the
configured strategy:

  - least_loaded: worker with the lowest slot utilization (default)
  - round_robin: first worker in store order, rotating as full workers
    drop out of the pass
  - random: uniform pick among available workers
  - tags: workers carrying all of the task's tags, least loaded wins;
    no carrier or no tags falls back to least_loaded

Slot consumption is tracked inside the pass so one pass cannot promise
the same slot twice, and the store's transactional AssignTask is the
final arbiter when passes race with worker updates.
*/
package scheduler
