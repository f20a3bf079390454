/*
Package protocol defines the JSON frame format spoken on the worker
control channel and applies inbound frames to the store.

Every frame is a single JSON object with an "action" discriminator.
Workers send heartbeat, task_update and worker_update; the dispatcher
sends initial_tasks, add_task, cancel_task, pause_task and resume_task.
A malformed frame or unknown action is logged and discarded without
closing the channel.

When a task_update carries a terminal status (completed, failed or
canceled) the handler patches the task first and releases the worker's
slot second, and publishes the matching event.
*/
package protocol
