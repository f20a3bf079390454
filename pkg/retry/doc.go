/*
Package retry returns failed downloads to the queue.

A failed task rests for the configured delay, then goes back to pending
with its retry counter bumped, until the counter reaches the cap. The
counter is stored in the task's options so it persists across restarts
and store migrations. Exhausted tasks stay failed; an operator can still
requeue them through the API, which leaves the counter untouched.
*/
package retry
