/*
Package registry maps worker IDs to their open control channels.

The registry is the single send path for dispatcher-to-worker frames.
It enforces one channel per worker (newer connections evict older ones),
sends the initial task snapshot on attach, and marks workers offline on
detach. Sends to absent workers are logged no-ops so the scheduler and
API never block on a disconnected fleet member.
*/
package registry
