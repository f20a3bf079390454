/*
Package liveness watches worker heartbeats.

The monitor sweeps the fleet on the heartbeat interval. A worker whose
last heartbeat is older than the timeout is marked offline and its
in-flight tasks return to pending, so downloads resume on healthy
workers instead of waiting on a dead one. Workers that stay offline past
the removal threshold are deleted when auto removal is enabled.
*/
package liveness
