/*
Package storage provides persistence for tasks and workers.

Two backends implement the Store interface: MemoryStore for single-node
deployments and tests, and SQLiteStore for durable state across restarts.
The backends are interchangeable; both enforce the same slot-accounting
rules around AssignTask and UnassignTask, and Migrate copies a full data
set from one backend to the other with worker IDs remapped.

Errors use the package sentinels (ErrNotFound, ErrNoCapacity,
ErrInvalidStatus) wrapped with the offending ID, so callers branch with
errors.Is and still log a useful message.
*/
package storage
