/*
Package types defines the core data structures shared across the gridpull
dispatcher: download tasks, worker nodes, their status enums, and the patch
types used for partial updates.

Tasks move through a small state machine:

	pending → queued → downloading → completed
	    ↑        │           │       ↘
	    │        ↓           ↓         failed → pending (bounded retry)
	    └──── canceled ← ────┘

A task holds a worker id exactly while it is queued or downloading. Workers
track their assigned task ids and slot usage; busy means every slot is in
use. Derived values (available slots, load percentage, health score) are
methods rather than stored fields so they can never drift from the record.
*/
package types
