/*
Package events provides an in-memory event broker for dispatcher pub/sub.

The broker fans every published event out to all subscribers over buffered
channels. Publish never blocks: the main channel buffers 100 events and a
subscriber whose 50-slot buffer is full simply misses the event, which is
acceptable for monitoring and the SSE stream but means the broker is not a
durable queue.

# Event Types

Task events:
  - task.created, task.assigned, task.completed
  - task.failed, task.retried, task.canceled

Worker events:
  - worker.registered, worker.connected, worker.disconnected
  - worker.offline, worker.removed

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("%s: %s\n", event.Type, event.Message)
		}
	}()

	broker.PublishType(events.EventTaskCreated, "task created", map[string]string{
		"task_id": "task-123",
	})
*/
package events
