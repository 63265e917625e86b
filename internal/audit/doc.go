// Package audit keeps the bridge's event log in the bridge_events table.
//
// Connection, disconnection, discovery and failed-write events are
// persisted so an operator can see why a peer dropped or a control
// message had no effect. Notifications are not logged here; they go to
// the attribute record and the live WebSocket stream instead.
//
// The Recorder is the ble.EventSink: it queues events and writes them on
// its own goroutine so the relay path never waits on SQLite. When the
// queue is full events are dropped and counted.
package audit
