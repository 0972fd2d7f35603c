package models

import "time"

// EventType identifies a fact published by the engine.
type EventType string

const (
	EventSessionStateChanged EventType = "session.stateChanged"
	EventAttendanceMarked    EventType = "attendance.marked"
	EventAlertRaised         EventType = "alert.raised"
	EventAlertResolved       EventType = "alert.resolved"
)

// EngineEvent is an immutable fact emitted after a committed state change.
// Delivery is fire-and-forget relative to the transaction that produced it.
type EngineEvent struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}
