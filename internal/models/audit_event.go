package models

import "time"

type EventType string

const (
	EventCreated         EventType = "CREATED"
	EventUpdated         EventType = "UPDATED"
	EventStatusChanged   EventType = "STATUS_CHANGED"
	EventTimelineUpdated EventType = "TIMELINE_UPDATED"
	EventImageUpdated    EventType = "IMAGE_UPDATED"
	EventSubtaskAdded    EventType = "SUBTODO_ADDED"
)

// AuditEvent is an append-only history entry attached to a task.
type AuditEvent struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"taskId"`
	OwnerID   int64     `json:"ownerId"`
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	ActorID   *int64    `json:"actorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// MaxTaskEvents caps how many events are returned alongside a task.
const MaxTaskEvents = 50
