package realtime

import (
	"errors"
	"time"

	"taskforest/internal/models"
)

type EventType string

const (
	EventCreate       EventType = "create"
	EventUpdate       EventType = "update"
	EventStatusSingle EventType = "status_single"
	EventStatusBatch  EventType = "status_batch"
	EventDelete       EventType = "delete"
)

// Event is one change notification. Deletions carry IDs, everything else
// carries the post-mutation task representations.
type Event struct {
	Type  EventType          `json:"type"`
	Tasks []*models.TaskNode `json:"tasks,omitempty"`
	IDs   []int64            `json:"ids,omitempty"`
	At    time.Time          `json:"at"`
}

// ErrSinkClosed is returned by a sink that can no longer be written to.
var ErrSinkClosed = errors.New("sink closed")

// Sink is an ordered output channel to one live subscriber.
type Sink interface {
	Send(ev Event) error
	Ping() error
	// Done is closed once the subscriber has gone away.
	Done() <-chan struct{}
	Close() error
}
