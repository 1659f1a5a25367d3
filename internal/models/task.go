// internal/models/task.go
package models

import (
	"strings"
	"time"

	"taskforest/internal/timeline"
)

// TaskStatus defines the possible statuses for a task.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "TODO"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusDone       TaskStatus = "DONE"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// ParseTaskStatus accepts a status token case-insensitively.
func ParseTaskStatus(raw string) (TaskStatus, bool) {
	s := TaskStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Task represents one node of an owner's task hierarchy.
type Task struct {
	ID          int64      `json:"id"`
	OwnerID     int64      `json:"ownerId"`
	ParentID    *int64     `json:"parentId"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	ImageURL    *string    `json:"imageUrl"`
	StartDate   *time.Time `json:"startDate"`
	EndDate     *time.Time `json:"endDate"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Window returns the task's stored schedule window.
func (t *Task) Window() timeline.Window {
	return timeline.Window{Start: t.StartDate, End: t.EndDate}
}

// SetWindow replaces the stored schedule window.
func (t *Task) SetWindow(w timeline.Window) {
	t.StartDate = w.Start
	t.EndDate = w.End
}

// TaskNode is a task with its direct children attached, as returned to clients.
type TaskNode struct {
	Task
	Children []*TaskNode  `json:"children"`
	Events   []AuditEvent `json:"events,omitempty"`
}
