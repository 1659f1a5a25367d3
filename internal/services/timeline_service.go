package services

import (
	"context"
	"errors"

	"taskforest/internal/models"
	"taskforest/internal/repositories"
	"taskforest/internal/timeline"
)

// propagateTimeline recomputes the window of startID from its current
// children and walks up the parent chain, one freshly loaded ancestor at a
// time, until a root is reached. An ancestor that can no longer be found ends
// the walk. Every ancestor whose window actually changed gets one
// TIMELINE_UPDATED event; their ids are returned bottom-up.
//
// The parent chain is acyclic: tasks are never re-parented and the schema
// forbids self-parenting.
func propagateTimeline(ctx context.Context, tx repositories.TaskRepository, ownerID int64, startID *int64) ([]int64, error) {
	var changed []int64
	for next := startID; next != nil; {
		t, err := tx.FindByID(ctx, ownerID, *next)
		if errors.Is(err, repositories.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}

		children, err := tx.FindChildren(ctx, ownerID, t.ID)
		if err != nil {
			return nil, err
		}
		windows := make([]timeline.Window, len(children))
		for i := range children {
			windows[i] = children[i].Window()
		}
		derived := timeline.Rollup(windows)

		if !derived.Equal(t.Window()) {
			err := tx.UpdateWindow(ctx, ownerID, t.ID, derived)
			if errors.Is(err, repositories.ErrNotFound) {
				break
			}
			if err != nil {
				return nil, err
			}
			if err := appendEvent(ctx, tx, ownerID, t.ID, models.EventTimelineUpdated, timeline.Message(derived)); err != nil {
				return nil, err
			}
			changed = append(changed, t.ID)
		}
		next = t.ParentID
	}
	return changed, nil
}

// appendEvent records an event attributed to the owner, who is the only
// actor in an owner-scoped tree.
func appendEvent(ctx context.Context, tx repositories.TaskRepository, ownerID, taskID int64, typ models.EventType, msg string) error {
	actor := ownerID
	return tx.AppendEvent(ctx, &models.AuditEvent{
		TaskID:  taskID,
		OwnerID: ownerID,
		Type:    typ,
		Message: msg,
		ActorID: &actor,
	})
}
