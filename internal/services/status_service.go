package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"

	"taskforest/internal/hierarchy"
	"taskforest/internal/models"
	"taskforest/internal/realtime"
	"taskforest/internal/repositories"
)

// StatusUpdate is one entry of a batch status change.
type StatusUpdate struct {
	ID     int64             `json:"id"`
	Status models.TaskStatus `json:"status"`
}

// BatchResult reports the tasks a batch actually changed. Entries already at
// the requested status are not counted.
type BatchResult struct {
	Processed int                `json:"processed"`
	Tasks     []*models.TaskNode `json:"tasks"`
}

// applyStatus moves t to a different status inside tx. DONE is forced onto
// every descendant in one bulk write, without events for them and without
// touching any window.
func applyStatus(ctx context.Context, tx repositories.TaskRepository, ownerID int64, t *models.Task, to models.TaskStatus) error {
	if err := tx.UpdateStatus(ctx, ownerID, t.ID, to); err != nil {
		return fromRepo(err)
	}
	msg := fmt.Sprintf("Status changed from %s to %s", t.Status, to)
	if err := appendEvent(ctx, tx, ownerID, t.ID, models.EventStatusChanged, msg); err != nil {
		return err
	}
	if to != models.StatusDone {
		return nil
	}
	ids, err := hierarchy.Descendants(ctx, tx, ownerID, t.ID)
	if err != nil {
		return err
	}
	if _, err := tx.UpdateStatusBulk(ctx, ownerID, ids, models.StatusDone); err != nil {
		return err
	}
	return nil
}

// dedupeUpdates collapses repeated ids onto their last status, keeping the
// position of the first occurrence.
func dedupeUpdates(updates []StatusUpdate) []StatusUpdate {
	pos := make(map[int64]int, len(updates))
	out := make([]StatusUpdate, 0, len(updates))
	for _, u := range updates {
		if i, ok := pos[u.ID]; ok {
			out[i].Status = u.Status
			continue
		}
		pos[u.ID] = len(out)
		out = append(out, u)
	}
	return out
}

func (s *taskService) SetStatus(ctx context.Context, ownerID, id int64, to models.TaskStatus) (*models.TaskNode, error) {
	ctx = context.WithoutCancel(ctx)
	if id <= 0 {
		return nil, validationf("invalid task id")
	}
	if !to.Valid() {
		return nil, validationf("invalid status %q", to)
	}

	changed := false
	err := s.repo.WithTx(ctx, func(tx repositories.TaskRepository) error {
		changed = false
		t, err := tx.FindByIDForUpdate(ctx, ownerID, id)
		if err != nil {
			return fromRepo(err)
		}
		if t.Status == to {
			return nil
		}
		if err := applyStatus(ctx, tx, ownerID, t, to); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		log.Printf("[task][status][err] owner=%d id=%d to=%s: %v", ownerID, id, to, err)
		return nil, err
	}

	nodes, err := s.nodes(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ErrNotFound
	}
	if changed {
		s.publish(ownerID, realtime.Event{Type: realtime.EventStatusSingle, Tasks: nodes})
	}
	return nodes[0], nil
}

func (s *taskService) SetStatuses(ctx context.Context, ownerID int64, updates []StatusUpdate) (*BatchResult, error) {
	ctx = context.WithoutCancel(ctx)
	if len(updates) == 0 {
		return nil, validationf("updates must not be empty")
	}
	for _, u := range updates {
		if u.ID <= 0 {
			return nil, validationf("invalid task id %d", u.ID)
		}
		if !u.Status.Valid() {
			return nil, validationf("invalid status %q for task %d", u.Status, u.ID)
		}
	}
	entries := dedupeUpdates(updates)

	var changed []int64
	err := s.repo.WithTx(ctx, func(tx repositories.TaskRepository) error {
		changed = nil
		// Lock every target in id order first so two overlapping batches
		// cannot deadlock, and so a missing id aborts before any write.
		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		slices.Sort(ids)
		for _, id := range ids {
			if _, err := tx.FindByIDForUpdate(ctx, ownerID, id); err != nil {
				if errors.Is(err, repositories.ErrNotFound) {
					return fmt.Errorf("%w: id %d", ErrNotFound, id)
				}
				return err
			}
		}

		for _, e := range entries {
			// re-read: an earlier entry may have cascaded DONE onto this one
			t, err := tx.FindByID(ctx, ownerID, e.ID)
			if err != nil {
				return fromRepo(err)
			}
			if t.Status == e.Status {
				continue
			}
			if err := applyStatus(ctx, tx, ownerID, t, e.Status); err != nil {
				return err
			}
			changed = append(changed, e.ID)
		}
		return nil
	})
	if err != nil {
		log.Printf("[task][status_batch][err] owner=%d entries=%d: %v", ownerID, len(entries), err)
		return nil, err
	}

	res := &BatchResult{Processed: len(changed), Tasks: make([]*models.TaskNode, 0, len(changed))}
	if len(changed) == 0 {
		return res, nil
	}
	nodes, err := s.nodes(ctx, ownerID, changed...)
	if err != nil {
		return nil, err
	}
	res.Tasks = nodes
	s.publish(ownerID, realtime.Event{Type: realtime.EventStatusBatch, Tasks: nodes})
	return res, nil
}
