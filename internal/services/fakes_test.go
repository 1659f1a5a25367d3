package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"taskforest/internal/models"
	"taskforest/internal/realtime"
	"taskforest/internal/repositories"
	"taskforest/internal/timeline"
)

// memRepo is an in-memory TaskRepository. WithTx snapshots the whole state
// and restores it when fn fails, which is enough to observe atomicity.
type memRepo struct {
	tasks  map[int64]models.Task
	events []models.AuditEvent
	nextID int64
	nextEv int64
	clock  time.Time
	inTx   bool

	failUpdateWindow error
	failBulk         error
	// replayTx runs every transaction twice, discarding the first attempt
	// the way a conflict retry does.
	replayTx bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		tasks: make(map[int64]models.Task),
		clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *memRepo) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func (r *memRepo) get(ownerID, id int64) (*models.Task, error) {
	t, ok := r.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return nil, repositories.ErrNotFound
	}
	return &t, nil
}

func (r *memRepo) FindByID(_ context.Context, ownerID, id int64) (*models.Task, error) {
	return r.get(ownerID, id)
}

func (r *memRepo) FindByIDForUpdate(_ context.Context, ownerID, id int64) (*models.Task, error) {
	return r.get(ownerID, id)
}

func (r *memRepo) sorted(keep func(models.Task) bool) []models.Task {
	out := make([]models.Task, 0)
	for _, t := range r.tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memRepo) FindAll(_ context.Context, ownerID int64) ([]models.Task, error) {
	return r.sorted(func(t models.Task) bool { return t.OwnerID == ownerID }), nil
}

func (r *memRepo) FindChildren(_ context.Context, ownerID, parentID int64) ([]models.Task, error) {
	return r.sorted(func(t models.Task) bool {
		return t.OwnerID == ownerID && t.ParentID != nil && *t.ParentID == parentID
	}), nil
}

func (r *memRepo) ChildIDs(_ context.Context, ownerID int64, parentIDs []int64) ([]int64, error) {
	parents := make(map[int64]bool, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = true
	}
	var ids []int64
	for _, t := range r.sorted(func(t models.Task) bool {
		return t.OwnerID == ownerID && t.ParentID != nil && parents[*t.ParentID]
	}) {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (r *memRepo) CountChildren(ctx context.Context, ownerID, id int64) (int, error) {
	children, _ := r.FindChildren(ctx, ownerID, id)
	return len(children), nil
}

func (r *memRepo) ImageURLs(_ context.Context, ownerID int64, ids []int64) ([]string, error) {
	var urls []string
	for _, id := range ids {
		if t, ok := r.tasks[id]; ok && t.OwnerID == ownerID && t.ImageURL != nil {
			urls = append(urls, *t.ImageURL)
		}
	}
	return urls, nil
}

func (r *memRepo) Store(_ context.Context, task *models.Task) error {
	if task.ParentID != nil {
		if _, err := r.get(task.OwnerID, *task.ParentID); err != nil {
			return errors.New("foreign key violation")
		}
	}
	r.nextID++
	task.ID = r.nextID
	task.CreatedAt = r.tick()
	task.UpdatedAt = task.CreatedAt
	r.tasks[task.ID] = *task
	return nil
}

func (r *memRepo) Update(_ context.Context, task *models.Task) error {
	cur, err := r.get(task.OwnerID, task.ID)
	if err != nil {
		return err
	}
	cur.Title = task.Title
	cur.Description = task.Description
	cur.ImageURL = task.ImageURL
	cur.StartDate = task.StartDate
	cur.EndDate = task.EndDate
	cur.UpdatedAt = r.tick()
	task.UpdatedAt = cur.UpdatedAt
	r.tasks[cur.ID] = *cur
	return nil
}

func (r *memRepo) UpdateWindow(_ context.Context, ownerID, id int64, w timeline.Window) error {
	if r.failUpdateWindow != nil {
		return r.failUpdateWindow
	}
	cur, err := r.get(ownerID, id)
	if err != nil {
		return err
	}
	cur.SetWindow(w)
	r.tasks[id] = *cur
	return nil
}

func (r *memRepo) UpdateStatus(_ context.Context, ownerID, id int64, to models.TaskStatus) error {
	cur, err := r.get(ownerID, id)
	if err != nil {
		return err
	}
	cur.Status = to
	r.tasks[id] = *cur
	return nil
}

func (r *memRepo) UpdateStatusBulk(_ context.Context, ownerID int64, ids []int64, to models.TaskStatus) (int64, error) {
	if r.failBulk != nil {
		return 0, r.failBulk
	}
	var n int64
	for _, id := range ids {
		cur, err := r.get(ownerID, id)
		if err != nil || cur.Status == to {
			continue
		}
		cur.Status = to
		r.tasks[id] = *cur
		n++
	}
	return n, nil
}

func (r *memRepo) Delete(ctx context.Context, ownerID, id int64) error {
	if _, err := r.get(ownerID, id); err != nil {
		return err
	}
	doomed := map[int64]bool{id: true}
	frontier := []int64{id}
	for len(frontier) > 0 {
		frontier, _ = r.ChildIDs(ctx, ownerID, frontier)
		for _, c := range frontier {
			doomed[c] = true
		}
	}
	for d := range doomed {
		delete(r.tasks, d)
	}
	kept := r.events[:0]
	for _, e := range r.events {
		if !doomed[e.TaskID] {
			kept = append(kept, e)
		}
	}
	r.events = kept
	return nil
}

func (r *memRepo) AppendEvent(_ context.Context, e *models.AuditEvent) error {
	if _, err := r.get(e.OwnerID, e.TaskID); err != nil {
		return errors.New("foreign key violation")
	}
	r.nextEv++
	e.ID = r.nextEv
	e.CreatedAt = r.tick()
	r.events = append(r.events, *e)
	return nil
}

func (r *memRepo) ListEvents(_ context.Context, ownerID, taskID int64, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > models.MaxTaskEvents {
		limit = models.MaxTaskEvents
	}
	out := make([]models.AuditEvent, 0)
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.events[i]
		if e.TaskID == taskID && e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memRepo) WithTx(_ context.Context, fn func(tx repositories.TaskRepository) error) error {
	if r.inTx {
		return fn(r)
	}
	if r.replayTx {
		restore := r.snapshot()
		r.inTx = true
		_ = fn(r)
		r.inTx = false
		restore()
	}
	restore := r.snapshot()
	r.inTx = true
	err := fn(r)
	r.inTx = false
	if err != nil {
		restore()
	}
	return err
}

func (r *memRepo) snapshot() (restore func()) {
	tasks := make(map[int64]models.Task, len(r.tasks))
	for k, v := range r.tasks {
		tasks[k] = v
	}
	events := append([]models.AuditEvent(nil), r.events...)
	nextID, nextEv := r.nextID, r.nextEv
	return func() {
		r.tasks, r.events, r.nextID, r.nextEv = tasks, events, nextID, nextEv
	}
}

func (r *memRepo) eventsOf(taskID int64, typ models.EventType) []models.AuditEvent {
	var out []models.AuditEvent
	for _, e := range r.events {
		if e.TaskID == taskID && (typ == "" || e.Type == typ) {
			out = append(out, e)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[int64][]realtime.Event
}

func (p *recordingPublisher) Publish(ownerID int64, ev realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[int64][]realtime.Event)
	}
	p.events[ownerID] = append(p.events[ownerID], ev)
}

func (p *recordingPublisher) of(ownerID int64) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Event(nil), p.events[ownerID]...)
}

type memObjects struct {
	objects   map[string][]byte
	putErr    error
	deleteErr error
	deleted   []string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	if m.putErr != nil {
		return "", m.putErr
	}
	ref := "mem://" + name
	m.objects[ref] = data
	return ref, nil
}

func (m *memObjects) Delete(_ context.Context, ref string) error {
	m.deleted = append(m.deleted, ref)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.objects, ref)
	return nil
}
