package services

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"taskforest/internal/hierarchy"
	"taskforest/internal/models"
	"taskforest/internal/realtime"
	"taskforest/internal/repositories"
	"taskforest/internal/storage"
	"taskforest/internal/timeline"
)

// DefaultMaxImageBytes caps an uploaded task image.
const DefaultMaxImageBytes = 5 << 20

// TaskService is the owner-scoped task hierarchy: tree reads, mutations with
// their audit trail, and change notifications after commit.
type TaskService interface {
	ListTree(ctx context.Context, ownerID int64) ([]*models.TaskNode, error)
	// GetNode returns the task with its subtree and its newest events.
	GetNode(ctx context.Context, ownerID, id int64) (*models.TaskNode, error)
	ListEvents(ctx context.Context, ownerID, id int64, limit int) ([]models.AuditEvent, error)

	Create(ctx context.Context, ownerID int64, in CreateInput) (*models.TaskNode, error)
	Update(ctx context.Context, ownerID, id int64, in UpdateInput) (*models.TaskNode, error)
	// Delete removes the task and its subtree and returns every removed id.
	Delete(ctx context.Context, ownerID, id int64) ([]int64, error)

	SetStatus(ctx context.Context, ownerID, id int64, to models.TaskStatus) (*models.TaskNode, error)
	SetStatuses(ctx context.Context, ownerID int64, updates []StatusUpdate) (*BatchResult, error)
}

// Publisher fans a committed change out to the owner's live subscribers.
type Publisher interface {
	Publish(ownerID int64, ev realtime.Event)
}

type Options struct {
	MaxImageBytes int64
	ImagePrefix   string
}

// ImageUpload is an image received with a create or update request.
type ImageUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

type CreateInput struct {
	Title       string
	Description *string
	ParentID    *int64
	StartDate   *time.Time
	EndDate     *time.Time
	Status      models.TaskStatus // defaults to TODO
	Image       *ImageUpload
}

// OptionalTime distinguishes "leave as is" from "set", where a nil Value
// clears the date.
type OptionalTime struct {
	Set   bool
	Value *time.Time
}

// UpdateInput carries only the fields the caller wants to change. An empty
// Description clears it.
type UpdateInput struct {
	Title       *string
	Description *string
	StartDate   OptionalTime
	EndDate     OptionalTime
	Image       *ImageUpload
	RemoveImage bool
}

type taskService struct {
	repo    repositories.TaskRepository
	objects storage.ObjectStore
	pub     Publisher
	opts    Options
}

func NewTaskService(repo repositories.TaskRepository, objects storage.ObjectStore, pub Publisher, opts Options) TaskService {
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = DefaultMaxImageBytes
	}
	if opts.ImagePrefix == "" {
		opts.ImagePrefix = "tasks"
	}
	return &taskService{repo: repo, objects: objects, pub: pub, opts: opts}
}

func (s *taskService) ListTree(ctx context.Context, ownerID int64) ([]*models.TaskNode, error) {
	tasks, err := s.repo.FindAll(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return hierarchy.Build(tasks).Roots, nil
}

func (s *taskService) GetNode(ctx context.Context, ownerID, id int64) (*models.TaskNode, error) {
	if id <= 0 {
		return nil, validationf("invalid task id")
	}
	nodes, err := s.nodes(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ErrNotFound
	}
	events, err := s.repo.ListEvents(ctx, ownerID, id, models.MaxTaskEvents)
	if err != nil {
		return nil, err
	}
	nodes[0].Events = events
	return nodes[0], nil
}

func (s *taskService) ListEvents(ctx context.Context, ownerID, id int64, limit int) ([]models.AuditEvent, error) {
	if id <= 0 {
		return nil, validationf("invalid task id")
	}
	if _, err := s.repo.FindByID(ctx, ownerID, id); err != nil {
		return nil, fromRepo(err)
	}
	return s.repo.ListEvents(ctx, ownerID, id, limit)
}

func (s *taskService) Create(ctx context.Context, ownerID int64, in CreateInput) (*models.TaskNode, error) {
	ctx = context.WithoutCancel(ctx)

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, validationf("title is required")
	}
	status := in.Status
	if status == "" {
		status = models.StatusTodo
	}
	if !status.Valid() {
		return nil, validationf("invalid status %q", in.Status)
	}
	window := timeline.Window{Start: in.StartDate, End: in.EndDate}
	if !window.Valid() {
		return nil, validationf("startDate must not be after endDate")
	}
	if in.ParentID != nil {
		if *in.ParentID <= 0 {
			return nil, validationf("invalid parent id")
		}
		if _, err := s.repo.FindByID(ctx, ownerID, *in.ParentID); err != nil {
			return nil, fromRepo(err)
		}
	}
	if err := s.validateImage(in.Image); err != nil {
		return nil, err
	}

	task := &models.Task{
		OwnerID:     ownerID,
		ParentID:    in.ParentID,
		Title:       title,
		Description: normalizeText(in.Description),
		Status:      status,
	}
	task.SetWindow(window)

	if in.Image != nil {
		ref, err := s.uploadImage(ctx, in.Image)
		if err != nil {
			return nil, err
		}
		task.ImageURL = &ref
	}

	var touched []int64
	err := s.repo.WithTx(ctx, func(tx repositories.TaskRepository) error {
		touched = nil
		var parent *models.Task
		if task.ParentID != nil {
			p, err := tx.FindByIDForUpdate(ctx, ownerID, *task.ParentID)
			if err != nil {
				return fromRepo(err)
			}
			parent = p
		}
		if err := tx.Store(ctx, task); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, ownerID, task.ID, models.EventCreated, "Task created"); err != nil {
			return err
		}
		if parent == nil {
			return nil
		}
		msg := fmt.Sprintf("Subtask %q added", task.Title)
		if err := appendEvent(ctx, tx, ownerID, parent.ID, models.EventSubtaskAdded, msg); err != nil {
			return err
		}
		changed, err := propagateTimeline(ctx, tx, ownerID, &parent.ID)
		if err != nil {
			return err
		}
		touched = changed
		return nil
	})
	if err != nil {
		log.Printf("[task][create][err] owner=%d parent=%v: %v", ownerID, in.ParentID, err)
		if task.ImageURL != nil {
			s.discardImage(*task.ImageURL)
		}
		return nil, err
	}
	log.Printf("[task][create] owner=%d id=%d", ownerID, task.ID)

	nodes, err := s.nodes(ctx, ownerID, append([]int64{task.ID}, touched...)...)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 || nodes[0].ID != task.ID {
		return nil, ErrNotFound
	}
	s.publish(ownerID, realtime.Event{Type: realtime.EventCreate, Tasks: nodes})
	return nodes[0], nil
}

func (s *taskService) Update(ctx context.Context, ownerID, id int64, in UpdateInput) (*models.TaskNode, error) {
	ctx = context.WithoutCancel(ctx)

	if id <= 0 {
		return nil, validationf("invalid task id")
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, validationf("title must not be empty")
	}
	if in.Image != nil && in.RemoveImage {
		return nil, validationf("image and removeImage are mutually exclusive")
	}
	if err := s.validateImage(in.Image); err != nil {
		return nil, err
	}
	datesSet := in.StartDate.Set || in.EndDate.Set

	current, err := s.repo.FindByID(ctx, ownerID, id)
	if err != nil {
		return nil, fromRepo(err)
	}
	if datesSet {
		if err := s.checkLeafWindow(ctx, s.repo, current, in); err != nil {
			return nil, err
		}
	}

	var newImage *string
	if in.Image != nil {
		ref, err := s.uploadImage(ctx, in.Image)
		if err != nil {
			return nil, err
		}
		newImage = &ref
	}

	var (
		changed  bool
		oldImage *string
		touched  []int64
	)
	err = s.repo.WithTx(ctx, func(tx repositories.TaskRepository) error {
		changed, oldImage, touched = false, nil, nil
		t, err := tx.FindByIDForUpdate(ctx, ownerID, id)
		if err != nil {
			return fromRepo(err)
		}
		if datesSet {
			// a child may have been added since the first check
			if err := s.checkLeafWindow(ctx, tx, t, in); err != nil {
				return err
			}
		}

		var fields []string
		if in.Title != nil {
			if title := strings.TrimSpace(*in.Title); title != t.Title {
				t.Title = title
				fields = append(fields, "title")
			}
		}
		if in.Description != nil {
			if desc := normalizeText(in.Description); !sameText(desc, t.Description) {
				t.Description = desc
				fields = append(fields, "description")
			}
		}

		imageMsg := ""
		switch {
		case newImage != nil:
			oldImage, t.ImageURL = t.ImageURL, newImage
			imageMsg = "Image updated"
		case in.RemoveImage && t.ImageURL != nil:
			oldImage, t.ImageURL = t.ImageURL, nil
			imageMsg = "Image removed"
		}

		oldWindow := t.Window()
		if datesSet {
			t.SetWindow(mergeWindow(oldWindow, in))
		}
		windowChanged := !t.Window().Equal(oldWindow)

		if len(fields) == 0 && imageMsg == "" && !windowChanged {
			return nil
		}
		changed = true

		if err := tx.Update(ctx, t); err != nil {
			return fromRepo(err)
		}
		if len(fields) > 0 {
			if err := appendEvent(ctx, tx, ownerID, t.ID, models.EventUpdated, "Updated "+strings.Join(fields, ", ")); err != nil {
				return err
			}
		}
		if imageMsg != "" {
			if err := appendEvent(ctx, tx, ownerID, t.ID, models.EventImageUpdated, imageMsg); err != nil {
				return err
			}
		}
		if windowChanged {
			if err := appendEvent(ctx, tx, ownerID, t.ID, models.EventTimelineUpdated, timeline.Message(t.Window())); err != nil {
				return err
			}
			touched, err = propagateTimeline(ctx, tx, ownerID, t.ParentID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[task][update][err] owner=%d id=%d: %v", ownerID, id, err)
		if newImage != nil {
			s.discardImage(*newImage)
		}
		return nil, err
	}
	if oldImage != nil {
		s.discardImage(*oldImage)
	}

	nodes, err := s.nodes(ctx, ownerID, append([]int64{id}, touched...)...)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 || nodes[0].ID != id {
		return nil, ErrNotFound
	}
	if changed {
		s.publish(ownerID, realtime.Event{Type: realtime.EventUpdate, Tasks: nodes})
	}
	return nodes[0], nil
}

func (s *taskService) Delete(ctx context.Context, ownerID, id int64) ([]int64, error) {
	ctx = context.WithoutCancel(ctx)
	if id <= 0 {
		return nil, validationf("invalid task id")
	}

	var (
		removed []int64
		images  []string
	)
	err := s.repo.WithTx(ctx, func(tx repositories.TaskRepository) error {
		removed, images = nil, nil
		t, err := tx.FindByIDForUpdate(ctx, ownerID, id)
		if err != nil {
			return fromRepo(err)
		}
		desc, err := hierarchy.Descendants(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		removed = append([]int64{id}, desc...)
		if images, err = tx.ImageURLs(ctx, ownerID, removed); err != nil {
			return err
		}
		if err := tx.Delete(ctx, ownerID, id); err != nil {
			return fromRepo(err)
		}
		if t.ParentID == nil {
			return nil
		}
		msg := fmt.Sprintf("Subtask %q removed", t.Title)
		if err := appendEvent(ctx, tx, ownerID, *t.ParentID, models.EventUpdated, msg); err != nil {
			return err
		}
		_, err = propagateTimeline(ctx, tx, ownerID, t.ParentID)
		return err
	})
	if err != nil {
		log.Printf("[task][delete][err] owner=%d id=%d: %v", ownerID, id, err)
		return nil, err
	}
	log.Printf("[task][delete] owner=%d id=%d removed=%d", ownerID, id, len(removed))

	for _, ref := range images {
		s.discardImage(ref)
	}
	s.publish(ownerID, realtime.Event{Type: realtime.EventDelete, IDs: removed})
	return removed, nil
}

// checkLeafWindow rejects date edits on a task with children and inverted
// ranges on a leaf.
func (s *taskService) checkLeafWindow(ctx context.Context, repo repositories.TaskRepository, t *models.Task, in UpdateInput) error {
	n, err := repo.CountChildren(ctx, t.OwnerID, t.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return validationf("dates of a task with subtasks are derived from its subtasks")
	}
	if !mergeWindow(t.Window(), in).Valid() {
		return validationf("startDate must not be after endDate")
	}
	return nil
}

func mergeWindow(w timeline.Window, in UpdateInput) timeline.Window {
	if in.StartDate.Set {
		w.Start = in.StartDate.Value
	}
	if in.EndDate.Set {
		w.End = in.EndDate.Value
	}
	return w
}

// nodes rebuilds the owner's forest and returns the subtrees for ids, in
// order, skipping ids that no longer exist.
func (s *taskService) nodes(ctx context.Context, ownerID int64, ids ...int64) ([]*models.TaskNode, error) {
	tasks, err := s.repo.FindAll(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	forest := hierarchy.Build(tasks)
	out := make([]*models.TaskNode, 0, len(ids))
	for _, id := range ids {
		if n, ok := forest.Node(id); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *taskService) publish(ownerID int64, ev realtime.Event) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(ownerID, ev)
}

func (s *taskService) validateImage(img *ImageUpload) error {
	if img == nil {
		return nil
	}
	if len(img.Data) == 0 {
		return validationf("image is empty")
	}
	if int64(len(img.Data)) > s.opts.MaxImageBytes {
		return validationf("image exceeds %d bytes", s.opts.MaxImageBytes)
	}
	ct := strings.ToLower(strings.TrimSpace(img.ContentType))
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(img.Data)
		img.ContentType = ct
	}
	if !strings.HasPrefix(ct, "image/") {
		return validationf("only image uploads are allowed")
	}
	return nil
}

func (s *taskService) uploadImage(ctx context.Context, img *ImageUpload) (string, error) {
	if s.objects == nil {
		return "", fmt.Errorf("%w: image storage is not configured", ErrUpstream)
	}
	name := storage.NewObjectName(s.opts.ImagePrefix, img.Name)
	ref, err := s.objects.Put(ctx, name, img.ContentType, img.Data)
	if err != nil {
		log.Printf("[storage][put][err] name=%s: %v", name, err)
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return ref, nil
}

// discardImage logs failures and never returns them.
func (s *taskService) discardImage(ref string) {
	if s.objects == nil || ref == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.objects.Delete(ctx, ref); err != nil {
		log.Printf("[storage][delete][err] ref=%s: %v", ref, err)
	}
}

func normalizeText(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func sameText(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
