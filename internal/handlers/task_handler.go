package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"taskforest/internal/models"
	"taskforest/internal/pdf"
	"taskforest/internal/services"
)

type TaskHandler struct {
	service   services.TaskService
	exporter  pdf.Exporter
	maxUpload int64
}

func NewTaskHandler(service services.TaskService, exporter pdf.Exporter, maxUpload int64) *TaskHandler {
	if maxUpload <= 0 {
		maxUpload = services.DefaultMaxImageBytes
	}
	return &TaskHandler{service: service, exporter: exporter, maxUpload: maxUpload}
}

// optString tells an absent field apart from an explicit null or "".
type optString struct {
	Set   bool
	Value *string
}

func (o *optString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

type createTaskRequest struct {
	Title       string    `json:"title" example:"Write report"`
	Description *string   `json:"description"`
	ParentID    *int64    `json:"parentId"`
	StartDate   optString `json:"startDate" swaggertype:"string" example:"2026-01-01"`
	EndDate     optString `json:"endDate" swaggertype:"string" example:"2026-01-05"`
	Status      string    `json:"status" example:"TODO"`
}

type updateTaskRequest struct {
	Title       *string   `json:"title"`
	Description optString `json:"description" swaggertype:"string"`
	StartDate   optString `json:"startDate" swaggertype:"string"`
	EndDate     optString `json:"endDate" swaggertype:"string"`
	RemoveImage bool      `json:"removeImage"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required" example:"DONE"`
}

type batchStatusRequest struct {
	Updates []statusEntry `json:"updates"`
}

type statusEntry struct {
	ID     int64  `json:"id" example:"1"`
	Status string `json:"status" example:"DONE"`
}

// @Summary      Task tree
// @Description  Returns every task of the caller as a forest ordered by creation time
// @Tags         Tasks
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /tasks [get]
func (h *TaskHandler) List(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	roots, err := h.service.ListTree(c.Request.Context(), owner)
	if err != nil {
		writeError(c, "[task][list]", err)
		return
	}
	respond(c, http.StatusOK, roots, "Tasks loaded")
}

// @Summary      One task
// @Description  Returns the task with its subtree and its 50 newest audit events
// @Tags         Tasks
// @Produce      json
// @Param        id   path      int  true  "Task ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /tasks/{id} [get]
func (h *TaskHandler) Get(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := parseID(c.Param("id"))
	if !ok {
		fail(c, http.StatusBadRequest, "invalid id")
		return
	}
	node, err := h.service.GetNode(c.Request.Context(), owner, id)
	if err != nil {
		writeError(c, "[task][get]", err)
		return
	}
	respond(c, http.StatusOK, node, "Task loaded")
}

// @Summary      Audit history
// @Tags         Tasks
// @Produce      json
// @Param        id     path      int  true   "Task ID"
// @Param        limit  query     int  false  "At most 50"
// @Success      200    {object}  map[string]interface{}
// @Failure      404    {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /tasks/{id}/events [get]
func (h *TaskHandler) Events(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := parseID(c.Param("id"))
	if !ok {
		fail(c, http.StatusBadRequest, "invalid id")
		return
	}
	limit := models.MaxTaskEvents
	if v, ok := c.GetQuery("limit"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	events, err := h.service.ListEvents(c.Request.Context(), owner, id, limit)
	if err != nil {
		writeError(c, "[task][events]", err)
		return
	}
	respond(c, http.StatusOK, events, "Events loaded")
}

// @Summary      Export subtree as PDF
// @Tags         Tasks
// @Produce      application/pdf
// @Param        id   path  int  true  "Task ID"
// @Success      200  {file}  file
// @Failure      404  {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /tasks/{id}/export.pdf [get]
func (h *TaskHandler) Export(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := parseID(c.Param("id"))
	if !ok {
		fail(c, http.StatusBadRequest, "invalid id")
		return
	}
	node, err := h.service.GetNode(c.Request.Context(), owner, id)
	if err != nil {
		writeError(c, "[task][export]", err)
		return
	}
	var buf bytes.Buffer
	if err := h.exporter.Export(&buf, node); err != nil {
		writeError(c, "[task][export]", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="task-%d.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

// @Summary      Create task
// @Description  JSON body, or multipart/form-data with the same fields plus an "image" file
// @Tags         Tasks
// @Accept       json
// @Accept       mpfd
// @Produce      json
// @Param        task  body      createTaskRequest  true  "Task"
// @Success      201   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]interface{}
// @Failure      404   {object}  map[string]interface{}
// @Failure      502   {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /tasks [post]
func (h *TaskHandler) Create(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}

	var req createTaskRequest
	var img *services.ImageUpload
	if isMultipart(c) {
		var err error
		if req, img, err = h.createFromForm(c); err != nil {
			log.Printf("[task][create][bind][err] %v", err)
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[task][create][bind][err] %v", err)
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	start, err := optionalDate("startDate", req.StartDate)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	end, err := optionalDate("endDate", req.EndDate)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	status := models.TaskStatus("")
	if strings.TrimSpace(req.Status) != "" {
		status, _ = models.ParseTaskStatus(req.Status)
	}

	node, err := h.service.Create(c.Request.Context(), owner, services.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		ParentID:    req.ParentID,
		StartDate:   start.Value,
		EndDate:     end.Value,
		Status:      status,
		Image:       img,
	})
	if err != nil {
		writeError(c, "[task][create]", err)
		return
	}
	respond(c, http.StatusCreated, node, "Task created")
}

// @Summary      Update task
// @Description  Only supplied fields change. Dates may be set only on tasks without subtasks.
// @Tags         Tasks
// @Accept       json
// @Accept       mpfd
// @Produce      json
// @Param        id    path      int                true  "Task ID"
// @Param        task  body      updateTaskRequest  true  "Fields"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]interface{}
// @Failure      404   {object}  map[string]interface{}
// @Failure      502   {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /tasks/{id} [patch]
func (h *TaskHandler) Update(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := parseID(c.Param("id"))
	if !ok {
		fail(c, http.StatusBadRequest, "invalid id")
		return
	}

	var req updateTaskRequest
	var img *services.ImageUpload
	if isMultipart(c) {
		var err error
		if req, img, err = h.updateFromForm(c); err != nil {
			log.Printf("[task][update][bind][err] %v", err)
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[task][update][bind][err] %v", err)
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	start, err := optionalDate("startDate", req.StartDate)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	end, err := optionalDate("endDate", req.EndDate)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	in := services.UpdateInput{
		Title:       req.Title,
		StartDate:   start,
		EndDate:     end,
		Image:       img,
		RemoveImage: req.RemoveImage,
	}
	if req.Description.Set {
		in.Description = req.Description.Value
		if in.Description == nil {
			in.Description = new(string)
		}
	}

	node, err := h.service.Update(c.Request.Context(), owner, id, in)
	if err != nil {
		writeError(c, "[task][update]", err)
		return
	}
	respond(c, http.StatusOK, node, "Task updated")
}

// @Summary      Set status
// @Description  DONE cascades to every descendant. Setting the current status is a no-op.
// @Tags         Tasks
// @Accept       json
// @Produce      json
// @Param        id      path      int            true  "Task ID"
// @Param        status  body      statusRequest  true  "TODO, IN_PROGRESS or DONE"
// @Success      200     {object}  map[string]interface{}
// @Failure      400     {object}  map[string]interface{}
// @Failure      404     {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /tasks/{id}/status [patch]
func (h *TaskHandler) UpdateStatus(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := parseID(c.Param("id"))
	if !ok {
		fail(c, http.StatusBadRequest, "invalid id")
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "status is required")
		return
	}
	status, _ := models.ParseTaskStatus(req.Status)

	node, err := h.service.SetStatus(c.Request.Context(), owner, id, status)
	if err != nil {
		writeError(c, "[task][status]", err)
		return
	}
	respond(c, http.StatusOK, node, "Status updated")
}

// @Summary      Set many statuses atomically
// @Description  Duplicate ids keep their last status. One unknown id fails the whole batch.
// @Tags         Tasks
// @Accept       json
// @Produce      json
// @Param        updates  body      batchStatusRequest  true  "Updates"
// @Success      200      {object}  map[string]interface{}
// @Failure      400      {object}  map[string]interface{}
// @Failure      404      {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /tasks/status [patch]
func (h *TaskHandler) BatchStatus(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	var req batchStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	updates := make([]services.StatusUpdate, len(req.Updates))
	for i, u := range req.Updates {
		status, _ := models.ParseTaskStatus(u.Status)
		updates[i] = services.StatusUpdate{ID: u.ID, Status: status}
	}

	res, err := h.service.SetStatuses(c.Request.Context(), owner, updates)
	if err != nil {
		writeError(c, "[task][status_batch]", err)
		return
	}
	respond(c, http.StatusOK, res, fmt.Sprintf("%d task(s) updated", res.Processed))
}

// @Summary      Delete task
// @Description  Removes the task, its subtree and their audit history
// @Tags         Tasks
// @Produce      json
// @Param        id   path      int  true  "Task ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Security     BearerAuth
// @Router       /tasks/{id} [delete]
func (h *TaskHandler) Delete(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := parseID(c.Param("id"))
	if !ok {
		fail(c, http.StatusBadRequest, "invalid id")
		return
	}
	removed, err := h.service.Delete(c.Request.Context(), owner, id)
	if err != nil {
		writeError(c, "[task][delete]", err)
		return
	}
	respond(c, http.StatusOK, gin.H{"ids": removed}, "Task deleted")
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

func formValue(c *gin.Context, key string) optString {
	v, ok := c.GetPostForm(key)
	if !ok {
		return optString{}
	}
	if strings.TrimSpace(v) == "" {
		return optString{Set: true}
	}
	return optString{Set: true, Value: &v}
}

func (h *TaskHandler) createFromForm(c *gin.Context) (createTaskRequest, *services.ImageUpload, error) {
	req := createTaskRequest{
		Title:     c.PostForm("title"),
		StartDate: formValue(c, "startDate"),
		EndDate:   formValue(c, "endDate"),
		Status:    c.PostForm("status"),
	}
	if d := formValue(c, "description"); d.Value != nil {
		req.Description = d.Value
	}
	if p := formValue(c, "parentId"); p.Value != nil {
		id, ok := parseID(*p.Value)
		if !ok {
			return req, nil, errors.New("invalid parentId")
		}
		req.ParentID = &id
	}
	img, err := h.readImage(c)
	return req, img, err
}

func (h *TaskHandler) updateFromForm(c *gin.Context) (updateTaskRequest, *services.ImageUpload, error) {
	req := updateTaskRequest{
		Description: formValue(c, "description"),
		StartDate:   formValue(c, "startDate"),
		EndDate:     formValue(c, "endDate"),
	}
	if v, ok := c.GetPostForm("title"); ok {
		req.Title = &v
	}
	if v, ok := c.GetPostForm("removeImage"); ok {
		remove, err := strconv.ParseBool(v)
		if err != nil {
			return req, nil, errors.New("invalid removeImage")
		}
		req.RemoveImage = remove
	}
	img, err := h.readImage(c)
	return req, img, err
}

// readImage loads the optional "image" part. Oversized files are cut one
// byte past the limit so the service still rejects them as too large.
func (h *TaskHandler) readImage(c *gin.Context) (*services.ImageUpload, error) {
	fh, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid image: %w", err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("invalid image: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		return nil, fmt.Errorf("invalid image: %w", err)
	}
	return &services.ImageUpload{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func optionalDate(field string, v optString) (services.OptionalTime, error) {
	if !v.Set {
		return services.OptionalTime{}, nil
	}
	if v.Value == nil || strings.TrimSpace(*v.Value) == "" {
		return services.OptionalTime{Set: true}, nil
	}
	t, err := parseDate(*v.Value)
	if err != nil {
		return services.OptionalTime{}, fmt.Errorf("invalid %s (RFC3339 or YYYY-MM-DD)", field)
	}
	return services.OptionalTime{Set: true, Value: &t}, nil
}
