package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"taskforest/internal/middleware"
	"taskforest/internal/services"
)

// tolerant to the claim type (int / int64 / float64 / string)
func getIntFromCtx(c *gin.Context, key string) (int64, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// ownerID aborts with 401 when the request carries no verified owner.
func ownerID(c *gin.Context) (int64, bool) {
	id, ok := getIntFromCtx(c, middleware.ContextUserID)
	if !ok || id <= 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "data": nil, "message": "unauthorized"})
		return 0, false
	}
	return id, true
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	return id, err == nil && id > 0
}

// parseDate accepts RFC3339 or a bare 2006-01-02 date (UTC midnight).
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func respond(c *gin.Context, status int, data any, message string) {
	c.JSON(status, gin.H{"success": true, "data": data, "message": message})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "data": nil, "message": message})
}

// writeError maps the service error taxonomy onto HTTP statuses. tag is the
// log prefix of the calling handler.
func writeError(c *gin.Context, tag string, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		log.Printf("%s[400] %v", tag, err)
		fail(c, http.StatusBadRequest, strings.TrimPrefix(err.Error(), services.ErrValidation.Error()+": "))
	case errors.Is(err, services.ErrNotFound):
		log.Printf("%s[404] %v", tag, err)
		fail(c, http.StatusNotFound, "task not found")
	case errors.Is(err, services.ErrUpstream):
		log.Printf("%s[502] %v", tag, err)
		fail(c, http.StatusBadGateway, "image storage is unavailable")
	default:
		log.Printf("%s[err] %v", tag, err)
		fail(c, http.StatusInternalServerError, "internal error")
	}
}
