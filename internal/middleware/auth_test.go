package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var secret = []byte("test-secret")

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(secret))
	r.GET("/tasks", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"owner": c.GetInt64(ContextUserID)})
	})
	r.GET("/tasks/stream", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/tasks/ws", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestAuthMiddleware(t *testing.T) {
	good, err := IssueToken(secret, 7, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	expired, _ := IssueToken(secret, 7, -time.Hour)
	foreign, _ := IssueToken([]byte("other"), 7, time.Hour)
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: 7}).SignedString(secret)

	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"valid header", "/tasks", "Bearer " + good, http.StatusOK},
		{"query token on stream", "/tasks/stream?token=" + good, "", http.StatusOK},
		{"query token on websocket", "/tasks/ws?token=" + good, "", http.StatusOK},
		{"query token elsewhere", "/tasks?token=" + good, "", http.StatusUnauthorized},
		{"missing", "/tasks", "", http.StatusUnauthorized},
		{"wrong scheme", "/tasks", "Basic " + good, http.StatusUnauthorized},
		{"expired", "/tasks", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", "/tasks", "Bearer " + foreign, http.StatusUnauthorized},
		{"no expiry", "/tasks", "Bearer " + noExpiry, http.StatusUnauthorized},
		{"public path", "/healthz", "", http.StatusOK},
	}
	r := newRouter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestAuthMiddlewareSetsOwner(t *testing.T) {
	tok, _ := IssueToken(secret, 42, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	newRouter().ServeHTTP(w, req)
	if w.Body.String() != `{"owner":42}` {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}
