package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/maic-labs/mcs/internal/config"
)

func TestPollReady_RejectsUnconfiguredRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Roles = []string{"analyst", "writer"}
	a := &API{cfg: cfg}

	r := gin.New()
	r.GET("/v1/tasks/ready", a.PollReady)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/ready?role=plumber&worker_id=w1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unconfigured role, got %d", w.Code)
	}
}

func TestPollReady_RequiresRoleAndWorkerID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	a := &API{cfg: cfg}

	r := gin.New()
	r.GET("/v1/tasks/ready", a.PollReady)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/ready", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when role and worker_id are missing, got %d", w.Code)
	}
}
