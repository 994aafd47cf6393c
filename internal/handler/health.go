package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lsqkk/bili-card/internal/health"
)

// HealthReporter supplies the latest upstream health snapshot.
type HealthReporter interface {
	Report() health.Report
}

// HealthHandler serves GET /healthz.
type HealthHandler struct {
	reporter HealthReporter
}

// NewHealthHandler creates a HealthHandler. reporter may be nil when
// background checks are disabled.
func NewHealthHandler(reporter HealthReporter) *HealthHandler {
	return &HealthHandler{reporter: reporter}
}

// Register mounts the health route on rg.
func (h *HealthHandler) Register(rg gin.IRoutes) {
	rg.GET("/healthz", h.ServeHealth)
}

// ServeHealth always answers 200 while the process is up; "degraded" means no
// profile candidate is currently reachable.
func (h *HealthHandler) ServeHealth(c *gin.Context) {
	if h.reporter == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	rep := h.reporter.Report()
	status := "ok"
	if !rep.Serving {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "upstream": rep})
}
