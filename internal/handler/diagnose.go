package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lsqkk/bili-card/internal/render"
	"github.com/lsqkk/bili-card/internal/resolver"
	"github.com/lsqkk/bili-card/internal/upstream"
)

const maxConcurrentProbes = 4

// EndpointLister lists every candidate request made for a uid.
type EndpointLister interface {
	ValidateUID(uid string) error
	Endpoints(uid string) []resolver.Endpoint
}

// Prober performs one uncached, breaker-free request.
type Prober interface {
	Probe(ctx context.Context, ep upstream.Endpoint) upstream.Probe
}

// DiagnoseHandler serves GET /api/diagnose, an SVG report of every upstream
// candidate for a uid.
type DiagnoseHandler struct {
	lister   EndpointLister
	prober   Prober
	renderer *render.Renderer
	logger   *zap.Logger
}

// NewDiagnoseHandler creates a DiagnoseHandler.
func NewDiagnoseHandler(lister EndpointLister, prober Prober, renderer *render.Renderer, logger *zap.Logger) *DiagnoseHandler {
	return &DiagnoseHandler{lister: lister, prober: prober, renderer: renderer, logger: logger}
}

// Register mounts the diagnostic route on rg.
func (h *DiagnoseHandler) Register(rg gin.IRoutes) {
	rg.GET("/diagnose", h.ServeDiagnose)
}

// ServeDiagnose handles GET /api/diagnose?uid=&debug=true
func (h *DiagnoseHandler) ServeDiagnose(c *gin.Context) {
	c.Header("Cache-Control", noStore)

	uid := c.Query("uid")
	if err := h.lister.ValidateUID(uid); err != nil {
		c.Data(http.StatusOK, contentTypeSVG, []byte(h.renderer.ErrorDocument(render.CodeInvalidID, msgInvalidID)))
		return
	}

	report := render.DiagnosticReport{
		UID:   uid,
		Debug: c.Query("debug") == "true",
		Rows:  h.probeAll(c.Request.Context(), h.lister.Endpoints(uid)),
	}

	doc, err := h.renderer.DiagnosticDocument(report)
	if err != nil {
		h.logger.Error("render diagnostic", zap.String("uid", uid), zap.Error(err))
		c.Data(http.StatusOK, contentTypeSVG, []byte(h.renderer.ErrorDocument(render.CodeInternal, msgInternal)))
		return
	}

	passed := 0
	for _, r := range report.Rows {
		if r.OK {
			passed++
		}
	}
	h.logger.Info("diagnose", zap.String("uid", uid), zap.Int("passed", passed), zap.Int("total", len(report.Rows)))

	c.Data(http.StatusOK, contentTypeSVG, []byte(doc))
}

func (h *DiagnoseHandler) probeAll(ctx context.Context, eps []resolver.Endpoint) []render.ProbeRow {
	rows := make([]render.ProbeRow, len(eps))
	sem := make(chan struct{}, maxConcurrentProbes)
	var wg sync.WaitGroup

	for i, ep := range eps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			p := h.prober.Probe(ctx, ep.Endpoint)
			rows[i] = render.ProbeRow{
				Need:      ep.Need,
				Candidate: ep.Name,
				OK:        p.OK,
				Status:    p.Status,
				Code:      p.Code,
				Message:   p.Message,
				LatencyMS: p.Latency.Milliseconds(),
				Excerpt:   p.Excerpt,
			}
			if !p.OK && p.Message == "" && p.Error != "" && p.Status == 0 {
				rows[i].Message = p.Error
			}
		}()
	}
	wg.Wait()
	return rows
}
