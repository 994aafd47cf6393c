package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lsqkk/bili-card/internal/render"
)

// ThemesHandler serves the theme and palette catalog.
type ThemesHandler struct {
	exampleUID string
	logger     *zap.Logger
}

// NewThemesHandler creates a ThemesHandler. exampleUID is used in preview links.
func NewThemesHandler(exampleUID string, logger *zap.Logger) *ThemesHandler {
	if exampleUID == "" {
		exampleUID = "2"
	}
	return &ThemesHandler{exampleUID: exampleUID, logger: logger}
}

// Register mounts the catalog route on rg.
func (h *ThemesHandler) Register(rg gin.IRoutes) {
	rg.GET("/themes", h.ServeCatalog)
}

type catalogSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ServeCatalog handles GET /api/themes?action=list|preview|details
func (h *ThemesHandler) ServeCatalog(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=3600")

	switch c.DefaultQuery("action", "list") {
	case "list":
		h.list(c)
	case "preview":
		h.preview(c)
	case "details":
		h.details(c)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"success":       false,
			"error":         "invalid action parameter",
			"valid_actions": []string{"list", "preview", "details"},
		})
	}
}

func (h *ThemesHandler) list(c *gin.Context) {
	switch c.Query("type") {
	case "themes":
		themes := render.Themes()
		c.JSON(http.StatusOK, gin.H{"success": true, "data": themes, "count": len(themes)})
	case "colors":
		palettes := render.Palettes()
		c.JSON(http.StatusOK, gin.H{"success": true, "data": palettes, "count": len(palettes)})
	default:
		themes := render.Themes()
		palettes := render.Palettes()
		ts := make([]catalogSummary, 0, len(themes))
		for _, t := range themes {
			ts = append(ts, catalogSummary{ID: t.ID, Name: t.Name, Description: t.Description})
		}
		ps := make([]catalogSummary, 0, len(palettes))
		for _, p := range palettes {
			ps = append(ps, catalogSummary{ID: p.ID, Name: p.Name})
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "available themes and colors",
			"data":    gin.H{"themes": ts, "colors": ps},
		})
	}
}

func (h *ThemesHandler) preview(c *gin.Context) {
	theme, okTheme := render.LookupTheme(c.DefaultQuery("theme", "default"))
	palette, okPalette := render.LookupPalette(c.DefaultQuery("color", "blue"))
	if !okTheme || !okPalette {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "theme or color not found"})
		return
	}

	q := url.Values{"theme": {theme.ID}, "color": {palette.ID}}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"theme": theme,
			"color": palette,
			"preview": gin.H{
				"url":         "/api/card?uid=" + url.QueryEscape(h.exampleUID) + "&" + q.Encode(),
				"example_uid": h.exampleUID,
				"description": "卡片预览 - " + theme.Name + " 主题 + " + palette.Name + " 配色",
			},
			"usage": gin.H{
				"basic":    "/api/card?uid={UID}&" + q.Encode(),
				"no_cache": "/api/card?uid={UID}&" + q.Encode() + "&cache=false",
			},
		},
	})
}

func (h *ThemesHandler) details(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "missing id parameter"})
		return
	}
	if t, ok := render.LookupTheme(id); ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "kind": "theme", "data": t})
		return
	}
	if p, ok := render.LookupPalette(id); ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "kind": "color", "data": p})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "item not found"})
}
