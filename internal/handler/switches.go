package handler

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"sipengine/internal/service"
)

// SwitchHandler exposes the runtime feature switches, e.g. sip_scheduler.
type SwitchHandler struct {
	Settings *service.SystemSettingsService
}

func (h *SwitchHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/switches")
	g.GET("", h.list)
	g.GET("/:name", h.get)
	g.PUT("/:name", h.put)
}

type switchView struct {
	Name    string `json:"name"`
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

// @Summary List feature switches
// @Tags switches
// @Success 200 {object} apiResponse
// @Router /api/v1/switches [get]
func (h *SwitchHandler) list(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	defaults := service.DefaultFeatureSwitches()
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]switchView, 0, len(keys))
	for _, k := range keys {
		out = append(out, switchView{
			Name:    strings.TrimPrefix(k, "feature."),
			Key:     k,
			Enabled: h.Settings.IsEnabled(c.Request.Context(), k, defaults[k]),
		})
	}
	Ok(c, out, nil)
}

func (h *SwitchHandler) lookup(c *gin.Context) (string, bool, bool) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return "", false, false
	}
	name := strings.TrimSpace(c.Param("name"))
	key := "feature." + name
	def, ok := service.DefaultFeatureSwitches()[key]
	if name == "" || !ok {
		Error(c, http.StatusNotFound, "unknown switch", nil)
		return "", false, false
	}
	return key, def, true
}

// @Summary Get a feature switch
// @Tags switches
// @Param name path string true "switch name, e.g. sip_scheduler"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/switches/{name} [get]
func (h *SwitchHandler) get(c *gin.Context) {
	key, def, ok := h.lookup(c)
	if !ok {
		return
	}
	Ok(c, switchView{
		Name:    strings.TrimPrefix(key, "feature."),
		Key:     key,
		Enabled: h.Settings.IsEnabled(c.Request.Context(), key, def),
	}, nil)
}

type putSwitchRequest struct {
	Enabled bool `json:"enabled"`
}

// @Summary Turn a feature switch on or off
// @Tags switches
// @Accept json
// @Param name path string true "switch name"
// @Param body body putSwitchRequest true "state"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/switches/{name} [put]
func (h *SwitchHandler) put(c *gin.Context) {
	key, _, ok := h.lookup(c)
	if !ok {
		return
	}
	var req putSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if err := h.Settings.SetEnabled(c.Request.Context(), key, req.Enabled); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, switchView{Name: strings.TrimPrefix(key, "feature."), Key: key, Enabled: req.Enabled}, nil)
}
