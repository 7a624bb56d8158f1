package api

import (
	"io"
	"net/http"

	"market-workbench/internal/settings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxSettingsBody = 64 << 10

type settingsHandler struct {
	svc    *settings.Service
	logger *zap.Logger
}

func readBody(c *gin.Context) ([]byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSettingsBody))
	if err != nil || len(raw) == 0 {
		badRequest(c, "request body is required")
		return nil, false
	}
	return raw, true
}

func (h *settingsHandler) get(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Current())
}

// update merges a partial document over the current settings.
func (h *settingsHandler) update(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	v, err := h.svc.Update(c.Request.Context(), raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *settingsHandler) reset(c *gin.Context) {
	v, err := h.svc.Reset(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *settingsHandler) export(c *gin.Context) {
	data, err := h.svc.Export()
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="workbench-settings.json"`)
	c.Data(http.StatusOK, "application/json", data)
}

func (h *settingsHandler) importSettings(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	v, err := h.svc.Import(c.Request.Context(), raw)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info("settings imported", zap.Int("version", v.Version))
	c.JSON(http.StatusOK, v)
}
