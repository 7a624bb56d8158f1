package api

import (
	"io"
	"net/http"
	"strings"

	"market-workbench/internal/model"
	"market-workbench/internal/store/sqlite"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type symbolHandler struct {
	store  Store
	logger *zap.Logger
}

func (h *symbolHandler) list(c *gin.Context) {
	syms, err := h.store.GetSymbols(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": syms, "count": len(syms)})
}

func (h *symbolHandler) search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		badRequest(c, "q is required")
		return
	}
	syms, err := h.store.SearchSymbols(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": syms, "count": len(syms)})
}

func (h *symbolHandler) pinned(c *gin.Context) {
	syms, err := h.store.GetPinnedSymbols(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": syms, "count": len(syms)})
}

func (h *symbolHandler) add(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}
	sym, err := model.ParseSymbol(raw)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.store.AddSymbol(c.Request.Context(), sym); err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info("symbol added", zap.String("symbol", sym.ID))
	c.JSON(http.StatusCreated, sym)
}

// update applies a partial metadata change; absent fields are kept.
func (h *symbolHandler) update(c *gin.Context) {
	var patch sqlite.SymbolPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid symbol patch: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.store.UpdateSymbol(ctx, id, patch); err != nil {
		writeError(c, err)
		return
	}
	sym, err := h.store.GetSymbol(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info("symbol updated", zap.String("symbol", id))
	c.JSON(http.StatusOK, sym)
}

func (h *symbolHandler) remove(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.RemoveSymbol(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *symbolHandler) pin(c *gin.Context) {
	h.setPinned(c, true)
}

func (h *symbolHandler) unpin(c *gin.Context) {
	h.setPinned(c, false)
}

func (h *symbolHandler) setPinned(c *gin.Context, pinned bool) {
	ctx := c.Request.Context()
	id := c.Param("id")
	var err error
	if pinned {
		err = h.store.PinSymbol(ctx, id)
	} else {
		err = h.store.UnpinSymbol(ctx, id)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	sym, err := h.store.GetSymbol(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sym)
}
