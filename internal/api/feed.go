package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type feedHandler struct {
	feed   Feed
	logger *zap.Logger
}

func (h *feedHandler) status(c *gin.Context) {
	subs, err := h.feed.Subscriptions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.feed.State(), "subscriptions": subs})
}

// connect and disconnect are asynchronous: the state is reported as it was
// when the command was queued.
func (h *feedHandler) connect(c *gin.Context) {
	h.feed.Connect()
	h.logger.Info("feed connect requested")
	c.JSON(http.StatusAccepted, gin.H{"state": h.feed.State()})
}

func (h *feedHandler) disconnect(c *gin.Context) {
	if err := h.feed.Disconnect(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info("feed disconnected")
	c.JSON(http.StatusOK, gin.H{"state": h.feed.State()})
}

func (h *feedHandler) subscribe(c *gin.Context) {
	symbol := symbolParam(c)
	h.feed.Subscribe(symbol)
	c.JSON(http.StatusAccepted, gin.H{"symbol": symbol, "subscribed": true})
}

func (h *feedHandler) unsubscribe(c *gin.Context) {
	symbol := symbolParam(c)
	h.feed.Unsubscribe(symbol)
	c.JSON(http.StatusAccepted, gin.H{"symbol": symbol, "subscribed": false})
}
