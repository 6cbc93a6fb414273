package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	v1 "github.com/asus-linux/supergfxd/api/v1"
)

// handler holds the collaborators every route closure needs.
type handler struct {
	svc      v1.Service
	notifier v1.Notifier
	logger   *zap.Logger
}

func (h *handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) getMode(c *gin.Context) {
	mode, err := h.svc.GetMode(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

type setModeRequest struct {
	Mode v1.Mode `json:"mode"`
}

func (h *handler) setMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	action, err := h.svc.SetMode(c.Request.Context(), req.Mode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"required_action": action})
}

func (h *handler) getSupported(c *gin.Context) {
	modes, err := h.svc.GetSupported(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"supported": modes})
}

func (h *handler) getVendor(c *gin.Context) {
	vendor, err := h.svc.GetVendor(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vendor": vendor})
}

func (h *handler) getPowerStatus(c *gin.Context) {
	status, err := h.svc.GetPowerStatus(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"power_status": status})
}

func (h *handler) getVersion(c *gin.Context) {
	ver, err := h.svc.GetVersion(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": ver})
}

func (h *handler) pendingMode(c *gin.Context) {
	mode, ok, err := h.svc.PendingMode(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"pending": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": true, "mode": mode})
}

func (h *handler) pendingUserAction(c *gin.Context) {
	action, err := h.svc.PendingUserAction(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"required_action": action})
}

func (h *handler) getConfig(c *gin.Context) {
	cfg, err := h.svc.GetConfig(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *handler) setConfig(c *gin.Context) {
	var cfg v1.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.SetConfig(c.Request.Context(), &cfg); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// upgrader allows cross-origin upgrades; the notify stream carries no
// authentication of its own and is meant to sit behind the same network
// boundary as the rest of this reference binding.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// events upgrades to a websocket and streams NotifyGfx/NotifyAction/
// NotifyGfxStatus events as they're emitted, closest in spirit to gin's
// missing pub/sub primitive.
func (h *handler) events(c *gin.Context) {
	if h.notifier == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event stream not available"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	ctx := c.Request.Context()
	events, cancel := h.notifier.Subscribe(ctx)
	defer cancel()

	ws.SetReadDeadline(time.Now().Add(time.Hour))
	go drainClientReads(ws)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

// drainClientReads discards client frames so pong control messages are
// processed and a closed connection is detected promptly.
func drainClientReads(ws *websocket.Conn) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
