package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"neuroconnect/internal/services"
)

type WebSocketHandler struct {
	gateway *services.Gateway
}

func NewWebSocketHandler(gateway *services.Gateway) *WebSocketHandler {
	return &WebSocketHandler{
		gateway: gateway,
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	h.gateway.HandleWebSocket(c)
}

func (h *WebSocketHandler) GetStats(c *gin.Context) {
	stats := map[string]interface{}{
		"connected_clients": h.gateway.GetClientCount(),
		"active_rooms":      h.gateway.Registry().RoomCount(),
		"status":            "running",
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}
