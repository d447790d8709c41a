package http

import (
	"net/http"

	"roomview/internal/core/ports"
	"roomview/internal/core/services"
	"roomview/internal/infrastructure/middleware"
	"roomview/pkg/errors"

	"github.com/gin-gonic/gin"
)

// SessionHandler exposes start/stop and the session snapshot over HTTP.
type SessionHandler struct {
	session ports.SessionService
	auth    services.AuthService
}

// NewSessionHandler builds the handler. A nil auth leaves the routes open.
func NewSessionHandler(session ports.SessionService, auth services.AuthService) *SessionHandler {
	return &SessionHandler{
		session: session,
		auth:    auth,
	}
}

func (h *SessionHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/session")
	read, control := []gin.HandlerFunc{}, []gin.HandlerFunc{}
	if h.auth != nil {
		api.Use(middleware.AuthMiddleware(h.auth))
		read = append(read, middleware.RequireScope(h.auth, services.ScopeRead))
		control = append(control, middleware.RequireScope(h.auth, services.ScopeControl))
	}
	{
		api.GET("", append(read, h.GetSession)...)
		api.POST("/start", append(control, h.StartSession)...)
		api.POST("/stop", append(control, h.StopSession)...)
		api.PUT("/room", append(control, h.SetRoom)...)
	}
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Snapshot())
}

func (h *SessionHandler) StartSession(c *gin.Context) {
	if err := h.session.Start(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.session.Snapshot())
}

func (h *SessionHandler) StopSession(c *gin.Context) {
	h.session.Stop()
	c.JSON(http.StatusOK, h.session.Snapshot())
}

func (h *SessionHandler) SetRoom(c *gin.Context) {
	var req struct {
		RoomID string `json:"room_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.session.SetRoomID(req.RoomID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.session.Snapshot())
}
