package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mikeboe/deep-research/pkg/research"
)

type Handler struct {
	Service *Service

	// Secret is the shared boundary secret. Empty disables authentication
	// (development only).
	Secret string
}

func NewHandler(s *Service, secret string) *Handler {
	return &Handler{Service: s, Secret: secret}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api", h.requireSecret)
	{
		api.POST("/research", h.createSession)
		api.GET("/research", h.listSessions)
		api.GET("/research/:id", h.getSession)
		api.GET("/research/:id/logs", h.getSessionLogs)
	}

	// The live channel authenticates inside the upgrade so auth failures and
	// unknown sessions close with distinct WebSocket codes.
	r.GET("/api/research/:id/ws", h.streamSession)
}

// requireSecret rejects boundary calls without the shared secret before they
// reach the core.
func (h *Handler) requireSecret(c *gin.Context) {
	if h.Secret == "" {
		return
	}
	if c.GetHeader("X-API-Key") != h.Secret {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing api key"})
	}
}

// sessionResponse is the polling payload: session errors are data here, never
// HTTP errors.
type sessionResponse struct {
	SessionID string             `json:"sessionId"`
	Status    Status             `json:"status"`
	Progress  *research.Snapshot `json:"progress,omitempty"`
	Results   *Result            `json:"results,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func toSessionResponse(s Session) sessionResponse {
	return sessionResponse{
		SessionID: s.ID,
		Status:    s.Status,
		Progress:  s.Progress,
		Results:   s.Result,
		Error:     s.Error,
	}
}

func (h *Handler) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.Service.CreateSession(req)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Reason})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"sessionId": session.ID,
		"status":    session.Status,
	})
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions := h.Service.Registry.List()
	responses := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		responses = append(responses, toSessionResponse(s))
	}
	c.JSON(http.StatusOK, responses)
}

func (h *Handler) getSession(c *gin.Context) {
	session, err := h.Service.Registry.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(session))
}

func (h *Handler) getSessionLogs(c *gin.Context) {
	logs, err := h.Service.Registry.Logs(c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}
