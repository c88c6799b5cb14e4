package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/logging"
	"github.com/hesto/backend/internal/usecase"
)

// Services are the extension contexts and collaborators exposed over HTTP.
// Auth may be nil when no identity provider is configured.
type Services struct {
	Scripts *usecase.ContentScripts
	Popups  *usecase.PopupService
	Auth    *usecase.AuthService
	Opener  *usecase.ShimPopupOpener
	Store   domain.StateStore
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	scripts  *usecase.ContentScripts
	popups   *usecase.PopupService
	auth     *usecase.AuthService
	opener   *usecase.ShimPopupOpener
	store    domain.StateStore
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, allowedOrigins []string) *Handler {
	return &Handler{
		scripts: svc.Scripts,
		popups:  svc.Popups,
		auth:    svc.Auth,
		opener:  svc.Opener,
		store:   svc.Store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || isAllowedOrigin(origin, allowedOrigins)
			},
		},
		log: logging.NewLogger("http"),
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "hesto-backend",
		"version": "1.0.0",
	})
}

// HandleClick runs purchase detection for a click in a tab
func (h *Handler) HandleClick(c *gin.Context) {
	var click domain.ClickEvent
	if err := c.ShouldBindJSON(&click); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	click.TabID = c.Param("tab")

	result, err := h.scripts.ForTab(click.TabID).HandleClick(c.Request.Context(), click)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CloseTab tears down a tab's content context, as on navigation
func (h *Handler) CloseTab(c *gin.Context) {
	h.scripts.Remove(c.Param("tab"))
	c.Status(http.StatusNoContent)
}

// TabEvents streams overlay and close_popup commands to a tab's page shim
func (h *Handler) TabEvents(c *gin.Context) {
	events, cancel := h.scripts.ForTab(c.Param("tab")).Events()
	defer cancel()
	stream(c, events, func(ev usecase.ContentEvent) string { return ev.Type })
}

// BackgroundEvents streams open_popup requests to the background shim
func (h *Handler) BackgroundEvents(c *gin.Context) {
	events, cancel := h.opener.Events()
	defer cancel()
	stream(c, events, func(ev usecase.BackgroundEvent) string { return ev.Type })
}

// GetPopup returns the view a popup would render right now
func (h *Handler) GetPopup(c *gin.Context) {
	view, err := h.popups.Snapshot(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetState returns raw store values; ?keys=a,b narrows the result
func (h *Handler) GetState(c *gin.Context) {
	var keys []domain.StoreKey
	if raw := c.Query("keys"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			key := domain.StoreKey(strings.TrimSpace(k))
			if !domain.IsKnownKey(key) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown key: " + string(key)})
				return
			}
			keys = append(keys, key)
		}
	}

	values, err := h.store.Get(c.Request.Context(), keys...)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, values)
}

// StateChanges streams every store change set
func (h *Handler) StateChanges(c *gin.Context) {
	changes := make(chan domain.ChangeSet, 32)
	unsubscribe := h.store.Subscribe(func(cs domain.ChangeSet) {
		select {
		case changes <- cs:
		default:
			h.log.Warn("State change stream is slow, dropping change set")
		}
	})
	defer unsubscribe()

	stream(c, changes, func(domain.ChangeSet) string { return "change" })
}

// GetAuth returns the mirrored session
func (h *Handler) GetAuth(c *gin.Context) {
	if !h.authEnabled(c) {
		return
	}
	state, err := h.auth.State(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Login signs the user in with email and password
func (h *Handler) Login(c *gin.Context) {
	if !h.authEnabled(c) {
		return
	}
	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	state, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	status := http.StatusOK
	if !state.IsLoggedIn {
		status = http.StatusUnauthorized
	}
	c.JSON(status, state)
}

// Logout signs the user out
func (h *Handler) Logout(c *gin.Context) {
	if !h.authEnabled(c) {
		return
	}
	state, err := h.auth.Logout(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Revalidate re-checks the stored session against the identity provider
func (h *Handler) Revalidate(c *gin.Context) {
	if !h.authEnabled(c) {
		return
	}
	state, err := h.auth.Revalidate(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) authEnabled(c *gin.Context) bool {
	if h.auth == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Sign-in is not configured"})
		return false
	}
	return true
}

// handleError maps domain errors to HTTP status codes
func (h *Handler) handleError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrTargetNotFound),
		errors.Is(err, domain.ErrUnknownKey):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotKeyOwner):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNoProduct), errors.Is(err, domain.ErrPortClosed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrIdentityAPIFailure):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrStoreClosed), errors.Is(err, domain.ErrContextInvalidated):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// stream writes values as server-sent events until the client goes away or
// the source closes
func stream[T any](c *gin.Context, values <-chan T, event func(T) string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	// the subscription exists now; let the client know before the first event
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case v, ok := <-values:
			if !ok {
				return false
			}
			c.SSEvent(event(v), v)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
