package http

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hesto/backend/internal/usecase"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Popup actions sent by the client
const (
	ActionInvest       = "invest"
	ActionStopRedirect = "stop_redirect"
	ActionPurchase     = "purchase"
)

type popupAction struct {
	Action string `json:"action"`
}

type socketError struct {
	Error string `json:"error"`
}

// PopupLifecycle mounts the popup for the lifetime of the WebSocket. Views
// are pushed on every change; the socket closing is the popup closing.
func (h *Handler) PopupLifecycle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("Popup socket upgrade failed")
		return
	}
	defer conn.Close()

	session, err := h.popups.Mount(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to mount popup")
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(socketError{Error: err.Error()})
		return
	}
	defer session.Close()

	updates, cancel := session.Updates()
	defer cancel()

	if err := h.writeJSON(conn, session.View()); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	actions := make(chan popupAction)
	go h.readActions(conn, actions, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case view, ok := <-updates:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "popup closed"))
				return
			}
			if err := h.writeJSON(conn, view); err != nil {
				return
			}

		case action, ok := <-actions:
			if !ok {
				// client went away: the deferred Close is the lifecycle teardown
				return
			}
			if err := h.applyAction(c, conn, session, action); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) applyAction(c *gin.Context, conn *websocket.Conn, session *usecase.PopupSession, a popupAction) error {
	h.log.WithField("action", a.Action).Debug("Popup action")

	switch a.Action {
	case ActionInvest:
		if _, err := session.Invest(c.Request.Context()); err != nil {
			return h.writeJSON(conn, socketError{Error: err.Error()})
		}
	case ActionStopRedirect:
		session.StopRedirect()
	case ActionPurchase:
		session.Purchase()
	default:
		return h.writeJSON(conn, socketError{Error: "unknown action: " + a.Action})
	}
	return nil
}

// readActions is the connection's only reader
func (h *Handler) readActions(conn *websocket.Conn, actions chan<- popupAction, done <-chan struct{}) {
	defer close(actions)

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.WithError(err).Debug("Popup socket closed unexpectedly")
			}
			return
		}
		// malformed frames become an unknown action rather than a disconnect
		var a popupAction
		_ = json.Unmarshal(data, &a)
		select {
		case actions <- a:
		case <-done:
			return
		}
	}
}

// writeJSON is only called from the PopupLifecycle loop
func (h *Handler) writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"remote": conn.RemoteAddr().String()}).Debug("Popup socket write failed")
		return err
	}
	return nil
}
