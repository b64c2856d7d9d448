package ws

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"whatslens/internal/constants"
	"whatslens/internal/models"
)

// TokenVerifier authenticates a handshake token into a tenant context.
type TokenVerifier interface {
	Verify(token string) (*models.TenantContext, error)
}

// Handler upgrades dashboard connections. The token rides either the "token"
// query parameter (browsers cannot set headers on WebSocket dials) or the
// Authorization header; the verified claims decide room membership, so a
// socket only ever sees its own team's events.
type Handler struct {
	hub      *Hub
	verifier TokenVerifier
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

func NewHandler(hub *Hub, verifier TokenVerifier, logger *logrus.Logger) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: constants.WSHandshakeTimeout,
			// Browser origin checks happen in the CORS layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := handshakeToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	tenant, err := h.verifier.Verify(token)
	if err != nil {
		h.logger.WithError(err).Debug("WebSocket handshake rejected")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := newClient(h.hub, conn, *tenant, h.logger)
	h.hub.register <- client

	go client.writePump()
	client.readPump()
}

func handshakeToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
