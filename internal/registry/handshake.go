package registry

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/pulse/internal/auth"
)

// Handshake upgrades authenticated HTTP requests to live websocket
// connections and registers them with the hub.
//
// The bearer credential is verified before the upgrade: a rejected
// request never reaches the hub, so there is no partial registration to
// clean up.
type Handshake struct {
	hub      *Hub
	auth     *auth.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandshake creates the websocket handshake handler.
func NewHandshake(hub *Hub, authService *auth.Service, logger *slog.Logger) *Handshake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handshake{
		hub:    hub,
		auth:   authService,
		logger: logger.With("component", "handshake"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

func (h *Handshake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerFromHeader(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	identity, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		h.logger.Info("handshake rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade writes its own error response.
		return
	}

	conn := h.hub.Register(*identity, sock)
	go conn.writeLoop()
	h.readLoop(sock, conn)
}

// readLoop services control frames and detects disconnect. Inbound data
// frames are ignored: the live connection is push-only.
func (h *Handshake) readLoop(sock *websocket.Conn, conn *Conn) {
	defer h.hub.Unregister(conn)

	sock.SetReadLimit(maxPayloadSize)
	_ = sock.SetReadDeadline(time.Now().Add(pongWait))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sock.ReadMessage(); err != nil {
			return
		}
	}
}
