// Package registry tracks live websocket connections and groups them into
// rooms addressable by user, role, and location.
//
// The room membership map is the only shared mutable state in the
// notification core. All sends are best-effort: a connection that cannot
// accept a payload is skipped and logged, never allowed to abort the rest
// of a room fan-out. Durable notification rows, written by the dispatcher
// before any push, are the fallback of record for offline recipients.
package registry

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/haasonsaas/pulse/internal/observability"
	"github.com/haasonsaas/pulse/pkg/models"
)

const (
	userRoomPrefix     = "user:"
	roleRoomPrefix     = "role:"
	locationRoomPrefix = "location:"
)

// UserRoom returns the room key holding every connection of one user.
func UserRoom(userID string) string { return userRoomPrefix + userID }

// RoleRoom returns the room key for a role.
func RoleRoom(role models.Role) string { return roleRoomPrefix + string(role) }

// LocationRoom returns the room key for a location.
func LocationRoom(locationID string) string { return locationRoomPrefix + locationID }

// Hub owns the room membership map. Safe for concurrent use.
type Hub struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
	conns int
}

// NewHub creates an empty hub. Metrics may be nil.
func NewHub(logger *slog.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "registry"),
		metrics: metrics,
		rooms:   make(map[string]map[*Conn]struct{}),
	}
}

// roomKeys returns every room the identity belongs to. The user room is
// always present; role and location rooms only when the identity carries
// those attributes.
func roomKeys(identity models.Identity) []string {
	keys := []string{UserRoom(identity.UserID)}
	if identity.Role != "" {
		keys = append(keys, RoleRoom(identity.Role))
	}
	if identity.LocationID != "" {
		keys = append(keys, LocationRoom(identity.LocationID))
	}
	return keys
}

// Register adds a new connection for an already-authenticated identity and
// joins it to its rooms. Registration is additive: a user connecting from
// a second device keeps the first connection live.
func (h *Hub) Register(identity models.Identity, transport Transport) *Conn {
	conn := newConn(identity, transport, h.logger)

	h.mu.Lock()
	for _, key := range roomKeys(identity) {
		room, ok := h.rooms[key]
		if !ok {
			room = make(map[*Conn]struct{})
			h.rooms[key] = room
		}
		room[conn] = struct{}{}
	}
	h.conns++
	users := h.userCountLocked()
	conns := h.conns
	h.mu.Unlock()

	h.updateGauges(users, conns)
	h.logger.Info("connection registered",
		"conn_id", conn.ID, "user_id", identity.UserID,
		"role", identity.Role, "location_id", identity.LocationID)
	return conn
}

// Unregister removes a connection from every room it joined and closes
// it. Rooms left empty are deleted so membership never accumulates stale
// entries. Unregistering twice is harmless.
func (h *Hub) Unregister(conn *Conn) {
	if conn == nil {
		return
	}
	h.mu.Lock()
	removed := false
	for _, key := range roomKeys(conn.Identity) {
		room, ok := h.rooms[key]
		if !ok {
			continue
		}
		if _, member := room[conn]; member {
			delete(room, conn)
			removed = true
		}
		if len(room) == 0 {
			delete(h.rooms, key)
		}
	}
	if removed {
		h.conns--
	}
	users := h.userCountLocked()
	conns := h.conns
	h.mu.Unlock()

	conn.close()
	if removed {
		h.updateGauges(users, conns)
		h.logger.Info("connection unregistered", "conn_id", conn.ID, "user_id", conn.Identity.UserID)
	}
}

// SendToUser pushes a payload to every live connection of one user.
// A user with no live connections is a silent no-op.
func (h *Hub) SendToUser(userID string, payload any) {
	h.sendToRoom(UserRoom(userID), payload)
}

// SendToRole pushes a payload to every live connection in a role room.
func (h *Hub) SendToRole(role models.Role, payload any) {
	h.sendToRoom(RoleRoom(role), payload)
}

// SendToLocation pushes a payload to every live connection at a location.
func (h *Hub) SendToLocation(locationID string, payload any) {
	h.sendToRoom(LocationRoom(locationID), payload)
}

// Broadcast pushes a payload to every live connection.
func (h *Hub) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("broadcast payload not serializable", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, h.conns)
	for key, room := range h.rooms {
		// User rooms cover every connection exactly once.
		if !strings.HasPrefix(key, userRoomPrefix) {
			continue
		}
		for conn := range room {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	h.deliver("broadcast", targets, data)
}

// sendToRoom snapshots the room under the read lock and enqueues outside
// it, so a slow connection never blocks membership changes.
func (h *Hub) sendToRoom(key string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("push payload not serializable", "room", key, "error", err)
		return
	}

	h.mu.RLock()
	room := h.rooms[key]
	targets := make([]*Conn, 0, len(room))
	for conn := range room {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	h.deliver(key, targets, data)
}

func (h *Hub) deliver(room string, targets []*Conn, data []byte) {
	for _, conn := range targets {
		if err := conn.enqueue(data); err != nil {
			// Per-connection best-effort: log and move on.
			h.logger.Warn("push dropped",
				"room", room, "conn_id", conn.ID,
				"user_id", conn.Identity.UserID, "error", err)
			if h.metrics != nil {
				h.metrics.DroppedSends.WithLabelValues(roomClass(room)).Inc()
			}
		}
	}
}

// roomClass collapses room keys to their prefix so the dropped-send
// metric stays low-cardinality.
func roomClass(room string) string {
	if idx := strings.Index(room, ":"); idx > 0 {
		return room[:idx]
	}
	return room
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[UserRoom(userID)]) > 0
}

// OnlineCounts returns the number of online users and live connections.
func (h *Hub) OnlineCounts() (users, conns int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.userCountLocked(), h.conns
}

func (h *Hub) userCountLocked() int {
	users := 0
	for key := range h.rooms {
		if strings.HasPrefix(key, userRoomPrefix) {
			users++
		}
	}
	return users
}

func (h *Hub) updateGauges(users, conns int) {
	if h.metrics == nil {
		return
	}
	h.metrics.OnlineUsers.Set(float64(users))
	h.metrics.ActiveConnections.Set(float64(conns))
}

// RoomSize returns the current membership of a room. Operational helper.
func (h *Hub) RoomSize(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[key])
}
