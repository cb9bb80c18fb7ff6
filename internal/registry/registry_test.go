package registry

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/pulse/pkg/models"
)

// fakeTransport is an in-memory Transport for hub tests.
type fakeTransport struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeTransport) WriteMessage(int, []byte) error                    { return nil }
func (f *fakeTransport) WriteControl(int, []byte, time.Time) error         { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error                  { return nil }
func (f *fakeTransport) Close() error                                      { f.mu.Lock(); f.closed = true; f.mu.Unlock(); return nil }
func (f *fakeTransport) isClosed() bool                                    { f.mu.Lock(); defer f.mu.Unlock(); return f.closed }

func identity(userID string, role models.Role, locationID string) models.Identity {
	return models.Identity{UserID: userID, Role: role, LocationID: locationID}
}

// drain returns the payloads currently buffered on a connection.
func drain(c *Conn) []string {
	var out []string
	for {
		select {
		case data := <-c.send:
			out = append(out, string(data))
		default:
			return out
		}
	}
}

func TestSendToUserReachesEveryDevice(t *testing.T) {
	hub := NewHub(nil, nil)
	h1 := hub.Register(identity("a", models.RoleTechnician, "loc1"), &fakeTransport{})
	h2 := hub.Register(identity("a", models.RoleTechnician, "loc1"), &fakeTransport{})
	other := hub.Register(identity("b", models.RoleTechnician, "loc1"), &fakeTransport{})

	hub.SendToUser("a", map[string]string{"hello": "world"})

	if got := drain(h1); len(got) != 1 {
		t.Errorf("h1 received %d payloads, want 1", len(got))
	}
	if got := drain(h2); len(got) != 1 {
		t.Errorf("h2 received %d payloads, want 1", len(got))
	}
	if got := drain(other); len(got) != 0 {
		t.Errorf("other user received %d payloads, want 0", len(got))
	}
}

func TestUnregisterRemovesEmptyRooms(t *testing.T) {
	hub := NewHub(nil, nil)
	h1 := hub.Register(identity("a", models.RoleTechnician, "loc1"), &fakeTransport{})
	h2 := hub.Register(identity("a", models.RoleTechnician, "loc1"), &fakeTransport{})

	hub.Unregister(h1)
	if !hub.IsOnline("a") {
		t.Fatal("user offline while one device remains")
	}
	hub.SendToUser("a", "ping")
	if got := drain(h2); len(got) != 1 {
		t.Errorf("remaining device received %d payloads, want 1", len(got))
	}

	hub.Unregister(h2)
	if hub.IsOnline("a") {
		t.Error("user still online after last disconnect")
	}
	users, conns := hub.OnlineCounts()
	if users != 0 || conns != 0 {
		t.Errorf("OnlineCounts() = %d users, %d conns, want 0, 0", users, conns)
	}
	if hub.RoomSize(RoleRoom(models.RoleTechnician)) != 0 {
		t.Error("role room not cleaned up")
	}

	// Double unregister is harmless.
	hub.Unregister(h2)
	users, conns = hub.OnlineCounts()
	if users != 0 || conns != 0 {
		t.Errorf("counts after double unregister = %d, %d", users, conns)
	}
}

func TestRoomTargeting(t *testing.T) {
	hub := NewHub(nil, nil)
	tech1 := hub.Register(identity("t1", models.RoleTechnician, "loc1"), &fakeTransport{})
	tech2 := hub.Register(identity("t2", models.RoleTechnician, "loc2"), &fakeTransport{})
	manager := hub.Register(identity("m1", models.RoleManager, "loc1"), &fakeTransport{})

	hub.SendToRole(models.RoleTechnician, "role-msg")
	if len(drain(tech1)) != 1 || len(drain(tech2)) != 1 {
		t.Error("role send missed a technician")
	}
	if len(drain(manager)) != 0 {
		t.Error("role send leaked to manager")
	}

	hub.SendToLocation("loc1", "loc-msg")
	if len(drain(tech1)) != 1 || len(drain(manager)) != 1 {
		t.Error("location send missed a loc1 connection")
	}
	if len(drain(tech2)) != 0 {
		t.Error("location send leaked to loc2")
	}

	// Empty room is a silent no-op.
	hub.SendToUser("nobody", "msg")
	hub.SendToLocation("loc9", "msg")
}

func TestBroadcastHitsEachConnectionOnce(t *testing.T) {
	hub := NewHub(nil, nil)
	// Member of user, role, and location rooms; must still receive once.
	conn := hub.Register(identity("a", models.RoleManager, "loc1"), &fakeTransport{})

	hub.Broadcast(map[string]string{"type": "announcement"})

	got := drain(conn)
	if len(got) != 1 {
		t.Fatalf("broadcast delivered %d payloads, want 1", len(got))
	}
	var decoded map[string]string
	if err := json.Unmarshal([]byte(got[0]), &decoded); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if decoded["type"] != "announcement" {
		t.Errorf("payload = %v", decoded)
	}
}

func TestFullBufferDoesNotAbortFanOut(t *testing.T) {
	hub := NewHub(nil, nil)
	slow := hub.Register(identity("a", models.RoleTechnician, "loc1"), &fakeTransport{})
	healthy := hub.Register(identity("a", models.RoleTechnician, "loc1"), &fakeTransport{})

	for i := 0; i < sendBufferSize; i++ {
		if err := slow.enqueue([]byte("x")); err != nil {
			t.Fatalf("priming enqueue %d failed: %v", i, err)
		}
	}
	drain(healthy)

	hub.SendToUser("a", "msg")
	if got := drain(healthy); len(got) != 1 {
		t.Errorf("healthy connection received %d payloads, want 1", len(got))
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	transport := &fakeTransport{}
	hub := NewHub(nil, nil)
	conn := hub.Register(identity("a", models.RoleTechnician, ""), transport)
	hub.Unregister(conn)

	if !transport.isClosed() {
		t.Error("transport not closed on unregister")
	}
	if err := conn.enqueue([]byte("late")); err == nil {
		t.Error("enqueue on closed connection succeeded")
	}
}

func TestRoomKeysOmitMissingAttributes(t *testing.T) {
	keys := roomKeys(models.Identity{UserID: "a"})
	if len(keys) != 1 || keys[0] != UserRoom("a") {
		t.Errorf("roomKeys = %v, want only user room", keys)
	}
	keys = roomKeys(identity("a", models.RoleAdmin, "loc1"))
	if len(keys) != 3 {
		t.Errorf("roomKeys = %v, want user, role, and location rooms", keys)
	}
}
