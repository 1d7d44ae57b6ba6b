package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voxlink/voxlink/internal/observability"
	"github.com/voxlink/voxlink/internal/protocol"
)

const writeWait = 10 * time.Second

// conn pairs a websocket with its write lock. Gorilla allows one concurrent
// writer, and deltas arrive from the upstream read goroutine while pings come
// from the serve loop.
type conn struct {
	ws      *websocket.Conn
	gen     uint64
	writeMu sync.Mutex
}

// Manager tracks connected browser clients and their selected persona.
// A failed write means the client is gone, so Send disconnects on error
// rather than leaving a half-dead entry behind.
type Manager struct {
	log     *zap.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	conns    map[string]*conn
	personas map[string]string
	lastGen  uint64
}

func NewManager(log *zap.Logger, metrics *observability.Metrics) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:      log,
		metrics:  metrics,
		conns:    make(map[string]*conn),
		personas: make(map[string]string),
	}
}

// Connect registers a client socket. When the id is already taken, the newer
// connection wins and the superseded socket is closed. The returned generation
// identifies this registration; the serve loop passes it back to
// DisconnectOwned so a superseded socket's teardown cannot remove its
// successor.
func (m *Manager) Connect(clientID string, ws *websocket.Conn) uint64 {
	m.mu.Lock()
	old, existed := m.conns[clientID]
	m.lastGen++
	gen := m.lastGen
	m.conns[clientID] = &conn{ws: ws, gen: gen}
	n := len(m.conns)
	m.mu.Unlock()

	if existed {
		m.log.Info("superseding duplicate client connection", zap.String("client_id", clientID))
		old.ws.Close()
	}
	m.metrics.SetActiveConnections(n)
	m.log.Info("client connected", zap.String("client_id", clientID), zap.Int("active", n))
	return gen
}

// Disconnect closes and forgets a client along with its persona choice.
// Safe to call repeatedly.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	c, ok := m.conns[clientID]
	if ok {
		delete(m.conns, clientID)
	}
	delete(m.personas, clientID)
	n := len(m.conns)
	m.mu.Unlock()

	if !ok {
		return
	}
	c.ws.Close()
	m.metrics.SetActiveConnections(n)
	m.log.Info("client disconnected", zap.String("client_id", clientID), zap.Int("active", n))
}

// DisconnectOwned removes the client only when gen still identifies the
// registered connection, and reports whether it did. A socket that was
// superseded under last-writer-wins no longer owns the registration, so its
// departing serve loop leaves the newer connection untouched.
func (m *Manager) DisconnectOwned(clientID string, gen uint64) bool {
	m.mu.Lock()
	c, ok := m.conns[clientID]
	if !ok || c.gen != gen {
		m.mu.Unlock()
		return false
	}
	delete(m.conns, clientID)
	delete(m.personas, clientID)
	n := len(m.conns)
	m.mu.Unlock()

	c.ws.Close()
	m.metrics.SetActiveConnections(n)
	m.log.Info("client disconnected", zap.String("client_id", clientID), zap.Int("active", n))
	return true
}

// Send delivers one protocol message to a client. It reports false when the
// client is unknown or the write failed; on write failure the client is fully
// disconnected so later sends miss cleanly.
func (m *Manager) Send(clientID string, msg any) bool {
	m.mu.RLock()
	c, ok := m.conns[clientID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		m.log.Error("marshal outbound message", zap.Error(err))
		return false
	}

	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		m.log.Warn("client write failed", zap.String("client_id", clientID), zap.Error(err))
		m.Disconnect(clientID)
		return false
	}

	if t, ok := protocol.MessageTypeOf(msg); ok {
		m.metrics.ObserveWSMessage("out", string(t))
	}
	return true
}

// Broadcast sends a message to every connected client except the excluded
// ids. Dead connections found during the pass are disconnected afterwards so
// the iteration stays simple.
func (m *Manager) Broadcast(msg any, exclude ...string) {
	data, err := json.Marshal(msg)
	if err != nil {
		m.log.Error("marshal broadcast", zap.Error(err))
		return
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	m.mu.RLock()
	targets := make(map[string]*conn, len(m.conns))
	for id, c := range m.conns {
		if _, skipped := skip[id]; skipped {
			continue
		}
		targets[id] = c
	}
	m.mu.RUnlock()

	var failed []string
	for id, c := range targets {
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.ws.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
		if err != nil {
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		m.Disconnect(id)
	}
}

// Ping sends a websocket ping control frame to a client.
func (m *Manager) Ping(clientID string) bool {
	m.mu.RLock()
	c, ok := m.conns[clientID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	c.writeMu.Lock()
	err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	c.writeMu.Unlock()
	if err != nil {
		m.Disconnect(clientID)
		return false
	}
	return true
}

// SetPersona records the persona chosen by a client.
func (m *Manager) SetPersona(clientID, personaID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[clientID]; !ok {
		return
	}
	m.personas[clientID] = personaID
}

// Persona returns the persona a client selected, if any.
func (m *Manager) Persona(clientID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.personas[clientID]
	return id, ok
}

// Count reports the number of connected clients.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// ClientIDs lists currently connected client ids.
func (m *Manager) ClientIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}
