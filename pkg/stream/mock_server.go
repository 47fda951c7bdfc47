package stream

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// MockServer is an in-process streaming endpoint for tests: it accepts
// websocket connections, records inbound control messages, and pushes
// pricing frames to every connected client.
type MockServer struct {
	server *httptest.Server
	url    string

	mu          sync.RWMutex
	connections map[*websocket.Conn]bool
	received    [][]byte

	rejectConnections bool
}

// NewMockServer starts a mock streaming server.
func NewMockServer() *MockServer {
	mock := &MockServer{
		connections: make(map[*websocket.Conn]bool),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handleConnection))
	mock.url = "ws" + strings.TrimPrefix(mock.server.URL, "http")
	return mock
}

// URL returns the ws:// address of the mock server.
func (m *MockServer) URL() string {
	return m.url
}

// Close shuts the server down.
func (m *MockServer) Close() {
	m.server.Close()
}

// SetRejectConnections configures whether new connections are refused.
func (m *MockServer) SetRejectConnections(reject bool) {
	m.mu.Lock()
	m.rejectConnections = reject
	m.mu.Unlock()
}

// BroadcastEvent encodes a binary pricing payload into the production
// envelope ({"message": "<base64>"}) and sends it to every client.
func (m *MockServer) BroadcastEvent(payload []byte) {
	frame, _ := json.Marshal(map[string]string{
		"message": base64.StdEncoding.EncodeToString(payload),
	})
	m.BroadcastRaw(frame)
}

// BroadcastRaw sends an arbitrary text frame to every client, envelope
// included. Used to exercise malformed-frame handling.
func (m *MockServer) BroadcastRaw(frame []byte) {
	m.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(m.connections))
	for conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			m.removeConnection(conn)
		}
	}
}

// DropConnections force-closes every live connection, simulating a
// provider-side disconnect.
func (m *MockServer) DropConnections() {
	m.mu.Lock()
	for conn := range m.connections {
		conn.Close()
		delete(m.connections, conn)
	}
	m.mu.Unlock()
}

// ConnectionCount returns the number of live connections.
func (m *MockServer) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// ReceivedMessages returns a copy of the control messages clients sent.
func (m *MockServer) ReceivedMessages() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.received))
	copy(out, m.received)
	return out
}

func (m *MockServer) handleConnection(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	reject := m.rejectConnections
	m.mu.RUnlock()
	if reject {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.connections[conn] = true
	m.mu.Unlock()

	defer func() {
		m.removeConnection(conn)
		conn.Close()
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.TextMessage {
			m.mu.Lock()
			m.received = append(m.received, message)
			m.mu.Unlock()
		}
	}
}

func (m *MockServer) removeConnection(conn *websocket.Conn) {
	m.mu.Lock()
	delete(m.connections, conn)
	m.mu.Unlock()
}
