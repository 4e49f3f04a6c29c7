package notify

import (
	"delivery-navigation-service/internal/api/dto"
	"delivery-navigation-service/internal/domain"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the envelope pushed to UI clients.
type Message struct {
	Type      string               `json:"type"`
	SessionID string               `json:"session_id,omitempty"`
	Session   *dto.SessionResponse `json:"session,omitempty"`
	Warning   string               `json:"warning,omitempty"`
}

// WebSocketNotifier is the SessionObserver that pushes session snapshots
// and soft warnings to the UI clients watching a driver.
type WebSocketNotifier struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

type client struct {
	driverID string
	conn     *websocket.Conn
	send     chan []byte
	n        *WebSocketNotifier
}

func NewWebSocketNotifier() *WebSocketNotifier {
	return &WebSocketNotifier{clients: make(map[string]map[*client]struct{})}
}

func (n *WebSocketNotifier) SessionUpdated(s domain.TrackingSession) {
	snap := dto.FromSession(s)
	n.broadcast(s.DriverID, Message{Type: "session", SessionID: s.SessionID, Session: &snap})
}

func (n *WebSocketNotifier) Warn(driverID string, sessionID string, msg string) {
	n.broadcast(driverID, Message{Type: "warning", SessionID: sessionID, Warning: msg})
}

// ConnectedClients returns the number of open connections for a driver.
func (n *WebSocketNotifier) ConnectedClients(driverID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.clients[driverID])
}

// ServeWS upgrades GET /ws?driver_id= to a push-only stream.
func (n *WebSocketNotifier) ServeWS(w http.ResponseWriter, r *http.Request) {
	driverID := strings.TrimSpace(r.URL.Query().Get("driver_id"))
	if driverID == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"driver_id is required"}` + "\n"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed driver_id=%s err=%v", driverID, err)
		return
	}

	c := &client{
		driverID: driverID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		n:        n,
	}
	n.register(c)

	go c.writePump()
	go c.readPump()
}

func (n *WebSocketNotifier) register(c *client) {
	n.mu.Lock()
	defer n.mu.Unlock()

	set, ok := n.clients[c.driverID]
	if !ok {
		set = make(map[*client]struct{})
		n.clients[c.driverID] = set
	}
	set[c] = struct{}{}
	log.Printf("ws client registered driver_id=%s clients=%d", c.driverID, len(set))
}

func (n *WebSocketNotifier) unregister(c *client) {
	n.mu.Lock()
	defer n.mu.Unlock()

	set := n.clients[c.driverID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(n.clients, c.driverID)
	}
	log.Printf("ws client unregistered driver_id=%s clients=%d", c.driverID, len(set))
}

func (n *WebSocketNotifier) broadcast(driverID string, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("ws marshal failed driver_id=%s type=%s err=%v", driverID, msg.Type, err)
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for c := range n.clients[driverID] {
		select {
		case c.send <- payload:
		default:
			// Slow clients miss snapshots; the next one supersedes it anyway.
			log.Printf("ws send dropped driver_id=%s type=%s", driverID, msg.Type)
		}
	}
}

// readPump only drains control frames; clients never send commands here.
func (c *client) readPump() {
	defer func() {
		c.n.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws read failed driver_id=%s err=%v", c.driverID, err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
