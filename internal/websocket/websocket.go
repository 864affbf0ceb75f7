package websocket

import (
	"log"
	"sync"
	"time"
	"umod-repack/internal/models"

	"github.com/gorilla/websocket"
)

// StreamPollTimeout is how long a job stream waits for new log entries before
// polling again
const StreamPollTimeout = 10 * time.Second

// Source provides the processor state pushed to clients
type Source interface {
	Jobs() []models.Snapshot
	Pending() []models.PendingSubmission
	PollLog(id string, timeout time.Duration) (models.Snapshot, bool)
}

// MetricsSource provides submission history counters
type MetricsSource interface {
	GetMetrics() (*models.Metrics, error)
}

// Overview is the message broadcast to overview clients
type Overview struct {
	Jobs    []models.Snapshot          `json:"jobs"`
	Pending []models.PendingSubmission `json:"pending"`
	Metrics *models.Metrics            `json:"metrics,omitempty"`
}

// client serialises writes; gorilla connections allow one writer at a time
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Manager manages WebSocket connections and broadcasts
type Manager struct {
	clients   map[*websocket.Conn]*client
	clientsMu sync.Mutex
	source    Source
	metrics   MetricsSource
}

// New creates a new WebSocket manager. metrics may be nil.
func New(source Source, metrics MetricsSource) *Manager {
	return &Manager{
		clients: make(map[*websocket.Conn]*client),
		source:  source,
		metrics: metrics,
	}
}

// AddClient adds a new overview client
func (m *Manager) AddClient(conn *websocket.Conn) {
	c := &client{conn: conn}
	m.clientsMu.Lock()
	m.clients[conn] = c
	count := len(m.clients)
	m.clientsMu.Unlock()

	log.Printf("[WEBSOCKET] New client connected. Total clients: %d", count)

	// Send initial data
	m.sendUpdate(c)

	// Handle disconnection
	go func() {
		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, conn)
			count := len(m.clients)
			m.clientsMu.Unlock()
			conn.Close()
			log.Printf("[WEBSOCKET] Client disconnected. Total clients: %d", count)
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Broadcast sends the current overview to all connected clients
func (m *Manager) Broadcast() {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	for _, c := range m.clients {
		go m.sendUpdate(c)
	}
}

// Snapshot builds the current overview
func (m *Manager) Snapshot() Overview {
	update := Overview{
		Jobs:    m.source.Jobs(),
		Pending: m.source.Pending(),
	}
	if m.metrics != nil {
		metrics, err := m.metrics.GetMetrics()
		if err != nil {
			log.Printf("[ERROR] Failed to read metrics: %v", err)
		}
		update.Metrics = metrics
	}
	return update
}

func (m *Manager) sendUpdate(c *client) {
	if err := c.writeJSON(m.Snapshot()); err != nil {
		log.Printf("[ERROR] Failed to send WebSocket update: %v", err)
	}
}

// StreamJob pushes a job's new log entries to conn as they are appended,
// closing the connection once the job is done, unknown, or the client goes
// away
func (m *Manager) StreamJob(conn *websocket.Conn, jobID string) {
	c := &client{conn: conn}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		default:
		}

		s, ok := m.source.PollLog(jobID, StreamPollTimeout)
		if !ok {
			c.writeJSON(map[string]string{"error": "job not found"})
			return
		}
		if len(s.Log) == 0 && !s.Done {
			continue
		}
		if err := c.writeJSON(s); err != nil {
			log.Printf("[ERROR] JobID=%s Failed to stream log: %v", jobID, err)
			return
		}
		if s.Done {
			c.mu.Lock()
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job done"),
				time.Now().Add(time.Second),
			)
			c.mu.Unlock()
			return
		}
	}
}

// ClientCount returns the number of connected overview clients
func (m *Manager) ClientCount() int {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	return len(m.clients)
}
