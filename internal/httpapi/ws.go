package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/daybridge/daybridge/internal/model"
	daysync "github.com/daybridge/daybridge/internal/sync"
)

// EventType tags a feed message.
type EventType string

const (
	// EventSyncCompleted reports one finished sync cycle.
	EventSyncCompleted EventType = "sync_completed"
	// EventConflictDetected reports a record newly held in conflict.
	EventConflictDetected EventType = "conflict_detected"
)

// Event is one message on the websocket feed.
type Event struct {
	Type      EventType       `json:"type"`
	Kind      model.Kind      `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Hub fans engine events out to websocket subscribers. It implements
// the sync engine's Notifier, so wiring it into an orchestrator's
// options is all the integration needed.
type Hub struct {
	logger *log.Logger

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool

	feed chan Event
	done chan struct{}
	wg   sync.WaitGroup
}

// NewHub creates a hub; call Start before use.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		feed:    make(chan Event, 100),
		done:    make(chan struct{}),
	}
}

// Start launches the broadcast loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.broadcastLoop()
}

// Stop closes every connection and waits the loop out.
func (h *Hub) Stop() {
	close(h.done)
	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()
	h.wg.Wait()
}

// SyncCompleted implements daysync.Notifier.
func (h *Hub) SyncCompleted(kind model.Kind, result daysync.Result) {
	syncCycles.WithLabelValues(string(kind)).Inc()
	syncRecords.WithLabelValues(string(kind), "synced").Add(float64(result.Synced))
	syncRecords.WithLabelValues(string(kind), "updated").Add(float64(result.Updated))
	syncRecords.WithLabelValues(string(kind), "deleted").Add(float64(result.Deleted))
	syncRecords.WithLabelValues(string(kind), "errors").Add(float64(result.Errors))

	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	h.publish(Event{Type: EventSyncCompleted, Kind: kind, Timestamp: time.Now(), Data: data})
}

// ConflictDetected implements daysync.Notifier.
func (h *Hub) ConflictDetected(kind model.Kind, localID string) {
	conflictsDetected.WithLabelValues(string(kind)).Inc()
	data, err := json.Marshal(map[string]string{"local_id": localID})
	if err != nil {
		return
	}
	h.publish(Event{Type: EventConflictDetected, Kind: kind, Timestamp: time.Now(), Data: data})
}

// publish never blocks the sync engine; a full feed drops the event.
func (h *Hub) publish(ev Event) {
	select {
	case h.feed <- ev:
	default:
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case ev := <-h.feed:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			h.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, payload)
				cancel()
				if err != nil {
					h.remove(conn)
				}
			}
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) {
	h.clientsMu.Lock()
	h.clients[conn] = true
	h.clientsMu.Unlock()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if h.clients[conn] {
		delete(h.clients, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	h.clientsMu.Unlock()
}

// handleWS upgrades the connection and parks it until the client leaves.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket accept failed: %v", err)
		return
	}
	h.add(conn)

	// Reads are discarded; the feed is one-way. Read failure means the
	// client is gone.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}()
}
