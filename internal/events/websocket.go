package events

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Broadcaster relays hub events to connected WebSocket clients so UI
// collaborators can react to auth/failover changes without polling.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]struct{}
	queue    chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	maxConns int
}

// NewBroadcaster subscribes to the given topics and starts the relay loop.
func NewBroadcaster(sub Subscriber, topics ...string) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*websocket.Conn]struct{}),
		queue:    make(chan Event, 64),
		stopCh:   make(chan struct{}),
		maxConns: 32,
	}
	for _, topic := range topics {
		sub.Subscribe(topic, b.enqueue)
	}
	go b.run()
	return b
}

func (b *Broadcaster) enqueue(_ context.Context, ev Event) {
	select {
	case b.queue <- ev:
	default:
		// Slow consumers must not block publishers.
		log.Debugf("event broadcaster queue full, dropping %s", ev.Topic)
	}
}

func (b *Broadcaster) run() {
	for {
		select {
		case ev := <-b.queue:
			b.mu.RLock()
			conns := make([]*websocket.Conn, 0, len(b.clients))
			for conn := range b.clients {
				conns = append(conns, conn)
			}
			b.mu.RUnlock()
			for _, conn := range conns {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(ev); err != nil {
					log.Debugf("websocket write failed, dropping client: %v", err)
					b.Remove(conn)
				}
			}
		case <-b.stopCh:
			return
		}
	}
}

// Add registers a client connection. Returns false when at capacity.
func (b *Broadcaster) Add(conn *websocket.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.clients) >= b.maxConns {
		return false
	}
	b.clients[conn] = struct{}{}
	return true
}

// Remove unregisters and closes a client connection.
func (b *Broadcaster) Remove(conn *websocket.Conn) {
	b.mu.Lock()
	if _, ok := b.clients[conn]; ok {
		delete(b.clients, conn)
		_ = conn.Close()
	}
	b.mu.Unlock()
}

// Stop shuts down the relay loop and closes all clients.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		_ = conn.Close()
	}
	b.clients = make(map[*websocket.Conn]struct{})
}
