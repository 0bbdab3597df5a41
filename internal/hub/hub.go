package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fleetmap/internal/domain"
	"fleetmap/internal/mapview"
)

// Message types pushed to map clients
const (
	TypeSnapshot  = "snapshot"
	TypeDelta     = "delta"
	TypeLoading   = "loading"
	TypeSelection = "selection"
	TypeTracking  = "tracking"
	TypeError     = "error"
)

type Client struct {
	ID   string
	Send chan []byte
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:   id,
		Send: make(chan []byte, bufferSize),
	}
}

// Message is the envelope of every server push
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type SelectionPayload struct {
	Selection domain.Selection          `json:"selection"`
	Station   *domain.StationAnnotation `json:"station,omitempty"`
}

type ErrorPayload struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

type LoadingPayload struct {
	Loading bool `json:"loading"`
}

// deltaWait is how long a broadcast waits for queue room before it is dropped
const deltaWait = 100 * time.Millisecond

// envelope is a queued message; a nil to means every client
type envelope struct {
	to   *Client
	data []byte
}

// Hub fans surface deltas and engine events out to every connected map client
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	unregister chan *Client
	outbound   chan envelope
	done       chan struct{}

	// stale is set when a broadcast was dropped and clients need a fresh snapshot
	stale  atomic.Bool
	resync func()

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return newHub(256, logger)
}

func newHub(queueSize int, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		unregister: make(chan *Client, 16),
		outbound:   make(chan envelope, queueSize),
		done:       make(chan struct{}),
		logger:     logger.With("component", "hub"),
	}
}

// OnResync sets the hook run after a dropped broadcast, once the queue has
// room again. It should publish a full snapshot with BroadcastSnapshot.
// Call it before Run.
func (h *Hub) OnResync(fn func()) {
	h.resync = fn
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.unregister:
			h.removeClient(client)

		case env := <-h.outbound:
			h.deliver(env)
			h.maybeResync()
		}
	}
}

func (h *Hub) maybeResync() {
	if h.resync == nil || len(h.outbound) > 0 || !h.stale.CompareAndSwap(true, false) {
		return
	}
	h.logger.Info("resyncing clients after dropped broadcast")
	go h.resync()
}

// Register adds the client before returning, so anything sent to it
// afterwards is ordered after the registration.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client registered", "client_id", client.ID, "total", total)
}

// Unregister returns immediately once Run has exited; every client is
// closed by then.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendTo queues a message for one client only. It shares the broadcast
// queue, so it is ordered with respect to deltas published before and after.
func (h *Hub) SendTo(client *Client, msgType string, payload any) bool {
	h.mu.RLock()
	_, ok := h.clients[client]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.enqueue(client, msgType, payload)
}

// Broadcast implements mapview.Broadcaster
func (h *Hub) Broadcast(deltas []mapview.Delta) {
	if len(deltas) == 0 {
		return
	}
	h.publish(TypeDelta, deltas)
}

// BroadcastSnapshot replaces every client's mirror with a full snapshot
func (h *Hub) BroadcastSnapshot(snapshot any) {
	h.publish(TypeSnapshot, snapshot)
}

func (h *Hub) LoadingChanged(loading bool) {
	h.publish(TypeLoading, LoadingPayload{Loading: loading})
}

func (h *Hub) SelectionChanged(sel domain.Selection, station *domain.StationAnnotation) {
	h.publish(TypeSelection, SelectionPayload{Selection: sel, Station: station})
}

func (h *Hub) TrackingChanged(state domain.TrackingState) {
	h.publish(TypeTracking, state)
}

func (h *Hub) Error(kind domain.ErrorKind, err error) {
	h.publish(TypeError, ErrorPayload{Kind: kind, Message: err.Error()})
}

func (h *Hub) publish(msgType string, payload any) {
	h.enqueue(nil, msgType, payload)
}

func (h *Hub) enqueue(to *Client, msgType string, payload any) bool {
	data, err := json.Marshal(Message{Type: msgType, Payload: payload})
	if err != nil {
		h.logger.Error("marshal message", "type", msgType, "error", err)
		return false
	}
	env := envelope{to: to, data: data}
	select {
	case h.outbound <- env:
		return true
	default:
	}

	if to == nil {
		timer := time.NewTimer(deltaWait)
		defer timer.Stop()
		select {
		case h.outbound <- env:
			return true
		case <-timer.C:
		}
		h.stale.Store(true)
	}
	h.logger.Warn("outbound queue full, dropping message", "type", msgType)
	return false
}

func (h *Hub) deliver(env envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if env.to != nil {
		if _, ok := h.clients[env.to]; ok {
			h.send(env.to, env.data)
		}
		return
	}
	for client := range h.clients {
		h.send(client, env.data)
	}
}

func (h *Hub) send(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		h.logger.Debug("client send buffer full", "client_id", client.ID)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]struct{})
}
