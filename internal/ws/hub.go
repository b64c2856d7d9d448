package ws

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"whatslens/internal/bus"
)

// TeamRoom names the delivery scope for a team's dashboards. Rooms mirror
// the bus channel naming so both sides share one namespace.
func TeamRoom(teamID string) string { return "team:" + teamID }

// UserRoom names the delivery scope for one user's sockets.
func UserRoom(userID string) string { return "user:" + userID }

// Subscriber is the bus surface the hub consumes.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (*bus.Consumer, error)
}

type roomMessage struct {
	room string
	data []byte
}

// Hub fans bus events out to connected dashboard sockets. Events arrive via
// the shared bus subscription rather than in-process calls, so a message
// stored by one node reaches sockets held by every other node.
type Hub struct {
	bus    Subscriber
	logger *logrus.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan roomMessage
	done       chan struct{}

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub(subscriber Subscriber, logger *logrus.Logger) *Hub {
	return &Hub{
		bus:        subscriber,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan roomMessage, 256),
		done:       make(chan struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
	}
}

// Run pumps registrations and bus events until the context is cancelled.
// Returns an error only when the bus subscription cannot be opened; all room
// mutations happen on this goroutine.
func (h *Hub) Run(ctx context.Context) error {
	var events <-chan bus.Envelope
	if h.bus != nil {
		consumer, err := h.bus.Subscribe(ctx, "team:*", "realtime:*")
		if err != nil {
			return err
		}
		defer consumer.Close()
		events = consumer.Events()
	}

	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			h.logger.Info("WebSocket hub stopped")
			return nil
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		case msg := <-h.broadcast:
			h.deliver(msg.room, msg.data)
		case env, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			h.route(env)
		}
	}
}

// Broadcast queues a payload for every socket in the room. Drops the event
// with a warning when the hub queue is saturated rather than blocking the
// caller.
func (h *Hub) Broadcast(room string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to encode broadcast payload")
		return
	}
	select {
	case h.broadcast <- roomMessage{room: room, data: data}:
	default:
		h.logger.WithField("room", room).Warn("Hub broadcast queue full, dropping event")
	}
}

// ActiveTeams lists teams with at least one connected socket. The realtime
// collector polls this so idle teams cost nothing.
func (h *Hub) ActiveTeams() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	teams := make([]string, 0, len(h.rooms))
	for room, members := range h.rooms {
		if len(members) == 0 || !strings.HasPrefix(room, "team:") {
			continue
		}
		teams = append(teams, strings.TrimPrefix(room, "team:"))
	}
	sort.Strings(teams)
	return teams
}

// ClientCount returns the number of distinct connected sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]struct{})
	for _, members := range h.rooms {
		for client := range members {
			seen[client] = struct{}{}
		}
	}
	return len(seen)
}

// route picks delivery rooms for a bus envelope. A notification that targets
// a specific user goes to that user's room only; everything else fans out to
// the team room.
func (h *Hub) route(env bus.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to encode event for delivery")
		return
	}

	if env.Type == bus.EventNotificationCreated {
		var target struct {
			UserID string `json:"userId"`
		}
		if err := env.Decode(&target); err == nil && target.UserID != "" {
			h.deliver(UserRoom(target.UserID), data)
			return
		}
	}
	h.deliver(TeamRoom(env.TeamID), data)
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, room := range client.rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[*Client]struct{})
		}
		h.rooms[room][client] = struct{}{}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

// removeLocked detaches the client from every room and closes its send
// channel exactly once. Safe to call twice for the same client.
func (h *Hub) removeLocked(client *Client) {
	found := false
	for _, room := range client.rooms {
		members, ok := h.rooms[room]
		if !ok {
			continue
		}
		if _, member := members[client]; member {
			found = true
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	if found {
		close(client.send)
	}
}

// deliver writes to every member of a room. A member whose send buffer is
// full cannot keep up with the event rate; it gets dropped so one slow
// reader does not stall the rest of the room.
func (h *Hub) deliver(room string, data []byte) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for client := range h.rooms[room] {
		members = append(members, client)
	}
	h.mu.RUnlock()

	for _, client := range members {
		select {
		case client.send <- data:
		default:
			h.logger.WithField("room", room).Warn("Dropping slow websocket consumer")
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	closed := make(map[*Client]struct{})
	for room, members := range h.rooms {
		for client := range members {
			if _, done := closed[client]; !done {
				close(client.send)
				closed[client] = struct{}{}
			}
		}
		delete(h.rooms, room)
	}
}
