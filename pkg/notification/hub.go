package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"citizen-reporting-system/pkg/logging"
	"citizen-reporting-system/pkg/middleware"
)

const clientBuffer = 10

// Client is one connected SSE subscriber.
type Client struct {
	UserID     string
	AccessRole string
	Department string
	Send       chan Notification
}

func NewClient(claims *middleware.UserClaims) *Client {
	role := claims.AccessRole
	if role == "" {
		role = claims.Role
	}
	return &Client{
		UserID:     claims.UserID,
		AccessRole: role,
		Department: normalizeDepartment(claims.Department),
		Send:       make(chan Notification, clientBuffer),
	}
}

func normalizeDepartment(department string) string {
	d := strings.ToLower(strings.TrimSpace(department))
	d = strings.ReplaceAll(d, "-", "_")
	d = strings.ReplaceAll(d, " ", "_")
	return d
}

// Wants reports whether n should be pushed to c. Users receive their own
// notifications, department staff their department's, and admins without a
// department (or of the general desk) every department's.
func (c *Client) Wants(n Notification) bool {
	if n.Channel != ChannelInApp {
		return false
	}
	if id, ok := n.UserID(); ok {
		return id == c.UserID
	}
	dept, ok := n.Department()
	if !ok {
		return false
	}
	if c.Department == dept {
		return true
	}
	return c.AccessRole == middleware.RoleAdmin && (c.Department == "" || c.Department == "general")
}

// Hub fans notifications out to connected clients. Slow clients drop
// messages instead of blocking the broadcaster.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan Notification
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*Client]bool

	log *logging.Logger
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Notification, 100),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		log:        logging.New("notification-hub"),
	}
}

// Run handles registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.Send)
			}
			h.mu.Unlock()
			close(h.done)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info(ctx, "client registered", logging.Fields{"user_id": c.UserID, "clients": total})

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.Send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info(ctx, "client unregistered", logging.Fields{"user_id": c.UserID, "clients": total})

		case n := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.Wants(n) {
					continue
				}
				select {
				case c.Send <- n:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds c. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish queues n for delivery. It never blocks; when the queue is full
// the push is dropped and the inbox copy remains.
func (h *Hub) Publish(n Notification) bool {
	select {
	case h.broadcast <- n:
		return true
	default:
		return false
	}
}

func (h *Hub) ConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscribeHandler streams in-app notifications as server-sent events. The
// bearer token comes from the token query parameter (EventSource cannot set
// headers) or the Authorization header.
func SubscribeHandler(hub *Hub, auth *middleware.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.URL.Query().Get("token")
		if tokenString == "" {
			tokenString = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if tokenString == "" {
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}
		claims, err := auth.ParseToken(tokenString)
		if err != nil {
			hub.log.Warn(r.Context(), "invalid token attempt", err, nil)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		client := NewClient(claims)
		if !hub.Register(client) {
			http.Error(w, "notification stream unavailable", http.StatusServiceUnavailable)
			return
		}
		defer hub.Unregister(client)

		fmt.Fprintf(w, "data: %s\n\n", `{"type":"connected","message":"Connection established"}`)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case n, open := <-client.Send:
				if !open {
					return
				}
				data, err := json.Marshal(n)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.EventType, data)
				flusher.Flush()
			}
		}
	}
}
