package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ErrInvalidToken marks a device token the push service will never accept
// again. Senders wrap permanent token failures with it.
var ErrInvalidToken = errors.New("invalid device token")

// Notification is a push message.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// PushSender delivers one notification to one device.
type PushSender interface {
	Send(ctx context.Context, token string, n Notification) error
}

// CompletionNotification announces the end of a successful run.
func CompletionNotification(sessionID string, opportunities int) Notification {
	n := Notification{
		Title: "Scrape complete",
		Data: map[string]string{
			"type":                "scrape_complete",
			"opportunities_count": strconv.Itoa(opportunities),
			"session_id":          sessionID,
		},
	}
	switch {
	case opportunities == 0:
		n.Body = "No new opportunities this time"
	case opportunities == 1:
		n.Body = "1 new opportunity found"
	default:
		n.Body = fmt.Sprintf("%d new opportunities found", opportunities)
	}
	return n
}

// TestNotification builds the message sent by the test endpoint, filling in
// defaults for empty fields.
func TestNotification(title, body string) Notification {
	if title == "" {
		title = "LeadSwipe test"
	}
	if body == "" {
		body = "This is a test notification!"
	}
	return Notification{Title: title, Body: body, Data: map[string]string{"type": "test"}}
}

// Registry is the in-memory set of device tokens, kept in registration
// order.
type Registry struct {
	mu     sync.RWMutex
	tokens []string
	index  map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Add registers token. It reports false if the token was already known.
func (r *Registry) Add(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[token]; ok {
		return false
	}
	r.index[token] = len(r.tokens)
	r.tokens = append(r.tokens, token)
	return true
}

// Remove unregisters token. It reports false if the token was unknown.
func (r *Registry) Remove(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[token]
	if !ok {
		return false
	}
	r.tokens = append(r.tokens[:i], r.tokens[i+1:]...)
	delete(r.index, token)
	for j := i; j < len(r.tokens); j++ {
		r.index[r.tokens[j]] = j
	}
	return true
}

// Tokens returns a copy of the registered tokens.
func (r *Registry) Tokens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.tokens...)
}

// Len returns the number of registered tokens.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
