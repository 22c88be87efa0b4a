// Package chat is the community chat screen controller: an append-only,
// timestamp-ordered message stream bounded to a most-recent window.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"breathewell/api/internal/auth"
	"breathewell/api/internal/docstore"
)

const messagesCollection = "messages"

// DefaultWindow is how many trailing messages the live view keeps.
const DefaultWindow = 200

// Message is one chat message. Timestamps are client-assigned, matching the
// mobile app's behavior; the stream orders by them.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// Controller owns the chat screen's published state.
type Controller struct {
	store  docstore.Store
	auth   auth.Provider
	window int

	mu           sync.Mutex
	messages     []Message
	errorMessage string
	draft        string
	sending      bool
	sub          *docstore.Subscription
}

func NewController(store docstore.Store, provider auth.Provider, window int) *Controller {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Controller{store: store, auth: provider, window: window}
}

// Messages returns the current window, oldest first.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// ErrorMessage is the last captured remote failure, empty when healthy.
func (c *Controller) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorMessage
}

// Sending reports whether a send is in flight.
func (c *Controller) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// SetDraft updates the composer text.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

// Draft returns the composer text.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Controller) setError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorMessage = msg
}

// Start begins (or restarts) the live message stream, cancelling any previous
// subscription first.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	prev := c.sub
	c.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	sub, err := c.store.Stream(ctx, messagesCollection, docstore.Order{Field: "timestamp"}, c.window)
	if err != nil {
		c.setError(err.Error())
		return err
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	go c.consume(sub)
	return nil
}

func (c *Controller) consume(sub *docstore.Subscription) {
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			messages := make([]Message, 0, len(snap.Docs))
			for _, d := range snap.Docs {
				messages = append(messages, Message{
					ID:         d.ID,
					SenderID:   d.StringField("senderId", ""),
					SenderName: d.StringField("senderName", "Anonymous"),
					Text:       d.StringField("text", ""),
					Timestamp:  d.TimeField("timestamp"),
				})
			}
			c.mu.Lock()
			c.messages = messages
			c.mu.Unlock()
		case err := <-sub.Errs():
			// Last good window stays in place.
			c.setError(err.Error())
		}
	}
}

// Close cancels the stream.
func (c *Controller) Close() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// Send submits the composed message. Requires a signed-in principal; blank
// text after trimming is a silent no-op. On success the draft is cleared; the
// message itself arrives with the next snapshot.
func (c *Controller) Send(ctx context.Context, displayNameFallback string) error {
	p, ok := c.auth.Current()
	if !ok {
		c.setError("You must be signed in to send messages.")
		return auth.ErrUnauthenticated
	}

	text := strings.TrimSpace(c.Draft())
	if text == "" {
		return nil
	}

	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = strings.TrimSpace(displayNameFallback)
	}
	if name == "" {
		name = "Anonymous"
	}

	c.mu.Lock()
	c.sending = true
	c.errorMessage = ""
	c.mu.Unlock()

	_, err := c.store.Create(ctx, messagesCollection, map[string]any{
		"senderId":   p.ID,
		"senderName": name,
		"text":       text,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})

	c.mu.Lock()
	c.sending = false
	if err != nil {
		c.errorMessage = err.Error()
	} else {
		c.draft = ""
	}
	c.mu.Unlock()
	return err
}
