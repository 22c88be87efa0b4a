package chat

import (
	"context"
	"testing"
	"time"

	"breathewell/api/internal/auth"
	"breathewell/api/internal/docstore"

	"github.com/alicebob/miniredis/v2"
)

func setupChat(t *testing.T, window int) (*Controller, *docstore.RedisStore, *auth.Session) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := docstore.NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	session := auth.NewSession()
	c := NewController(store, session, window)
	t.Cleanup(c.Close)
	return c, store, session
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSendRequiresAuth(t *testing.T) {
	c, _, _ := setupChat(t, 0)

	c.SetDraft("hello")
	err := c.Send(context.Background(), "")
	if err != auth.ErrUnauthenticated {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
	if c.ErrorMessage() != "You must be signed in to send messages." {
		t.Errorf("error message = %q", c.ErrorMessage())
	}
	if c.Draft() != "hello" {
		t.Error("draft cleared on failed send")
	}
}

func TestSendBlankIsNoOp(t *testing.T) {
	c, store, session := setupChat(t, 0)
	session.SignIn(auth.Principal{ID: "u1", DisplayName: "Alice"})

	c.SetDraft("   ")
	if err := c.Send(context.Background(), ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	ids, _ := store.ListIDs(context.Background(), "messages")
	if len(ids) != 0 {
		t.Errorf("blank send created %d messages", len(ids))
	}
}

func TestSendAndStream(t *testing.T) {
	c, _, session := setupChat(t, 0)
	session.SignIn(auth.Principal{ID: "u1", DisplayName: "Alice"})
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	c.SetDraft("  hello there  ")
	if err := c.Send(ctx, ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if c.Draft() != "" {
		t.Error("draft not cleared after send")
	}

	waitFor(t, func() bool { return len(c.Messages()) == 1 })
	msg := c.Messages()[0]
	if msg.Text != "hello there" {
		t.Errorf("text = %q, want trimmed", msg.Text)
	}
	if msg.SenderID != "u1" || msg.SenderName != "Alice" {
		t.Errorf("sender = %s/%s", msg.SenderID, msg.SenderName)
	}
	if msg.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestSenderNameFallbackChain(t *testing.T) {
	c, _, session := setupChat(t, 0)
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// No principal display name: the caller-supplied profile name wins.
	session.SignIn(auth.Principal{ID: "u1"})
	c.SetDraft("one")
	if err := c.Send(ctx, "Profile Alice"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	// No name anywhere: placeholder.
	c.SetDraft("two")
	if err := c.Send(ctx, "  "); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	waitFor(t, func() bool { return len(c.Messages()) == 2 })
	msgs := c.Messages()
	if msgs[0].SenderName != "Profile Alice" {
		t.Errorf("first sender = %q", msgs[0].SenderName)
	}
	if msgs[1].SenderName != "Anonymous" {
		t.Errorf("second sender = %q", msgs[1].SenderName)
	}
}

func TestWindowKeepsMostRecent(t *testing.T) {
	c, _, session := setupChat(t, 2)
	session.SignIn(auth.Principal{ID: "u1", DisplayName: "Alice"})
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for _, text := range []string{"first", "second", "third"} {
		c.SetDraft(text)
		if err := c.Send(ctx, ""); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		// Client timestamps order the stream; keep them distinct.
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, func() bool {
		msgs := c.Messages()
		return len(msgs) == 2 && msgs[1].Text == "third"
	})
	msgs := c.Messages()
	if msgs[0].Text != "second" || msgs[1].Text != "third" {
		t.Errorf("window = [%s %s], want the two most recent ascending", msgs[0].Text, msgs[1].Text)
	}
}
