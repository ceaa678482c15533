package messaging

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/petadopt/petchat/internal/bus"
	"github.com/petadopt/petchat/internal/store"
	"github.com/petadopt/petchat/internal/wire"
	"go.uber.org/zap/zaptest"
)

type pushed struct {
	UserID string
	Event  wire.Event
}

// recordingPusher stands in for the delivery registry.
type recordingPusher struct {
	mu     sync.Mutex
	pushes []pushed
}

func (p *recordingPusher) Push(_ context.Context, userID string, payload []byte) {
	var evt wire.Event
	_ = json.Unmarshal(payload, &evt)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, pushed{UserID: userID, Event: evt})
}

func (p *recordingPusher) all() []pushed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushed(nil), p.pushes...)
}

// stepClock advances one millisecond on every reading.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type fixture struct {
	store  *store.DB
	pusher *recordingPusher
	bus    *bus.Bus
	convs  *ConversationService
	msgs   *MessageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, p := range []store.Profile{
		{ID: "alice", Name: "Alice", Email: "alice@example.com", ProfilePicture: "alice.png"},
		{ID: "bob", Name: "Bob", Email: "bob@example.com"},
		{ID: "carol", Name: "Carol"},
	} {
		if err := db.UpsertProfile(ctx, &p); err != nil {
			t.Fatal(err)
		}
	}

	clock := &stepClock{t: time.UnixMilli(1_700_000_000_000).UTC()}
	opts := Options{Now: clock.Now}
	logger := zaptest.NewLogger(t)
	pusher := &recordingPusher{}
	b := bus.New()
	return &fixture{
		store:  db,
		pusher: pusher,
		bus:    b,
		convs:  NewConversationService(db, pusher, b, logger, opts),
		msgs:   NewMessageService(db, pusher, b, logger, opts),
	}
}

func (f *fixture) conversation(t *testing.T, a, b string) string {
	t.Helper()
	v, _, err := f.convs.GetOrCreate(context.Background(), a, b)
	if err != nil {
		t.Fatalf("GetOrCreate(%s, %s) error = %v", a, b, err)
	}
	return v.Conversation.ID
}

func (f *fixture) send(t *testing.T, convID, sender, text string) *MessageView {
	t.Helper()
	v, err := f.msgs.Send(context.Background(), convID, sender, text, "")
	if err != nil {
		t.Fatalf("Send(%q) error = %v", text, err)
	}
	return v
}
