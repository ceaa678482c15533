package views

import (
	"testing"
	"time"

	"github.com/petadopt/petchat/internal/outbox"
	"github.com/petadopt/petchat/internal/tui/model"
	"github.com/petadopt/petchat/internal/wire"
)

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello", "hello"},
		{"👍🏻", "👍"},
		{"👨‍👩‍👧", "👨👩👧"},
		{"❤️", "❤"},
		{"line one\nline\ttwo", "line one line two"},
		{"\x1b[31mred\x1b[0m", "[31mred[0m"},
		{"bell\a\x9b", "bell"},
		{"bad\xffbyte", "badbyte"},
	}
	for _, tt := range tests {
		if got := sanitizeForTerminal(tt.in); got != tt.want {
			t.Errorf("sanitizeForTerminal(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q, want short", got)
	}
	if got := truncate("is the puppy still available", 6); got != "is th…" {
		t.Errorf("truncate() = %q, want %q", got, "is th…")
	}
}

func TestFormatTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	if got := formatTimestamp(time.Time{}, now); got != "" {
		t.Errorf("zero time = %q, want empty", got)
	}
	if got := formatTimestamp(time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC), now); got != "09:05" {
		t.Errorf("same day = %q, want 09:05", got)
	}
	if got := formatTimestamp(time.Date(2026, 3, 9, 9, 5, 0, 0, time.UTC), now); got != "03/09" {
		t.Errorf("previous day = %q, want 03/09", got)
	}
}

func TestConversationListKeepsSelection(t *testing.T) {
	cl := NewConversationList()
	convs := []wire.Conversation{
		{ID: "c1", OtherParticipant: wire.Profile{ID: "u1", Name: "Ana"}},
		{ID: "c2", OtherParticipant: wire.Profile{ID: "u2"}, UnreadCount: 2},
	}
	cl.Update(convs)
	if got := cl.SelectedConversation(); got != "c1" {
		t.Fatalf("SelectedConversation() = %q, want c1", got)
	}
	cl.Select(2, 0)

	// c2 moves to the top after a new message.
	cl.Update([]wire.Conversation{convs[1], convs[0]})
	if got := cl.SelectedConversation(); got != "c2" {
		t.Errorf("SelectedConversation() after reorder = %q, want c2", got)
	}
	if got := cl.GetCell(1, 0).Text; got != " * u2 (2)" {
		t.Errorf("name cell = %q, want unread marker with id fallback", got)
	}
}

func TestMessageViewRows(t *testing.T) {
	mv := NewMessageView()
	msgs := []wire.Message{
		{ID: "m1", Sender: wire.Profile{ID: "bob", Name: "Bob"}, Text: "hi"},
		{ID: "m2", Sender: wire.Profile{ID: "alice"}, Text: "hello", Read: true},
	}
	pending := []outbox.Entry{
		{ClientMsgID: "x1", Text: "queued", Status: outbox.StatusPending},
		{ClientMsgID: "x2", Text: "lost", Status: outbox.StatusFailed},
		{ClientMsgID: "x3", Text: "done", Status: outbox.StatusSent},
	}
	mv.Update(msgs, pending, "alice")

	if got := mv.GetRowCount(); got != 4 {
		t.Fatalf("rows = %d, want 4", got)
	}
	if got := mv.GetCell(1, 0).Text; got != " You" {
		t.Errorf("own sender = %q, want You", got)
	}
	if got := mv.GetCell(1, 3).Text; got != " read" {
		t.Errorf("own state = %q, want read", got)
	}
	if got := mv.GetCell(3, 3).Text; got != " failed (r to retry)" {
		t.Errorf("failed state = %q", got)
	}

	if _, ok := mv.SelectedMessage(); ok {
		t.Error("outbox row should not select a stored message")
	}
	mv.Select(0, 0)
	if m, ok := mv.SelectedMessage(); !ok || m.ID != "m1" {
		t.Errorf("SelectedMessage() = %v, %v, want m1", m.ID, ok)
	}
}

func TestStatusBarLine(t *testing.T) {
	sb := NewStatusBar()
	sb.now = func() time.Time { return time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC) }
	sb.SetInstance("main")
	sb.SetUser("alice")
	sb.SetFlash("send failed", model.FlashError)

	want := " [::b]main[-:-:-] | alice | [red]offline[-] | 12:30 | [red]send failed[-]"
	if got := sb.line(); got != want {
		t.Errorf("line() = %q, want %q", got, want)
	}
}
