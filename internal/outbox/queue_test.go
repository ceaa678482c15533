package outbox

import (
	"errors"
	"testing"
	"time"
)

func TestQueueLifecycle(t *testing.T) {
	q := NewQueue()
	a := q.Enqueue("c1", "one")
	b := q.Enqueue("c1", "two")
	q.Enqueue("c2", "other")

	if a.ClientMsgID == "" || a.ClientMsgID == b.ClientMsgID {
		t.Fatalf("client tokens = %q, %q; want distinct non-empty", a.ClientMsgID, b.ClientMsgID)
	}

	due := q.Due()
	if len(due) != 3 || due[0].ClientMsgID != a.ClientMsgID {
		t.Fatalf("Due() = %d entries, want 3 oldest first", len(due))
	}
	if again := q.Due(); len(again) != 0 {
		t.Errorf("second Due() = %d entries, want 0 while sending", len(again))
	}

	q.Sent(a.ClientMsgID)
	q.Fail(b.ClientMsgID, errors.New("forbidden"))

	entries := q.ForConversation("c1")
	if len(entries) != 1 || entries[0].Status != StatusFailed || entries[0].Error != "forbidden" {
		t.Fatalf("ForConversation(c1) = %+v, want one failed entry", entries)
	}

	if err := q.Retry(b.ClientMsgID); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	due = q.Due()
	if len(due) != 1 || due[0].ClientMsgID != b.ClientMsgID || due[0].Attempts != 1 {
		t.Errorf("Due() after retry = %+v, want b with attempt 1", due)
	}
}

func TestQueueRequeueWaitsForRetryTime(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	q := NewQueue()
	q.now = func() time.Time { return now }

	e := q.Enqueue("c1", "x")
	q.Due()
	q.Requeue(e.ClientMsgID, errors.New("unavailable"), now.Add(time.Second))

	if due := q.Due(); len(due) != 0 {
		t.Errorf("Due() before retry time = %d entries, want 0", len(due))
	}
	now = now.Add(time.Second)
	if due := q.Due(); len(due) != 1 || due[0].Attempts != 2 {
		t.Errorf("Due() at retry time = %+v, want one entry on attempt 2", due)
	}
}

func TestQueueRetryRejectsNonFailed(t *testing.T) {
	q := NewQueue()
	e := q.Enqueue("c1", "x")
	if err := q.Retry(e.ClientMsgID); err == nil {
		t.Error("Retry() of a pending entry should fail")
	}
	if err := q.Retry("missing"); err == nil {
		t.Error("Retry() of an unknown entry should fail")
	}
}

func TestQueueDiscard(t *testing.T) {
	q := NewQueue()
	e := q.Enqueue("c1", "x")
	q.Due()
	q.Fail(e.ClientMsgID, errors.New("nope"))
	q.Discard(e.ClientMsgID)
	if _, ok := q.LastFailed("c1"); ok {
		t.Error("LastFailed() found a discarded entry")
	}
}
