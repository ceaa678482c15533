// Package storetest holds a behavioral test suite shared by every
// store.Store implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/petadopt/petchat/internal/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

var base = time.UnixMilli(1_700_000_000_000).UTC()

func at(offsetMs int64) time.Time {
	return base.Add(time.Duration(offsetMs) * time.Millisecond)
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"ConversationRoundTrip", testConversationRoundTrip},
		{"PairIsUnique", testPairIsUnique},
		{"ConcurrentCreateSamePair", testConcurrentCreateSamePair},
		{"ListConversationsOrder", testListConversationsOrder},
		{"MessageOrdering", testMessageOrdering},
		{"ClientTokenDedup", testClientTokenDedup},
		{"InsertIntoMissingConversation", testInsertIntoMissingConversation},
		{"AdvanceLastMessageMonotonic", testAdvanceLastMessageMonotonic},
		{"SwapLastMessage", testSwapLastMessage},
		{"LatestMessage", testLatestMessage},
		{"DeleteMessage", testDeleteMessage},
		{"DeleteConversationCascades", testDeleteConversationCascades},
		{"InsertRacingConversationDelete", testInsertRacingConversationDelete},
		{"MarkReadAndCountUnread", testMarkReadAndCountUnread},
		{"Profiles", testProfiles},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func mustConversation(t *testing.T, s store.Store, id, a, b string, created time.Time) *store.Conversation {
	t.Helper()
	c := &store.Conversation{ID: id, Participants: [2]string{a, b}, CreatedAt: created, UpdatedAt: created}
	if err := s.InsertConversation(context.Background(), c); err != nil {
		t.Fatalf("InsertConversation(%s) error = %v", id, err)
	}
	return c
}

func mustMessage(t *testing.T, s store.Store, id, convID, sender, text string, created time.Time) *store.Message {
	t.Helper()
	m := &store.Message{ID: id, ConversationID: convID, SenderID: sender, Text: text, CreatedAt: created}
	if err := s.InsertMessage(context.Background(), m); err != nil {
		t.Fatalf("InsertMessage(%s) error = %v", id, err)
	}
	return m
}

func testConversationRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := mustConversation(t, s, "c1", "zoe", "adam", at(0))
	if c.Participants != [2]string{"adam", "zoe"} {
		t.Errorf("Participants = %v, want normalized [adam zoe]", c.Participants)
	}

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if got.Participants != [2]string{"adam", "zoe"} || got.LastMessageID != "" {
		t.Errorf("GetConversation() = %+v", got)
	}
	if !got.CreatedAt.Equal(at(0)) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, at(0))
	}

	for _, pair := range [][2]string{{"adam", "zoe"}, {"zoe", "adam"}} {
		got, err := s.FindConversationByPair(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("FindConversationByPair(%v) error = %v", pair, err)
		}
		if got.ID != "c1" {
			t.Errorf("FindConversationByPair(%v) = %s, want c1", pair, got.ID)
		}
	}

	if _, err := s.GetConversation(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetConversation(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.FindConversationByPair(ctx, "adam", "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FindConversationByPair(missing) error = %v, want ErrNotFound", err)
	}
}

func testPairIsUnique(t *testing.T, s store.Store) {
	mustConversation(t, s, "c1", "a", "b", at(0))
	dup := &store.Conversation{ID: "c2", Participants: [2]string{"b", "a"}, CreatedAt: at(1), UpdatedAt: at(1)}
	if err := s.InsertConversation(context.Background(), dup); !errors.Is(err, store.ErrConflict) {
		t.Errorf("InsertConversation(reversed pair) error = %v, want ErrConflict", err)
	}
}

// testConcurrentCreateSamePair races inserts for one pair; the unique
// constraint must let exactly one through.
func testConcurrentCreateSamePair(t *testing.T, s store.Store) {
	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
		other     []error
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, b := "u1", "u2"
			if i%2 == 1 {
				a, b = b, a
			}
			c := &store.Conversation{ID: fmt.Sprintf("c%d", i), Participants: [2]string{a, b}, CreatedAt: at(0), UpdatedAt: at(0)}
			err := s.InsertConversation(context.Background(), c)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if ok != 1 || conflicts != n-1 {
		t.Errorf("ok = %d, conflicts = %d, want 1 and %d", ok, conflicts, n-1)
	}
	convs, err := s.ListConversationsForUser(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Errorf("got %d conversations for pair, want 1", len(convs))
	}
}

func testListConversationsOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustConversation(t, s, "c1", "me", "u1", at(0))
	mustConversation(t, s, "c2", "me", "u2", at(10))
	mustConversation(t, s, "c3", "u1", "u2", at(20))

	m := mustMessage(t, s, "m1", "c1", "u1", "hi", at(30))
	if err := s.AdvanceLastMessage(ctx, "c1", m); err != nil {
		t.Fatal(err)
	}

	convs, err := s.ListConversationsForUser(ctx, "me")
	if err != nil {
		t.Fatalf("ListConversationsForUser() error = %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	if convs[0].ID != "c1" || convs[1].ID != "c2" {
		t.Errorf("order = [%s %s], want [c1 c2]", convs[0].ID, convs[1].ID)
	}
	if convs[0].LastMessageID != "m1" || !convs[0].UpdatedAt.Equal(at(30)) {
		t.Errorf("c1 = %+v, want last m1 updated %v", convs[0], at(30))
	}

	none, err := s.ListConversationsForUser(ctx, "stranger")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("stranger has %d conversations, want 0", len(none))
	}
}

func testMessageOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustConversation(t, s, "c1", "a", "b", at(0))
	// Inserted out of order; two share a timestamp and tie-break on id.
	mustMessage(t, s, "m3", "c1", "a", "third", at(20))
	mustMessage(t, s, "m1", "c1", "b", "first", at(10))
	mustMessage(t, s, "m2b", "c1", "a", "second-b", at(15))
	mustMessage(t, s, "m2a", "c1", "b", "second-a", at(15))

	msgs, err := s.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	want := []string{"m1", "m2a", "m2b", "m3"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("msgs[%d] = %s, want %s", i, msgs[i].ID, id)
		}
	}
	if msgs[0].Text != "first" || msgs[0].SenderID != "b" || msgs[0].Read {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}

	got, err := s.GetMessages(ctx, []string{"m1", "m3", "nope"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["m3"].Text != "third" {
		t.Errorf("GetMessages() = %v", got)
	}
}

func testClientTokenDedup(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustConversation(t, s, "c1", "a", "b", at(0))
	first := &store.Message{ID: "m1", ConversationID: "c1", SenderID: "a", Text: "hi", ClientMsgID: "tok", CreatedAt: at(1)}
	if err := s.InsertMessage(ctx, first); err != nil {
		t.Fatal(err)
	}
	retry := &store.Message{ID: "m2", ConversationID: "c1", SenderID: "a", Text: "hi", ClientMsgID: "tok", CreatedAt: at(2)}
	if err := s.InsertMessage(ctx, retry); !errors.Is(err, store.ErrConflict) {
		t.Errorf("InsertMessage(same token) error = %v, want ErrConflict", err)
	}
	// Same token from the other participant is a different message.
	other := &store.Message{ID: "m3", ConversationID: "c1", SenderID: "b", Text: "hey", ClientMsgID: "tok", CreatedAt: at(3)}
	if err := s.InsertMessage(ctx, other); err != nil {
		t.Errorf("InsertMessage(other sender) error = %v", err)
	}
	// Messages without a token never collide.
	mustMessage(t, s, "m4", "c1", "a", "x", at(4))
	mustMessage(t, s, "m5", "c1", "a", "y", at(5))

	got, err := s.FindMessageByClientID(ctx, "c1", "a", "tok")
	if err != nil {
		t.Fatalf("FindMessageByClientID() error = %v", err)
	}
	if got.ID != "m1" || got.ClientMsgID != "tok" {
		t.Errorf("FindMessageByClientID() = %+v, want m1", got)
	}
	if _, err := s.FindMessageByClientID(ctx, "c1", "a", "other"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FindMessageByClientID(unknown) error = %v, want ErrNotFound", err)
	}
}

func testInsertIntoMissingConversation(t *testing.T, s store.Store) {
	m := &store.Message{ID: "m1", ConversationID: "ghost", SenderID: "a", Text: "hi", CreatedAt: at(0)}
	if err := s.InsertMessage(context.Background(), m); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("InsertMessage(missing conversation) error = %v, want ErrNotFound", err)
	}
}

func testAdvanceLastMessageMonotonic(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustConversation(t, s, "c1", "a", "b", at(0))
	newer := mustMessage(t, s, "m2", "c1", "a", "newer", at(20))
	older := mustMessage(t, s, "m1", "c1", "b", "older", at(10))
	tieLow := mustMessage(t, s, "m0", "c1", "b", "tie", at(20))

	if err := s.AdvanceLastMessage(ctx, "c1", newer); err != nil {
		t.Fatal(err)
	}
	// Arriving late must not move the pointer backwards.
	if err := s.AdvanceLastMessage(ctx, "c1", older); err != nil {
		t.Fatal(err)
	}
	if err := s.AdvanceLastMessage(ctx, "c1", tieLow); err != nil {
		t.Fatal(err)
	}

	c, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessageID != "m2" || !c.UpdatedAt.Equal(at(20)) {
		t.Errorf("conversation = %+v, want last m2 at %v", c, at(20))
	}

	tieHigh := mustMessage(t, s, "m9", "c1", "a", "tie-high", at(20))
	if err := s.AdvanceLastMessage(ctx, "c1", tieHigh); err != nil {
		t.Fatal(err)
	}
	c, _ = s.GetConversation(ctx, "c1")
	if c.LastMessageID != "m9" {
		t.Errorf("LastMessageID = %s, want m9", c.LastMessageID)
	}
}

func testSwapLastMessage(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustConversation(t, s, "c1", "a", "b", at(0))
	m := mustMessage(t, s, "m1", "c1", "a", "hi", at(1))
	if err := s.AdvanceLastMessage(ctx, "c1", m); err != nil {
		t.Fatal(err)
	}

	swapped, err := s.SwapLastMessage(ctx, "c1", "stale", "")
	if err != nil {
		t.Fatal(err)
	}
	if swapped {
		t.Error("SwapLastMessage(stale expected) swapped, want no-op")
	}

	swapped, err = s.SwapLastMessage(ctx, "c1", "m1", "")
	if err != nil {
		t.Fatal(err)
	}
	if !swapped {
		t.Fatal("SwapLastMessage(m1 -> null) did not swap")
	}
	c, _ := s.GetConversation(ctx, "c1")
	if c.LastMessageID != "" {
		t.Errorf("LastMessageID = %q, want empty", c.LastMessageID)
	}

	swapped, err = s.SwapLastMessage(ctx, "c1", "", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if !swapped {
		t.Error("SwapLastMessage(null -> m1) did not swap")
	}
}

func testLatestMessage(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustConversation(t, s, "c1", "a", "b", at(0))
	if _, err := s.LatestMessage(ctx, "c1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LatestMessage(empty) error = %v, want ErrNotFound", err)
	}
	mustMessage(t, s, "m1", "c1", "a", "one", at(1))
	mustMessage(t, s, "m3", "c1", "a", "three", at(3))
	mustMessage(t, s, "m2", "c1", "a", "two", at(2))

	m, err := s.LatestMessage(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != "m3" {
		t.Errorf("LatestMessage() = %s, want m3", m.ID)
	}
}

func testDeleteMessage(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustConversation(t, s, "c1", "a", "b", at(0))
	mustMessage(t, s, "m1", "c1", "a", "one", at(1))

	if err := s.DeleteMessage(ctx, "m1"); err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
	if _, err := s.GetMessage(ctx, "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetMessage(deleted) error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteMessage(ctx, "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteMessage() error = %v, want ErrNotFound", err)
	}
}

func testDeleteConversationCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustConversation(t, s, "c1", "a", "b", at(0))
	mustConversation(t, s, "c2", "a", "c", at(0))
	mustMessage(t, s, "m1", "c1", "a", "one", at(1))
	mustMessage(t, s, "m2", "c1", "b", "two", at(2))
	mustMessage(t, s, "m3", "c2", "a", "keep", at(3))

	if err := s.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatalf("DeleteConversation() error = %v", err)
	}
	if _, err := s.GetConversation(ctx, "c1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetConversation(deleted) error = %v, want ErrNotFound", err)
	}
	msgs, err := s.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d orphaned messages, want 0", len(msgs))
	}
	if _, err := s.GetMessage(ctx, "m3"); err != nil {
		t.Errorf("message of other conversation was removed: %v", err)
	}
	if err := s.DeleteConversation(ctx, "c1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteConversation() error = %v, want ErrNotFound", err)
	}
	// The pair is free again.
	mustConversation(t, s, "c3", "b", "a", at(5))
}

// testInsertRacingConversationDelete sends into a conversation while it is
// deleted. Every insert either succeeds before the delete or reports
// ErrNotFound, and no message outlives the conversation.
func testInsertRacingConversationDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	const rounds, senders, perSender = 5, 4, 10

	for r := range rounds {
		convID := fmt.Sprintf("race%d", r)
		mustConversation(t, s, convID, "a", "b", at(0))

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			other []error
		)
		start := make(chan struct{})
		for g := range senders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for i := range perSender {
					m := &store.Message{
						ID:             fmt.Sprintf("%s-m%d-%d", convID, g, i),
						ConversationID: convID,
						SenderID:       "a",
						Text:           "hi",
						CreatedAt:      at(int64(i + 1)),
					}
					err := s.InsertMessage(ctx, m)
					if err != nil && !errors.Is(err, store.ErrNotFound) {
						mu.Lock()
						other = append(other, err)
						mu.Unlock()
					}
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := s.DeleteConversation(ctx, convID); err != nil {
				mu.Lock()
				other = append(other, err)
				mu.Unlock()
			}
		}()
		close(start)
		wg.Wait()

		if len(other) > 0 {
			t.Fatalf("round %d: unexpected errors: %v", r, other)
		}
		msgs, err := s.ListMessages(ctx, convID)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 0 {
			t.Errorf("round %d: %d messages outlived their conversation", r, len(msgs))
		}
	}
}

func testMarkReadAndCountUnread(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustConversation(t, s, "c1", "a", "b", at(0))
	mustConversation(t, s, "c2", "a", "c", at(0))
	mustMessage(t, s, "m1", "c1", "b", "one", at(1))
	mustMessage(t, s, "m2", "c1", "b", "two", at(2))
	mustMessage(t, s, "m3", "c1", "a", "mine", at(3))
	mustMessage(t, s, "m4", "c2", "c", "hey", at(4))

	unread, err := s.CountUnread(ctx, "a", []string{"c1", "c2"})
	if err != nil {
		t.Fatalf("CountUnread() error = %v", err)
	}
	if unread["c1"] != 2 || unread["c2"] != 1 {
		t.Errorf("CountUnread() = %v, want c1:2 c2:1", unread)
	}

	n, err := s.MarkRead(ctx, "c1", "a")
	if err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if n != 2 {
		t.Errorf("MarkRead() = %d, want 2", n)
	}
	n, err = s.MarkRead(ctx, "c1", "a")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second MarkRead() = %d, want 0", n)
	}

	m3, err := s.GetMessage(ctx, "m3")
	if err != nil {
		t.Fatal(err)
	}
	if m3.Read {
		t.Error("reader's own message was marked read")
	}
	unread, _ = s.CountUnread(ctx, "a", []string{"c1", "c2"})
	if unread["c1"] != 0 || unread["c2"] != 1 {
		t.Errorf("CountUnread() after MarkRead = %v, want c1:0 c2:1", unread)
	}
}

func testProfiles(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.UpsertProfile(ctx, &store.Profile{ID: "u1", Name: "Ana", Email: "ana@example.com", ProfilePicture: "a.png"}); err != nil {
		t.Fatalf("UpsertProfile() error = %v", err)
	}
	// Partial update keeps the fields it does not carry.
	if err := s.UpsertProfile(ctx, &store.Profile{ID: "u1", Name: "Ana B"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertProfile(ctx, &store.Profile{ID: "u2"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetProfiles(ctx, []string{"u1", "u2", "ghost"})
	if err != nil {
		t.Fatalf("GetProfiles() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetProfiles() returned %d profiles, want 2", len(got))
	}
	want := store.Profile{ID: "u1", Name: "Ana B", Email: "ana@example.com", ProfilePicture: "a.png"}
	if got["u1"] != want {
		t.Errorf("u1 = %+v, want %+v", got["u1"], want)
	}
	if empty, err := s.GetProfiles(ctx, nil); err != nil || len(empty) != 0 {
		t.Errorf("GetProfiles(nil) = %v, %v", empty, err)
	}
}
