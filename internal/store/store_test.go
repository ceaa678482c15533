package store

import (
	"context"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already migrated; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + unread index)", result.Version)
	}
	if result.Dirty {
		t.Error("schema is dirty after Migrate()")
	}
}

// TestSchemaRejectsUnnormalizedPair verifies the CHECK constraint backing the
// one-conversation-per-pair rule: rows written around InsertConversation
// must still be stored in normalized order.
func TestSchemaRejectsUnnormalizedPair(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`INSERT INTO conversations (id, user_a, user_b, created_at, updated_at) VALUES ('c1', 'zed', 'amy', 0, 0)`)
	if err == nil {
		t.Fatal("insert with user_a > user_b succeeded, want CHECK failure")
	}
}

func TestInsertConversationNormalizes(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	c := &Conversation{ID: "c1", Participants: [2]string{"zed", "amy"}}
	if err := db.InsertConversation(ctx, c); err != nil {
		t.Fatalf("InsertConversation() error = %v", err)
	}
	var a, b string
	if err := db.QueryRow(`SELECT user_a, user_b FROM conversations WHERE id = 'c1'`).Scan(&a, &b); err != nil {
		t.Fatal(err)
	}
	if a != "amy" || b != "zed" {
		t.Errorf("stored pair = (%s, %s), want (amy, zed)", a, b)
	}
}

func TestNormalizePair(t *testing.T) {
	if got := NormalizePair("b", "a"); got != [2]string{"a", "b"} {
		t.Errorf("NormalizePair(b, a) = %v", got)
	}
	if got := PairKey(NormalizePair("x", "w")); got != "w|x" {
		t.Errorf("PairKey() = %q, want w|x", got)
	}
}

func TestConversationHelpers(t *testing.T) {
	c := &Conversation{Participants: [2]string{"a", "b"}}
	if !c.Has("a") || !c.Has("b") || c.Has("c") || c.Has("") {
		t.Error("Has() mismatch")
	}
	if c.Other("a") != "b" || c.Other("b") != "a" {
		t.Error("Other() mismatch")
	}
}
