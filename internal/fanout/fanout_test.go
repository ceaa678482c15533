package fanout

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type recordingLocal struct {
	mu    sync.Mutex
	calls []string
	ch    chan string
}

func newRecordingLocal() *recordingLocal {
	return &recordingLocal{ch: make(chan string, 16)}
}

func (l *recordingLocal) Push(_ context.Context, userID string, payload []byte) {
	l.mu.Lock()
	l.calls = append(l.calls, userID+":"+string(payload))
	l.mu.Unlock()
	l.ch <- userID
}

func TestRelaySkipsOwnOrigin(t *testing.T) {
	local := newRecordingLocal()
	r := newRelay("instance-a", local, nil)

	own, err := encode("instance-a", "bob", []byte(`{"type":"new_message"}`))
	if err != nil {
		t.Fatal(err)
	}
	if r.deliver(context.Background(), own) {
		t.Error("deliver() relayed an envelope from its own origin")
	}

	remote, _ := encode("instance-b", "bob", []byte(`{"type":"new_message"}`))
	if !r.deliver(context.Background(), remote) {
		t.Fatal("deliver() skipped an envelope from another origin")
	}
	if len(local.calls) != 1 || local.calls[0] != `bob:{"type":"new_message"}` {
		t.Errorf("local calls = %v", local.calls)
	}
}

func TestRelayIgnoresMalformed(t *testing.T) {
	local := newRecordingLocal()
	r := newRelay("a", local, nil)
	for _, data := range []string{"not json", `{"origin":"b","payload":{}}`} {
		if r.deliver(context.Background(), []byte(data)) {
			t.Errorf("deliver(%q) = true, want false", data)
		}
	}
	if len(local.calls) != 0 {
		t.Errorf("local calls = %v, want none", local.calls)
	}
}

func TestEncodeRejectsNonJSONPayload(t *testing.T) {
	if _, err := encode("a", "bob", []byte("{")); err == nil {
		t.Error("encode() accepted invalid JSON payload")
	}
}

// TestRedisRelayOutlivesStartContext starts the relay with a context that
// expires right away, the way a bounded lifecycle start hook does, and
// publishes only after it has expired.
func TestRedisRelayOutlivesStartContext(t *testing.T) {
	srv := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer func() { _ = clientA.Close() }()
	defer func() { _ = clientB.Close() }()

	localB := newRecordingLocal()
	a := NewRedis(clientA, "petchat.push", "a", newRecordingLocal(), nil)
	b := NewRedis(clientB, "petchat.push", "b", localB, nil)

	startCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	if err := b.Start(startCtx); err != nil {
		cancel()
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = b.Stop() }()
	<-startCtx.Done()
	cancel()
	time.Sleep(100 * time.Millisecond)

	a.Push(context.Background(), "bob", []byte(`{"type":"new_message"}`))

	select {
	case user := <-localB.ch:
		if user != "bob" {
			t.Errorf("pushed to %s, want bob", user)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("envelope from another instance not delivered after the start context expired")
	}
}

func TestRedisStopEndsRelay(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer func() { _ = client.Close() }()

	r := NewRedis(client, "petchat.push", "a", newRecordingLocal(), nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
}

// TestRedisFanoutAcrossInstances needs a live server; set
// PETCHAT_TEST_REDIS_ADDR to run it.
func TestRedisFanoutAcrossInstances(t *testing.T) {
	addr := os.Getenv("PETCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PETCHAT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()

	channel := "petchat.test." + time.Now().Format("150405.000000")
	localA, localB := newRecordingLocal(), newRecordingLocal()
	a := NewRedis(client, channel, "a", localA, nil)
	b := NewRedis(client, channel, "b", localB, nil)
	for _, f := range []*Redis{a, b} {
		if err := f.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		defer func() { _ = f.Stop() }()
	}

	a.Push(context.Background(), "bob", []byte(`{"type":"new_message"}`))

	for name, l := range map[string]*recordingLocal{"a": localA, "b": localB} {
		select {
		case user := <-l.ch:
			if user != "bob" {
				t.Errorf("instance %s pushed to %s, want bob", name, user)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("instance %s never delivered", name)
		}
	}
	select {
	case <-localA.ch:
		t.Error("instance a delivered its own envelope twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATSFanoutAcrossInstances(t *testing.T) {
	url := os.Getenv("PETCHAT_TEST_NATS_URL")
	if url == "" {
		t.Skip("PETCHAT_TEST_NATS_URL not set")
	}
	nc, err := DialNATS(url, "petchat-test")
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	subject := "petchat.test." + time.Now().Format("150405000000")
	localB := newRecordingLocal()
	a := NewNATS(nc, subject, "a", newRecordingLocal(), nil)
	b := NewNATS(nc, subject, "b", localB, nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Stop() }()
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	a.Push(context.Background(), "bob", []byte(`{"type":"new_message"}`))

	select {
	case user := <-localB.ch:
		if user != "bob" {
			t.Errorf("pushed to %s, want bob", user)
		}
	case <-time.After(2 * time.Second):
		t.Error("remote instance never delivered")
	}
}
