package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/golang-jwt/jwt/v5"
	"github.com/petadopt/petchat/internal/auth"
	"github.com/petadopt/petchat/internal/bus"
	"github.com/petadopt/petchat/internal/messaging"
	"github.com/petadopt/petchat/internal/store"
	"github.com/petadopt/petchat/internal/wire"
	"go.uber.org/zap/zaptest"
)

const testSecret = "http-test-secret"

type testAPI struct {
	router *gin.Engine
	db     *store.DB
	tokens map[string]string
}

func newTestAPI(t *testing.T, opts Options) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	tokens := make(map[string]string)
	for _, p := range []store.Profile{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}, {ID: "carol", Name: "Carol"}} {
		if err := db.UpsertProfile(context.Background(), &p); err != nil {
			t.Fatal(err)
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": p.ID,
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatal(err)
		}
		tokens[p.ID] = tok
	}

	verifier, err := auth.NewVerifier(testSecret, "")
	if err != nil {
		t.Fatal(err)
	}
	logger := zaptest.NewLogger(t)
	b := bus.New()
	router := NewRouter(Deps{
		Conversations: messaging.NewConversationService(db, nil, b, logger, messaging.Options{}),
		Messages:      messaging.NewMessageService(db, nil, b, logger, messaging.Options{}),
		Verifier:      verifier,
		Health:        db,
		Logger:        logger,
	}, opts)
	return &testAPI{router: router, db: db, tokens: tokens}
}

func (a *testAPI) do(t *testing.T, user, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[user])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func (a *testAPI) conversation(t *testing.T, user, other string) wire.Conversation {
	t.Helper()
	rec := a.do(t, user, http.MethodPost, "/api/conversations", `{"otherUserId":"`+other+`"}`)
	if rec.Code != http.StatusCreated && rec.Code != http.StatusOK {
		t.Fatalf("create conversation = %d %s", rec.Code, rec.Body.String())
	}
	return decode[wire.Conversation](t, rec)
}

func TestRequiresToken(t *testing.T) {
	api := newTestAPI(t, Options{})
	if rec := api.do(t, "", http.MethodGet, "/api/conversations", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("GET /api/conversations without token = %d, want 401", rec.Code)
	}
}

func TestCreateConversationStatus(t *testing.T) {
	api := newTestAPI(t, Options{})

	rec := api.do(t, "alice", http.MethodPost, "/api/conversations", `{"otherUserId":"bob"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first create = %d, want 201", rec.Code)
	}
	first := decode[wire.Conversation](t, rec)
	if first.OtherParticipant.ID != "bob" || first.OtherParticipant.Name != "Bob" {
		t.Errorf("OtherParticipant = %+v, want bob", first.OtherParticipant)
	}
	if first.LastMessage != nil {
		t.Errorf("LastMessage = %+v, want null", first.LastMessage)
	}

	rec = api.do(t, "bob", http.MethodPost, "/api/conversations", `{"otherUserId":"alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("second create = %d, want 200", rec.Code)
	}
	if second := decode[wire.Conversation](t, rec); second.ID != first.ID {
		t.Errorf("reverse create id = %s, want %s", second.ID, first.ID)
	}
}

func TestCreateConversationValidation(t *testing.T) {
	api := newTestAPI(t, Options{})
	tests := []struct {
		name string
		body string
	}{
		{"self", `{"otherUserId":"alice"}`},
		{"empty", `{"otherUserId":""}`},
		{"unknown field", `{"otherUserId":"bob","admin":true}`},
		{"malformed", `{"otherUserId":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, "alice", http.MethodPost, "/api/conversations", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if msg := decode[wire.ErrorResponse](t, rec).Msg; msg == "" {
				t.Error("error body should carry msg")
			}
		})
	}
}

// TestStrictBodiesAreLocal checks that rejecting unknown fields does not
// leak into gin's process-wide binding settings.
func TestStrictBodiesAreLocal(t *testing.T) {
	api := newTestAPI(t, Options{})
	if binding.EnableDecoderDisallowUnknownFields {
		t.Error("NewRouter() enabled the global EnableDecoderDisallowUnknownFields")
	}
	rec := api.do(t, "alice", http.MethodPost, "/api/conversations", `{"otherUserId":"bob","admin":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", rec.Code)
	}
}

func TestSendAndListMessages(t *testing.T) {
	api := newTestAPI(t, Options{})
	conv := api.conversation(t, "alice", "bob")
	base := "/api/conversations/" + conv.ID

	rec := api.do(t, "alice", http.MethodPost, base+"/messages", `{"text":"  hello  ","clientMsgId":"c-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send = %d %s", rec.Code, rec.Body.String())
	}
	sent := decode[wire.Message](t, rec)
	if sent.Text != "hello" || sent.Sender.ID != "alice" {
		t.Errorf("sent = %+v, want trimmed text from alice", sent)
	}

	rec = api.do(t, "alice", http.MethodPost, base+"/messages", `{"text":"hello","clientMsgId":"c-1"}`)
	if again := decode[wire.Message](t, rec); again.ID != sent.ID {
		t.Errorf("retry with same clientMsgId id = %s, want %s", again.ID, sent.ID)
	}

	api.do(t, "bob", http.MethodPost, base+"/messages", `{"text":"hi"}`)

	rec = api.do(t, "bob", http.MethodGet, base+"/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	msgs := decode[[]wire.Message](t, rec)
	if len(msgs) != 2 || msgs[0].Text != "hello" || msgs[1].Text != "hi" {
		t.Errorf("messages = %+v, want [hello hi]", msgs)
	}

	rec = api.do(t, "alice", http.MethodGet, "/api/conversations", "")
	list := decode[[]wire.Conversation](t, rec)
	if len(list) != 1 || list[0].LastMessage == nil || list[0].LastMessage.Text != "hi" {
		t.Fatalf("conversations = %+v, want one with last message hi", list)
	}
	if list[0].UnreadCount != 1 {
		t.Errorf("alice unread = %d, want 1", list[0].UnreadCount)
	}
}

func TestSendValidation(t *testing.T) {
	api := newTestAPI(t, Options{})
	conv := api.conversation(t, "alice", "bob")
	path := "/api/conversations/" + conv.ID + "/messages"

	tests := []struct {
		name string
		user string
		path string
		body string
		want int
	}{
		{"whitespace", "alice", path, `{"text":"   "}`, http.StatusBadRequest},
		{"too long", "alice", path, `{"text":"` + strings.Repeat("a", 2001) + `"}`, http.StatusBadRequest},
		{"unknown field", "alice", path, `{"text":"x","conversationId":"other"}`, http.StatusBadRequest},
		{"outsider", "carol", path, `{"text":"x"}`, http.StatusForbidden},
		{"missing conversation", "alice", "/api/conversations/nope/messages", `{"text":"x"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := api.do(t, tt.user, http.MethodPost, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestAccessControl(t *testing.T) {
	api := newTestAPI(t, Options{})
	conv := api.conversation(t, "alice", "bob")
	base := "/api/conversations/" + conv.ID

	tests := []struct {
		method, path string
	}{
		{http.MethodGet, base},
		{http.MethodGet, base + "/messages"},
		{http.MethodPost, base + "/read"},
		{http.MethodDelete, base},
	}
	for _, tt := range tests {
		if rec := api.do(t, "carol", tt.method, tt.path, ""); rec.Code != http.StatusForbidden {
			t.Errorf("%s %s as outsider = %d, want 403", tt.method, tt.path, rec.Code)
		}
		if rec := api.do(t, "carol", tt.method, "/api/conversations/missing"+strings.TrimPrefix(tt.path, base), ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s on missing conversation = %d, want 404", tt.method, rec.Code)
		}
	}
}

func TestDeleteMessageRoute(t *testing.T) {
	api := newTestAPI(t, Options{})
	conv := api.conversation(t, "alice", "bob")
	base := "/api/conversations/" + conv.ID

	first := decode[wire.Message](t, api.do(t, "alice", http.MethodPost, base+"/messages", `{"text":"one"}`))
	second := decode[wire.Message](t, api.do(t, "alice", http.MethodPost, base+"/messages", `{"text":"two"}`))

	if rec := api.do(t, "bob", http.MethodDelete, "/api/conversations/messages/"+second.ID, ""); rec.Code != http.StatusForbidden {
		t.Errorf("delete by non-sender = %d, want 403", rec.Code)
	}
	if rec := api.do(t, "alice", http.MethodDelete, "/api/conversations/messages/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("delete missing = %d, want 404", rec.Code)
	}
	if rec := api.do(t, "alice", http.MethodDelete, "/api/conversations/messages/"+second.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete = %d %s", rec.Code, rec.Body.String())
	}

	got := decode[wire.Conversation](t, api.do(t, "bob", http.MethodGet, base, ""))
	if got.LastMessage == nil || got.LastMessage.ID != first.ID {
		t.Errorf("LastMessage after delete = %+v, want %s", got.LastMessage, first.ID)
	}
}

func TestDeleteConversationRoute(t *testing.T) {
	api := newTestAPI(t, Options{})
	conv := api.conversation(t, "alice", "bob")
	base := "/api/conversations/" + conv.ID
	api.do(t, "alice", http.MethodPost, base+"/messages", `{"text":"one"}`)

	if rec := api.do(t, "bob", http.MethodDelete, base, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete conversation = %d", rec.Code)
	}
	if rec := api.do(t, "alice", http.MethodGet, base+"/messages", ""); rec.Code != http.StatusNotFound {
		t.Errorf("list after delete = %d, want 404", rec.Code)
	}
	if list := decode[[]wire.Conversation](t, api.do(t, "alice", http.MethodGet, "/api/conversations", "")); len(list) != 0 {
		t.Errorf("conversations after delete = %d, want 0", len(list))
	}
}

func TestMarkReadRoute(t *testing.T) {
	api := newTestAPI(t, Options{})
	conv := api.conversation(t, "alice", "bob")
	base := "/api/conversations/" + conv.ID
	api.do(t, "alice", http.MethodPost, base+"/messages", `{"text":"one"}`)
	api.do(t, "alice", http.MethodPost, base+"/messages", `{"text":"two"}`)

	rec := api.do(t, "bob", http.MethodPost, base+"/read", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read = %d", rec.Code)
	}
	if got := decode[wire.MarkReadResponse](t, rec).Updated; got != 2 {
		t.Errorf("Updated = %d, want 2", got)
	}
	if got := decode[wire.Conversation](t, api.do(t, "bob", http.MethodGet, base, "")).UnreadCount; got != 0 {
		t.Errorf("UnreadCount = %d, want 0", got)
	}
}

func TestSendRateLimited(t *testing.T) {
	api := newTestAPI(t, Options{SendPerSecond: 0.001, SendBurst: 2})
	conv := api.conversation(t, "alice", "bob")
	path := "/api/conversations/" + conv.ID + "/messages"

	for i := range 2 {
		if rec := api.do(t, "alice", http.MethodPost, path, `{"text":"x"}`); rec.Code != http.StatusCreated {
			t.Fatalf("send %d = %d, want 201", i, rec.Code)
		}
	}
	if rec := api.do(t, "alice", http.MethodPost, path, `{"text":"x"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("third send = %d, want 429", rec.Code)
	}
	if rec := api.do(t, "bob", http.MethodPost, path, `{"text":"x"}`); rec.Code != http.StatusCreated {
		t.Errorf("other user's send = %d, want 201", rec.Code)
	}
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, Options{})
	if rec := api.do(t, "", http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}

	gin.SetMode(gin.TestMode)
	r := NewRouter(Deps{Health: downPinger{}, Logger: zaptest.NewLogger(t), Verifier: &auth.Verifier{}}, Options{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("healthz with failing store = %d, want 503", rec.Code)
	}
}

func TestFailMapsUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &handlers{logger: zaptest.NewLogger(t)}
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	h.fail(c, errors.Join(messaging.ErrUnavailable, errors.New("disk I/O error")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "disk") {
		t.Errorf("body leaks internals: %s", rec.Body.String())
	}
}
