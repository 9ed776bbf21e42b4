package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/delivery"
	"github.com/parley-chat/parley/internal/gate"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/store"
	"go.uber.org/zap"
)

type testEnv struct {
	db     *store.DB
	bus    *bus.Bus
	reg    *presence.Registry[*delivery.Session]
	router *delivery.Router
	authn  *auth.Authenticator
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	reg := presence.NewRegistry[*delivery.Session](b)
	router := delivery.NewRouter(reg, b, logger)
	router.Start(context.Background())
	t.Cleanup(router.Stop)

	svc := chat.NewService(db, b, logger)
	g := gate.New(db, logger)
	authn := auth.NewAuthenticator("test-secret", time.Hour)

	h := NewHandler(db, svc, g, authn, reg, logger, Options{})
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	return &testEnv{db: db, bus: b, reg: reg, router: router, authn: authn, server: srv}
}

func (e *testEnv) addUser(t *testing.T, name, password string) *store.User {
	t.Helper()
	hash, salt, err := auth.HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	u := &store.User{
		UserName:       name,
		EmailConfirmed: true,
		PasswordHash:   hash,
		PasswordSalt:   salt,
	}
	if err := e.db.CreateUser(u); err != nil {
		t.Fatal(err)
	}
	return u
}

func (e *testEnv) token(t *testing.T, u *store.User) string {
	t.Helper()
	token, err := e.authn.Issue(u.ID, u.UserName)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "alice", "s3cret")

	resp := env.request(t, http.MethodPost, "/account/login", "", loginRequest{
		Username: "alice", Password: "s3cret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decode[loginResponse](t, resp)
	if body.Username != "alice" || body.Token == "" {
		t.Errorf("login response = %+v", body)
	}

	// The token must be accepted by the authenticated surface.
	resp = env.request(t, http.MethodGet, "/messages/unread-count", body.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated request status = %d, want 200", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "alice", "s3cret")

	for _, req := range []loginRequest{
		{Username: "alice", Password: "wrong"},
		{Username: "nobody", Password: "s3cret"},
	} {
		resp := env.request(t, http.MethodPost, "/account/login", "", req)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("login %q/%q status = %d, want 401", req.Username, req.Password, resp.StatusCode)
		}
	}
}

func TestLoginBannedUser(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "alice", "s3cret")
	if _, err := env.db.Exec(
		`UPDATE users SET is_banned = 1, is_permanent_ban = 1, ban_reason = 'spam' WHERE id = ?`, u.ID,
	); err != nil {
		t.Fatal(err)
	}

	resp := env.request(t, http.MethodPost, "/account/login", "", loginRequest{
		Username: "alice", Password: "s3cret",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	body := decode[bannedResponse](t, resp)
	if body.Error != "banned" || !body.IsPermanent || body.Reason != "spam" {
		t.Errorf("banned response = %+v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/messages/conversations", "/messages/unread-count", "/ws"} {
		resp := env.request(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s without token status = %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestMessageFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "alice", "pw")
	bob := env.addUser(t, "bob", "pw")
	aliceTok := env.token(t, alice)
	bobTok := env.token(t, bob)

	// Alice sends two messages to Bob.
	resp := env.request(t, http.MethodPost, "/messages", aliceTok, sendRequest{
		RecipientID: bob.ID, Content: "first",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send status = %d, want 201", resp.StatusCode)
	}
	first := decode[delivery.MessagePayload](t, resp)

	resp = env.request(t, http.MethodPost, "/messages", aliceTok, sendRequest{
		RecipientID: bob.ID, Content: "second",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send status = %d, want 201", resp.StatusCode)
	}

	// Bob's unread count reflects both.
	resp = env.request(t, http.MethodGet, "/messages/unread-count", bobTok, nil)
	counts := decode[map[string]int64](t, resp)
	if counts["unreadCount"] != 2 {
		t.Errorf("unreadCount = %d, want 2", counts["unreadCount"])
	}

	// The thread is visible from both sides, oldest first.
	resp = env.request(t, http.MethodGet, "/messages/"+strconv.FormatInt(alice.ID, 10), bobTok, nil)
	thread := decode[[]delivery.MessagePayload](t, resp)
	if len(thread) != 2 || thread[0].Content != "first" {
		t.Fatalf("thread = %+v", thread)
	}

	// Bob's conversation list has one entry for Alice.
	resp = env.request(t, http.MethodGet, "/messages/conversations", bobTok, nil)
	convs := decode[[]conversationDTO](t, resp)
	if len(convs) != 1 || convs[0].CounterpartID != alice.ID || convs[0].UnreadCount != 2 {
		t.Fatalf("conversations = %+v", convs)
	}
	if convs[0].LastMessage.Content != "second" {
		t.Errorf("last message = %q, want %q", convs[0].LastMessage.Content, "second")
	}

	// Bob marks the first message read; the second stays unread.
	resp = env.request(t, http.MethodPut, "/messages/"+strconv.FormatInt(first.ID, 10)+"/read", bobTok, nil)
	if out := decode[map[string]bool](t, resp); !out["success"] {
		t.Error("mark read reported success=false")
	}
	resp = env.request(t, http.MethodGet, "/messages/unread-count", bobTok, nil)
	counts = decode[map[string]int64](t, resp)
	if counts["unreadCount"] != 1 {
		t.Errorf("unreadCount after read = %d, want 1", counts["unreadCount"])
	}

	// Alice marking Bob's copy read is a no-op.
	resp = env.request(t, http.MethodPut, "/messages/"+strconv.FormatInt(first.ID, 10)+"/read", aliceTok, nil)
	if out := decode[map[string]bool](t, resp); out["success"] {
		t.Error("sender mark read reported success=true")
	}

	// Alice deletes the first message on her side only.
	resp = env.request(t, http.MethodDelete, "/messages/"+strconv.FormatInt(first.ID, 10), aliceTok, nil)
	if out := decode[map[string]bool](t, resp); !out["success"] {
		t.Error("delete reported success=false")
	}
	resp = env.request(t, http.MethodGet, "/messages/"+strconv.FormatInt(bob.ID, 10), aliceTok, nil)
	if thread := decode[[]delivery.MessagePayload](t, resp); len(thread) != 1 {
		t.Errorf("alice thread after delete = %d messages, want 1", len(thread))
	}
}

func TestSendValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "alice", "pw")
	tok := env.token(t, alice)

	tests := []struct {
		name string
		req  sendRequest
		want int
	}{
		{"blank content", sendRequest{RecipientID: alice.ID + 1, Content: "  "}, http.StatusBadRequest},
		{"self message", sendRequest{RecipientID: alice.ID, Content: "hi"}, http.StatusBadRequest},
		{"unknown recipient", sendRequest{RecipientID: 9999, Content: "hi"}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.request(t, http.MethodPost, "/messages", tok, tc.req)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

// dialWS opens a websocket session using the token query parameter and reads
// envelopes until it sees one of the wanted kind.
func dialWS(t *testing.T, env *testEnv, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, env.server.URL+"/ws?access_token="+token, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, kind delivery.Kind) delivery.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var env delivery.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			t.Fatalf("reading until %q: %v", kind, err)
		}
		if env.Kind == kind {
			return env
		}
	}
}

func TestWebsocketDelivery(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addUser(t, "alice", "pw")
	bob := env.addUser(t, "bob", "pw")
	aliceTok := env.token(t, alice)
	bobTok := env.token(t, bob)

	aliceConn := dialWS(t, env, aliceTok)
	bobConn := dialWS(t, env, bobTok)

	// Both ends see presence updates for the later arrival.
	readUntil(t, aliceConn, delivery.KindUserOnline)

	resp := env.request(t, http.MethodPost, "/messages", aliceTok, sendRequest{
		RecipientID: bob.ID, Content: "hello over the wire",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send status = %d", resp.StatusCode)
	}

	got := readUntil(t, bobConn, delivery.KindReceiveMessage)
	payload, err := json.Marshal(got.Payload)
	if err != nil {
		t.Fatal(err)
	}
	var m delivery.MessagePayload
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatal(err)
	}
	if m.Content != "hello over the wire" || m.SenderID != alice.ID {
		t.Errorf("delivered message = %+v", m)
	}

	// The sender gets a confirmation, not an echo of ReceiveMessage.
	readUntil(t, aliceConn, delivery.KindMessageSent)

	// Typing frames flow from Bob to Alice.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, bobConn, clientFrame{Kind: "typing", RecipientID: alice.ID}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, aliceConn, delivery.KindUserTyping)
}

func TestWebsocketBannedUserRefused(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, "alice", "pw")
	tok := env.token(t, u)
	if _, err := env.db.Exec(
		`UPDATE users SET is_banned = 1, is_permanent_ban = 1 WHERE id = ?`, u.ID,
	); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, env.server.URL+"/ws?access_token="+tok, nil)
	if err == nil {
		t.Fatal("dial succeeded for a banned user")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}
