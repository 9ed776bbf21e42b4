package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/store"
	"go.uber.org/zap"
)

func testRouter(t *testing.T) (*Router, *presence.Registry[*Session], *bus.Bus) {
	t.Helper()
	b := bus.New()
	reg := presence.NewRegistry[*Session](b)
	return NewRouter(reg, b, zap.NewNop()), reg, b
}

func recvEnvelope(t *testing.T, s *Session) Envelope {
	t.Helper()
	select {
	case env := <-s.Outbound():
		return env
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for envelope")
		return Envelope{}
	}
}

func assertNoEnvelope(t *testing.T, s *Session) {
	t.Helper()
	select {
	case env := <-s.Outbound():
		t.Fatalf("unexpected envelope: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMessageFanOutToEverySession(t *testing.T) {
	router, reg, _ := testRouter(t)

	// B holds two session handles; A holds one.
	a := NewSession(1, 8)
	b1 := NewSession(2, 8)
	b2 := NewSession(2, 8)
	reg.Connect(1, a)
	reg.Connect(2, b1)
	reg.Connect(2, b2)

	m := &store.Message{ID: 10, SenderID: 1, RecipientID: 2, SenderName: "a", RecipientName: "b", Content: "hi", SentAt: 1000}
	router.handleChatEvent(bus.Event{Kind: chat.EventMessageSent, Payload: m})

	for _, s := range []*Session{b1, b2} {
		env := recvEnvelope(t, s)
		if env.Kind != KindReceiveMessage {
			t.Errorf("kind = %q, want ReceiveMessage", env.Kind)
		}
		p := env.Payload.(MessagePayload)
		if p.ID != 10 || p.SenderID != 1 || p.Content != "hi" || p.ReadAt != nil {
			t.Errorf("payload = %+v", p)
		}
	}

	// The sender gets the confirmation envelope, never a ReceiveMessage echo.
	env := recvEnvelope(t, a)
	if env.Kind != KindMessageSent {
		t.Errorf("sender kind = %q, want MessageSent", env.Kind)
	}
	assertNoEnvelope(t, a)
}

func TestOfflineRecipientIsDropped(t *testing.T) {
	router, reg, _ := testRouter(t)
	a := NewSession(1, 8)
	reg.Connect(1, a)

	m := &store.Message{ID: 1, SenderID: 1, RecipientID: 2, Content: "hi", SentAt: 1}
	router.handleChatEvent(bus.Event{Kind: chat.EventMessageSent, Payload: m})

	// No queueing for user 2; only the sender confirmation exists.
	env := recvEnvelope(t, a)
	if env.Kind != KindMessageSent {
		t.Errorf("kind = %q, want MessageSent", env.Kind)
	}
}

func TestReadReceiptGoesToSenderOnly(t *testing.T) {
	router, reg, _ := testRouter(t)
	sender := NewSession(1, 8)
	reader := NewSession(2, 8)
	reg.Connect(1, sender)
	reg.Connect(2, reader)

	router.handleChatEvent(bus.Event{
		Kind:    chat.EventMessageRead,
		Payload: chat.ReadReceipt{MessageID: 42, ReaderID: 2, SenderID: 1},
	})

	env := recvEnvelope(t, sender)
	if env.Kind != KindMessageRead {
		t.Errorf("kind = %q, want MessageRead", env.Kind)
	}
	p := env.Payload.(ReadPayload)
	if p.MessageID != 42 || p.ReaderUserID != 2 {
		t.Errorf("payload = %+v", p)
	}
	assertNoEnvelope(t, reader)
}

func TestTypingSignals(t *testing.T) {
	router, reg, _ := testRouter(t)
	recipient := NewSession(2, 8)
	reg.Connect(2, recipient)

	router.handleChatEvent(bus.Event{Kind: chat.EventTyping, Payload: chat.TypingSignal{SenderID: 1, RecipientID: 2}})
	router.handleChatEvent(bus.Event{Kind: chat.EventStopTyping, Payload: chat.TypingSignal{SenderID: 1, RecipientID: 2}})

	env := recvEnvelope(t, recipient)
	if env.Kind != KindUserTyping {
		t.Errorf("kind = %q, want UserTyping", env.Kind)
	}
	env = recvEnvelope(t, recipient)
	if env.Kind != KindUserStoppedTyping {
		t.Errorf("kind = %q, want UserStoppedTyping", env.Kind)
	}
	if p := env.Payload.(TypingPayload); p.SenderID != 1 {
		t.Errorf("payload = %+v", p)
	}
}

func TestPresenceBroadcast(t *testing.T) {
	router, reg, _ := testRouter(t)
	a := NewSession(1, 8)
	b := NewSession(2, 8)
	reg.Connect(1, a)
	reg.Connect(2, b)

	router.handlePresenceEvent(bus.Event{Kind: presence.EventOnline, Payload: presence.Transition{UserID: 2}})

	for _, s := range []*Session{a, b} {
		env := recvEnvelope(t, s)
		if env.Kind != KindUserOnline {
			t.Errorf("kind = %q, want UserOnline", env.Kind)
		}
		env = recvEnvelope(t, s)
		if env.Kind != KindOnlineUsers {
			t.Errorf("kind = %q, want OnlineUsersUpdate", env.Kind)
		}
		p := env.Payload.(OnlineUsersPayload)
		if len(p.OnlineUserIDs) != 2 || p.OnlineUserIDs[0] != 1 || p.OnlineUserIDs[1] != 2 {
			t.Errorf("online ids = %v, want [1 2]", p.OnlineUserIDs)
		}
	}
}

func TestRouterEngineEndToEnd(t *testing.T) {
	router, reg, b := testRouter(t)
	router.Start(context.Background())
	defer router.Stop()

	recipient := NewSession(2, 8)
	reg.Connect(2, recipient)
	// Drain the presence envelopes caused by the connect.
	recvEnvelope(t, recipient)
	recvEnvelope(t, recipient)

	m := &store.Message{ID: 5, SenderID: 1, RecipientID: 2, Content: "via bus", SentAt: 1}
	b.Emit(chat.EventMessageSent, m)

	env := recvEnvelope(t, recipient)
	if env.Kind != KindReceiveMessage {
		t.Errorf("kind = %q, want ReceiveMessage", env.Kind)
	}
}

func TestSessionPushDropsWhenFull(t *testing.T) {
	s := NewSession(1, 1)
	if !s.Push(newEnvelope(KindUserTyping, TypingPayload{SenderID: 1})) {
		t.Fatal("first push should succeed")
	}
	if s.Push(newEnvelope(KindUserTyping, TypingPayload{SenderID: 1})) {
		t.Error("push into a full buffer should report false")
	}

	s.Close()
	s.Close() // idempotent
	if s.Push(newEnvelope(KindUserTyping, TypingPayload{SenderID: 1})) {
		t.Error("push after close should report false")
	}
}
