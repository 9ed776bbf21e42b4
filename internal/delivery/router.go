// Package delivery fans domain events out to live session handles. It never
// persists anything: a recipient with no live sessions simply misses the
// push and observes the state change on its next store query.
package delivery

import (
	"context"

	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/store"
	"go.uber.org/zap"
)

// Router subscribes to "chat." and "presence." bus events and translates
// them into envelopes for the right set of sessions. Targeted delivery and
// broadcast are deliberately separate operations so private content is never
// accidentally over-broadcast.
type Router struct {
	reg    *presence.Registry[*Session]
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewRouter creates a router over the given registry.
func NewRouter(reg *presence.Registry[*Session], b *bus.Bus, logger *zap.Logger) *Router {
	return &Router{reg: reg, bus: b, logger: logger}
}

// Start subscribes to domain events on the bus.
func (r *Router) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	chatCh, unsubChat := r.bus.Subscribe("chat.", 256)
	presCh, unsubPres := r.bus.Subscribe("presence.", 256)

	go func() {
		defer unsubChat()
		defer unsubPres()
		for {
			select {
			case evt := <-chatCh:
				r.handleChatEvent(evt)
			case evt := <-presCh:
				r.handlePresenceEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the router.
func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// DeliverToUser pushes an envelope to every live session of one user.
// A user with no sessions receives nothing; that is the defined behavior,
// not an error. Returns the number of sessions that accepted the push.
func (r *Router) DeliverToUser(userID int64, env Envelope) int {
	return r.push(r.reg.Sessions(userID), env)
}

// Broadcast pushes an envelope to every live session across all users.
func (r *Router) Broadcast(env Envelope) int {
	return r.push(r.reg.AllSessions(), env)
}

func (r *Router) push(sessions []*Session, env Envelope) int {
	delivered := 0
	for _, s := range sessions {
		if s.Push(env) {
			delivered++
		} else {
			metrics.EnvelopesDropped.Inc()
		}
	}
	if delivered > 0 {
		metrics.EnvelopesDelivered.WithLabelValues(string(env.Kind)).Add(float64(delivered))
	}
	return delivered
}

func (r *Router) handleChatEvent(evt bus.Event) {
	switch evt.Kind {
	case chat.EventMessageSent:
		m, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		payload := NewMessagePayload(m)
		n := r.DeliverToUser(m.RecipientID, newEnvelope(KindReceiveMessage, payload))
		// Explicit sender confirmation; recipient delivery never echoes to
		// the sender's sessions.
		r.DeliverToUser(m.SenderID, newEnvelope(KindMessageSent, payload))
		r.logger.Debug("message fanned out",
			zap.Int64("message_id", m.ID),
			zap.Int("recipient_sessions", n))

	case chat.EventMessageRead:
		rr, ok := evt.Payload.(chat.ReadReceipt)
		if !ok {
			return
		}
		r.DeliverToUser(rr.SenderID, newEnvelope(KindMessageRead, ReadPayload{
			MessageID:    rr.MessageID,
			ReaderUserID: rr.ReaderID,
		}))

	case chat.EventTyping, chat.EventStopTyping:
		sig, ok := evt.Payload.(chat.TypingSignal)
		if !ok {
			return
		}
		kind := KindUserTyping
		if evt.Kind == chat.EventStopTyping {
			kind = KindUserStoppedTyping
		}
		r.DeliverToUser(sig.RecipientID, newEnvelope(kind, TypingPayload{SenderID: sig.SenderID}))
	}
}

func (r *Router) handlePresenceEvent(evt bus.Event) {
	tr, ok := evt.Payload.(presence.Transition)
	if !ok {
		return
	}
	switch evt.Kind {
	case presence.EventOnline:
		r.Broadcast(newEnvelope(KindUserOnline, PresencePayload{UserID: tr.UserID}))
	case presence.EventOffline:
		r.Broadcast(newEnvelope(KindUserOffline, PresencePayload{UserID: tr.UserID}))
	default:
		return
	}
	online := r.reg.Snapshot()
	metrics.OnlineUsers.Set(float64(len(online)))
	r.Broadcast(newEnvelope(KindOnlineUsers, OnlineUsersPayload{OnlineUserIDs: online}))
}
