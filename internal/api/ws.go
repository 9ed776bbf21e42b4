package api

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/delivery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// clientFrame is the only inbound websocket payload: typing signals.
// Everything else a client does goes through the REST surface.
type clientFrame struct {
	Kind        string `json:"kind"`
	RecipientID int64  `json:"recipientId"`
}

func (h *Handler) websocket(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, chat.ErrUnauthenticated)
		return
	}
	if err := h.gate.OpenSession(uid); err != nil {
		h.writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept", zap.Int64("user_id", uid), zap.Error(err))
		return
	}

	sess := delivery.NewSession(uid, h.opts.SessionBuffer)
	h.reg.Connect(uid, sess)
	_ = h.db.TouchLastActive(uid)
	h.logger.Info("session opened",
		zap.Int64("user_id", uid),
		zap.String("session_id", sess.ID().String()))

	ctx := r.Context()
	go h.writePump(ctx, conn, sess)
	h.readPump(ctx, conn, uid)

	h.reg.Disconnect(uid, sess)
	sess.Close()
	conn.CloseNow()
	h.logger.Info("session closed",
		zap.Int64("user_id", uid),
		zap.String("session_id", sess.ID().String()))
}

// writePump drains the session's outbound queue onto the wire. A write
// failure just stops the pump; teardown happens when the read side exits.
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, sess *delivery.Session) {
	for {
		select {
		case env := <-sess.Outbound():
			if err := wsjson.Write(ctx, conn, env); err != nil {
				return
			}
		case <-sess.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// readPump consumes typing frames until the peer goes away. Frames beyond
// the rate limit are dropped, not treated as protocol errors.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, uid int64) {
	limiter := rate.NewLimiter(rate.Limit(h.opts.TypingRate), h.opts.TypingBurst)
	for {
		var frame clientFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return
		}
		switch frame.Kind {
		case "typing", "stop_typing":
			if !limiter.Allow() {
				continue
			}
			h.chat.Typing(uid, frame.RecipientID, frame.Kind == "stop_typing")
		default:
			h.logger.Debug("unknown frame kind",
				zap.Int64("user_id", uid),
				zap.String("kind", frame.Kind))
		}
	}
}
