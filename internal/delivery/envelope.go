package delivery

import (
	"time"

	"github.com/parley-chat/parley/internal/store"
)

// Kind tags an envelope. The set is closed: client and server agree on each
// payload shape without runtime reflection.
type Kind string

const (
	KindReceiveMessage    Kind = "ReceiveMessage"
	KindMessageSent       Kind = "MessageSent"
	KindMessageRead       Kind = "MessageRead"
	KindUserTyping        Kind = "UserTyping"
	KindUserStoppedTyping Kind = "UserStoppedTyping"
	KindUserOnline        Kind = "UserOnline"
	KindUserOffline       Kind = "UserOffline"
	KindOnlineUsers       Kind = "OnlineUsersUpdate"
)

// Envelope is a tagged event pushed to one or more session handles.
type Envelope struct {
	Kind    Kind      `json:"kind"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// MessagePayload accompanies ReceiveMessage and MessageSent, and doubles as
// the REST representation of a message. Timestamps are unix milliseconds.
type MessagePayload struct {
	ID            int64  `json:"id"`
	SenderID      int64  `json:"senderId"`
	SenderName    string `json:"senderName"`
	RecipientID   int64  `json:"recipientId"`
	RecipientName string `json:"recipientName"`
	Content       string `json:"content"`
	Reaction      string `json:"reaction,omitempty"`
	SentAt        int64  `json:"sentAt"`
	ReadAt        *int64 `json:"readAt"`
}

// NewMessagePayload maps a stored message to its wire shape.
func NewMessagePayload(m *store.Message) MessagePayload {
	return MessagePayload{
		ID:            m.ID,
		SenderID:      m.SenderID,
		SenderName:    m.SenderName,
		RecipientID:   m.RecipientID,
		RecipientName: m.RecipientName,
		Content:       m.Content,
		Reaction:      m.Reaction,
		SentAt:        m.SentAt,
		ReadAt:        m.ReadAt,
	}
}

// ReadPayload accompanies MessageRead.
type ReadPayload struct {
	MessageID    int64 `json:"messageId"`
	ReaderUserID int64 `json:"readerUserId"`
}

// TypingPayload accompanies UserTyping and UserStoppedTyping.
type TypingPayload struct {
	SenderID int64 `json:"senderId"`
}

// PresencePayload accompanies UserOnline and UserOffline.
type PresencePayload struct {
	UserID int64 `json:"userId"`
}

// OnlineUsersPayload accompanies OnlineUsersUpdate.
type OnlineUsersPayload struct {
	OnlineUserIDs []int64 `json:"onlineUserIds"`
}

func newEnvelope(kind Kind, payload any) Envelope {
	return Envelope{Kind: kind, At: time.Now(), Payload: payload}
}
