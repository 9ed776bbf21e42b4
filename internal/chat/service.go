package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/store"
	"go.uber.org/zap"
)

// Bus event kinds published by the service. The delivery router subscribes
// to the "chat." namespace and fans these out to live sessions.
const (
	EventMessageSent = "chat.message_sent"
	EventMessageRead = "chat.message_read"
	EventTyping      = "chat.typing"
	EventStopTyping  = "chat.stop_typing"
)

// ReadReceipt is the payload for EventMessageRead.
type ReadReceipt struct {
	MessageID int64
	ReaderID  int64
	SenderID  int64
}

// TypingSignal is the payload for EventTyping and EventStopTyping. Typing
// indicators are transient: they are never persisted.
type TypingSignal struct {
	SenderID    int64
	RecipientID int64
}

// Service is the domain façade over the message store: it validates,
// persists, and publishes the resulting events on the bus.
type Service struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewService creates a chat service backed by the store.
func NewService(db *store.DB, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{db: db, bus: b, logger: logger}
}

// Send validates and persists a new message, then publishes
// EventMessageSent. Content is trimmed; a blank result is rejected. Both
// participants must resolve to known users and must differ.
func (s *Service) Send(senderID, recipientID int64, content, reaction string) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if senderID == recipientID {
		return nil, ErrInvalidParticipant
	}

	sender, err := s.db.GetUser(senderID)
	if err != nil {
		return nil, fmt.Errorf("resolve sender: %w", err)
	}
	recipient, err := s.db.GetUser(recipientID)
	if err != nil {
		return nil, fmt.Errorf("resolve recipient: %w", err)
	}
	if sender == nil || recipient == nil {
		return nil, ErrInvalidParticipant
	}

	m := &store.Message{
		SenderID:      senderID,
		RecipientID:   recipientID,
		SenderName:    sender.DisplayName(),
		RecipientName: recipient.DisplayName(),
		Content:       content,
		Reaction:      reaction,
		SentAt:        time.Now().UnixMilli(),
	}
	if err := s.db.InsertMessage(m); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	metrics.MessagesSent.Inc()
	s.logger.Info("message sent",
		zap.Int64("message_id", m.ID),
		zap.Int64("sender_id", senderID),
		zap.Int64("recipient_id", recipientID))
	s.bus.Emit(EventMessageSent, m)
	return m, nil
}

// Messages returns the thread between the user and a counterpart, oldest
// first, excluding messages the user has deleted.
func (s *Service) Messages(userID, otherID int64) ([]store.Message, error) {
	return s.db.MessagesBetween(userID, otherID)
}

// Conversations returns the user's conversation list, most recent first.
func (s *Service) Conversations(userID int64) ([]store.Conversation, error) {
	return s.db.Conversations(userID)
}

// MarkRead marks a message read on behalf of userID. Reports false (no
// error) when the message does not exist, the user is not the recipient, or
// it is already read. On success it publishes EventMessageRead so the sender
// can be notified.
func (s *Service) MarkRead(messageID, userID int64) (bool, error) {
	ok, err := s.db.MarkMessageRead(messageID, userID, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	if !ok {
		return false, nil
	}

	m, err := s.db.GetMessage(messageID)
	if err != nil {
		return true, fmt.Errorf("load message after read: %w", err)
	}
	if m != nil {
		s.bus.Emit(EventMessageRead, ReadReceipt{
			MessageID: messageID,
			ReaderID:  userID,
			SenderID:  m.SenderID,
		})
	}
	return true, nil
}

// Delete soft-deletes a message on the caller's side only. Reports false
// when the message does not exist or the caller is not a participant.
func (s *Service) Delete(messageID, userID int64) (bool, error) {
	return s.db.SoftDeleteMessage(messageID, userID)
}

// UnreadCount returns the raw unread tally for the user. See
// store.UnreadCount for the delete-flag semantics.
func (s *Service) UnreadCount(userID int64) (int64, error) {
	return s.db.UnreadCount(userID)
}

// Typing relays a transient typing signal from sender to recipient.
func (s *Service) Typing(senderID, recipientID int64, stop bool) {
	kind := EventTyping
	if stop {
		kind = EventStopTyping
	}
	s.bus.Emit(kind, TypingSignal{SenderID: senderID, RecipientID: recipientID})
}
