package store

import (
	"database/sql"
	"fmt"
	"sort"
)

const messageColumns = `id, sender_id, recipient_id, sender_name, recipient_name,
	content, reaction, sent_at, read_at, sender_deleted, recipient_deleted`

func scanMessage(scan func(...any) error) (*Message, error) {
	var m Message
	err := scan(&m.ID, &m.SenderID, &m.RecipientID, &m.SenderName, &m.RecipientName,
		&m.Content, &m.Reaction, &m.SentAt, &m.ReadAt, &m.SenderDeleted, &m.RecipientDeleted)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMessage persists a new message and sets m.ID. The row is either fully
// written or not written at all; readers never observe a partial message.
func (db *DB) InsertMessage(m *Message) error {
	res, err := db.Exec(`
		INSERT INTO messages (sender_id, recipient_id, sender_name, recipient_name,
			content, reaction, sent_at, read_at, sender_deleted, recipient_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 0, 0)`,
		m.SenderID, m.RecipientID, m.SenderName, m.RecipientName,
		m.Content, m.Reaction, m.SentAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// GetMessage returns a message by id, or nil if no such message exists.
func (db *DB) GetMessage(id int64) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// MessagesBetween returns the thread between userID and otherID ordered by
// sent time ascending, excluding messages userID has soft-deleted.
func (db *DB) MessagesBetween(userID, otherID int64) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = ?1 AND recipient_id = ?2 AND sender_deleted = 0)
		   OR (sender_id = ?2 AND recipient_id = ?1 AND recipient_deleted = 0)
		ORDER BY sent_at ASC, id ASC`, userID, otherID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// Conversations derives the per-counterpart view for a user: last message
// still visible to them and the count of their unread messages in that
// thread, ordered by last message time descending.
func (db *DB) Conversations(userID int64) ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = ?1 AND sender_deleted = 0)
		   OR (recipient_id = ?1 AND recipient_deleted = 0)
		ORDER BY sent_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byCounterpart := make(map[int64]*Conversation)
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		counterpartID := m.SenderID
		counterpartName := m.SenderName
		if m.SenderID == userID {
			counterpartID = m.RecipientID
			counterpartName = m.RecipientName
		}
		conv, ok := byCounterpart[counterpartID]
		if !ok {
			conv = &Conversation{CounterpartID: counterpartID}
			byCounterpart[counterpartID] = conv
		}
		// Rows are sorted ascending, so the last assignment wins.
		conv.LastMessage = *m
		conv.CounterpartName = counterpartName
		if m.RecipientID == userID && m.ReadAt == nil {
			conv.UnreadCount++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	convs := make([]Conversation, 0, len(byCounterpart))
	for _, c := range byCounterpart {
		convs = append(convs, *c)
	}
	sort.Slice(convs, func(i, j int) bool {
		a, b := convs[i].LastMessage, convs[j].LastMessage
		if a.SentAt != b.SentAt {
			return a.SentAt > b.SentAt
		}
		return a.ID > b.ID
	})
	return convs, nil
}

// MarkMessageRead sets read_at if the acting user is the recipient and the
// message is still unread. The guarded UPDATE makes concurrent calls
// first-write-wins; repeated calls report false.
func (db *DB) MarkMessageRead(messageID, recipientID, readAt int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE messages SET read_at = ?
		WHERE id = ? AND recipient_id = ? AND read_at IS NULL`,
		readAt, messageID, recipientID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SoftDeleteMessage sets the acting side's delete flag. Reports false when
// the message does not exist or the user is not a participant.
func (db *DB) SoftDeleteMessage(messageID, userID int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE messages SET
			sender_deleted = CASE WHEN sender_id = ?1 THEN 1 ELSE sender_deleted END,
			recipient_deleted = CASE WHEN recipient_id = ?1 THEN 1 ELSE recipient_deleted END
		WHERE id = ?2 AND (sender_id = ?1 OR recipient_id = ?1)`,
		userID, messageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UnreadCount is the raw tally of unread messages addressed to the user.
// Soft-delete flags are deliberately not consulted here; the conversation
// view applies its own filtering.
func (db *DB) UnreadCount(userID int64) (int64, error) {
	var count int64
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE recipient_id = ? AND read_at IS NULL`, userID).Scan(&count)
	return count, err
}

// ReapDeadMessages physically removes messages both sides have soft-deleted
// and that were sent before the cutoff. Returns the number of rows removed.
func (db *DB) ReapDeadMessages(before int64) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM messages
		WHERE sender_deleted = 1 AND recipient_deleted = 1 AND sent_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MessageCount returns the total number of stored messages, including
// soft-deleted ones awaiting reclamation.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
