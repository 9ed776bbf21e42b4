package store

// User represents an account row. Ban and email-confirmation fields feed the
// session gate; the rest is directory data.
type User struct {
	ID             int64
	UserName       string
	KnownAs        string
	EmailConfirmed bool
	PasswordHash   []byte
	PasswordSalt   []byte
	IsBanned       bool
	IsPermanentBan bool
	BanReason      string
	BanExpiry      *int64
	CreatedAt      int64
	LastActive     int64
}

// DisplayName returns the name shown on message envelopes: KnownAs when set,
// otherwise the username.
func (u *User) DisplayName() string {
	if u.KnownAs != "" {
		return u.KnownAs
	}
	return u.UserName
}

// Message represents a persisted direct message. Timestamps are unix
// milliseconds; ReadAt is nil while unread. Display names are captured at
// send time.
type Message struct {
	ID               int64
	SenderID         int64
	RecipientID      int64
	SenderName       string
	RecipientName    string
	Content          string
	Reaction         string
	SentAt           int64
	ReadAt           *int64
	SenderDeleted    bool
	RecipientDeleted bool
}

// Conversation is the per-counterpart aggregate derived from messages: the
// most recent message visible to the requesting user plus their unread tally.
type Conversation struct {
	CounterpartID   int64
	CounterpartName string
	LastMessage     Message
	UnreadCount     int
}

// AccessStatus is the identity/access answer the session gate consults.
type AccessStatus struct {
	Banned         bool
	Permanent      bool
	Reason         string
	Expiry         *int64
	EmailConfirmed bool
}
