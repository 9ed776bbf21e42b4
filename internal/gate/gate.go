// Package gate guards session opens and logins against the identity/access
// collaborator. It is a pure guard: no state, no retries — a rejected caller
// retries after resolving the underlying condition.
package gate

import (
	"fmt"
	"time"

	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/store"
	"go.uber.org/zap"
)

// Directory answers identity/access queries. The store implements it; it
// auto-clears expired temporary bans before answering and returns nil for an
// unknown user.
type Directory interface {
	AccessStatus(userID int64) (*store.AccessStatus, error)
}

// Gate decides whether a user may open a live session or log in.
type Gate struct {
	dir    Directory
	logger *zap.Logger
}

// New creates a gate over the given directory.
func New(dir Directory, logger *zap.Logger) *Gate {
	return &Gate{dir: dir, logger: logger}
}

// OpenSession checks whether the user may establish a live real-time
// connection. Returns chat.ErrNotFound for an unknown user and a
// *chat.BannedError for a still-active ban.
func (g *Gate) OpenSession(userID int64) error {
	_, err := g.check(userID)
	return err
}

// Login checks whether the user may complete an interactive login: the ban
// check plus a confirmed email address.
func (g *Gate) Login(userID int64) error {
	st, err := g.check(userID)
	if err != nil {
		return err
	}
	if !st.EmailConfirmed {
		return chat.ErrEmailNotConfirmed
	}
	return nil
}

func (g *Gate) check(userID int64) (*store.AccessStatus, error) {
	st, err := g.dir.AccessStatus(userID)
	if err != nil {
		return nil, fmt.Errorf("access status for user %d: %w", userID, err)
	}
	if st == nil {
		return nil, chat.ErrNotFound
	}
	if st.Banned {
		banned := &chat.BannedError{
			Reason:    st.Reason,
			Permanent: st.Permanent,
		}
		if st.Expiry != nil {
			expiry := time.UnixMilli(*st.Expiry)
			banned.Expiry = &expiry
		}
		g.logger.Info("access rejected",
			zap.Int64("user_id", userID),
			zap.Bool("permanent", st.Permanent))
		return nil, banned
	}
	return st, nil
}
