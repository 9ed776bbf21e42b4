package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"time"
)

var userNameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// ValidateUserName checks that name conforms to account naming rules.
func ValidateUserName(name string) error {
	if !userNameRegexp.MatchString(name) {
		return fmt.Errorf("invalid username %q: must match ^[a-z0-9_-]{1,32}$", name)
	}
	return nil
}

// CreateUser inserts a user row and sets u.ID.
func (db *DB) CreateUser(u *User) error {
	now := time.Now().UnixMilli()
	if u.CreatedAt == 0 {
		u.CreatedAt = now
	}
	if u.LastActive == 0 {
		u.LastActive = now
	}
	res, err := db.Exec(`
		INSERT INTO users (user_name, known_as, email_confirmed, password_hash, password_salt,
			is_banned, is_permanent_ban, ban_reason, ban_expiry, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.UserName, u.KnownAs, u.EmailConfirmed, u.PasswordHash, u.PasswordSalt,
		u.IsBanned, u.IsPermanentBan, u.BanReason, u.BanExpiry, u.CreatedAt, u.LastActive)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

const userColumns = `id, user_name, known_as, email_confirmed, password_hash, password_salt,
	is_banned, is_permanent_ban, ban_reason, ban_expiry, created_at, last_active`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.UserName, &u.KnownAs, &u.EmailConfirmed, &u.PasswordHash, &u.PasswordSalt,
		&u.IsBanned, &u.IsPermanentBan, &u.BanReason, &u.BanExpiry, &u.CreatedAt, &u.LastActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser returns a user by id, or nil if no such user exists.
func (db *DB) GetUser(id int64) (*User, error) {
	return scanUser(db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByName returns a user by username, or nil if no such user exists.
func (db *DB) GetUserByName(name string) (*User, error) {
	return scanUser(db.QueryRow(`SELECT `+userColumns+` FROM users WHERE user_name = ?`, name))
}

// TouchLastActive records activity for a user.
func (db *DB) TouchLastActive(id int64) error {
	_, err := db.Exec(`UPDATE users SET last_active = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	return err
}

// UpdatePassword replaces a user's password hash and salt.
func (db *DB) UpdatePassword(id int64, hash, salt []byte) error {
	res, err := db.Exec(`UPDATE users SET password_hash = ?, password_salt = ? WHERE id = ?`, hash, salt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no user with id %d", id)
	}
	return nil
}

// AccessStatus answers the session gate's identity/access query for a user.
// A temporary ban whose expiry has passed is cleared before answering, so
// callers always observe the effective ban state. Returns nil for an unknown
// user.
func (db *DB) AccessStatus(id int64) (*AccessStatus, error) {
	now := time.Now().UnixMilli()
	if _, err := db.Exec(`
		UPDATE users SET is_banned = 0, ban_reason = '', ban_expiry = NULL
		WHERE id = ? AND is_banned = 1 AND is_permanent_ban = 0
			AND ban_expiry IS NOT NULL AND ban_expiry <= ?`, id, now); err != nil {
		return nil, fmt.Errorf("clear expired ban: %w", err)
	}

	var st AccessStatus
	err := db.QueryRow(`
		SELECT is_banned, is_permanent_ban, ban_reason, ban_expiry, email_confirmed
		FROM users WHERE id = ?`, id).
		Scan(&st.Banned, &st.Permanent, &st.Reason, &st.Expiry, &st.EmailConfirmed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// SetEmailConfirmed flips the email confirmation flag.
func (db *DB) SetEmailConfirmed(id int64, confirmed bool) error {
	res, err := db.Exec(`UPDATE users SET email_confirmed = ? WHERE id = ?`, confirmed, id)
	if err != nil {
		return err
	}
	return requireUser(res, id)
}

// BanUser bans a user. A nil expiry with permanent=false still bans, but
// the ban never auto-clears; pass permanent=true for an explicit permanent
// ban.
func (db *DB) BanUser(id int64, reason string, permanent bool, expiry *int64) error {
	res, err := db.Exec(`
		UPDATE users SET is_banned = 1, is_permanent_ban = ?, ban_reason = ?, ban_expiry = ?
		WHERE id = ?`, permanent, reason, expiry, id)
	if err != nil {
		return err
	}
	return requireUser(res, id)
}

// UnbanUser lifts any ban on the user.
func (db *DB) UnbanUser(id int64) error {
	res, err := db.Exec(`
		UPDATE users SET is_banned = 0, is_permanent_ban = 0, ban_reason = '', ban_expiry = NULL
		WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireUser(res, id)
}

func requireUser(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no user with id %d", id)
	}
	return nil
}

// ListUsers returns all users ordered by username.
func (db *DB) ListUsers() ([]User, error) {
	rows, err := db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY user_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.UserName, &u.KnownAs, &u.EmailConfirmed,
			&u.PasswordHash, &u.PasswordSalt, &u.IsBanned, &u.IsPermanentBan,
			&u.BanReason, &u.BanExpiry, &u.CreatedAt, &u.LastActive); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserCount returns the total number of users.
func (db *DB) UserCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
