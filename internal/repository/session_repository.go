package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/techland/internal/model"
)

// SessionRepo is the registry of refresh-token sessions. Validity is always
// decided by the database clock: a row counts only while is_active=1,
// expires_at is in the future and its owner is still active.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

const sessionOwnerCols = `s.id, s.user_id, s.token_hash, s.expires_at, s.ip_address, s.user_agent,
	s.device, s.remember_me, s.is_active, s.created_at, u.name, u.email, u.role`

const validSession = `s.is_active = 1 AND s.expires_at > UTC_TIMESTAMP() AND u.is_active = 1`

func scanOwner(row *sql.Row) (model.SessionOwner, error) {
	var o model.SessionOwner
	err := row.Scan(&o.ID, &o.UserID, &o.TokenHash, &o.ExpiresAt, &o.IPAddress, &o.UserAgent,
		&o.Device, &o.RememberMe, &o.IsActive, &o.CreatedAt, &o.Name, &o.Email, &o.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SessionOwner{}, ErrSessionNotFound
	}
	return o, err
}

// Record inserts a new active session and sets s.ID.
func (r *SessionRepo) Record(ctx context.Context, s *model.Session) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO sessions (user_id, token_hash, expires_at, ip_address, user_agent, device, remember_me)
		 VALUES (?,?,?,?,?,?,?)`,
		s.UserID, s.TokenHash, s.ExpiresAt.UTC(), s.IPAddress, s.UserAgent, s.Device, s.RememberMe)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	s.IsActive = true
	return nil
}

// Validate returns the session and its owner without consuming it.
func (r *SessionRepo) Validate(ctx context.Context, tokenHash string) (model.SessionOwner, error) {
	return scanOwner(r.DB.QueryRowContext(ctx,
		"SELECT "+sessionOwnerCols+" FROM sessions s JOIN users u ON u.id = s.user_id WHERE s.token_hash = ? AND "+
			validSession+" LIMIT 1", tokenHash))
}

// Consume deactivates a valid session in one conditional UPDATE. When two
// callers race on the same token InnoDB serializes them on the row and the
// loser re-evaluates the WHERE clause against is_active=0, so exactly one
// sees a changed row.
func (r *SessionRepo) Consume(ctx context.Context, tokenHash string) (model.SessionOwner, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE sessions s JOIN users u ON u.id = s.user_id SET s.is_active = 0, s.revoked_at = UTC_TIMESTAMP() "+
			"WHERE s.token_hash = ? AND "+validSession, tokenHash)
	if err != nil {
		return model.SessionOwner{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.SessionOwner{}, err
	}
	if n == 0 {
		return model.SessionOwner{}, ErrSessionNotFound
	}
	return scanOwner(r.DB.QueryRowContext(ctx,
		"SELECT "+sessionOwnerCols+" FROM sessions s JOIN users u ON u.id = s.user_id WHERE s.token_hash = ? LIMIT 1",
		tokenHash))
}

// Revoke marks a single session inactive. Unknown tokens are not an error.
func (r *SessionRepo) Revoke(ctx context.Context, tokenHash string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET is_active = 0, revoked_at = UTC_TIMESTAMP() WHERE token_hash = ? AND is_active = 1",
		tokenHash)
	return err
}

// RevokeAll marks every active session of the user inactive.
func (r *SessionRepo) RevokeAll(ctx context.Context, userID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET is_active = 0, revoked_at = UTC_TIMESTAMP() WHERE user_id = ? AND is_active = 1",
		userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeExpired deletes sessions that can no longer be used: expired or
// already revoked.
func (r *SessionRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= UTC_TIMESTAMP() OR is_active = 0")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListActive returns the user's usable sessions, newest first.
func (r *SessionRepo) ListActive(ctx context.Context, userID uint64) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, user_id, expires_at, ip_address, user_agent, device, remember_me, created_at
		 FROM sessions WHERE user_id = ? AND is_active = 1 AND expires_at > UTC_TIMESTAMP()
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		s := model.Session{IsActive: true}
		if err := rows.Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.IPAddress, &s.UserAgent, &s.Device,
			&s.RememberMe, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
