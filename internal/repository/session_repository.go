package repository // repository for live session persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/live-commerce/internal/model"
)

// SessionRepo manages persistence for live_sessions.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo constructs a SessionRepo given a DB handle.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

const sessionColumns = `id, shop_id, seller_id, title, room_name, state, idle_since, live_at, ended_at, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*model.Session, error) {
	var (
		s                          model.Session
		state                      string
		idleSince, liveAt, endedAt sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.ShopID, &s.SellerID, &s.Title, &s.RoomName, &state,
		&idleSince, &liveAt, &endedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.State = model.SessionState(state)
	s.IdleSince = nullTimePtr(idleSince)
	s.LiveAt = nullTimePtr(liveAt)
	s.EndedAt = nullTimePtr(endedAt)
	return &s, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// Create inserts a session and fills its room name from the generated id.
// Both statements run in one transaction so a session never exists without
// its room name.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if s.State == "" {
		s.State = model.SessionScheduled
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO live_sessions (shop_id, seller_id, title, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		s.ShopID, s.SellerID, s.Title, string(s.State), now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	s.RoomName = model.RoomNameFor(s.ID)
	if _, err := tx.ExecContext(ctx, `UPDATE live_sessions SET room_name = ? WHERE id = ?`, s.RoomName, s.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	s.CreatedAt, s.UpdatedAt = now, now
	return nil
}

// Get returns a session by id or ErrNotFound.
func (r *SessionRepo) Get(ctx context.Context, id uint64) (*model.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ListOpen returns Scheduled and Live sessions after afterID, oldest first.
func (r *SessionRepo) ListOpen(ctx context.Context, afterID uint64, limit int) ([]*model.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM live_sessions
		 WHERE state IN ('SCHEDULED', 'LIVE') AND id > ?
		 ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateState writes the lifecycle columns of s.
func (r *SessionRepo) UpdateState(ctx context.Context, s *model.Session) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE live_sessions SET state = ?, idle_since = ?, live_at = ?, ended_at = ?, updated_at = ? WHERE id = ?`,
		string(s.State), timeArg(s.IdleSince), timeArg(s.LiveAt), timeArg(s.EndedAt), now, s.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	s.UpdatedAt = now
	return nil
}

var _ SessionStore = (*SessionRepo)(nil)
