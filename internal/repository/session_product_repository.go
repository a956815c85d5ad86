package repository // repository for session product persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/live-commerce/internal/model"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// SessionProductRepo encapsulates database operations for session_products.
// Soft-deleted rows keep their data but have deleted_at set; a generated
// column makes the natural key unique only among live rows.
type SessionProductRepo struct {
	db *sql.DB
}

// NewSessionProductRepo constructs a SessionProductRepo given a DB handle.
func NewSessionProductRepo(db *sql.DB) *SessionProductRepo {
	return &SessionProductRepo{db: db}
}

const productColumns = `id, session_id, product_id, variant_id, price_cents, stock, pinned, promotion_id, promotion_price, version, created_by, updated_by, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*model.SessionProduct, error) {
	var (
		p          model.SessionProduct
		promoID    sql.NullInt64
		promoPrice sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.SessionID, &p.ProductID, &p.VariantID, &p.PriceCents, &p.Stock, &p.Pinned,
		&promoID, &promoPrice, &p.Version, &p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if promoID.Valid {
		v := uint64(promoID.Int64)
		p.PromotionID = &v
	}
	if promoPrice.Valid {
		v := promoPrice.Int64
		p.PromotionPrice = &v
	}
	return &p, nil
}

func uintPtrArg(v *uint64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtrArg(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// Insert creates a row.  A natural key collision with a live row returns
// ErrDuplicate.
func (r *SessionProductRepo) Insert(ctx context.Context, p *model.SessionProduct) error {
	now := time.Now().UTC()
	if p.Version == 0 {
		p.Version = 1
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_products (id, session_id, product_id, variant_id, price_cents, stock, pinned, promotion_id, promotion_price, version, created_by, updated_by, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.ProductID, p.VariantID, p.PriceCents, p.Stock, p.Pinned,
		uintPtrArg(p.PromotionID), intPtrArg(p.PromotionPrice), p.Version, p.CreatedBy, p.UpdatedBy, now, now)
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (r *SessionProductRepo) getOne(ctx context.Context, q string, args ...any) (*model.SessionProduct, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetByID returns a live row of sessionID by surrogate id.
func (r *SessionProductRepo) GetByID(ctx context.Context, sessionID uint64, id string) (*model.SessionProduct, error) {
	return r.getOne(ctx, `SELECT `+productColumns+` FROM session_products WHERE id = ? AND session_id = ? AND deleted_at IS NULL`, id, sessionID)
}

// GetByKey returns a live row by natural key.
func (r *SessionProductRepo) GetByKey(ctx context.Context, key model.ProductKey) (*model.SessionProduct, error) {
	return r.getOne(ctx, `SELECT `+productColumns+` FROM session_products WHERE session_id = ? AND product_id = ? AND variant_id = ? AND deleted_at IS NULL`,
		key.SessionID, key.ProductID, key.VariantID)
}

// GetPinned returns the pinned live row of the session.
func (r *SessionProductRepo) GetPinned(ctx context.Context, sessionID uint64) (*model.SessionProduct, error) {
	return r.getOne(ctx, `SELECT `+productColumns+` FROM session_products WHERE session_id = ? AND pinned = 1 AND deleted_at IS NULL LIMIT 1`, sessionID)
}

// ListBySession returns live rows, pinned first, then oldest first.
func (r *SessionProductRepo) ListBySession(ctx context.Context, sessionID uint64) ([]*model.SessionProduct, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM session_products WHERE session_id = ? AND deleted_at IS NULL ORDER BY pinned DESC, created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.SessionProduct, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateSnapshot writes price, stock and promotion fields guarded by the
// version column.  Zero affected rows means the row vanished or changed.
func (r *SessionProductRepo) UpdateSnapshot(ctx context.Context, p *model.SessionProduct) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE session_products SET price_cents = ?, stock = ?, promotion_id = ?, promotion_price = ?, updated_by = ?, updated_at = ?, version = version + 1 WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		p.PriceCents, p.Stock, uintPtrArg(p.PromotionID), intPtrArg(p.PromotionPrice), p.UpdatedBy, now, p.ID, p.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := r.GetByID(ctx, p.SessionID, p.ID); errors.Is(gerr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

// lockSessionTx reads and row-locks every live product of the session.  Any
// concurrent swap on the same session blocks here until this transaction
// ends.
func (r *SessionProductRepo) lockSessionTx(ctx context.Context, tx *sql.Tx, sessionID uint64) ([]*model.SessionProduct, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+productColumns+` FROM session_products WHERE session_id = ? AND deleted_at IS NULL FOR UPDATE`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.SessionProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SwapPin clears every other pinned row of the session and pins key inside
// one transaction holding row locks on the session's products.
func (r *SessionProductRepo) SwapPin(ctx context.Context, key model.ProductKey, actor uint64) (*model.SessionProduct, []*model.SessionProduct, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	rows, err := r.lockSessionTx(ctx, tx, key.SessionID)
	if err != nil {
		return nil, nil, err
	}
	var target *model.SessionProduct
	var unpinned []*model.SessionProduct
	for _, p := range rows {
		if p.Key() == key {
			target = p
		} else if p.Pinned {
			unpinned = append(unpinned, p)
		}
	}
	if target == nil {
		return nil, nil, ErrNotFound
	}

	now := time.Now().UTC()
	if len(unpinned) > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE session_products SET pinned = 0, version = version + 1, updated_by = ?, updated_at = ? WHERE session_id = ? AND pinned = 1 AND deleted_at IS NULL AND id <> ?`,
			actor, now, key.SessionID, target.ID); err != nil {
			return nil, nil, err
		}
		for _, p := range unpinned {
			p.Pinned = false
			p.Version++
			p.UpdatedBy, p.UpdatedAt = actor, now
		}
	}
	if !target.Pinned {
		if _, err := tx.ExecContext(ctx,
			`UPDATE session_products SET pinned = 1, version = version + 1, updated_by = ?, updated_at = ? WHERE id = ?`,
			actor, now, target.ID); err != nil {
			return nil, nil, err
		}
		target.Pinned = true
		target.Version++
		target.UpdatedBy, target.UpdatedAt = actor, now
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	committed = true
	return target, unpinned, nil
}

// updateOne loads key under a row lock and applies setSQL to it.
func (r *SessionProductRepo) updateOne(ctx context.Context, key model.ProductKey, actor uint64, setSQL string, apply func(*model.SessionProduct)) (*model.SessionProduct, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	target, err := scanProduct(tx.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM session_products WHERE session_id = ? AND product_id = ? AND variant_id = ? AND deleted_at IS NULL FOR UPDATE`,
		key.SessionID, key.ProductID, key.VariantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE session_products SET `+setSQL+`, version = version + 1, updated_by = ?, updated_at = ? WHERE id = ?`,
		actor, now, target.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	apply(target)
	target.Version++
	target.UpdatedBy, target.UpdatedAt = actor, now
	return target, nil
}

// Unpin clears the pin flag of key only.
func (r *SessionProductRepo) Unpin(ctx context.Context, key model.ProductKey, actor uint64) (*model.SessionProduct, error) {
	return r.updateOne(ctx, key, actor, `pinned = 0`, func(p *model.SessionProduct) { p.Pinned = false })
}

// SoftDelete marks key deleted and clears its pin flag.
func (r *SessionProductRepo) SoftDelete(ctx context.Context, key model.ProductKey, actor uint64) (*model.SessionProduct, error) {
	return r.updateOne(ctx, key, actor, `pinned = 0, deleted_at = UTC_TIMESTAMP()`, func(p *model.SessionProduct) {
		p.Pinned = false
		p.Deleted = true
	})
}

var _ ProductStore = (*SessionProductRepo)(nil)
