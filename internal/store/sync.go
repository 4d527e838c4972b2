package store

import (
	"context"
	"fmt"

	"github.com/PengC8899/didi-bot/internal/order"
)

// SetMessageRef records the channel message of a freshly published order
// together with the hash and order version of the payload that was sent,
// and clears any recorded sync failure.
//
// The write is monotonic: it succeeds when the order has no reference yet
// or already has exactly ref (a no-op repeat). A different existing
// reference is refused with order.ErrConflict; references are never
// replaced or cleared. Version is not touched.
func (s *Store) SetMessageRef(ctx context.Context, id int64, ref order.MessageRef, renderedHash string, renderedVersion int64) error {
	if ref == "" {
		return order.NewInvalidInput("empty message ref")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET message_ref = ?, rendered_hash = ?, rendered_version = MAX(rendered_version, ?),
			sync_failure_kind = NULL, sync_failure_reason = NULL, sync_failed_at = NULL
		WHERE id = ? AND (message_ref IS NULL OR message_ref = ?)
	`, string(ref), renderedHash, renderedVersion, id, string(ref))
	if err != nil {
		return fmt.Errorf("set message ref: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set message ref: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	existing, err := s.GetOrder(ctx, id)
	if err != nil {
		return fmt.Errorf("set message ref: %w", err)
	}
	return &order.Error{
		Code:    order.CodeConflict,
		Message: fmt.Sprintf("message ref already set to %q", existing.MessageRef),
		OrderID: id,
	}
}

// SetRenderedHash records the hash of the payload last delivered for
// renderedVersion of the order and clears any recorded sync failure.
//
// The write is conditional: a render of an older version than the one
// already recorded is dropped, so a late writer never moves the record
// backwards. Version is not touched.
func (s *Store) SetRenderedHash(ctx context.Context, id int64, renderedHash string, renderedVersion int64) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET rendered_hash = ?, rendered_version = ?,
			sync_failure_kind = NULL, sync_failure_reason = NULL, sync_failed_at = NULL
		WHERE id = ? AND rendered_version <= ?
	`, renderedHash, renderedVersion, id, renderedVersion)
	if err != nil {
		return fmt.Errorf("set rendered hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set rendered hash: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Either the order is missing or a newer render is already recorded.
	if _, err := s.GetOrder(ctx, id); err != nil {
		return fmt.Errorf("set rendered hash: %w", err)
	}
	return nil
}

// RecordSyncFailure flags an order whose channel mirror could not be
// updated. The flag is cleared by the next successful SetMessageRef or
// SetRenderedHash. Version is not touched.
func (s *Store) RecordSyncFailure(ctx context.Context, id int64, failure order.SyncFailure) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET sync_failure_kind = ?, sync_failure_reason = ?, sync_failed_at = ?
		WHERE id = ?
	`, string(failure.Kind), failure.Reason, toNanos(failure.At), id)
	if err != nil {
		return fmt.Errorf("record sync failure: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return order.NewNotFound(id)
	}
	return nil
}

// ListUnsynced returns orders that were never published, whose last sync
// failed, or whose post shows an older version than the order, oldest
// first. Drafts are never listed.
func (s *Store) ListUnsynced(ctx context.Context, limit int) ([]order.Order, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE draft = 0 AND (message_ref IS NULL OR sync_failure_kind IS NOT NULL OR rendered_version < version)
		ORDER BY id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsynced: %w", err)
	}
	return scanOrders(rows)
}
