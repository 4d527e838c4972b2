package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/PengC8899/didi-bot/internal/order"
)

// AppendHistory inserts a standalone history entry.
//
// Lifecycle transitions do not call this: UpdateOrderConditional and
// CreateOrder append their entry inside the same transaction as the order
// write. AppendHistory exists for administrative notes that accompany no
// status change and for imports.
func (s *Store) AppendHistory(ctx context.Context, entry order.HistoryEntry) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertHistory(ctx, tx, entry)
	})
}

// ListHistory returns the history of an order oldest first.
// Returns an empty slice (not nil) if the order has no history.
func (s *Store) ListHistory(ctx context.Context, orderID int64) ([]order.HistoryEntry, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM status_history
		WHERE order_id = ?
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := []order.HistoryEntry{}
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, h order.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO status_history
		(order_id, from_status, to_status, actor_id, note, flow_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, h.OrderID, nullStatus(h.From), string(h.To), h.ActorID, h.Note, h.FlowToken, toNanos(h.CreatedAt))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}
