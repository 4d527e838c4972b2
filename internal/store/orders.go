package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PengC8899/didi-bot/internal/order"
)

// NewOrder is the input to CreateOrder.
type NewOrder struct {
	Title     string
	Body      string
	Amount    *order.Amount
	Creator   order.Actor
	Media     []NewMedia
	FlowToken string
	CreatedAt time.Time

	// Draft keeps the order off the channel until PublishDraft.
	Draft bool
}

// NewMedia is an attachment created together with its order.
type NewMedia struct {
	Kind order.MediaKind
	Ref  string
}

// OrderPatch describes one lifecycle mutation applied by
// UpdateOrderConditional.
type OrderPatch struct {
	// Status is the new status.
	Status order.Status

	// Claimant replaces the claimant when non-nil.
	Claimant *order.Actor

	// UpdatedAt stamps the order and the history entry.
	UpdatedAt time.Time

	// History is appended in the same transaction. OrderID and CreatedAt
	// are filled in by the store.
	History order.HistoryEntry

	// Decide, when set, moves a PENDING application of this order to the
	// given status in the same transaction.
	Decide *ApplicationDecision
}

// ApplicationDecision moves an application out of PENDING.
type ApplicationDecision struct {
	ApplicationID int64
	Status        order.ApplicationStatus
}

// ListOptions filters and pages ListOrders.
type ListOptions struct {
	Status *order.Status
	Offset int
	Limit  int
}

// DefaultListLimit is used when ListOptions.Limit is not positive.
const DefaultListLimit = 20

// CreateOrder inserts a NEW order with its media and the initial history
// entry (none -> NEW) in one transaction.
func (s *Store) CreateOrder(ctx context.Context, in NewOrder) (order.Order, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var created order.Order
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var amount any
		if in.Amount != nil {
			amount = int64(*in.Amount)
		}
		ts := toNanos(in.CreatedAt)

		res, err := tx.ExecContext(ctx, `
			INSERT INTO orders
			(title, body, amount, status, creator_id, creator_username, draft, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		`, in.Title, in.Body, amount, string(order.StatusNew), in.Creator.ID, in.Creator.Username, in.Draft, ts, ts)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		for i, m := range in.Media {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO media_items (order_id, position, kind, ref)
				VALUES (?, ?, ?, ?)
			`, id, i, string(m.Kind), m.Ref)
			if err != nil {
				return fmt.Errorf("insert media %d: %w", i, err)
			}
		}

		err = insertHistory(ctx, tx, order.HistoryEntry{
			OrderID:   id,
			To:        order.StatusNew,
			ActorID:   in.Creator.ID,
			FlowToken: in.FlowToken,
			CreatedAt: in.CreatedAt,
		})
		if err != nil {
			return err
		}

		created, err = scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
		if err != nil {
			return fmt.Errorf("read created order: %w", err)
		}
		return nil
	})
	if err != nil {
		return order.Order{}, fmt.Errorf("create order: %w", err)
	}
	return created, nil
}

// GetOrder retrieves a single order by ID.
// Returns order.ErrNotFound if the order does not exist.
func (s *Store) GetOrder(ctx context.Context, id int64) (order.Order, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, order.NewNotFound(id)
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

// UpdateOrderConditional applies patch only if the stored version equals
// expectedVersion. On success version is incremented by one and the updated
// order is returned.
//
// Errors:
//   - order.ErrNotFound: no such order
//   - order.ErrConflict: the version moved (a concurrent writer won)
//   - order.ErrInvalidTransition: patch.Decide targets an application that
//     is not PENDING for this order
//
// Nothing is written when an error is returned.
func (s *Store) UpdateOrderConditional(ctx context.Context, id, expectedVersion int64, patch OrderPatch) (order.Order, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var updated order.Order
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var claimantID, claimantName any
		if patch.Claimant != nil {
			claimantID = patch.Claimant.ID
			claimantName = patch.Claimant.Username
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = ?,
				claimant_id = COALESCE(?, claimant_id),
				claimant_username = COALESCE(?, claimant_username),
				version = version + 1,
				updated_at = ?
			WHERE id = ? AND version = ?
		`, string(patch.Status), claimantID, claimantName, toNanos(patch.UpdatedAt), id, expectedVersion)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, id).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return order.NewNotFound(id)
			}
			if err != nil {
				return fmt.Errorf("check order: %w", err)
			}
			return order.NewConflict(id, expectedVersion)
		}

		if d := patch.Decide; d != nil {
			res, err := tx.ExecContext(ctx, `
				UPDATE applications SET status = ?, decided_at = ?
				WHERE id = ? AND order_id = ? AND status = 'PENDING'
			`, string(d.Status), toNanos(patch.UpdatedAt), d.ApplicationID, id)
			if err != nil {
				return fmt.Errorf("decide application: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return fmt.Errorf("rows affected: %w", err)
			} else if n == 0 {
				return &order.Error{
					Code:          order.CodeInvalidTransition,
					Message:       fmt.Sprintf("application %d is not pending", d.ApplicationID),
					OrderID:       id,
					ApplicationID: d.ApplicationID,
				}
			}
		}

		entry := patch.History
		entry.OrderID = id
		entry.To = patch.Status
		entry.CreatedAt = patch.UpdatedAt
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}

		updated, err = scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
		if err != nil {
			return fmt.Errorf("read updated order: %w", err)
		}
		return nil
	})
	if err != nil {
		return order.Order{}, fmt.Errorf("update order %d: %w", id, err)
	}
	return updated, nil
}

// PublishDraft clears the draft flag if the stored version equals
// expectedVersion. Version is incremented; status and history are not
// touched.
//
// Errors:
//   - order.ErrNotFound: no such order
//   - order.ErrConflict: the version moved
//   - order.ErrInvalidTransition: the order is not a draft
func (s *Store) PublishDraft(ctx context.Context, id, expectedVersion int64, at time.Time) (order.Order, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var published order.Order
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET draft = 0, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ? AND draft = 1
		`, toNanos(at), id, expectedVersion)
		if err != nil {
			return fmt.Errorf("publish draft: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		published, err = scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return order.NewNotFound(id)
		}
		if err != nil {
			return fmt.Errorf("read order: %w", err)
		}
		if n > 0 {
			return nil
		}
		if published.Version != expectedVersion {
			return order.NewConflict(id, expectedVersion)
		}
		return &order.Error{Code: order.CodeInvalidTransition, Message: "order is not a draft", OrderID: id}
	})
	if err != nil {
		return order.Order{}, fmt.Errorf("update order %d: %w", id, err)
	}
	return published, nil
}

// ListOrders returns orders newest first (created_at DESC, id DESC),
// optionally filtered by status.
func (s *Store) ListOrders(ctx context.Context, opts ListOptions) ([]order.Order, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE (? IS NULL OR status = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, nullStatus(opts.Status), nullStatus(opts.Status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return scanOrders(rows)
}

// ListUserOrders returns orders created or claimed by actorID, most
// recently updated first.
func (s *Store) ListUserOrders(ctx context.Context, actorID int64, limit int) ([]order.Order, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE creator_id = ? OR claimant_id = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT ?
	`, actorID, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list user orders: %w", err)
	}
	return scanOrders(rows)
}

// StatusStat aggregates orders of one status.
type StatusStat struct {
	Status order.Status `json:"status"`
	Count  int          `json:"count"`
	Total  order.Amount `json:"total"`
}

// Stats aggregates orders created in [from, to) by status. Statuses with no
// orders are omitted.
func (s *Store) Stats(ctx context.Context, from, to time.Time) ([]StatusStat, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0)
		FROM orders
		WHERE created_at >= ? AND created_at < ?
		GROUP BY status
		ORDER BY status
	`, toNanos(from), toNanos(to))
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	stats := []StatusStat{}
	for rows.Next() {
		var (
			st     StatusStat
			status string
			total  int64
		)
		if err := rows.Scan(&status, &st.Count, &total); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.Status = order.Status(status)
		st.Total = order.Amount(total)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

// ListMedia returns the media items of an order by position.
func (s *Store) ListMedia(ctx context.Context, orderID int64) ([]order.MediaItem, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, position, kind, ref
		FROM media_items
		WHERE order_id = ?
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	items := []order.MediaItem{}
	for rows.Next() {
		var (
			m    order.MediaItem
			kind string
		)
		if err := rows.Scan(&m.ID, &m.OrderID, &m.Position, &kind, &m.Ref); err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		m.Kind = order.MediaKind(kind)
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media: %w", err)
	}
	return items, nil
}
