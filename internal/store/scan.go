package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/PengC8899/didi-bot/internal/order"
)

// orderColumns is the column list every order query selects, in scanOrder
// order.
const orderColumns = `id, title, body, amount, status, creator_id, creator_username,
	claimant_id, claimant_username, message_ref, rendered_hash, rendered_version, draft,
	sync_failure_kind, sync_failure_reason, sync_failed_at,
	version, created_at, updated_at`

const applicationColumns = `id, order_id, applicant_id, applicant_username, status, created_at, decided_at`

const historyColumns = `id, order_id, from_status, to_status, actor_id, note, flow_token, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func scanOrder(row rowScanner) (order.Order, error) {
	var (
		o                            order.Order
		amount, claimantID, failedAt sql.NullInt64
		claimantName, messageRef     sql.NullString
		failureKind, failureReason   sql.NullString
		status                       string
		createdAt, updatedAt         int64
	)
	err := row.Scan(
		&o.ID, &o.Title, &o.Body, &amount, &status, &o.Creator.ID, &o.Creator.Username,
		&claimantID, &claimantName, &messageRef, &o.RenderedHash, &o.RenderedVersion, &o.Draft,
		&failureKind, &failureReason, &failedAt,
		&o.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return order.Order{}, err
	}

	o.Status = order.Status(status)
	if amount.Valid {
		a := order.Amount(amount.Int64)
		o.Amount = &a
	}
	if claimantID.Valid {
		o.Claimant = &order.Actor{ID: claimantID.Int64, Username: claimantName.String}
	}
	if messageRef.Valid {
		o.MessageRef = order.MessageRef(messageRef.String)
	}
	if failureKind.Valid {
		o.SyncFailure = &order.SyncFailure{
			Kind:   order.SyncFailureKind(failureKind.String),
			Reason: failureReason.String,
			At:     fromNanos(failedAt.Int64),
		}
	}
	o.CreatedAt = fromNanos(createdAt)
	o.UpdatedAt = fromNanos(updatedAt)
	return o, nil
}

func scanOrders(rows *sql.Rows) ([]order.Order, error) {
	defer rows.Close()

	orders := []order.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func scanApplication(row rowScanner) (order.Application, error) {
	var (
		a         order.Application
		status    string
		createdAt int64
		decidedAt sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.OrderID, &a.Applicant.ID, &a.Applicant.Username, &status, &createdAt, &decidedAt)
	if err != nil {
		return order.Application{}, err
	}
	a.Status = order.ApplicationStatus(status)
	a.CreatedAt = fromNanos(createdAt)
	if decidedAt.Valid {
		t := fromNanos(decidedAt.Int64)
		a.DecidedAt = &t
	}
	return a, nil
}

func scanHistory(row rowScanner) (order.HistoryEntry, error) {
	var (
		h         order.HistoryEntry
		from      sql.NullString
		to        string
		createdAt int64
	)
	err := row.Scan(&h.ID, &h.OrderID, &from, &to, &h.ActorID, &h.Note, &h.FlowToken, &createdAt)
	if err != nil {
		return order.HistoryEntry{}, err
	}
	if from.Valid {
		s := order.Status(from.String)
		h.From = &s
	}
	h.To = order.Status(to)
	h.CreatedAt = fromNanos(createdAt)
	return h, nil
}

// nullStatus maps a nil status pointer to SQL NULL.
func nullStatus(s *order.Status) any {
	if s == nil {
		return nil
	}
	return string(*s)
}
