package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PengC8899/didi-bot/internal/order"
)

// CreateApplication inserts a PENDING application for (orderID, applicant).
//
// Uses ON CONFLICT(order_id, applicant_id) DO NOTHING for idempotency. If an
// application already exists for the pair, it is returned together with an
// order.ErrAlreadyExists error carrying the same row; no second row is
// created.
//
// Note: The order must exist (foreign key constraint).
func (s *Store) CreateApplication(ctx context.Context, orderID int64, applicant order.Actor, now time.Time) (order.Application, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var (
		app      order.Application
		inserted bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO applications
			(order_id, applicant_id, applicant_username, status, created_at)
			VALUES (?, ?, ?, 'PENDING', ?)
			ON CONFLICT(order_id, applicant_id) DO NOTHING
		`, orderID, applicant.ID, applicant.Username, toNanos(now))
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		inserted = n > 0

		// Either the row we just inserted or the one that won the conflict.
		app, err = scanApplication(tx.QueryRowContext(ctx, `
			SELECT `+applicationColumns+` FROM applications
			WHERE order_id = ? AND applicant_id = ?
		`, orderID, applicant.ID))
		if err != nil {
			return fmt.Errorf("select: %w", err)
		}
		return nil
	})
	if err != nil {
		return order.Application{}, fmt.Errorf("create application: %w", err)
	}
	if !inserted {
		return app, order.NewAlreadyExists(app)
	}
	return app, nil
}

// GetApplication retrieves an application by ID.
// Returns order.ErrNotFound if it does not exist.
func (s *Store) GetApplication(ctx context.Context, id int64) (order.Application, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	app, err := scanApplication(s.db.QueryRowContext(ctx, `
		SELECT `+applicationColumns+` FROM applications WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return order.Application{}, order.NewApplicationNotFound(0, id)
	}
	if err != nil {
		return order.Application{}, fmt.Errorf("get application %d: %w", id, err)
	}
	return app, nil
}

// DecideApplication moves a PENDING application to decision and stamps
// decided_at. The update is conditional on the row still being PENDING, so
// concurrent decisions cannot both succeed.
//
// Returns order.ErrNotFound if the application does not exist and
// order.ErrInvalidTransition if it is no longer PENDING.
func (s *Store) DecideApplication(ctx context.Context, id int64, decision order.ApplicationStatus, now time.Time) (order.Application, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if decision == order.ApplicationPending {
		return order.Application{}, order.NewInvalidInput("decision must leave PENDING")
	}

	var app order.Application
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE applications SET status = ?, decided_at = ?
			WHERE id = ? AND status = 'PENDING'
		`, string(decision), toNanos(now), id)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		app, err = scanApplication(tx.QueryRowContext(ctx, `
			SELECT `+applicationColumns+` FROM applications WHERE id = ?
		`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return order.NewApplicationNotFound(0, id)
		}
		if err != nil {
			return fmt.Errorf("select: %w", err)
		}
		if n == 0 {
			return &order.Error{
				Code:          order.CodeInvalidTransition,
				Message:       fmt.Sprintf("application %d is %s, not PENDING", id, app.Status),
				OrderID:       app.OrderID,
				ApplicationID: id,
			}
		}
		return nil
	})
	if err != nil {
		return order.Application{}, fmt.Errorf("decide application: %w", err)
	}
	return app, nil
}

// ListApplications returns the applications of an order in creation order,
// optionally filtered by status.
func (s *Store) ListApplications(ctx context.Context, orderID int64, status *order.ApplicationStatus) ([]order.Application, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var st any
	if status != nil {
		st = string(*status)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+applicationColumns+`
		FROM applications
		WHERE order_id = ? AND (? IS NULL OR status = ?)
		ORDER BY created_at ASC, id ASC
	`, orderID, st, st)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	apps := []order.Application{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}
	return apps, nil
}
