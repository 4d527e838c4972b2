package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PengC8899/didi-bot/internal/order"
)

// AddOperator grants user the operator role. It reports false when user is
// already listed; the existing row is kept as is.
func (s *Store) AddOperator(ctx context.Context, user order.Actor, addedBy int64, now time.Time) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (user_id, username, added_by, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, user.ID, user.Username, addedBy, toNanos(now))
	if err != nil {
		return false, fmt.Errorf("add operator %d: %w", user.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add operator %d: rows affected: %w", user.ID, err)
	}
	return n > 0, nil
}

// RemoveOperator revokes a runtime grant. It reports false when userID was
// not listed.
func (s *Store) RemoveOperator(ctx context.Context, userID int64) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM operators WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("remove operator %d: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove operator %d: rows affected: %w", userID, err)
	}
	return n > 0, nil
}

// IsOperator reports whether userID holds a runtime grant.
func (s *Store) IsOperator(ctx context.Context, userID int64) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM operators WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is operator %d: %w", userID, err)
	}
	return true, nil
}

// ListOperators returns runtime grants by user id.
func (s *Store) ListOperators(ctx context.Context) ([]order.Operator, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, added_by, added_at FROM operators ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	ops := []order.Operator{}
	for rows.Next() {
		var (
			op      order.Operator
			addedAt int64
		)
		if err := rows.Scan(&op.ID, &op.Username, &op.AddedBy, &addedAt); err != nil {
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		op.AddedAt = fromNanos(addedAt)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	return ops, nil
}
