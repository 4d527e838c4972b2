package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/PengC8899/didi-bot/internal/order"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestOrder inserts a NEW order created by actor 100 at testEpoch+offset.
func createTestOrder(t *testing.T, s *Store, title string, offset time.Duration) order.Order {
	t.Helper()
	o, err := s.CreateOrder(context.Background(), NewOrder{
		Title:     title,
		Body:      "body of " + title,
		Creator:   order.Actor{ID: 100, Username: "op"},
		FlowToken: "flow-" + title,
		CreatedAt: testEpoch.Add(offset),
	})
	if err != nil {
		t.Fatalf("CreateOrder() failed: %v", err)
	}
	return o
}

func statusPtr(s order.Status) *order.Status { return &s }
