// Package testutil holds helpers shared by package tests: a throwaway
// store, a quiet logger, a fixed test epoch and deterministic flow tokens.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/PengC8899/didi-bot/internal/clock"
	"github.com/PengC8899/didi-bot/internal/store"
)

// Epoch is the start time of every fake clock built here.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// NewStore opens a fresh store in t.TempDir() and closes it on cleanup.
func NewStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// NewClock returns a fake clock at Epoch.
func NewClock() *clock.FakeClock {
	return clock.Fake(Epoch)
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
