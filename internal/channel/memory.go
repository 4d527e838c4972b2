package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/PengC8899/didi-bot/internal/order"
)

// MemoryTransport is an in-process Transport. It keeps the latest payload
// of every message it has published and can be scripted to fail.
//
// It backs the scenario harness and tests.
type MemoryTransport struct {
	mu       sync.Mutex
	next     int64
	messages map[order.MessageRef]Payload
	failures []error
	publish  int
	edits    int
	calls    []string
}

// NewMemoryTransport creates an empty transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{messages: make(map[order.MessageRef]Payload)}
}

// FailNext makes the next len(errs) calls return errs in order. A nil entry
// lets that call through.
func (m *MemoryTransport) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

func (m *MemoryTransport) scripted() error {
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}

// Publish stores p under a new reference "mem:<n>".
func (m *MemoryTransport) Publish(ctx context.Context, p Payload) (order.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "publish")
	if err := ctx.Err(); err != nil {
		return "", &TransientError{Reason: "context done", Err: err}
	}
	if err := m.scripted(); err != nil {
		return "", err
	}
	m.next++
	m.publish++
	ref := order.MessageRef(fmt.Sprintf("mem:%d", m.next))
	m.messages[ref] = p
	return ref, nil
}

// Edit replaces the payload of ref. Unknown references fail fatally, as a
// deleted message does on a real channel.
func (m *MemoryTransport) Edit(ctx context.Context, ref order.MessageRef, p Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, "edit")
	if err := ctx.Err(); err != nil {
		return &TransientError{Reason: "context done", Err: err}
	}
	if err := m.scripted(); err != nil {
		return err
	}
	if _, ok := m.messages[ref]; !ok {
		return &FatalError{Reason: fmt.Sprintf("message %s not found", ref)}
	}
	m.edits++
	m.messages[ref] = p
	return nil
}

// Message returns the current payload of ref.
func (m *MemoryTransport) Message(ref order.MessageRef) (Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.messages[ref]
	return p, ok
}

// Delete forgets ref, so later edits fail fatally.
func (m *MemoryTransport) Delete(ref order.MessageRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, ref)
}

// Publishes returns the number of successful publishes.
func (m *MemoryTransport) Publishes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publish
}

// Edits returns the number of successful edits.
func (m *MemoryTransport) Edits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.edits
}

// Calls returns every attempted call ("publish" or "edit") in order,
// including failed ones.
func (m *MemoryTransport) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
