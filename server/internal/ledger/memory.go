package ledger

import (
	"context"
	"sync"

	"github.com/aeroledger/aeroledger/pkg/types"
)

// Memory is a process-local Ledger. Its contents do not survive a restart.
type Memory struct {
	mu     sync.RWMutex
	events []types.AuditEvent
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, e types.AuditEvent) (types.AuditEvent, error) {
	id, err := ContentID(e)
	if err != nil {
		return types.AuditEvent{}, err
	}
	e.ID = id
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return e, nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]types.AuditEvent, error) {
	limit = normLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := len(m.events) - limit
	if start < 0 {
		start = 0
	}
	out := make([]types.AuditEvent, len(m.events)-start)
	copy(out, m.events[start:])
	return out, nil
}

func (m *Memory) ByDevice(_ context.Context, deviceID string, limit int) ([]types.AuditEvent, error) {
	limit = normLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.AuditEvent, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].DeviceID == deviceID {
			out = append(out, m.events[i])
		}
	}
	reverse(out)
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
