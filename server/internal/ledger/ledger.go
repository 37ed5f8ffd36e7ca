package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aeroledger/aeroledger/pkg/types"
	"github.com/aeroledger/aeroledger/server/internal/config"
)

// DefaultLimit is used when a query passes limit <= 0.
const DefaultLimit = config.DefaultAuditLimit

// Ledger is an append-only event store.
type Ledger interface {
	// Append stores e and returns it with its ID assigned.
	Append(ctx context.Context, e types.AuditEvent) (types.AuditEvent, error)
	Recent(ctx context.Context, limit int) ([]types.AuditEvent, error)
	ByDevice(ctx context.Context, deviceID string, limit int) ([]types.AuditEvent, error)
	Close() error
}

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg config.LedgerConfig) (Ledger, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "badger":
		return OpenBadger(cfg.Badger, slog.Default())
	case "redis":
		return OpenRedis(ctx, cfg.Redis)
	}
	return nil, fmt.Errorf("ledger: unknown backend %q", cfg.Backend)
}

// ContentID derives the deterministic identifier of e: "0x" followed by the
// first 40 hex digits of the SHA-256 of its canonical JSON form. The form has
// sorted keys and an RFC 3339 UTC timestamp, so equal events at equal
// instants always share an ID.
func ContentID(e types.AuditEvent) (string, error) {
	canon := map[string]any{
		"event_type": string(e.Kind),
		"timestamp":  e.Timestamp.UTC().Format(time.RFC3339Nano),
		"device_id":  e.DeviceID,
		"data":       e.Data,
	}
	b, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("ledger: canonicalize event: %w", err)
	}
	sum := sha256.Sum256(b)
	return "0x" + hex.EncodeToString(sum[:])[:40], nil
}

func normLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

// reverse flips newest-first query results into append order.
func reverse(events []types.AuditEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
