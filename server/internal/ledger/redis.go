package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aeroledger/aeroledger/pkg/types"
	"github.com/aeroledger/aeroledger/server/internal/config"
)

// streamClient is the subset of *redis.Client the ledger uses.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
	Close() error
}

// Redis is a Ledger backed by Redis streams. Every event is added to the main
// stream, whose entry ID becomes the event ID, and mirrored to a per-device
// stream for ByDevice queries.
type Redis struct {
	rdb    streamClient
	stream string
	maxLen int64
}

// OpenRedis connects to the server in cfg and verifies it with PING.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password(),
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ledger: redis ping %s: %w", cfg.Addr, err)
	}
	return newRedis(rdb, cfg.Stream, cfg.MaxLen), nil
}

func newRedis(rdb streamClient, stream string, maxLen int64) *Redis {
	if stream == "" {
		stream = config.DefaultStreamName
	}
	return &Redis{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (r *Redis) deviceStream(deviceID string) string {
	return r.stream + ":" + deviceID
}

func (r *Redis) Append(ctx context.Context, e types.AuditEvent) (types.AuditEvent, error) {
	e.ID = ""
	payload, err := json.Marshal(e)
	if err != nil {
		return types.AuditEvent{}, fmt.Errorf("ledger: encode event: %w", err)
	}

	id, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: r.maxLen > 0,
		Values: map[string]any{"event": string(payload), "device_id": e.DeviceID},
	}).Result()
	if err != nil {
		return types.AuditEvent{}, fmt.Errorf("ledger: xadd %s: %w", r.stream, err)
	}
	e.ID = id

	// The mirror carries the main-stream ID so both views agree.
	err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.deviceStream(e.DeviceID),
		MaxLen: r.maxLen,
		Approx: r.maxLen > 0,
		Values: map[string]any{"event": string(payload), "ref": id},
	}).Err()
	if err != nil {
		return e, fmt.Errorf("ledger: xadd device mirror: %w", err)
	}
	return e, nil
}

func (r *Redis) Recent(ctx context.Context, limit int) ([]types.AuditEvent, error) {
	return r.read(ctx, r.stream, normLimit(limit))
}

func (r *Redis) ByDevice(ctx context.Context, deviceID string, limit int) ([]types.AuditEvent, error) {
	return r.read(ctx, r.deviceStream(deviceID), normLimit(limit))
}

func (r *Redis) read(ctx context.Context, stream string, limit int) ([]types.AuditEvent, error) {
	msgs, err := r.rdb.XRevRangeN(ctx, stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger: xrevrange %s: %w", stream, err)
	}
	out := make([]types.AuditEvent, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values["event"].(string)
		var e types.AuditEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("ledger: decode entry %s: %w", m.ID, err)
		}
		e.ID = m.ID
		if ref, ok := m.Values["ref"].(string); ok && ref != "" {
			e.ID = ref
		}
		out = append(out, e)
	}
	reverse(out)
	return out, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
