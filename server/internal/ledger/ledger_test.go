package ledger

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroledger/aeroledger/pkg/types"
	"github.com/aeroledger/aeroledger/server/internal/config"
)

var baseTime = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func decision(device string, i int) types.AuditEvent {
	cmd := types.ControlCommand{On: true, Intensity: 50, Reasoning: fmt.Sprintf("cycle %d", i)}
	return types.DecisionEvent(device, cmd, baseTime.Add(time.Duration(i)*time.Second))
}

func TestContentID_Deterministic(t *testing.T) {
	a, err := ContentID(decision("dev", 1))
	require.NoError(t, err)
	b, err := ContentID(decision("dev", 1))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "0x"))
	assert.Len(t, a, 42)

	c, err := ContentID(decision("dev", 2))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestContentID_IgnoresExistingIDAndZone(t *testing.T) {
	e := decision("dev", 1)
	a, _ := ContentID(e)

	e.ID = "0xdeadbeef"
	e.Timestamp = e.Timestamp.In(time.FixedZone("CET", 3600))
	b, _ := ContentID(e)
	assert.Equal(t, a, b)
}

// exercise runs the shared behaviour checks against one backend.
func exercise(t *testing.T, l Ledger, contentIDs bool) {
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		dev := "a"
		if i%3 == 0 {
			dev = "b"
		}
		got, err := l.Append(ctx, decision(dev, i))
		require.NoError(t, err)
		require.NotEmpty(t, got.ID)
		if contentIDs {
			want, _ := ContentID(decision(dev, i))
			assert.Equal(t, want, got.ID)
		}
	}

	recent, err := l.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, DefaultLimit)
	assert.Equal(t, "cycle 10", recent[0].Data["reasoning"], "oldest of the last 20")
	assert.Equal(t, "cycle 29", recent[DefaultLimit-1].Data["reasoning"])

	recent, err = l.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, "cycle 25", recent[0].Data["reasoning"])

	byB, err := l.ByDevice(ctx, "b", 3)
	require.NoError(t, err)
	require.Len(t, byB, 3)
	for _, e := range byB {
		assert.Equal(t, "b", e.DeviceID)
	}
	assert.Equal(t, "cycle 21", byB[0].Data["reasoning"])
	assert.Equal(t, "cycle 27", byB[2].Data["reasoning"])

	none, err := l.ByDevice(ctx, "ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory(), true)
}

func TestBadger_InMemory(t *testing.T) {
	l, err := OpenBadger(config.BadgerConfig{InMemory: true}, nil)
	require.NoError(t, err)
	defer l.Close()
	exercise(t, l, true)
}

func TestBadger_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l, err := OpenBadger(config.BadgerConfig{Path: dir, SyncWrites: true}, nil)
	require.NoError(t, err)
	first, err := l.Append(ctx, decision("dev", 1))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = OpenBadger(config.BadgerConfig{Path: dir}, nil)
	require.NoError(t, err)
	defer l.Close()
	_, err = l.Append(ctx, decision("dev", 2))
	require.NoError(t, err)

	got, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.True(t, got[0].Timestamp.Equal(baseTime.Add(time.Second)))
}

func TestBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(config.BadgerConfig{}, nil)
	assert.Error(t, err)
}

// fakeStreams is an in-process stand-in for the Redis stream commands.
type fakeStreams struct {
	n       int
	streams map[string][]redis.XMessage
}

func (f *fakeStreams) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	if f.streams == nil {
		f.streams = make(map[string][]redis.XMessage)
	}
	f.n++
	id := fmt.Sprintf("%d-0", 1700000000000+f.n)
	vals, _ := a.Values.(map[string]any)
	msgs := append(f.streams[a.Stream], redis.XMessage{ID: id, Values: vals})
	if a.MaxLen > 0 && int64(len(msgs)) > a.MaxLen {
		msgs = msgs[int64(len(msgs))-a.MaxLen:]
	}
	f.streams[a.Stream] = msgs
	return redis.NewStringResult(id, nil)
}

func (f *fakeStreams) XRevRangeN(_ context.Context, stream, _, _ string, count int64) *redis.XMessageSliceCmd {
	msgs := f.streams[stream]
	out := make([]redis.XMessage, 0, count)
	for i := len(msgs) - 1; i >= 0 && int64(len(out)) < count; i-- {
		out = append(out, msgs[i])
	}
	return redis.NewXMessageSliceCmdResult(out, nil)
}

func (f *fakeStreams) Close() error { return nil }

func TestRedis(t *testing.T) {
	fake := &fakeStreams{}
	l := newRedis(fake, "", 0)
	exercise(t, l, false)

	// Device views report the main-stream ID.
	ctx := context.Background()
	e, err := l.Append(ctx, decision("c", 99))
	require.NoError(t, err)
	byC, err := l.ByDevice(ctx, "c", 1)
	require.NoError(t, err)
	require.Len(t, byC, 1)
	assert.Equal(t, e.ID, byC[0].ID)
	assert.Contains(t, fake.streams, config.DefaultStreamName+":c")
}

func TestRedis_MaxLen(t *testing.T) {
	l := newRedis(&fakeStreams{}, "audit", 3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, decision("a", i))
		require.NoError(t, err)
	}
	got, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestOpen_Backends(t *testing.T) {
	l, err := Open(context.Background(), config.LedgerConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, l)

	l, err = Open(context.Background(), config.LedgerConfig{Backend: "badger", Badger: config.BadgerConfig{InMemory: true}})
	require.NoError(t, err)
	assert.IsType(t, &Badger{}, l)
	require.NoError(t, l.Close())

	_, err = Open(context.Background(), config.LedgerConfig{Backend: "ipfs"})
	assert.Error(t, err)
}
