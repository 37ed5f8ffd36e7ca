package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/aeroledger/aeroledger/pkg/types"
	"github.com/aeroledger/aeroledger/server/internal/ledger"
	"github.com/aeroledger/aeroledger/server/internal/telemetry"
)

// drainTimeout bounds how long Run keeps flushing after its context ends.
const drainTimeout = 5 * time.Second

// Subscriber receives every event after it has been appended.
// Publish must not block.
type Subscriber interface {
	Publish(e types.AuditEvent)
}

// Stats are cumulative emitter counters.
type Stats struct {
	Emitted  int64 `json:"emitted"`
	Appended int64 `json:"appended"`
	Failed   int64 `json:"failed"`
	Dropped  int64 `json:"dropped"`
	Pending  int   `json:"pending"`
}

// Emitter is a non-blocking, bounded audit queue in front of a Ledger.
type Emitter struct {
	ledger  ledger.Ledger
	queue   chan types.AuditEvent
	timeout time.Duration

	mu   sync.RWMutex
	subs []Subscriber

	emitted  atomic.Int64
	appended atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

// New returns an Emitter writing to l with room for size pending events.
func New(l ledger.Ledger, size int, appendTimeout time.Duration) *Emitter {
	if size <= 0 {
		size = 1
	}
	return &Emitter{
		ledger:  l,
		queue:   make(chan types.AuditEvent, size),
		timeout: appendTimeout,
	}
}

// Subscribe registers s to receive appended events.
func (e *Emitter) Subscribe(s Subscriber) {
	e.mu.Lock()
	e.subs = append(e.subs, s)
	e.mu.Unlock()
}

// Emit enqueues ev. It never blocks: if the queue is full the oldest pending
// event is evicted to make room.
func (e *Emitter) Emit(ev types.AuditEvent) {
	e.emitted.Inc()
	for {
		select {
		case e.queue <- ev:
			return
		default:
		}
		select {
		case old := <-e.queue:
			e.dropped.Inc()
			telemetry.RecordAudit("dropped")
			slog.Warn("audit: queue full, evicted oldest event",
				"device", old.DeviceID, "kind", old.Kind, "queue_cap", cap(e.queue))
		default:
		}
	}
}

// Run appends queued events until ctx is cancelled, then flushes what is
// still pending for up to drainTimeout.
func (e *Emitter) Run(ctx context.Context) {
	for {
		select {
		case ev := <-e.queue:
			e.append(ctx, ev)
		case <-ctx.Done():
			e.drain()
			return
		}
	}
}

func (e *Emitter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-e.queue:
			e.append(ctx, ev)
		default:
			return
		}
		if ctx.Err() != nil {
			slog.Warn("audit: drain timed out", "pending", len(e.queue))
			return
		}
	}
}

func (e *Emitter) append(ctx context.Context, ev types.AuditEvent) {
	actx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	stored, err := e.ledger.Append(actx, ev)
	if err != nil {
		e.failed.Inc()
		telemetry.RecordAudit("failed")
		slog.Error("audit: append failed", "device", ev.DeviceID, "kind", ev.Kind, "err", err)
		return
	}
	e.appended.Inc()
	telemetry.RecordAudit("appended")

	if stored.Kind == types.EventFault {
		slog.Warn("audit: fault logged", "device", stored.DeviceID, "id", stored.ID)
	} else {
		slog.Info("audit: decision logged", "device", stored.DeviceID, "id", stored.ID)
	}

	e.mu.RLock()
	subs := e.subs
	e.mu.RUnlock()
	for _, s := range subs {
		s.Publish(stored)
	}
}

// Stats returns a snapshot of the emitter counters.
func (e *Emitter) Stats() Stats {
	return Stats{
		Emitted:  e.emitted.Load(),
		Appended: e.appended.Load(),
		Failed:   e.failed.Load(),
		Dropped:  e.dropped.Load(),
		Pending:  len(e.queue),
	}
}
