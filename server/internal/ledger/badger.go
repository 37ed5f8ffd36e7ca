package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/aeroledger/aeroledger/pkg/types"
	"github.com/aeroledger/aeroledger/server/internal/config"
)

// Key layout:
//
//	e/<seq>              event JSON
//	d/<device>\x00<seq>  empty, per-device index
//
// seq is a big-endian uint64, so byte order is append order.
var (
	eventPrefix  = []byte("e/")
	devicePrefix = []byte("d/")
	seqKey       = []byte("m/seq")
)

// Badger is a durable Ledger stored in a Badger database.
type Badger struct {
	db  *badger.DB
	seq *badger.Sequence
}

// badgerLogger routes badger's internal logging to slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf("ledger: badger: "+format, args...))
}
func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf("ledger: badger: "+format, args...))
}
func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf("ledger: badger: "+format, args...))
}
func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf("ledger: badger: "+format, args...))
}

// OpenBadger opens (or creates) the ledger database described by cfg.
func OpenBadger(cfg config.BadgerConfig, log *slog.Logger) (*Badger, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("ledger: badger path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("ledger: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if log != nil {
		opts = opts.WithLogger(badgerLogger{log: log})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: open badger: %w", err)
	}
	seq, err := db.GetSequence(seqKey, 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: badger sequence: %w", err)
	}
	return &Badger{db: db, seq: seq}, nil
}

func (b *Badger) Append(_ context.Context, e types.AuditEvent) (types.AuditEvent, error) {
	id, err := ContentID(e)
	if err != nil {
		return types.AuditEvent{}, err
	}
	e.ID = id
	val, err := json.Marshal(e)
	if err != nil {
		return types.AuditEvent{}, fmt.Errorf("ledger: encode event: %w", err)
	}
	n, err := b.seq.Next()
	if err != nil {
		return types.AuditEvent{}, fmt.Errorf("ledger: next sequence: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(eventKey(n), val); err != nil {
			return err
		}
		return txn.Set(indexKey(e.DeviceID, n), nil)
	})
	if err != nil {
		return types.AuditEvent{}, fmt.Errorf("ledger: append: %w", err)
	}
	return e, nil
}

func (b *Badger) Recent(_ context.Context, limit int) ([]types.AuditEvent, error) {
	limit = normLimit(limit)
	out := make([]types.AuditEvent, 0, limit)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Reverse: true, Prefix: eventPrefix, PrefetchValues: true, PrefetchSize: limit})
		defer it.Close()
		for it.Seek(seekEnd(eventPrefix)); it.ValidForPrefix(eventPrefix) && len(out) < limit; it.Next() {
			e, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	reverse(out)
	return out, nil
}

func (b *Badger) ByDevice(_ context.Context, deviceID string, limit int) ([]types.AuditEvent, error) {
	limit = normLimit(limit)
	prefix := devicePrefixFor(deviceID)
	out := make([]types.AuditEvent, 0, limit)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Reverse: true, Prefix: prefix})
		defer it.Close()
		for it.Seek(seekEnd(prefix)); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			key := it.Item().Key()
			n := binary.BigEndian.Uint64(key[len(prefix):])
			item, err := txn.Get(eventKey(n))
			if err != nil {
				return fmt.Errorf("index entry %d: %w", n, err)
			}
			e, err := decodeItem(item)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: by device: %w", err)
	}
	reverse(out)
	return out, nil
}

// Close releases the sequence lease and closes the database.
func (b *Badger) Close() error {
	if err := b.seq.Release(); err != nil {
		slog.Warn("ledger: release sequence", "err", err)
	}
	return b.db.Close()
}

func eventKey(n uint64) []byte {
	k := make([]byte, len(eventPrefix)+8)
	copy(k, eventPrefix)
	binary.BigEndian.PutUint64(k[len(eventPrefix):], n)
	return k
}

func devicePrefixFor(deviceID string) []byte {
	k := make([]byte, 0, len(devicePrefix)+len(deviceID)+1)
	k = append(k, devicePrefix...)
	k = append(k, deviceID...)
	return append(k, 0)
}

func indexKey(deviceID string, n uint64) []byte {
	p := devicePrefixFor(deviceID)
	k := make([]byte, len(p)+8)
	copy(k, p)
	binary.BigEndian.PutUint64(k[len(p):], n)
	return k
}

// seekEnd returns a key sorting after every key with the given prefix.
func seekEnd(prefix []byte) []byte {
	k := make([]byte, len(prefix)+1)
	copy(k, prefix)
	k[len(prefix)] = 0xFF
	return k
}

func decodeItem(item *badger.Item) (types.AuditEvent, error) {
	var e types.AuditEvent
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	})
	if err != nil {
		return types.AuditEvent{}, fmt.Errorf("decode %x: %w", item.Key(), err)
	}
	return e, nil
}
