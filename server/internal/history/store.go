package history

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aeroledger/aeroledger/pkg/types"
)

// ErrUnknownDevice is returned for a device that has never reported.
var ErrUnknownDevice = errors.New("history: unknown device")

// Status summarises one device's buffer.
type Status struct {
	DeviceID     string    `json:"device_id"`
	Online       bool      `json:"is_online"`
	LastSeen     time.Time `json:"last_seen"`
	ReadingCount int       `json:"reading_count"`
	BufferSize   int       `json:"buffer_size"`
}

// Store is a thread-safe bounded sample store keyed by device ID.
type Store struct {
	mu       sync.RWMutex
	devices  map[string]*ring
	capacity int
	window   int
	online   time.Duration
	now      func() time.Time // injectable for deterministic tests
}

// New creates a Store holding at most capacity samples per device. window is
// the default size returned by Recent; online is how recently a device must
// have reported to count as online.
func New(capacity, window int, online time.Duration) *Store {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 || window > capacity {
		window = capacity
	}
	return &Store{
		devices:  make(map[string]*ring),
		capacity: capacity,
		window:   window,
		online:   online,
		now:      time.Now,
	}
}

// Append stores s at the tail of its device's buffer, evicting the oldest
// sample when the buffer is full.
func (s *Store) Append(sample types.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(sample)
}

// AppendWindow appends sample and returns the most recent n samples for its
// device, including sample itself, as one atomic step. n <= 0 uses the
// configured window.
func (s *Store) AppendWindow(sample types.Sample, n int) []types.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.appendLocked(sample)
	return r.tail(s.sizeLocked(n))
}

// Recent returns up to n of the device's most recent samples, oldest first.
// n <= 0 uses the configured window. An unknown device yields an empty slice.
func (s *Store) Recent(deviceID string, n int) []types.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.devices[deviceID]
	if !ok {
		return []types.Sample{}
	}
	return r.tail(s.sizeLocked(n))
}

// History returns up to limit of the device's samples, oldest first.
func (s *Store) History(deviceID string, limit int) []types.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.devices[deviceID]
	if !ok {
		return []types.Sample{}
	}
	if limit <= 0 || limit > s.capacity {
		limit = s.capacity
	}
	return r.tail(limit)
}

// Status returns the buffer summary for deviceID.
func (s *Store) Status(deviceID string) (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.devices[deviceID]
	if !ok {
		return Status{}, ErrUnknownDevice
	}
	return Status{
		DeviceID:     deviceID,
		Online:       s.now().Sub(r.lastSeen) < s.online,
		LastSeen:     r.lastSeen,
		ReadingCount: r.n,
		BufferSize:   s.capacity,
	}, nil
}

// Devices returns all known device IDs, sorted.
func (s *Store) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.devices))
	for id := range s.devices {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clear removes all samples for deviceID. It reports whether the device existed.
func (s *Store) Clear(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[deviceID]; !ok {
		return false
	}
	delete(s.devices, deviceID)
	return true
}

// Window returns the configured default window size.
func (s *Store) Window() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window
}

// SetWindow changes the default window size, clamped to [1, capacity].
func (s *Store) SetWindow(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > s.capacity {
		n = s.capacity
	}
	s.window = n
}

// Capacity returns the per-device buffer bound.
func (s *Store) Capacity() int { return s.capacity }

// Evict removes devices whose last sample is older than now minus idle.
// It returns the number of devices removed.
func (s *Store) Evict(now time.Time, idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-idle)
	removed := 0
	for id, r := range s.devices {
		if !r.lastSeen.After(cutoff) {
			delete(s.devices, id)
			removed++
		}
	}
	return removed
}

// Run evicts idle devices every half retention period (minimum 1 second).
// A non-positive retention disables eviction. Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		<-ctx.Done()
		return
	}
	interval := retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now, retention); n > 0 {
				slog.Info("history: evicted idle devices", "count", n)
			}
		}
	}
}

func (s *Store) appendLocked(sample types.Sample) *ring {
	r, ok := s.devices[sample.DeviceID]
	if !ok {
		r = newRing(s.capacity)
		s.devices[sample.DeviceID] = r
	}
	r.push(sample)
	r.lastSeen = s.now()
	return r
}

func (s *Store) sizeLocked(n int) int {
	if n <= 0 {
		return s.window
	}
	return n
}

// ring is a fixed-capacity circular buffer of samples.
type ring struct {
	buf      []types.Sample
	start    int // index of the oldest sample
	n        int
	lastSeen time.Time
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]types.Sample, capacity)}
}

func (r *ring) push(s types.Sample) {
	c := len(r.buf)
	if r.n < c {
		r.buf[(r.start+r.n)%c] = s
		r.n++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % c
}

// tail copies the newest k samples, oldest first.
func (r *ring) tail(k int) []types.Sample {
	if k > r.n {
		k = r.n
	}
	c := len(r.buf)
	out := make([]types.Sample, k)
	first := r.start + r.n - k
	for i := 0; i < k; i++ {
		out[i] = r.buf[(first+i)%c]
	}
	return out
}
