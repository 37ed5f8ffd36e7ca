package compute

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aeroledger/aeroledger/agent/internal/scraper"
	"github.com/aeroledger/aeroledger/pkg/types"
)

// uptimeWindow is the number of recent scrape outcomes tracked for uptime %.
const uptimeWindow = 20

// Reasons a Result carries no sample.
const (
	SkipScrapeFailed = "scrape_failed"
	SkipIncomplete   = "incomplete"
	SkipStale        = "stale"
)

// Result is the outcome of processing one scrape of a device.
type Result struct {
	DeviceID  string
	Timestamp time.Time

	// Sample is nil when nothing should be shipped this cycle; Skipped says why.
	Sample  *types.Sample
	Skipped string

	UptimePct float64
	Missing   []types.Channel
	Error     string // non-empty when the scrape failed
}

// Engine maintains per-device state across scrape cycles.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	states map[string]*deviceState
}

// NewEngine returns a ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{states: make(map[string]*deviceState)}
}

// Process ingests a ScrapeResult and returns the sample to ship, if any.
//
// now is passed explicitly so callers (and tests) control the clock without
// sleeping. Use time.Now() in production.
//
// A sample is produced only when every channel was read and the sensor's
// refresh time (when the exporter publishes one) has advanced since the
// last shipped reading.
func (e *Engine) Process(res *scraper.ScrapeResult, now time.Time) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(res.DeviceID)
	success := res.Err == nil
	st.recordScrape(success)

	out := &Result{
		DeviceID:  res.DeviceID,
		Timestamp: now,
		UptimePct: st.uptimePct(),
		Missing:   res.Missing,
	}

	if !success {
		slog.Warn("compute: scrape failed, nothing to ship",
			"device", res.DeviceID, "err", res.Err)
		out.Skipped = SkipScrapeFailed
		out.Error = res.Err.Error()
		return out
	}

	if len(res.Missing) > 0 {
		out.Skipped = SkipIncomplete
		return out
	}

	if !res.UpdatedAt.IsZero() {
		if st.hasBaseline && !res.UpdatedAt.After(st.lastUpdated) {
			st.staleCycles++
			slog.Debug("compute: sensor has not refreshed, skipping",
				"device", res.DeviceID, "updated_at", res.UpdatedAt, "stale_cycles", st.staleCycles)
			out.Skipped = SkipStale
			return out
		}
		st.lastUpdated = res.UpdatedAt
		st.hasBaseline = true
	}
	st.staleCycles = 0

	ts := res.UpdatedAt
	if ts.IsZero() {
		ts = res.ScrapedAt
	}
	if ts.IsZero() {
		ts = now
	}
	out.Sample = &types.Sample{
		DeviceID:  res.DeviceID,
		PM25:      res.Values[types.ChannelPM25],
		CO2:       res.Values[types.ChannelCO2],
		CO:        res.Values[types.ChannelCO],
		VOC:       res.Values[types.ChannelVOC],
		Timestamp: ts.UTC(),
	}
	return out
}

// Forget drops state for a device removed from configuration.
func (e *Engine) Forget(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, deviceID)
}

// Uptime returns the rolling scrape success percentage for a device.
func (e *Engine) Uptime(deviceID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[deviceID]; ok {
		return st.uptimePct()
	}
	return 100
}

// deviceState holds the refresh baseline and uptime history for one device.
type deviceState struct {
	lastUpdated time.Time
	hasBaseline bool
	staleCycles int
	history     []bool // circular buffer of scrape outcomes, newest last
}

func (e *Engine) stateFor(id string) *deviceState {
	if st, ok := e.states[id]; ok {
		return st
	}
	st := &deviceState{}
	e.states[id] = st
	return st
}

func (st *deviceState) recordScrape(success bool) {
	if len(st.history) >= uptimeWindow {
		st.history = st.history[1:]
	}
	st.history = append(st.history, success)
}

func (st *deviceState) uptimePct() float64 {
	if len(st.history) == 0 {
		return 100 // assume up before first observation
	}
	var ok int
	for _, s := range st.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(st.history)) * 100
}
