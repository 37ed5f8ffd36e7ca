package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aeroledger/aeroledger/agent/internal/compute"
	"github.com/aeroledger/aeroledger/agent/internal/config"
	"github.com/aeroledger/aeroledger/agent/internal/scraper"
	"github.com/aeroledger/aeroledger/pkg/types"
)

// maxConcurrentScrapes bounds parallel exporter requests per tick.
const maxConcurrentScrapes = 8

// shipFunc receives every sample produced by a scrape cycle.
type shipFunc func(*types.Sample)

type device struct {
	cfg config.Device
	s   scraper.Scraper
}

// fleet is the set of devices scraped each tick. The set is swapped whole
// on config reload.
type fleet struct {
	engine *compute.Engine
	ship   shipFunc

	mu      sync.RWMutex
	devices []device
}

func newFleet(engine *compute.Engine, ship shipFunc) *fleet {
	return &fleet{engine: engine, ship: ship}
}

// set rebuilds scrapers for devs. Devices whose scraper cannot be built
// are skipped and logged. Returns the number registered.
func (f *fleet) set(devs []config.Device) int {
	next := make([]device, 0, len(devs))
	keep := make(map[string]bool, len(devs))
	for _, d := range devs {
		s, err := scraper.New(d)
		if err != nil {
			slog.Error("skipping device, could not build scraper", "device", d.ID, "err", err)
			continue
		}
		next = append(next, device{cfg: d, s: s})
		keep[d.ID] = true
		slog.Info("registered device", "id", d.ID, "endpoint", d.Endpoint)
	}

	f.mu.Lock()
	prev := f.devices
	f.devices = next
	f.mu.Unlock()

	for _, d := range prev {
		if !keep[d.cfg.ID] {
			f.engine.Forget(d.cfg.ID)
			slog.Info("removed device", "id", d.cfg.ID)
		}
	}
	return len(next)
}

func (f *fleet) snapshot() []device {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]device, len(f.devices))
	copy(out, f.devices)
	return out
}

// configs returns the configuration of every registered device.
func (f *fleet) configs() []config.Device {
	devs := f.snapshot()
	out := make([]config.Device, len(devs))
	for i, d := range devs {
		out[i] = d.cfg
	}
	return out
}

// scrapeOnce polls every device concurrently and ships complete, fresh samples.
func (f *fleet) scrapeOnce(ctx context.Context, now time.Time) {
	devs := f.snapshot()
	results := make([]*compute.Result, len(devs))

	var g errgroup.Group
	g.SetLimit(maxConcurrentScrapes)
	for i, d := range devs {
		g.Go(func() error {
			res, err := d.s.Scrape(ctx)
			if err != nil {
				slog.Warn("scrape error", "device", d.cfg.ID, "err", err)
				return nil
			}
			results[i] = f.engine.Process(res, now)
			return nil
		})
	}
	_ = g.Wait()

	// Ship in configuration order so output is deterministic per tick.
	for _, r := range results {
		if r == nil || r.Sample == nil {
			continue
		}
		f.ship(r.Sample)
		slog.Debug("queued sample", "device", r.DeviceID, "uptime_pct", r.UptimePct)
	}
}

// run scrapes on every tick of interval until ctx is cancelled.
func (f *fleet) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			f.scrapeOnce(ctx, t)
		}
	}
}
