package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/aeroledger/aeroledger/agent/internal/config"
	"github.com/aeroledger/aeroledger/pkg/types"
)

type sensorScraper struct {
	dev    config.Device
	client *http.Client
}

// Scrape fetches the device exporter and reads one value per channel.
func (s *sensorScraper) Scrape(ctx context.Context) (*ScrapeResult, error) {
	res := &ScrapeResult{
		DeviceID:  s.dev.ID,
		ScrapedAt: time.Now().UTC(),
		Values:    make(map[types.Channel]float64, len(types.ChannelOrder)),
	}

	mfs, err := fetchMetrics(ctx, s.client, s.dev.Endpoint)
	if err != nil {
		res.Err = fmt.Errorf("sensor scrape %q: %w", s.dev.ID, err)
		slog.Warn("scraper: sensor fetch failed", "device", s.dev.ID, "err", err)
		return res, nil
	}

	for _, ch := range types.ChannelOrder {
		v, ok := valueOf(mfs[s.dev.Metrics.For(ch)], s.dev.Labels)
		if !ok {
			res.Missing = append(res.Missing, ch)
			continue
		}
		res.Values[ch] = v
	}

	if name := s.dev.Metrics.UpdatedAt; name != "" {
		if ts, ok := valueOf(mfs[name], s.dev.Labels); ok && ts > 0 {
			sec, frac := math.Modf(ts)
			res.UpdatedAt = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
	}

	if len(res.Missing) > 0 {
		slog.Warn("scraper: channels missing from exposition", "device", s.dev.ID, "missing", res.Missing)
	}
	return res, nil
}
