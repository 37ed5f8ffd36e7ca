package compute

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/aeroledger/aeroledger/agent/internal/scraper"
	"github.com/aeroledger/aeroledger/pkg/types"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// tick returns baseTime advanced by n scrape intervals of 10s.
func tick(n int) time.Time {
	return baseTime.Add(time.Duration(n) * 10 * time.Second)
}

// makeResult builds a complete ScrapeResult whose sensor refreshed at updated.
func makeResult(id string, pm25 float64, updated time.Time) *scraper.ScrapeResult {
	return &scraper.ScrapeResult{
		DeviceID:  id,
		ScrapedAt: baseTime,
		UpdatedAt: updated,
		Values: map[types.Channel]float64{
			types.ChannelPM25: pm25,
			types.ChannelCO2:  600,
			types.ChannelCO:   1,
			types.ChannelVOC:  100,
		},
	}
}

func failed(id string) *scraper.ScrapeResult {
	return &scraper.ScrapeResult{DeviceID: id, ScrapedAt: baseTime, Err: errors.New("connection refused")}
}

// --- Sample production ---

func TestEngine_CompleteScrape_ProducesSample(t *testing.T) {
	e := NewEngine()
	out := e.Process(makeResult("dev-1", 12.5, tick(0)), tick(0))

	if out.Sample == nil {
		t.Fatalf("expected sample, skipped=%q", out.Skipped)
	}
	s := out.Sample
	if s.DeviceID != "dev-1" || s.PM25 != 12.5 || s.CO2 != 600 || s.CO != 1 || s.VOC != 100 {
		t.Errorf("unexpected sample %+v", s)
	}
	if !s.Timestamp.Equal(tick(0)) {
		t.Errorf("Timestamp = %v, want sensor refresh time %v", s.Timestamp, tick(0))
	}
}

func TestEngine_NoRefreshMetric_UsesScrapeTime(t *testing.T) {
	e := NewEngine()
	res := makeResult("dev-1", 5, time.Time{})
	res.ScrapedAt = tick(3)

	out := e.Process(res, tick(4))
	if out.Sample == nil {
		t.Fatal("expected sample")
	}
	if !out.Sample.Timestamp.Equal(tick(3)) {
		t.Errorf("Timestamp = %v, want scrape time", out.Sample.Timestamp)
	}

	// Without a refresh metric every scrape is forwarded.
	if again := e.Process(res, tick(5)); again.Sample == nil {
		t.Error("expected second sample without refresh metric")
	}
}

// --- Stale readings ---

func TestEngine_SameRefreshTime_Skipped(t *testing.T) {
	e := NewEngine()
	e.Process(makeResult("dev-1", 10, tick(0)), tick(0))

	out := e.Process(makeResult("dev-1", 10, tick(0)), tick(1))
	if out.Sample != nil {
		t.Fatal("expected stale reading to be skipped")
	}
	if out.Skipped != SkipStale {
		t.Errorf("Skipped = %q, want %q", out.Skipped, SkipStale)
	}
}

func TestEngine_RefreshAdvances_ShipsAgain(t *testing.T) {
	e := NewEngine()
	e.Process(makeResult("dev-1", 10, tick(0)), tick(0))
	e.Process(makeResult("dev-1", 10, tick(0)), tick(1))

	out := e.Process(makeResult("dev-1", 11, tick(2)), tick(2))
	if out.Sample == nil {
		t.Fatalf("expected sample after refresh, skipped=%q", out.Skipped)
	}
	if out.Sample.PM25 != 11 {
		t.Errorf("PM25 = %v, want 11", out.Sample.PM25)
	}
}

func TestEngine_RefreshGoesBackwards_Skipped(t *testing.T) {
	e := NewEngine()
	e.Process(makeResult("dev-1", 10, tick(5)), tick(5))

	out := e.Process(makeResult("dev-1", 10, tick(4)), tick(6))
	if out.Skipped != SkipStale {
		t.Errorf("Skipped = %q, want stale", out.Skipped)
	}
}

// --- Failures ---

func TestEngine_ScrapeFailure_NoSample(t *testing.T) {
	e := NewEngine()
	out := e.Process(failed("dev-1"), tick(0))

	if out.Sample != nil {
		t.Fatal("failed scrape must not produce a sample")
	}
	if out.Skipped != SkipScrapeFailed {
		t.Errorf("Skipped = %q", out.Skipped)
	}
	if out.Error == "" {
		t.Error("Error should carry the scrape failure")
	}
}

func TestEngine_ScrapeFailure_DoesNotAdvanceBaseline(t *testing.T) {
	e := NewEngine()
	e.Process(makeResult("dev-1", 10, tick(0)), tick(0))
	e.Process(failed("dev-1"), tick(1))

	// Same refresh time as before the failure: still stale.
	out := e.Process(makeResult("dev-1", 10, tick(0)), tick(2))
	if out.Skipped != SkipStale {
		t.Errorf("Skipped = %q, want stale", out.Skipped)
	}
}

func TestEngine_IncompleteScrape_NoSample(t *testing.T) {
	e := NewEngine()
	res := makeResult("dev-1", 10, tick(0))
	delete(res.Values, types.ChannelVOC)
	res.Missing = []types.Channel{types.ChannelVOC}

	out := e.Process(res, tick(0))
	if out.Sample != nil {
		t.Fatal("incomplete scrape must not produce a sample")
	}
	if out.Skipped != SkipIncomplete {
		t.Errorf("Skipped = %q", out.Skipped)
	}
	if len(out.Missing) != 1 {
		t.Errorf("Missing = %v", out.Missing)
	}
}

// --- Uptime ---

func TestEngine_UptimePct_AllSuccess(t *testing.T) {
	e := NewEngine()
	var last *Result
	for i := 0; i < 5; i++ {
		last = e.Process(makeResult("dev-1", 10, tick(i)), tick(i))
	}
	if last.UptimePct != 100 {
		t.Errorf("UptimePct = %.2f, want 100", last.UptimePct)
	}
}

func TestEngine_UptimePct_HalfFailed(t *testing.T) {
	e := NewEngine()
	var last *Result
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			last = e.Process(makeResult("dev-1", 10, tick(i)), tick(i))
		} else {
			last = e.Process(failed("dev-1"), tick(i))
		}
	}
	if !almostEqual(last.UptimePct, 50, 0.1) {
		t.Errorf("UptimePct = %.2f, want 50", last.UptimePct)
	}
}

func TestEngine_UptimePct_RollingWindow(t *testing.T) {
	e := NewEngine()
	// Fill the window with failures, then uptimeWindow/2 successes.
	for i := 0; i < uptimeWindow; i++ {
		e.Process(failed("dev-1"), tick(i))
	}
	var last *Result
	for i := 0; i < uptimeWindow/2; i++ {
		last = e.Process(makeResult("dev-1", 10, tick(100+i)), tick(100+i))
	}
	if !almostEqual(last.UptimePct, 50, 0.5) {
		t.Errorf("UptimePct = %.2f, want 50", last.UptimePct)
	}
	if got := e.Uptime("dev-1"); !almostEqual(got, 50, 0.5) {
		t.Errorf("Uptime() = %.2f", got)
	}
}

func TestEngine_Uptime_UnknownDevice(t *testing.T) {
	if got := NewEngine().Uptime("ghost"); got != 100 {
		t.Errorf("Uptime = %v, want 100", got)
	}
}

// --- Isolation ---

func TestEngine_MultiDevice_Independent(t *testing.T) {
	e := NewEngine()
	e.Process(makeResult("dev-a", 10, tick(0)), tick(0))

	// dev-b sharing a refresh time with dev-a is not stale.
	out := e.Process(makeResult("dev-b", 20, tick(0)), tick(0))
	if out.Sample == nil {
		t.Fatal("devices must not share refresh baselines")
	}
}

func TestEngine_Forget_ResetsBaseline(t *testing.T) {
	e := NewEngine()
	e.Process(makeResult("dev-1", 10, tick(0)), tick(0))
	e.Forget("dev-1")

	out := e.Process(makeResult("dev-1", 10, tick(0)), tick(1))
	if out.Sample == nil {
		t.Error("forgotten device should ship its next reading")
	}
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
