package fault

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/aeroledger/aeroledger/pkg/types"
	"github.com/aeroledger/aeroledger/server/internal/config"
)

// Config is the threshold set a detection runs against.
type Config struct {
	Bounds         types.Limits
	StuckThreshold int
	Consistency    config.ConsistencyConfig
}

// ConfigFrom converts the detector section of the server config.
func ConfigFrom(c config.DetectorConfig) Config {
	bounds := make(types.Limits, len(c.Bounds))
	for ch, b := range c.Bounds {
		bounds[ch] = b
	}
	return Config{
		Bounds:         bounds,
		StuckThreshold: c.StuckThreshold,
		Consistency:    c.Consistency,
	}
}

// Detector runs Detect against the most recently installed Config.
// It is safe for concurrent use.
type Detector struct {
	cfg atomic.Pointer[Config]
}

// NewDetector returns a Detector using cfg.
func NewDetector(cfg Config) *Detector {
	d := &Detector{}
	d.Update(cfg)
	return d
}

// Update installs a new threshold set. Detections already running keep the
// set they started with.
func (d *Detector) Update(cfg Config) {
	d.cfg.Store(&cfg)
}

// Detect classifies sample against window using the current thresholds.
func (d *Detector) Detect(sample types.Sample, window []types.Sample) types.FaultFinding {
	return Detect(*d.cfg.Load(), sample, window)
}

// Detect returns the highest-priority finding for sample and window.
// window is ordered oldest to newest.
func Detect(cfg Config, sample types.Sample, window []types.Sample) types.FaultFinding {
	if f, ok := checkRange(cfg, sample); ok {
		return f
	}
	if f, ok := checkStuck(cfg, window); ok {
		return f
	}
	if f, ok := checkConsistency(cfg, sample); ok {
		return f
	}
	return types.NoFault()
}

func checkRange(cfg Config, s types.Sample) (types.FaultFinding, bool) {
	first, ok := cfg.Bounds.FirstViolation(s)
	if !ok {
		return types.FaultFinding{}, false
	}
	// The detail lists every violation; the finding names the first.
	var parts []string
	for _, ch := range types.ChannelOrder {
		b, ok := cfg.Bounds[ch]
		if ok && !b.Contains(s.Value(ch)) {
			parts = append(parts, fmt.Sprintf("%s=%g out of range %s", label(ch), s.Value(ch), b))
		}
	}
	return types.FaultFinding{
		HasFault: true,
		Kind:     types.FaultRangeViolation,
		Channel:  first,
		Severity: types.SeverityHigh,
		Detail:   strings.Join(parts, "; "),
	}, true
}

func checkStuck(cfg Config, window []types.Sample) (types.FaultFinding, bool) {
	n := cfg.StuckThreshold
	if n <= 0 || len(window) < n {
		return types.FaultFinding{}, false
	}
	tail := window[len(window)-n:]
	for _, ch := range types.ChannelOrder {
		v := tail[0].Value(ch)
		stuck := true
		for _, s := range tail[1:] {
			if s.Value(ch) != v {
				stuck = false
				break
			}
		}
		if stuck {
			return types.FaultFinding{
				HasFault: true,
				Kind:     types.FaultStuckChannel,
				Channel:  ch,
				Severity: types.SeverityMedium,
				Detail:   fmt.Sprintf("%s sensor stuck at value %g", label(ch), v),
			}, true
		}
	}
	return types.FaultFinding{}, false
}

func checkConsistency(cfg Config, s types.Sample) (types.FaultFinding, bool) {
	c := cfg.Consistency
	if s.PM25 > c.PM25High && s.CO < c.COLow && s.VOC < c.VOCLow {
		return types.FaultFinding{
			HasFault: true,
			Kind:     types.FaultInconsistent,
			Channel:  types.ChannelPM25,
			Severity: types.SeverityMedium,
			Detail:   fmt.Sprintf("High PM2.5 (%g) but very low CO (%g) and VOC (%g)", s.PM25, s.CO, s.VOC),
		}, true
	}
	if s.CO > c.COHigh && s.CO2 < c.CO2Low {
		return types.FaultFinding{
			HasFault: true,
			Kind:     types.FaultInconsistent,
			Channel:  types.ChannelCO,
			Severity: types.SeverityMedium,
			Detail:   fmt.Sprintf("High CO (%g) but normal CO2 (%g)", s.CO, s.CO2),
		}, true
	}
	return types.FaultFinding{}, false
}

func label(ch types.Channel) string {
	if ch == types.ChannelPM25 {
		return "PM2.5"
	}
	return strings.ToUpper(string(ch))
}
