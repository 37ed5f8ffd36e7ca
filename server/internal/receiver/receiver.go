package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/aeroledger/aeroledger/pkg/types"
	"github.com/aeroledger/aeroledger/server/internal/archive"
	"github.com/aeroledger/aeroledger/server/internal/config"
	"github.com/aeroledger/aeroledger/server/internal/control"
	"github.com/aeroledger/aeroledger/server/internal/history"
	"github.com/aeroledger/aeroledger/server/internal/pipeline"
	"github.com/aeroledger/aeroledger/server/internal/telemetry"
)

const archiveTimeout = 5 * time.Second

var (
	// ErrInvalidSample is returned for samples rejected at the boundary.
	ErrInvalidSample = errors.New("receiver: invalid sample")
	// ErrRateLimited is returned when a device reports faster than allowed.
	ErrRateLimited = errors.New("receiver: device rate limit exceeded")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	return v
}

// ValidateSample checks s against its struct tags and the physical limits.
func ValidateSample(s types.Sample, limits types.Limits) error {
	_, err := check(s, limits)
	return err
}

// check returns the rejection reason label alongside the error.
func check(s types.Sample, limits types.Limits) (string, error) {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return "invalid", fmt.Errorf("%w: %s", ErrInvalidSample, strings.Join(parts, ", "))
		}
		return "invalid", fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	if ch, bad := limits.FirstViolation(s); bad {
		return "limits", fmt.Errorf("%w: %s=%g outside physical limits %s", ErrInvalidSample, ch, s.Value(ch), limits[ch])
	}
	return "", nil
}

// Runner executes one control cycle.
type Runner interface {
	Run(ctx context.Context, current types.Sample, window []types.Sample) (*pipeline.Cycle, error)
}

// Result is the outcome of one accepted sample.
type Result struct {
	Cycle   *pipeline.Cycle
	Command types.ControlCommand
}

// Receiver validates, stores and processes incoming samples.
type Receiver struct {
	limits   types.Limits
	store    *history.Store
	pipeline Runner
	control  *control.Service
	archive  archive.Archiver
	audit    pipeline.Emitter

	perSecond float64
	burst     int
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter

	now func() time.Time
}

// New wires a Receiver. A nil archiver disables archiving and a nil emitter
// disables override audits.
func New(cfg config.IngestConfig, st *history.Store, p Runner, ctl *control.Service, arc archive.Archiver, em pipeline.Emitter) *Receiver {
	if arc == nil {
		arc = archive.Nop{}
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Receiver{
		limits:    cfg.Limits,
		store:     st,
		pipeline:  p,
		control:   ctl,
		archive:   arc,
		audit:     em,
		perSecond: cfg.RatePerDevice,
		burst:     burst,
		limiters:  make(map[string]*rate.Limiter),
		now:       time.Now,
	}
}

// Ingest accepts one sample and returns the command for its device.
func (r *Receiver) Ingest(ctx context.Context, s types.Sample) (*Result, error) {
	if s.Timestamp.IsZero() {
		s.Timestamp = r.now().UTC()
	}
	if reason, err := check(s, r.limits); err != nil {
		telemetry.RecordIngestRejected(reason)
		slog.Warn("receiver: sample rejected", "device", s.DeviceID, "err", err)
		return nil, err
	}
	if !r.allow(s.DeviceID) {
		telemetry.RecordIngestRejected("rate")
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, s.DeviceID)
	}

	window := r.store.AppendWindow(s, r.store.Window())
	slog.Debug("receiver: sample stored", "device", s.DeviceID, "window", len(window))
	go r.archiveSample(s)

	cycle, err := r.pipeline.Run(ctx, s, window)
	if err != nil {
		return nil, err
	}
	cmd, overridden := r.control.ApplyAuto(s.DeviceID, cycle.Command)
	if overridden && r.audit != nil {
		r.audit.Emit(types.OverrideEvent(s.DeviceID, cmd, cycle.Command, r.now().UTC()))
	}
	return &Result{Cycle: cycle, Command: cmd}, nil
}

func (r *Receiver) allow(deviceID string) bool {
	if r.perSecond <= 0 {
		return true
	}
	r.mu.Lock()
	lim, ok := r.limiters[deviceID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(r.perSecond), r.burst)
		r.limiters[deviceID] = lim
	}
	r.mu.Unlock()
	return lim.AllowN(r.now(), 1)
}

func (r *Receiver) archiveSample(s types.Sample) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := r.archive.Record(ctx, s); err != nil {
		slog.Warn("receiver: archive failed", "device", s.DeviceID, "err", err)
	}
}
