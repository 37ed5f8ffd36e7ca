package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aeroledger/aeroledger/pkg/types"
	"github.com/aeroledger/aeroledger/server/internal/judgment"
	"github.com/aeroledger/aeroledger/server/internal/telemetry"
)

// Stage is the furthest point a cycle reached.
type Stage string

const (
	StageRaw          Stage = "raw"
	StageFaultChecked Stage = "fault_checked"
	StageHealed       Stage = "healed"
	StageSafeMode     Stage = "safe_mode"
	StagePredicted    Stage = "predicted"
	StageClassified   Stage = "classified"
	StageDecided      Stage = "decided"
	StageAudited      Stage = "audited"
)

// Detector classifies a sample against its recent window.
type Detector interface {
	Detect(sample types.Sample, window []types.Sample) types.FaultFinding
}

// Healer holds per-device fault memory.
type Healer interface {
	Heal(deviceID string, f types.FaultFinding) types.HealingAction
	SafeMode(deviceID string) bool
	SafeModeCommand(at time.Time) types.ControlCommand
	IgnoredChannels(deviceID string) []types.Channel
}

// Emitter accepts audit events without blocking.
type Emitter interface {
	Emit(e types.AuditEvent)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Detector   Detector
	Healer     Healer
	Predictor  judgment.Predictor
	Classifier judgment.Classifier
	Decider    judgment.Decider
	Emitter    Emitter
	// Levels is the ascending set of allowed fan intensities.
	Levels []int
}

// Cycle is the record of one completed control cycle.
type Cycle struct {
	ID             string                `json:"cycle_id"`
	DeviceID       string                `json:"device_id"`
	Stage          Stage                 `json:"stage"`
	Finding        types.FaultFinding    `json:"fault"`
	Healing        *types.HealingAction  `json:"healing,omitempty"`
	Prediction     *types.Prediction     `json:"prediction,omitempty"`
	Classification *types.Classification `json:"classification,omitempty"`
	Command        types.ControlCommand  `json:"command"`
}

// CycleError reports a cycle aborted by a failed judgment.
type CycleError struct {
	CycleID  string
	DeviceID string
	// Stage is the last stage completed before the failure.
	Stage Stage
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("pipeline: cycle %s for %s aborted after %s: %v", e.CycleID, e.DeviceID, e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

// Orchestrator sequences one control cycle. It is safe for concurrent use.
type Orchestrator struct {
	d      Deps
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

// New returns an Orchestrator over d. Empty Levels default to types.Levels.
func New(d Deps) *Orchestrator {
	if len(d.Levels) == 0 {
		d.Levels = types.Levels
	}
	return &Orchestrator{
		d:      d,
		tracer: telemetry.Tracer(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Run executes one cycle for current. window is the device history, oldest
// first, and normally ends with current.
func (o *Orchestrator) Run(ctx context.Context, current types.Sample, window []types.Sample) (*Cycle, error) {
	start := o.now()
	c := &Cycle{ID: o.newID(), DeviceID: current.DeviceID, Stage: StageRaw}

	ctx, span := o.tracer.Start(ctx, "pipeline.cycle", trace.WithAttributes(
		attribute.String("cycle.id", c.ID),
		attribute.String("device.id", c.DeviceID),
		attribute.Int("window.len", len(window)),
	))
	defer span.End()

	log := slog.With("cycle", c.ID, "device", c.DeviceID)

	c.Finding = o.d.Detector.Detect(current, window)
	c.Stage = StageFaultChecked

	if c.Finding.HasFault {
		telemetry.RecordFault(string(c.Finding.Kind), string(c.Finding.Channel))
		log.Warn("pipeline: fault detected",
			"kind", c.Finding.Kind, "channel", c.Finding.Channel, "detail", c.Finding.Detail)

		action := o.d.Healer.Heal(c.DeviceID, c.Finding)
		c.Healing = &action
		c.Stage = StageHealed
		log.Info("pipeline: healing applied", "action", action.Action, "ignored", action.IgnoredChannels)
		o.d.Emitter.Emit(types.FaultEvent(c.DeviceID, c.Finding, action, o.now()))
	}

	if o.d.Healer.SafeMode(c.DeviceID) {
		c.Command = o.d.Healer.SafeModeCommand(o.now())
		c.Stage = StageSafeMode
		span.SetAttributes(attribute.Bool("safe_mode", true))
		log.Warn("pipeline: safe mode active, judgments skipped")
		if c.Command.Audited() {
			o.d.Emitter.Emit(types.DecisionEvent(c.DeviceID, c.Command, c.Command.Timestamp))
			c.Stage = StageAudited
		}
		telemetry.RecordCycle(telemetry.OutcomeSafeMode, o.now().Sub(start))
		return c, nil
	}

	in := judgment.Input{
		Current: current,
		Window:  window,
		Ignored: o.d.Healer.IgnoredChannels(c.DeviceID),
	}

	var pred types.Prediction
	err := o.judge(ctx, "predict", func(ctx context.Context) error {
		var err error
		pred, err = o.d.Predictor.Predict(ctx, in)
		return err
	})
	if err != nil {
		return nil, o.abort(span, c, start, err)
	}
	c.Prediction = &pred
	c.Stage = StagePredicted

	// Classification sees the current sample only.
	var class types.Classification
	err = o.judge(ctx, "classify", func(ctx context.Context) error {
		var err error
		class, err = o.d.Classifier.Classify(ctx, judgment.Input{Current: current, Ignored: in.Ignored})
		return err
	})
	if err != nil {
		return nil, o.abort(span, c, start, err)
	}
	c.Classification = &class
	c.Stage = StageClassified

	var raw types.RawDecision
	err = o.judge(ctx, "decide", func(ctx context.Context) error {
		var err error
		raw, err = o.d.Decider.Decide(ctx, judgment.Input{Current: current, Ignored: in.Ignored}, pred, class)
		return err
	})
	if err != nil {
		return nil, o.abort(span, c, start, err)
	}
	c.Command = types.ControlCommand{
		On:             raw.On,
		Intensity:      types.SnapIntensity(raw.RawIntensity, o.d.Levels),
		Reasoning:      raw.Reasoning,
		OverrideReason: raw.OverrideReason,
		Timestamp:      o.now(),
	}
	c.Stage = StageDecided
	log.Info("pipeline: decision",
		"fan_on", c.Command.On, "intensity", c.Command.Intensity,
		"raw_intensity", raw.RawIntensity, "air_type", class.AirType, "will_peak", pred.WillPeak)

	if c.Command.Audited() {
		o.d.Emitter.Emit(types.DecisionEvent(c.DeviceID, c.Command, c.Command.Timestamp))
		c.Stage = StageAudited
	}

	span.SetAttributes(
		attribute.Bool("fan.on", c.Command.On),
		attribute.Int("fan.intensity", c.Command.Intensity),
	)
	telemetry.RecordCycle(telemetry.OutcomeDecided, o.now().Sub(start))
	return c, nil
}

// judge runs one judgment call under its own span and latency metric.
func (o *Orchestrator) judge(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "judgment."+name)
	defer span.End()

	start := o.now()
	err := fn(ctx)
	telemetry.RecordJudgment(name, o.now().Sub(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	return err
}

func (o *Orchestrator) abort(span trace.Span, c *Cycle, start time.Time, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "cycle aborted")
	telemetry.RecordCycle(telemetry.OutcomeAborted, o.now().Sub(start))
	slog.Error("pipeline: cycle aborted", "cycle", c.ID, "device", c.DeviceID, "stage", c.Stage, "err", err)
	return &CycleError{CycleID: c.ID, DeviceID: c.DeviceID, Stage: c.Stage, Err: err}
}
