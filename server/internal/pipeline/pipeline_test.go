package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroledger/aeroledger/pkg/types"
	"github.com/aeroledger/aeroledger/server/internal/config"
	"github.com/aeroledger/aeroledger/server/internal/fault"
	"github.com/aeroledger/aeroledger/server/internal/healing"
	"github.com/aeroledger/aeroledger/server/internal/judgment"
)

var baseTime = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

// recorder captures emitted audit events.
type recorder struct {
	mu     sync.Mutex
	events []types.AuditEvent
}

func (r *recorder) Emit(e types.AuditEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []types.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

// stubJudge implements all three judgments with canned results.
type stubJudge struct {
	mu       sync.Mutex
	pred     types.Prediction
	class    types.Classification
	raw      types.RawDecision
	failAt   string
	err      error
	calls    []string
	inputs   map[string]judgment.Input
	received []types.Prediction
}

func (s *stubJudge) record(name string, in judgment.Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	if s.inputs == nil {
		s.inputs = make(map[string]judgment.Input)
	}
	s.inputs[name] = in
	if s.failAt == name {
		return s.err
	}
	return nil
}

func (s *stubJudge) Predict(_ context.Context, in judgment.Input) (types.Prediction, error) {
	return s.pred, s.record("predict", in)
}

func (s *stubJudge) Classify(_ context.Context, in judgment.Input) (types.Classification, error) {
	return s.class, s.record("classify", in)
}

func (s *stubJudge) Decide(_ context.Context, in judgment.Input, p types.Prediction, _ types.Classification) (types.RawDecision, error) {
	s.mu.Lock()
	s.received = append(s.received, p)
	s.mu.Unlock()
	return s.raw, s.record("decide", in)
}

type fixture struct {
	orch   *Orchestrator
	healer *healing.Supervisor
	judge  *stubJudge
	audit  *recorder
}

func newFixture(j *stubJudge) fixture {
	h := healing.New()
	r := &recorder{}
	o := New(Deps{
		Detector:   fault.NewDetector(fault.ConfigFrom(config.Default().Server.Detector)),
		Healer:     h,
		Predictor:  j,
		Classifier: j,
		Decider:    j,
		Emitter:    r,
	})
	o.now = func() time.Time { return baseTime }
	return fixture{orch: o, healer: h, judge: j, audit: r}
}

func normalSample() types.Sample {
	return types.Sample{DeviceID: "ESP32_001", PM25: 45, CO2: 850, CO: 12.5, VOC: 120, Timestamp: baseTime}
}

// rising returns a window whose channels all increase step by step.
func rising(n int) []types.Sample {
	out := make([]types.Sample, n)
	for i := range out {
		f := float64(i)
		out[i] = types.Sample{DeviceID: "ESP32_001", PM25: 20 + 3*f, CO2: 700 + 20*f, CO: 5 + f, VOC: 80 + 5*f}
	}
	return out
}

func TestRun_NoFaultFullChain(t *testing.T) {
	j := &stubJudge{
		pred:  types.Prediction{WillPeak: true, Confidence: 0.7, Reasoning: "rising"},
		class: types.Classification{AirType: types.AirCooking, Confidence: 0.6},
		raw:   types.RawDecision{On: true, RawIntensity: 60, Reasoning: "cooking smoke"},
	}
	f := newFixture(j)
	window := append(rising(9), normalSample())

	c, err := f.orch.Run(context.Background(), normalSample(), window)
	require.NoError(t, err)

	assert.False(t, c.Finding.HasFault)
	assert.Nil(t, c.Healing)
	assert.Equal(t, []string{"predict", "classify", "decide"}, j.calls)
	assert.Len(t, j.inputs["predict"].Window, 10)
	assert.Empty(t, j.inputs["classify"].Window, "classification sees the current sample only")
	assert.Equal(t, j.pred, j.received[0], "prediction feeds the decision")

	assert.True(t, c.Command.On)
	assert.Equal(t, 50, c.Command.Intensity)
	assert.Contains(t, types.Levels, c.Command.Intensity)
	assert.Equal(t, baseTime, c.Command.Timestamp)
	assert.Equal(t, StageAudited, c.Stage)
	assert.Equal(t, []types.EventKind{types.EventDecision}, f.audit.kinds())
	assert.NotEmpty(t, c.ID)
}

func TestRun_SnapsIntensity(t *testing.T) {
	cases := []struct {
		raw  float64
		want int
	}{
		{37.5, 25}, {60, 50}, {90, 100}, {-10, 0}, {140, 100}, {12.5, 0}, {62.5, 50},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.raw), func(t *testing.T) {
			f := newFixture(&stubJudge{raw: types.RawDecision{On: true, RawIntensity: tc.raw}})
			c, err := f.orch.Run(context.Background(), normalSample(), rising(3))
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.Command.Intensity)
		})
	}
}

func TestRun_FanOffIsNotAudited(t *testing.T) {
	f := newFixture(&stubJudge{raw: types.RawDecision{On: false, RawIntensity: 0}})
	c, err := f.orch.Run(context.Background(), normalSample(), rising(3))
	require.NoError(t, err)
	assert.Equal(t, StageDecided, c.Stage)
	assert.Empty(t, f.audit.kinds())
}

func TestRun_OverrideReasonIsAudited(t *testing.T) {
	f := newFixture(&stubJudge{raw: types.RawDecision{On: false, OverrideReason: "quiet hours"}})
	_, err := f.orch.Run(context.Background(), normalSample(), rising(3))
	require.NoError(t, err)
	assert.Equal(t, []types.EventKind{types.EventDecision}, f.audit.kinds())
}

func TestRun_StuckParticulate(t *testing.T) {
	j := &stubJudge{raw: types.RawDecision{On: true, RawIntensity: 25}}
	f := newFixture(j)

	window := make([]types.Sample, 5)
	for i := range window {
		fi := float64(i)
		window[i] = types.Sample{DeviceID: "ESP32_001", PM25: 10, CO2: 800 + fi, CO: 10 + fi, VOC: 100 + fi}
	}
	current := window[4]

	c, err := f.orch.Run(context.Background(), current, window)
	require.NoError(t, err)

	assert.Equal(t, types.FaultStuckChannel, c.Finding.Kind)
	assert.Equal(t, types.ChannelPM25, c.Finding.Channel)
	require.NotNil(t, c.Healing)
	assert.Equal(t, []types.Channel{types.ChannelPM25}, c.Healing.IgnoredChannels)
	assert.False(t, f.healer.SafeMode("ESP32_001"), "only fan faults enter safe mode")

	assert.Equal(t, []string{"predict", "classify", "decide"}, j.calls)
	assert.Equal(t, []types.Channel{types.ChannelPM25}, j.inputs["decide"].Ignored)
	assert.Equal(t, []types.EventKind{types.EventFault, types.EventDecision}, f.audit.kinds())
}

func TestRun_SafeModeShortCircuits(t *testing.T) {
	j := &stubJudge{}
	f := newFixture(j)
	f.healer.Heal("ESP32_001", types.FaultFinding{HasFault: true, Kind: types.FaultFanIneffective})

	c, err := f.orch.Run(context.Background(), normalSample(), rising(3))
	require.NoError(t, err)

	assert.Empty(t, j.calls)
	assert.Equal(t, StageAudited, c.Stage)
	assert.True(t, c.Command.On)
	assert.Equal(t, 50, c.Command.Intensity)
	assert.NotEmpty(t, c.Command.OverrideReason)
	assert.Equal(t, []types.EventKind{types.EventDecision}, f.audit.kinds())

	// Every clean cycle while latched leaves a decision record.
	for i := 0; i < 2; i++ {
		_, err = f.orch.Run(context.Background(), normalSample(), rising(3))
		require.NoError(t, err)
	}
	assert.Equal(t, []types.EventKind{types.EventDecision, types.EventDecision, types.EventDecision}, f.audit.kinds())

	// Another device is unaffected.
	other := normalSample()
	other.DeviceID = "ESP32_002"
	_, err = f.orch.Run(context.Background(), other, nil)
	require.NoError(t, err)
	assert.Len(t, j.calls, 3)
}

func TestRun_SafeModeAfterFault(t *testing.T) {
	j := &stubJudge{}
	f := newFixture(j)
	f.healer.Heal("ESP32_001", types.FaultFinding{HasFault: true, Kind: types.FaultFanIneffective})

	bad := normalSample()
	bad.CO2 = 100
	c, err := f.orch.Run(context.Background(), bad, nil)
	require.NoError(t, err)

	assert.Equal(t, types.FaultRangeViolation, c.Finding.Kind)
	assert.Equal(t, StageAudited, c.Stage)
	assert.Empty(t, j.calls)
	assert.Equal(t, []types.EventKind{types.EventFault, types.EventDecision}, f.audit.kinds())
}

func TestRun_JudgmentFailureAborts(t *testing.T) {
	j := &stubJudge{failAt: "classify", err: fmt.Errorf("judgment: classify: %w", judgment.ErrParse)}
	f := newFixture(j)

	c, err := f.orch.Run(context.Background(), normalSample(), rising(3))
	assert.Nil(t, c)
	require.Error(t, err)
	assert.ErrorIs(t, err, judgment.ErrParse)

	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StagePredicted, ce.Stage)
	assert.Equal(t, "ESP32_001", ce.DeviceID)
	assert.Equal(t, []string{"predict", "classify"}, j.calls)
	assert.Empty(t, f.audit.kinds())
}

// promptLLM answers each judgment by matching its system prompt.
type promptLLM struct {
	replies map[string]string
	block   bool
}

func (p promptLLM) Complete(ctx context.Context, system, _ string) (string, error) {
	if p.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	for marker, reply := range p.replies {
		if strings.Contains(system, marker) {
			return reply, nil
		}
	}
	return "", errors.New("unexpected prompt")
}

func withAgents(llm judgment.LLM, guard *judgment.Guard) fixture {
	a := judgment.NewAgents(llm, guard)
	f := newFixture(&stubJudge{})
	f.orch.d.Predictor, f.orch.d.Classifier, f.orch.d.Decider = a, a, a
	return f
}

func TestRun_InvalidEnumDoesNotAbort(t *testing.T) {
	f := withAgents(promptLLM{replies: map[string]string{
		"smoke event prediction":         `{"will_peak": "maybe", "confidence": 0.5}`,
		"pollution source identification": `{"air_type": "dragon breath", "confidence": 0.9}`,
		"fan control decisions":           `{"fan_on": true, "fan_intensity": 90, "reasoning": "unknown source"}`,
	}}, nil)

	c, err := f.orch.Run(context.Background(), normalSample(), rising(3))
	require.NoError(t, err)
	assert.Equal(t, types.AirUnknown, c.Classification.AirType)
	assert.False(t, c.Prediction.WillPeak)
	assert.Equal(t, 100, c.Command.Intensity)
}

func TestRun_UnparseableAborts(t *testing.T) {
	f := withAgents(promptLLM{replies: map[string]string{
		"smoke event prediction":         `{"will_peak": false}`,
		"pollution source identification": `{"air_type": "clean"}`,
		"fan control decisions":           `Turn the fan on, I think.`,
	}}, nil)

	_, err := f.orch.Run(context.Background(), normalSample(), rising(3))
	assert.ErrorIs(t, err, judgment.ErrParse)
	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StageClassified, ce.Stage)
}

func TestRun_TimeoutAborts(t *testing.T) {
	cfg := config.Default().Server.Judgment
	cfg.Timeout = 20 * time.Millisecond
	cfg.Retry.MaxRetries = 0
	f := withAgents(promptLLM{block: true}, judgment.NewGuard(cfg))

	_, err := f.orch.Run(context.Background(), normalSample(), rising(3))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StageFaultChecked, ce.Stage)
}

func TestRun_ConcurrentDevices(t *testing.T) {
	f := newFixture(&stubJudge{raw: types.RawDecision{On: true, RawIntensity: 75}})
	var wg sync.WaitGroup
	for d := 0; d < 16; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			s := normalSample()
			s.DeviceID = fmt.Sprintf("dev-%02d", d)
			s.CO2 = 100 // range violation on every cycle
			for i := 0; i < 10; i++ {
				_, err := f.orch.Run(context.Background(), s, nil)
				assert.NoError(t, err)
			}
		}(d)
	}
	wg.Wait()

	for d := 0; d < 16; d++ {
		snap, ok := f.healer.State(fmt.Sprintf("dev-%02d", d))
		require.True(t, ok)
		assert.Equal(t, []types.Channel{types.ChannelCO2}, snap.IgnoredChannels)
		assert.Equal(t, 10, snap.FaultCount)
	}
}
