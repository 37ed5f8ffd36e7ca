package judgment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroledger/aeroledger/pkg/types"
)

func TestParseObject_Strategies(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"direct", `{"fan_on": true}`},
		{"fenced", "```json\n{\"fan_on\": true}\n```"},
		{"bare fence", "```{\"fan_on\": true}```"},
		{"trailing comma", `{"fan_on": true,}`},
		{"comments", "{\n  // decision\n  \"fan_on\": true /* yes */\n}"},
		{"embedded", `Sure! Here is the decision: {"fan_on": true} Hope it helps.`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obj, err := ParseObject(tc.in)
			require.NoError(t, err)
			assert.Equal(t, true, obj["fan_on"])
		})
	}
}

func TestParseObject_Failure(t *testing.T) {
	for _, in := range []string{"", "   ", "I cannot help with that.", `["not", "an", "object"]`, "{broken"} {
		_, err := ParseObject(in)
		assert.ErrorIs(t, err, ErrParse, "input %q", in)
	}
}

func TestPredictionFrom_Defaults(t *testing.T) {
	p := predictionFrom(map[string]any{})
	assert.False(t, p.WillPeak)
	assert.Zero(t, p.Confidence)
	assert.Nil(t, p.EstimatedPeak)
	assert.Equal(t, defaultReasoning, p.Reasoning)
}

func TestPredictionFrom_Values(t *testing.T) {
	obj, err := ParseObject(`{"will_peak": true, "confidence": 1.7, "estimated_peak_value": 120.5, "reasoning": "rising"}`)
	require.NoError(t, err)
	p := predictionFrom(obj)
	assert.True(t, p.WillPeak)
	assert.Equal(t, 1.0, p.Confidence, "confidence is clamped")
	require.NotNil(t, p.EstimatedPeak)
	assert.Equal(t, 120.5, *p.EstimatedPeak)
	assert.Equal(t, "rising", p.Reasoning)
}

func TestPredictionFrom_NonBooleanFlag(t *testing.T) {
	p := predictionFrom(map[string]any{"will_peak": "yes"})
	assert.False(t, p.WillPeak)
}

func TestClassificationFrom_InvalidEnum(t *testing.T) {
	c := classificationFrom(map[string]any{"air_type": "wildfire", "confidence": 0.9})
	assert.Equal(t, types.AirUnknown, c.AirType)
	assert.Equal(t, 0.9, c.Confidence)

	c = classificationFrom(map[string]any{"air_type": 7})
	assert.Equal(t, types.AirUnknown, c.AirType)

	c = classificationFrom(map[string]any{"air_type": "cooking"})
	assert.Equal(t, types.AirCooking, c.AirType)
}

func TestDecisionFrom(t *testing.T) {
	d := decisionFrom(map[string]any{"fan_on": true, "fan_intensity": "62.5", "override_reason": nil})
	assert.True(t, d.On)
	assert.Equal(t, 62.5, d.RawIntensity)
	assert.Empty(t, d.OverrideReason)
	assert.Equal(t, defaultReasoning, d.Reasoning)

	d = decisionFrom(map[string]any{"fan_on": 1, "fan_intensity": "lots"})
	assert.False(t, d.On)
	assert.Zero(t, d.RawIntensity)
}
