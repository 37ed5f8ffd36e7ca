package judgment

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/aeroledger/aeroledger/pkg/types"
)

const defaultReasoning = "No reasoning provided"

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	lineCommentRe   = regexp.MustCompile(`(?m)^\s*//.*$`)
	blockCommentRe  = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// ParseObject extracts a JSON object from model output. It tries, in order:
// the raw text, the contents of a code fence, the text with comments and
// trailing commas removed, and the outermost {...} span. It returns ErrParse
// when none of them decode to an object.
func ParseObject(text string) (map[string]any, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, fmt.Errorf("%w: empty response", ErrParse)
	}
	if obj, ok := decodeObject(s); ok {
		return obj, nil
	}

	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
		if obj, ok := decodeObject(s); ok {
			return obj, nil
		}
	}

	s = cleanup(s)
	if obj, ok := decodeObject(s); ok {
		return obj, nil
	}

	if start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); start >= 0 && end > start {
		if obj, ok := decodeObject(s[start : end+1]); ok {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("%w: no JSON object in %q", ErrParse, preview(text, 80))
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func cleanup(s string) string {
	s = blockCommentRe.ReplaceAllString(s, "")
	s = lineCommentRe.ReplaceAllString(s, "")
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

// boolField returns obj[key] when it is a JSON boolean, else false.
func boolField(obj map[string]any, key string) bool {
	b, _ := obj[key].(bool)
	return b
}

// numberField accepts JSON numbers and numeric strings.
func numberField(obj map[string]any, key string) (float64, bool) {
	switch v := obj[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

func confidence(obj map[string]any) float64 {
	c, ok := numberField(obj, "confidence")
	if !ok {
		return 0
	}
	return math.Min(1, math.Max(0, c))
}

func reasoning(obj map[string]any) string {
	if r := stringField(obj, "reasoning"); r != "" {
		return r
	}
	return defaultReasoning
}

func predictionFrom(obj map[string]any) types.Prediction {
	p := types.Prediction{
		WillPeak:   boolField(obj, "will_peak"),
		Confidence: confidence(obj),
		Reasoning:  reasoning(obj),
	}
	if v, ok := numberField(obj, "estimated_peak_value"); ok {
		p.EstimatedPeak = &v
	}
	return p
}

func classificationFrom(obj map[string]any) types.Classification {
	return types.Classification{
		AirType:    types.ParseAirType(stringField(obj, "air_type")),
		Confidence: confidence(obj),
		Reasoning:  reasoning(obj),
	}
}

func decisionFrom(obj map[string]any) types.RawDecision {
	raw, _ := numberField(obj, "fan_intensity")
	return types.RawDecision{
		On:             boolField(obj, "fan_on"),
		RawIntensity:   raw,
		Reasoning:      reasoning(obj),
		OverrideReason: stringField(obj, "override_reason"),
	}
}
