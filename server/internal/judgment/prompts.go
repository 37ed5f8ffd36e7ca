package judgment

import (
	"fmt"
	"strings"

	"github.com/aeroledger/aeroledger/pkg/types"
)

const predictionSystem = `You are an expert air quality analyst specializing in smoke event prediction.

Your task is to analyze recent sensor readings and predict if smoke levels will peak in the next few readings.

Consider:
- PM2.5 trends (primary smoke indicator)
- CO and VOC levels (supporting indicators)
- Rate of change in values
- Historical patterns

Sensors marked as ignored have been diagnosed as faulty; do not base your prediction on them.

Output MUST be valid JSON with this exact structure:
{
    "will_peak": true/false,
    "confidence": 0.0-1.0,
    "estimated_peak_value": number or null,
    "reasoning": "brief explanation of your prediction"
}

Be conservative with predictions. Only predict a peak if you see clear rising trends.`

const classificationSystem = `You are an expert in air quality analysis and pollution source identification.

Your task is to classify the type of air pollution based on sensor readings.

Characteristic patterns:
- Cigarette smoke: High PM2.5, moderate CO, high VOC, normal CO2
- Vehicle exhaust: High PM2.5, high CO, moderate VOC, elevated CO2
- Cooking smoke: Very high PM2.5, low-moderate CO, high VOC, elevated CO2
- Chemical fumes: Low PM2.5, low CO, very high VOC, normal CO2
- Clean air: All values low

Sensors marked as ignored have been diagnosed as faulty; classify from the remaining ones.

Output MUST be valid JSON with this exact structure:
{
    "air_type": "cigarette" | "vehicle" | "cooking" | "chemical" | "clean" | "unknown",
    "confidence": 0.0-1.0,
    "reasoning": "brief explanation of classification"
}`

const decisionSystem = `You are an intelligent air quality control system making fan control decisions.

Your task is to decide whether to turn the fan ON/OFF and at what intensity (0-100).

Decision guidelines:
- Turn fan ON if PM2.5 > 35 OR CO > 50 OR VOC > 200
- Higher intensity for worse air quality
- If smoke peak is predicted, preemptively increase intensity
- For cigarette smoke: high intensity (75-100)
- For cooking smoke: moderate intensity (50-75)
- For vehicle exhaust: high intensity (75-100)
- For chemical fumes: maximum intensity (100)
- Turn fan OFF if all values are low and no peak predicted
- Ignore readings from sensors marked as ignored

Available fan intensities: 0, 25, 50, 75, 100

Output MUST be valid JSON with this exact structure:
{
    "fan_on": true/false,
    "fan_intensity": 0-100,
    "reasoning": "brief explanation of decision",
    "override_reason": "explanation if overriding normal logic" or null
}

Make intelligent decisions that balance air quality improvement with energy efficiency.`

var units = map[types.Channel]string{
	types.ChannelPM25: "µg/m³",
	types.ChannelCO2:  "ppm",
	types.ChannelCO:   "ppm",
	types.ChannelVOC:  "ppb",
}

func label(ch types.Channel) string {
	if ch == types.ChannelPM25 {
		return "PM2.5"
	}
	return strings.ToUpper(string(ch))
}

func isIgnored(ch types.Channel, ignored []types.Channel) bool {
	for _, c := range ignored {
		if c == ch {
			return true
		}
	}
	return false
}

// inline renders a sample on one line: "PM2.5=45, CO2=850, CO=12.5, VOC=120".
func inline(s types.Sample, ignored []types.Channel) string {
	parts := make([]string, 0, len(types.ChannelOrder))
	for _, ch := range types.ChannelOrder {
		p := fmt.Sprintf("%s=%g", label(ch), s.Value(ch))
		if isIgnored(ch, ignored) {
			p += " (ignored)"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ", ")
}

// listing renders a sample one channel per line with units.
func listing(b *strings.Builder, s types.Sample, ignored []types.Channel) {
	for _, ch := range types.ChannelOrder {
		fmt.Fprintf(b, "- %s: %g %s", label(ch), s.Value(ch), units[ch])
		if isIgnored(ch, ignored) {
			b.WriteString(" (ignored: faulty sensor)")
		}
		b.WriteByte('\n')
	}
}

func predictionPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Analyze these recent sensor readings and predict if smoke levels will peak soon:\n\n")
	for i, s := range in.Window {
		fmt.Fprintf(&b, "Reading %d: %s\n", i+1, inline(s, in.Ignored))
	}
	fmt.Fprintf(&b, "\nCurrent reading: %s\n\n", inline(in.Current, in.Ignored))
	b.WriteString("Based on these trends, will smoke levels peak in the next few readings?\n")
	b.WriteString("Provide your prediction in JSON format.")
	return b.String()
}

func classificationPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Classify the type of air pollution based on these sensor readings:\n\n")
	listing(&b, in.Current, in.Ignored)
	b.WriteString("\nWhat type of air pollution is this? Provide your classification in JSON format.")
	return b.String()
}

func decisionPrompt(in Input, p types.Prediction, c types.Classification) string {
	var b strings.Builder
	b.WriteString("Make a fan control decision based on this information:\n\n")
	b.WriteString("Current Sensor Readings:\n")
	listing(&b, in.Current, in.Ignored)

	b.WriteString("\nSmoke Prediction:\n")
	fmt.Fprintf(&b, "- Will peak: %t\n", p.WillPeak)
	fmt.Fprintf(&b, "- Confidence: %g\n", p.Confidence)
	if p.EstimatedPeak != nil {
		fmt.Fprintf(&b, "- Estimated peak: %g\n", *p.EstimatedPeak)
	}
	fmt.Fprintf(&b, "- Reasoning: %s\n", p.Reasoning)

	b.WriteString("\nAir Type Classification:\n")
	fmt.Fprintf(&b, "- Type: %s\n", c.AirType)
	fmt.Fprintf(&b, "- Confidence: %g\n", c.Confidence)
	fmt.Fprintf(&b, "- Reasoning: %s\n", c.Reasoning)

	b.WriteString("\nShould the fan be ON or OFF? At what intensity? Provide your decision in JSON format.")
	return b.String()
}
