package types

import (
	"fmt"
	"time"
)

// Channel names one sensor measurement stream.
type Channel string

const (
	ChannelPM25 Channel = "pm25" // particulate
	ChannelCO2  Channel = "co2"
	ChannelCO   Channel = "co"
	ChannelVOC  Channel = "voc"
)

// ChannelOrder is the fixed order in which per-channel checks are evaluated.
var ChannelOrder = []Channel{ChannelPM25, ChannelCO2, ChannelCO, ChannelVOC}

// Sample is one multi-channel reading reported by a device.
// Samples are never mutated after they are accepted.
type Sample struct {
	DeviceID  string    `json:"device_id" validate:"required,max=64,printascii"`
	PM25      float64   `json:"pm25" validate:"finite"`
	CO2       float64   `json:"co2" validate:"finite"`
	CO        float64   `json:"co" validate:"finite"`
	VOC       float64   `json:"voc" validate:"finite"`
	Timestamp time.Time `json:"timestamp"`
}

// Value returns the reading for ch, or 0 for an unknown channel.
func (s Sample) Value(ch Channel) float64 {
	switch ch {
	case ChannelPM25:
		return s.PM25
	case ChannelCO2:
		return s.CO2
	case ChannelCO:
		return s.CO
	case ChannelVOC:
		return s.VOC
	}
	return 0
}

// Bounds is an inclusive [Min, Max] range.
type Bounds struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies within b, inclusive at both ends.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%g, %g]", b.Min, b.Max)
}

// Limits holds per-channel bounds.
type Limits map[Channel]Bounds

// FirstViolation returns the first channel in ChannelOrder whose value in s
// falls outside its bounds. Channels without configured bounds are skipped.
func (l Limits) FirstViolation(s Sample) (Channel, bool) {
	for _, ch := range ChannelOrder {
		b, ok := l[ch]
		if !ok {
			continue
		}
		if !b.Contains(s.Value(ch)) {
			return ch, true
		}
	}
	return "", false
}
