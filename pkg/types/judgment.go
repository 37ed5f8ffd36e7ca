package types

// AirType is the pollution typology reported by the classification judgment.
type AirType string

const (
	AirCigarette AirType = "cigarette"
	AirVehicle   AirType = "vehicle"
	AirCooking   AirType = "cooking"
	AirChemical  AirType = "chemical"
	AirClean     AirType = "clean"
	AirUnknown   AirType = "unknown"
)

var airTypes = map[AirType]struct{}{
	AirCigarette: {}, AirVehicle: {}, AirCooking: {},
	AirChemical: {}, AirClean: {}, AirUnknown: {},
}

// ParseAirType returns the AirType named by s, or AirUnknown when s is not a
// member of the enumeration.
func ParseAirType(s string) AirType {
	if _, ok := airTypes[AirType(s)]; ok {
		return AirType(s)
	}
	return AirUnknown
}

// Prediction is the output of the peak prediction judgment.
type Prediction struct {
	WillPeak      bool     `json:"will_peak"`
	Confidence    float64  `json:"confidence"`
	EstimatedPeak *float64 `json:"estimated_peak_value,omitempty"`
	Reasoning     string   `json:"reasoning"`
}

// Classification is the output of the air typology judgment.
type Classification struct {
	AirType    AirType `json:"air_type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// RawDecision is the unsnapped output of the control judgment.
type RawDecision struct {
	On             bool    `json:"fan_on"`
	RawIntensity   float64 `json:"fan_intensity"`
	Reasoning      string  `json:"reasoning"`
	OverrideReason string  `json:"override_reason,omitempty"`
}
