package model

// Thresholds are the confidence cut-offs shared by scoring, conflict
// detection and classification.
type Thresholds struct {
	Green            float64 `json:"green" mapstructure:"green_threshold"`
	Amber            float64 `json:"amber" mapstructure:"amber_threshold"`
	CredibilityFloor float64 `json:"credibility_floor" mapstructure:"credibility_floor"`
}

// DefaultThresholds returns the production cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{Green: 0.85, Amber: 0.55, CredibilityFloor: 0.5}
}
