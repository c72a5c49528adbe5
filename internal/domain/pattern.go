package domain

import "time"

// PatternType classifies an AML detection unit.
type PatternType string

const (
	PatternStructuring  PatternType = "structuring"
	PatternRoundAmount  PatternType = "round_amount"
	PatternLayering     PatternType = "layering"
	PatternCircularFlow PatternType = "circular_flow"
	PatternFanIn        PatternType = "fan_in"
	PatternRepeatedPair PatternType = "repeated_pair"
)

// PatternSampleCap bounds the rolling sample of contributing transaction ids.
const PatternSampleCap = 10

// suspiciousThresholds maps a pattern type to the occurrence count at which
// the pattern is flagged suspicious.
var suspiciousThresholds = map[PatternType]int64{
	PatternStructuring:  3,
	PatternRoundAmount:  5,
	PatternLayering:     2,
	PatternCircularFlow: 1,
	PatternFanIn:        3,
	PatternRepeatedPair: 5,
}

// SuspiciousThreshold returns the occurrence count at which patterns of the
// given type are flagged suspicious.
func SuspiciousThreshold(t PatternType) int64 {
	if v, ok := suspiciousThresholds[t]; ok {
		return v
	}
	return 3
}

// Pattern is a persisted AML detection unit, keyed by
// (entity key, pattern type, sub-key). Created on first detection and
// updated in place on repeat detection; never deleted by the pipeline.
type Pattern struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// EntityKey identifies the party the pattern belongs to ("user:u-1",
	// "merchant:m-9", ...). SubKey disambiguates multiple patterns of the
	// same type for one entity (e.g., the structuring threshold band or a
	// counterparty pair).
	EntityKey string      `json:"entityKey"`
	Type      PatternType `json:"type"`
	SubKey    string      `json:"subKey,omitempty"`

	FirstDetected   time.Time `json:"firstDetected"`
	LastDetected    time.Time `json:"lastDetected"`
	OccurrenceCount int64     `json:"occurrenceCount"`

	// RiskScore is max'd across detections, never decreased.
	RiskScore  float64 `json:"riskScore"`
	Suspicious bool    `json:"suspicious"`

	// TxSamples is a bounded rolling sample of contributing transaction ids.
	TxSamples []string `json:"txSamples,omitempty"`
}
