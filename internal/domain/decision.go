package domain

import (
	"math"
	"time"
)

// Decision is the final outcome for a transaction.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReview  Decision = "review"
	DecisionReject  Decision = "reject"
)

// SubScores holds the per-engine contributions to the combined score.
// All values are on the 0-100 scale.
type SubScores struct {
	Rule     float64 `json:"rule"`
	Velocity float64 `json:"velocity"`
	ML       float64 `json:"ml"`
	AML      float64 `json:"aml"`
}

// DecisionResult is the sole externally-visible artifact of the pipeline.
// Written once per transaction and immutable after creation.
type DecisionResult struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	TxID     string `json:"txId"`

	Score      float64  `json:"score"` // combined, clamped [0,100]
	Decision   Decision `json:"decision"`
	Flagged    bool     `json:"flagged"`
	FlagReason string   `json:"flagReason,omitempty"`

	SubScores      SubScores       `json:"subScores"`
	TriggeredRules []TriggeredRule `json:"triggeredRules,omitempty"`
	VelocityHits   []RuleHit       `json:"velocityHits,omitempty"`

	ProcessMs int64     `json:"processMs"`
	CreatedAt time.Time `json:"createdAt"`
}

// BlocklistResult is the outcome of the ordered blocklist lookup.
type BlocklistResult struct {
	Blocked    bool   `json:"blocked"`
	EntityType string `json:"entityType,omitempty"`
	Value      string `json:"value,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// MLResult is the opaque output of the ML collaborator.
type MLResult struct {
	Score        float64                `json:"score"` // 0-100
	IsFraudulent bool                   `json:"isFraudulent"`
	Explanation  map[string]interface{} `json:"explanation,omitempty"`
}

// VelocityResult is the opaque output of the velocity collaborator.
type VelocityResult struct {
	Score float64   `json:"score"` // 0-100
	Hits  []RuleHit `json:"hits,omitempty"`
}

// ClampScore bounds a risk score to [0, 100].
func ClampScore(s float64) float64 {
	return math.Min(100, math.Max(0, s))
}

// Round2 rounds to two decimal places, the precision of combined scores.
func Round2(s float64) float64 {
	return math.Round(s*100) / 100
}
