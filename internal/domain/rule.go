package domain

import "time"

// RuleAction is the action a rule requests when its condition holds.
type RuleAction string

const (
	ActionApprove RuleAction = "approve"
	ActionReject  RuleAction = "reject"
	ActionReview  RuleAction = "review"
	ActionNotify  RuleAction = "notify"
)

// Rule is a user-authored fraud rule. The condition is stored as plain text
// in the restricted expression language and compiled at load time.
type Rule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Condition is a boolean expression over the implicit `transaction` record.
	Condition string `json:"condition"`

	Action    RuleAction `json:"action"`
	RiskScore float64    `json:"riskScore"` // contribution when triggered, 0-100
	Priority  int        `json:"priority"`  // higher evaluates first
	Active    bool       `json:"active"`

	// Channels limits applicability; empty means all channels.
	Channels []Channel `json:"channels,omitempty"`

	// Merchant scoping. A transaction whose merchant is in MerchantDeny is
	// never evaluated against this rule; if MerchantAllow is non-empty the
	// merchant must be listed.
	MerchantAllow []string `json:"merchantAllow,omitempty"`
	MerchantDeny  []string `json:"merchantDeny,omitempty"`

	// Mutable trigger telemetry, maintained by the evaluator.
	HitCount      int64      `json:"hitCount"`
	LastTriggered *time.Time `json:"lastTriggered,omitempty"`
}

// AppliesTo reports whether the rule is in scope for the transaction,
// before its condition is evaluated.
func (r *Rule) AppliesTo(tx *Transaction) bool {
	if !r.Active {
		return false
	}
	if len(r.Channels) > 0 {
		ok := false
		for _, c := range r.Channels {
			if c == tx.Channel {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if tx.MerchantID != "" {
		for _, m := range r.MerchantDeny {
			if m == tx.MerchantID {
				return false
			}
		}
		if len(r.MerchantAllow) > 0 {
			ok := false
			for _, m := range r.MerchantAllow {
				if m == tx.MerchantID {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		}
	} else if len(r.MerchantAllow) > 0 {
		// Merchant-scoped rule, transaction has no merchant.
		return false
	}
	return true
}

// TriggeredRule records one rule whose condition held for a transaction.
type TriggeredRule struct {
	RuleID    string      `json:"ruleId"`
	Name      string      `json:"name"`
	Action    RuleAction  `json:"action"`
	RiskScore float64     `json:"riskScore"`
	Value     interface{} `json:"value,omitempty"` // evaluated condition value
}

// RuleEvaluationResult aggregates the outcome of evaluating all applicable
// rules against one transaction. Score is the MAX of triggered rule scores,
// not a sum: multiple triggered rules do not additively inflate risk beyond
// the single worst rule.
type RuleEvaluationResult struct {
	Triggered  []TriggeredRule `json:"triggered"`
	Score      float64         `json:"score"`
	Evaluated  int             `json:"evaluated"`
	Errored    int             `json:"errored"`
	Executions []RuleExecution `json:"-"`
}

// HasAction reports whether any triggered rule carries the given action.
func (r *RuleEvaluationResult) HasAction(action RuleAction) (TriggeredRule, bool) {
	for _, t := range r.Triggered {
		if t.Action == action {
			return t, true
		}
	}
	return TriggeredRule{}, false
}

// RuleExecution is an append-only audit record of one rule evaluation.
type RuleExecution struct {
	ID         string      `json:"id"`
	TenantID   string      `json:"tenantId"`
	TxID       string      `json:"txId"`
	RuleID     string      `json:"ruleId"`
	Triggered  bool        `json:"triggered"`
	Value      interface{} `json:"value,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"durationMs"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// RuleHit is a lightweight reference to a rule reported by a collaborator
// (e.g., the velocity engine) without full rule metadata.
type RuleHit struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Detail string  `json:"detail,omitempty"`
}
