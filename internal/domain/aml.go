package domain

// CycleFlow describes one detected circular fund flow. Every edge in the
// cycle appears exactly once in TxIDs; TotalAmount sums only edges whose
// currency matches Currency.
type CycleFlow struct {
	Nodes       []string `json:"nodes"` // party keys, in cycle order
	TxIDs       []string `json:"txIds"`
	TotalAmount float64  `json:"totalAmount"`
	Currency    string   `json:"currency"`
	Length      int      `json:"length"` // number of distinct nodes
}

// LayeringPath describes one multi-hop fund path (3+ nodes).
type LayeringPath struct {
	Nodes []string `json:"nodes"`
	Hops  int      `json:"hops"`
	Score float64  `json:"score"`
}

// StructuringDay is one calendar day on which a party kept multiple
// transactions just under a reporting threshold.
type StructuringDay struct {
	Day       string   `json:"day"` // YYYY-MM-DD (UTC)
	Threshold float64  `json:"threshold"`
	Count     int      `json:"count"`
	TxIDs     []string `json:"txIds"`
	Score     float64  `json:"score"`
}

// ConnectionSignals breaks down the party-connection score.
type ConnectionSignals struct {
	Counterparties    int `json:"counterparties"`    // distinct linked parties
	SharedDevices     int `json:"sharedDevices"`     // device ids seen on other parties' transactions
	SharedIPs         int `json:"sharedIps"`         // same for IP addresses
	SharedInstruments int `json:"sharedInstruments"` // same for payment-instrument fingerprints
}

// AMLResult is the aggregated output of the graph analytics stage.
type AMLResult struct {
	CircularFlowDetected bool             `json:"circularFlowDetected"`
	Cycles               []CycleFlow      `json:"cycles,omitempty"`
	LayeringPaths        []LayeringPath   `json:"layeringPaths,omitempty"`
	StructuringDays      []StructuringDay `json:"structuringDays,omitempty"`

	RoundAmountTxs []string `json:"roundAmountTxs,omitempty"`
	FanInTxs       []string `json:"fanInTxs,omitempty"`
	RepeatedPairs  []string `json:"repeatedPairs,omitempty"` // "user|counterparty" keys

	ConnectionSignals ConnectionSignals `json:"connectionSignals"`
	ConnectionScore   float64           `json:"connectionScore"` // 0-100

	// SyndicationScore is the weighted combination of the sub-signals,
	// clamped to [0, 100]. It is the AML contribution to the ensemble.
	SyndicationScore float64 `json:"syndicationScore"`
}

// HasFindings reports whether any concrete pattern fired, as opposed
// to a purely score-based result.
func (r *AMLResult) HasFindings() bool {
	return r.CircularFlowDetected ||
		len(r.LayeringPaths) > 0 ||
		len(r.StructuringDays) > 0 ||
		len(r.RoundAmountTxs) > 0 ||
		len(r.FanInTxs) > 0 ||
		len(r.RepeatedPairs) > 0
}

// MaxLayeringScore returns the highest layering path score.
func (r *AMLResult) MaxLayeringScore() float64 {
	var max float64
	for _, p := range r.LayeringPaths {
		if p.Score > max {
			max = p.Score
		}
	}
	return max
}

// MaxStructuringScore returns the highest structuring day score.
func (r *AMLResult) MaxStructuringScore() float64 {
	var max float64
	for _, d := range r.StructuringDays {
		if d.Score > max {
			max = d.Score
		}
	}
	return max
}
