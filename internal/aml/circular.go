package aml

import (
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

// detectCircular enumerates simple cycles through the user's node and
// converts them to flow records. The amount total covers only edges in the
// cycle's dominant currency so mixed-currency cycles stay honest.
func detectCircular(g *graph.Directed, userKey string, maxLen int) []domain.CycleFlow {
	cycles := graph.FindCycles(g, userKey, maxLen)
	flows := make([]domain.CycleFlow, 0, len(cycles))
	for _, c := range cycles {
		flows = append(flows, toFlow(c))
	}
	return flows
}

func toFlow(c graph.Cycle) domain.CycleFlow {
	currency := dominantCurrency(c.Edges)
	flow := domain.CycleFlow{
		Nodes:    c.Nodes,
		Currency: currency,
		Length:   c.Length(),
	}
	for _, e := range c.Edges {
		flow.TxIDs = append(flow.TxIDs, e.TxID)
		if e.Currency == currency {
			flow.TotalAmount += e.Amount
		}
	}
	return flow
}

func dominantCurrency(edges []graph.Edge) string {
	counts := make(map[string]int)
	best := ""
	for _, e := range edges {
		counts[e.Currency]++
		if best == "" || counts[e.Currency] > counts[best] {
			best = e.Currency
		}
	}
	return best
}
