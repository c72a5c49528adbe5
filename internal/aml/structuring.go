package aml

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	structuringBaseScore = 85
	structuringStep      = 2
	structuringMinPerDay = 2

	roundAmountUnit = 1000
	roundAmountMin  = 3

	fanInMin = 3

	repeatedPairMin = 5
)

// detectStructuring groups the user's outbound transactions by UTC calendar
// day and flags days with repeated amounts kept just under a reporting
// threshold. Each threshold has a band [low*T, high*T], inclusive at both
// ends; a day is flagged once two or more of its transactions land in the
// band for the same threshold.
func detectStructuring(window []*domain.Transaction, cfg domain.AMLConfig) []domain.StructuringDay {
	type bucket struct {
		threshold float64
		day       string
	}
	hits := make(map[bucket][]string)
	for _, tx := range window {
		if !tx.Outbound() {
			continue
		}
		day := tx.Timestamp.UTC().Format("2006-01-02")
		for _, t := range cfg.StructuringThresholds {
			if tx.Amount >= cfg.StructuringBandLow*t && tx.Amount <= cfg.StructuringBandHigh*t {
				b := bucket{threshold: t, day: day}
				hits[b] = append(hits[b], tx.ID)
				break // one threshold per transaction
			}
		}
	}

	var days []domain.StructuringDay
	for b, txIDs := range hits {
		if len(txIDs) < structuringMinPerDay {
			continue
		}
		score := float64(structuringBaseScore + structuringStep*len(txIDs))
		if score > 100 {
			score = 100
		}
		days = append(days, domain.StructuringDay{
			Day:       b.day,
			Threshold: b.threshold,
			Count:     len(txIDs),
			TxIDs:     txIDs,
			Score:     score,
		})
	}
	sort.Slice(days, func(i, j int) bool {
		if days[i].Day != days[j].Day {
			return days[i].Day < days[j].Day
		}
		return days[i].Threshold > days[j].Threshold
	})
	return days
}

// detectRoundAmounts collects transactions whose amount is an exact
// multiple of the round unit. Fewer than the minimum is normal behavior.
func detectRoundAmounts(window []*domain.Transaction) []string {
	var ids []string
	for _, tx := range window {
		if tx.Amount >= roundAmountUnit && math.Mod(tx.Amount, roundAmountUnit) == 0 {
			ids = append(ids, tx.ID)
		}
	}
	if len(ids) < roundAmountMin {
		return nil
	}
	return ids
}

// detectFanIn looks for identical-amount credits arriving from several
// distinct counterparties, the receiving side of a smurfing run.
func detectFanIn(window []*domain.Transaction) []string {
	type credit struct {
		txID         string
		counterparty string
	}
	byAmount := make(map[float64][]credit)
	for _, tx := range window {
		if tx.Outbound() {
			continue
		}
		_, cp, ok := tx.Counterparty()
		if !ok {
			continue
		}
		byAmount[tx.Amount] = append(byAmount[tx.Amount], credit{txID: tx.ID, counterparty: cp})
	}

	var ids []string
	for _, credits := range byAmount {
		if len(credits) < fanInMin {
			continue
		}
		senders := make(map[string]bool)
		for _, c := range credits {
			senders[c.counterparty] = true
		}
		if len(senders) < fanInMin {
			continue
		}
		for _, c := range credits {
			ids = append(ids, c.txID)
		}
	}
	sort.Strings(ids)
	return ids
}

// detectRepeatedPairs flags user/counterparty pairs transacting repeatedly
// inside the window.
func detectRepeatedPairs(window []*domain.Transaction) []string {
	counts := make(map[string]int)
	for _, tx := range window {
		kind, cp, ok := tx.Counterparty()
		if !ok {
			continue
		}
		counts[fmt.Sprintf("%s|%s:%s", tx.UserID, kind, cp)]++
	}
	var pairs []string
	for pair, n := range counts {
		if n >= repeatedPairMin {
			pairs = append(pairs, pair)
		}
	}
	sort.Strings(pairs)
	return pairs
}
