package aml

import (
	"context"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

// Connection score composition: distinct counterparties carry the most
// weight; shared devices, IPs, and instruments each top out lower.
const (
	counterpartyPoints = 4
	counterpartyCap    = 40
	sharedPoints       = 10
	sharedCap          = 20

	// sharedLookupLimit bounds the per-transaction entity lookups; any
	// identifiers beyond it simply go unscored in this pass.
	sharedLookupLimit = 10
)

// collectConnections derives the party-connection signals: how many
// distinct counterparties the user touches, and how many of the user's
// devices, IPs, and instruments also appear on other users' transactions.
func (a *Analyzer) collectConnections(ctx context.Context, tx *domain.Transaction, party *graph.Undirected, userKey string, since time.Time) domain.ConnectionSignals {
	sig := domain.ConnectionSignals{}
	var devices, ips, instruments []string
	for _, n := range party.Neighbors(userKey) {
		switch {
		case strings.HasPrefix(n, graph.NodeDevice+":"):
			devices = append(devices, strings.TrimPrefix(n, graph.NodeDevice+":"))
		case strings.HasPrefix(n, graph.NodeIP+":"):
			ips = append(ips, strings.TrimPrefix(n, graph.NodeIP+":"))
		case strings.HasPrefix(n, graph.NodeInstrument+":"):
			instruments = append(instruments, strings.TrimPrefix(n, graph.NodeInstrument+":"))
		default:
			sig.Counterparties++
		}
	}

	sig.SharedDevices = a.countShared(ctx, tx, devices, since)
	sig.SharedIPs = a.countShared(ctx, tx, ips, since)
	sig.SharedInstruments = a.countShared(ctx, tx, instruments, since)
	return sig
}

// countShared reports how many of the identifiers also occur on another
// user's transactions inside the window.
func (a *Analyzer) countShared(ctx context.Context, tx *domain.Transaction, ids []string, since time.Time) int {
	if len(ids) > sharedLookupLimit {
		ids = ids[:sharedLookupLimit]
	}
	shared := 0
	for _, id := range ids {
		others, err := a.store.GetTransactionsByEntity(ctx, tx.TenantID, id, since)
		if err != nil {
			a.logger.Warn("shared entity lookup failed",
				"tenant_id", tx.TenantID, "entity_id", id, "error", err)
			continue
		}
		for _, o := range others {
			if o.UserID != "" && o.UserID != tx.UserID {
				shared++
				break
			}
		}
	}
	return shared
}

func scoreConnections(sig domain.ConnectionSignals) float64 {
	score := capAt(float64(sig.Counterparties*counterpartyPoints), counterpartyCap)
	score += capAt(float64(sig.SharedDevices*sharedPoints), sharedCap)
	score += capAt(float64(sig.SharedIPs*sharedPoints), sharedCap)
	score += capAt(float64(sig.SharedInstruments*sharedPoints), sharedCap)
	return score
}

func capAt(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	return v
}
