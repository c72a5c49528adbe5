package graph

import (
	"github.com/opensource-finance/harrier/internal/domain"
)

// Node type prefixes used when keying graph nodes.
const (
	NodeUser       = "user"
	NodeMerchant   = "merchant"
	NodeWallet     = "wallet"
	NodeBank       = "bank"
	NodeDevice     = "device"
	NodeIP         = "ip"
	NodeInstrument = "instrument"
)

// UserNode returns the node for a user id.
func UserNode(id string) Node { return Node{Type: NodeUser, ID: id} }

// BuildFlowGraph constructs the directed money-movement graph for a window
// of transactions. Each transaction with a resolvable counterparty becomes
// one edge; direction follows the movement of funds, so inbound transaction
// types point counterparty -> user.
func BuildFlowGraph(txs []*domain.Transaction) *Directed {
	g := NewDirected()
	for _, tx := range txs {
		kind, id, ok := tx.Counterparty()
		if !ok {
			continue
		}
		user := UserNode(tx.UserID)
		other := Node{Type: counterpartyNodeType(kind), ID: id}
		e := Edge{
			TxID:      tx.ID,
			Amount:    tx.Amount,
			Currency:  tx.Currency,
			Timestamp: tx.Timestamp,
		}
		if tx.Outbound() {
			g.AddEdge(user, other, e)
		} else {
			g.AddEdge(other, user, e)
		}
	}
	return g
}

func counterpartyNodeType(kind domain.CounterpartyKind) string {
	switch kind {
	case domain.CounterpartyMerchant:
		return NodeMerchant
	case domain.CounterpartyWallet:
		return NodeWallet
	case domain.CounterpartyBank:
		return NodeBank
	default:
		return NodeWallet
	}
}

// BuildPartyGraph constructs the undirected relationship graph linking a
// user to the counterparties, devices, IPs, and instruments seen in the
// window. Repeated co-occurrence raises the link weight.
func BuildPartyGraph(txs []*domain.Transaction) *Undirected {
	g := NewUndirected()
	for _, tx := range txs {
		user := UserNode(tx.UserID)
		if kind, id, ok := tx.Counterparty(); ok {
			g.AddLink(user, Node{Type: counterpartyNodeType(kind), ID: id})
		}
		if tx.DeviceID != "" {
			g.AddLink(user, Node{Type: NodeDevice, ID: tx.DeviceID})
		}
		if tx.IPAddress != "" {
			g.AddLink(user, Node{Type: NodeIP, ID: tx.IPAddress})
		}
		if tx.InstrumentID != "" {
			g.AddLink(user, Node{Type: NodeInstrument, ID: tx.InstrumentID})
		}
	}
	return g
}
