package graph

import (
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func tx(id, user, wallet, txType string, amount float64) *domain.Transaction {
	return &domain.Transaction{
		ID:        id,
		TenantID:  "t1",
		Type:      txType,
		Channel:   domain.ChannelWallet,
		Amount:    amount,
		Currency:  "USD",
		UserID:    user,
		Timestamp: time.Now(),
		Wallet:    &domain.WalletDetails{WalletType: "personal", CounterpartyID: wallet},
	}
}

func TestBuildFlowGraphDirection(t *testing.T) {
	txs := []*domain.Transaction{
		tx("tx1", "alice", "w1", "transfer", 100), // outbound
		tx("tx2", "alice", "w2", "deposit", 50),   // inbound
	}
	g := BuildFlowGraph(txs)

	out := g.OutEdges("user:alice")
	if len(out) != 1 || out[0].To != "wallet:w1" {
		t.Fatalf("expected one outbound edge to wallet:w1, got %+v", out)
	}
	in := g.OutEdges("wallet:w2")
	if len(in) != 1 || in[0].To != "user:alice" {
		t.Fatalf("expected inbound edge wallet:w2 -> user:alice, got %+v", in)
	}
}

func TestBuildFlowGraphSkipsNoCounterparty(t *testing.T) {
	withdraw := tx("tx1", "alice", "", "withdrawal", 100)
	withdraw.Wallet = nil
	g := BuildFlowGraph([]*domain.Transaction{withdraw})
	nodes, edges := g.Size()
	if nodes != 0 || edges != 0 {
		t.Fatalf("expected empty graph, got %d nodes %d edges", nodes, edges)
	}
}

func TestBuildFlowGraphBankCounterparty(t *testing.T) {
	// Bank transfers carry no merchant or wallet party; the external
	// account rides in metadata.
	transfer := tx("tx1", "alice", "", "transfer", 500)
	transfer.Wallet = nil
	transfer.PaymentMethod = "bank_transfer"
	transfer.Metadata = map[string]interface{}{domain.MetaCounterpartyAccount: "iban-1"}

	g := BuildFlowGraph([]*domain.Transaction{transfer})
	out := g.OutEdges("user:alice")
	if len(out) != 1 || out[0].To != "bank:iban-1" {
		t.Fatalf("expected edge to bank:iban-1, got %+v", out)
	}
}

func TestFindCyclesTwoNode(t *testing.T) {
	g := NewDirected()
	a, b := UserNode("a"), Node{Type: NodeWallet, ID: "b"}
	g.AddEdge(a, b, Edge{TxID: "tx1", Amount: 100})
	g.AddEdge(b, a, Edge{TxID: "tx2", Amount: 95})

	cycles := FindCycles(g, "user:a", 5)
	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d", len(cycles))
	}
	if cycles[0].Length() != 2 {
		t.Fatalf("expected length 2, got %d", cycles[0].Length())
	}
	if cycles[0].Nodes[0] != "user:a" {
		t.Fatalf("expected canonical rotation starting at user:a, got %v", cycles[0].Nodes)
	}
}

func TestFindCyclesBoundedLength(t *testing.T) {
	// a -> b -> c -> d -> e -> f -> a: a 6-cycle must be ignored at cap 5.
	g := NewDirected()
	names := []string{"a", "b", "c", "d", "e", "f"}
	for i, n := range names {
		next := names[(i+1)%len(names)]
		g.AddEdge(Node{Type: NodeWallet, ID: n}, Node{Type: NodeWallet, ID: next}, Edge{TxID: n + next})
	}
	if got := FindCycles(g, "wallet:a", 5); len(got) != 0 {
		t.Fatalf("expected no cycles within cap, got %d", len(got))
	}
	if got := FindCycles(g, "wallet:a", 6); len(got) != 1 {
		t.Fatalf("expected the 6-cycle at cap 6, got %d", len(got))
	}
}

func TestFindCyclesDeduplicatesRotations(t *testing.T) {
	// a -> b -> c -> a discovered from a should yield exactly one cycle.
	g := NewDirected()
	g.AddEdge(Node{Type: NodeWallet, ID: "a"}, Node{Type: NodeWallet, ID: "b"}, Edge{TxID: "1"})
	g.AddEdge(Node{Type: NodeWallet, ID: "b"}, Node{Type: NodeWallet, ID: "c"}, Edge{TxID: "2"})
	g.AddEdge(Node{Type: NodeWallet, ID: "c"}, Node{Type: NodeWallet, ID: "a"}, Edge{TxID: "3"})

	cycles := FindCycles(g, "wallet:a", 5)
	if len(cycles) != 1 {
		t.Fatalf("expected 1 canonical cycle, got %d", len(cycles))
	}
}

func TestFindPaths(t *testing.T) {
	// a -> b -> c -> d, plus a -> c shortcut.
	g := NewDirected()
	add := func(from, to, id string) {
		g.AddEdge(Node{Type: NodeWallet, ID: from}, Node{Type: NodeWallet, ID: to}, Edge{TxID: id})
	}
	add("a", "b", "1")
	add("b", "c", "2")
	add("c", "d", "3")
	add("a", "c", "4")

	paths := FindPaths(g, "wallet:a", 3)
	// a-b-c, a-b-c-d, a-c-d
	if len(paths) != 3 {
		t.Fatalf("expected 3 paths, got %d: %+v", len(paths), paths)
	}
	for _, p := range paths {
		if p.Hops() < 2 || p.Hops() > 3 {
			t.Fatalf("path hops %d out of bounds", p.Hops())
		}
	}

	short := FindPaths(g, "wallet:a", 2)
	// a-b-c, a-c-d
	if len(short) != 2 {
		t.Fatalf("expected 2 paths at cap 2, got %d", len(short))
	}
}

func TestPartyGraphWeights(t *testing.T) {
	t1 := tx("tx1", "alice", "w1", "transfer", 10)
	t1.DeviceID = "dev1"
	t2 := tx("tx2", "alice", "w1", "transfer", 20)
	t2.DeviceID = "dev1"
	g := BuildPartyGraph([]*domain.Transaction{t1, t2})

	if w := g.Weight("user:alice", "wallet:w1"); w != 2 {
		t.Fatalf("expected weight 2, got %d", w)
	}
	if d := g.Degree("user:alice"); d != 2 {
		t.Fatalf("expected degree 2 (wallet + device), got %d", d)
	}
}
