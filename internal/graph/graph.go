// Package graph builds money-movement and party-relationship graphs from
// transaction history windows and provides the bounded enumeration
// primitives the AML analytics run on.
//
// Graphs are adjacency maps keyed by stable string node ids of the form
// "type:id". Enumeration is always capped by a max depth: simple-cycle and
// simple-path search over transaction graphs is exponential in the worst
// case, and the cutoff is what keeps cost bounded.
package graph

import (
	"sort"
	"time"
)

// Node identifies a party in the graph.
type Node struct {
	Type string
	ID   string
}

// Key returns the stable string id of the node.
func (n Node) Key() string {
	return n.Type + ":" + n.ID
}

// Edge is one money movement between two parties.
type Edge struct {
	TxID      string
	From      string // node key
	To        string // node key
	Amount    float64
	Currency  string
	Timestamp time.Time
}

// Directed is a directed multigraph: parallel edges between the same node
// pair are kept, one per transaction.
type Directed struct {
	nodes map[string]Node
	out   map[string][]Edge
}

// NewDirected creates an empty directed multigraph.
func NewDirected() *Directed {
	return &Directed{
		nodes: make(map[string]Node),
		out:   make(map[string][]Edge),
	}
}

// AddEdge inserts a directed edge from one party to another.
func (g *Directed) AddEdge(from, to Node, e Edge) {
	fk, tk := from.Key(), to.Key()
	g.nodes[fk] = from
	g.nodes[tk] = to
	e.From = fk
	e.To = tk
	g.out[fk] = append(g.out[fk], e)
}

// Nodes returns all node keys in sorted order, for deterministic traversal.
func (g *Directed) Nodes() []string {
	keys := make([]string, 0, len(g.nodes))
	for k := range g.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OutEdges returns the outgoing edges of a node.
func (g *Directed) OutEdges(key string) []Edge {
	return g.out[key]
}

// Successors returns the distinct successor node keys, sorted.
func (g *Directed) Successors(key string) []string {
	seen := make(map[string]bool)
	for _, e := range g.out[key] {
		seen[e.To] = true
	}
	succ := make([]string, 0, len(seen))
	for k := range seen {
		succ = append(succ, k)
	}
	sort.Strings(succ)
	return succ
}

// EdgesBetween returns all parallel edges from one node to another.
func (g *Directed) EdgesBetween(from, to string) []Edge {
	var edges []Edge
	for _, e := range g.out[from] {
		if e.To == to {
			edges = append(edges, e)
		}
	}
	return edges
}

// Size returns node and edge counts.
func (g *Directed) Size() (nodes int, edges int) {
	for _, es := range g.out {
		edges += len(es)
	}
	return len(g.nodes), edges
}

// Undirected is a weighted undirected graph; edge weight is the number of
// shared transactions between the two parties.
type Undirected struct {
	adj map[string]map[string]int
}

// NewUndirected creates an empty undirected graph.
func NewUndirected() *Undirected {
	return &Undirected{adj: make(map[string]map[string]int)}
}

// AddLink increments the weight between two parties.
func (g *Undirected) AddLink(a, b Node) {
	ak, bk := a.Key(), b.Key()
	if ak == bk {
		return
	}
	g.link(ak, bk)
	g.link(bk, ak)
}

func (g *Undirected) link(from, to string) {
	if g.adj[from] == nil {
		g.adj[from] = make(map[string]int)
	}
	g.adj[from][to]++
}

// Neighbors returns the neighbor keys of a node, sorted.
func (g *Undirected) Neighbors(key string) []string {
	ns := make([]string, 0, len(g.adj[key]))
	for k := range g.adj[key] {
		ns = append(ns, k)
	}
	sort.Strings(ns)
	return ns
}

// Weight returns the link weight between two nodes.
func (g *Undirected) Weight(a, b string) int {
	return g.adj[a][b]
}

// Degree returns the number of distinct neighbors of a node.
func (g *Undirected) Degree(key string) int {
	return len(g.adj[key])
}
