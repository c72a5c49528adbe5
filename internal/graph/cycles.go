package graph

import "sort"

// Cycle is a simple directed cycle. Nodes holds the cycle in canonical
// order: rotated so the lexicographically smallest node key comes first,
// without repeating it at the end.
type Cycle struct {
	Nodes []string
	Edges []Edge
}

// Length returns the number of nodes in the cycle.
func (c Cycle) Length() int { return len(c.Nodes) }

// FindCycles enumerates simple cycles of length 2..maxLen reachable from
// the start node. The search is a DFS over simple paths, so the maxLen cap
// is what bounds its cost. Cycles are deduplicated by canonical rotation
// and returned sorted by their node sequence for determinism.
func FindCycles(g *Directed, start string, maxLen int) []Cycle {
	if maxLen < 2 {
		return nil
	}
	seen := make(map[string]bool)
	var cycles []Cycle

	var path []string
	var edges []Edge
	onPath := map[string]bool{start: true}

	var dfs func(cur string)
	dfs = func(cur string) {
		for _, e := range g.OutEdges(cur) {
			if e.To == start && len(path) >= 1 {
				nodes := append([]string{start}, path...)
				c := canonicalize(nodes, append(append([]Edge{}, edges...), e))
				key := cycleKey(c.Nodes)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, c)
				}
				continue
			}
			if onPath[e.To] || len(path)+2 > maxLen {
				continue
			}
			path = append(path, e.To)
			edges = append(edges, e)
			onPath[e.To] = true
			dfs(e.To)
			onPath[e.To] = false
			path = path[:len(path)-1]
			edges = edges[:len(edges)-1]
		}
	}
	dfs(start)

	sort.Slice(cycles, func(i, j int) bool {
		return cycleKey(cycles[i].Nodes) < cycleKey(cycles[j].Nodes)
	})
	return cycles
}

// canonicalize rotates the cycle so the smallest node key leads.
func canonicalize(nodes []string, edges []Edge) Cycle {
	min := 0
	for i, n := range nodes {
		if n < nodes[min] {
			min = i
		}
	}
	rn := make([]string, 0, len(nodes))
	rn = append(rn, nodes[min:]...)
	rn = append(rn, nodes[:min]...)
	re := make([]Edge, 0, len(edges))
	re = append(re, edges[min:]...)
	re = append(re, edges[:min]...)
	return Cycle{Nodes: rn, Edges: re}
}

func cycleKey(nodes []string) string {
	key := ""
	for _, n := range nodes {
		key += n + ">"
	}
	return key
}
