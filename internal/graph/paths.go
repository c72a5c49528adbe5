package graph

// Path is a simple directed path through the flow graph.
type Path struct {
	Nodes []string
	Edges []Edge
}

// Hops returns the number of edges in the path.
func (p Path) Hops() int { return len(p.Edges) }

// FindPaths enumerates simple paths starting at the given node with
// 2..maxHops hops. Single-hop movements are ordinary payments; chains of
// two or more hops are what layering detection scores. Node repetition is
// forbidden, and maxHops bounds the DFS.
func FindPaths(g *Directed, start string, maxHops int) []Path {
	if maxHops < 2 {
		return nil
	}
	var paths []Path

	nodes := []string{start}
	var edges []Edge
	onPath := map[string]bool{start: true}

	var dfs func(cur string)
	dfs = func(cur string) {
		for _, next := range g.Successors(cur) {
			if onPath[next] {
				continue
			}
			es := g.EdgesBetween(cur, next)
			// One representative edge per node pair keeps the
			// enumeration over node sequences, not edge multisets.
			e := es[0]
			nodes = append(nodes, next)
			edges = append(edges, e)
			onPath[next] = true
			if len(edges) >= 2 {
				paths = append(paths, Path{
					Nodes: append([]string{}, nodes...),
					Edges: append([]Edge{}, edges...),
				})
			}
			if len(edges) < maxHops {
				dfs(next)
			}
			onPath[next] = false
			nodes = nodes[:len(nodes)-1]
			edges = edges[:len(edges)-1]
		}
	}
	dfs(start)
	return paths
}
