package aml

import (
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/graph"
)

const (
	layeringBaseScore = 40
	layeringHopScore  = 15
)

// detectLayering enumerates multi-hop fund paths starting at the user.
// A path's score grows with its hop count: each pass-through intermediary
// past the first hop is another layer between origin and destination.
func detectLayering(g *graph.Directed, userKey string, maxHops int) []domain.LayeringPath {
	paths := graph.FindPaths(g, userKey, maxHops)
	out := make([]domain.LayeringPath, 0, len(paths))
	for _, p := range paths {
		out = append(out, domain.LayeringPath{
			Nodes: p.Nodes,
			Hops:  p.Hops(),
			Score: layeringScore(p.Hops()),
		})
	}
	return out
}

func layeringScore(hops int) float64 {
	score := float64(layeringBaseScore + layeringHopScore*(hops-1))
	if score > 100 {
		score = 100
	}
	return score
}
