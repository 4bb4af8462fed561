package conflict

import (
	"context"

	"github.com/matzehuels/smoothdeps/pkg/graph"
)

// Highlight marks the conflicting packages and the edges that carry the
// conflicting constraints.
func Highlight(r *Report) graph.DOTOptions {
	opts := graph.DOTOptions{Highlight: map[string]bool{}, HighlightEdges: map[string]bool{}}
	if r == nil {
		return opts
	}
	for _, c := range r.Conflicts {
		opts.Highlight[c.Package] = true
		from := c.from
		if from == "" {
			from = c.RequiredBy
			if from == ProjectName {
				from = graph.RootID
			}
		}
		opts.HighlightEdges[graph.EdgeKey(from, c.Package)] = true
	}
	return opts
}

// DOT renders g with the conflicts of r highlighted.
func DOT(g *graph.Graph, r *Report) string {
	return graph.ToDOT(g, Highlight(r))
}

// RenderSVG renders g with the conflicts of r highlighted.
func RenderSVG(ctx context.Context, g *graph.Graph, r *Report) ([]byte, error) {
	return graph.RenderSVG(ctx, DOT(g, r))
}
