package handlers

import (
	"encoding/json"

	"github.com/trickstertwo/xrail"
)

// Router finds a path through a layout.
type Router interface {
	Route(l Layout, from, to string) ([]string, error)
}

// Edge is one track segment between two nodes. Segments are traversable in
// both directions unless OneWay is set.
type Edge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	OneWay bool   `json:"one_way,omitempty"`
}

type graph struct {
	Edges []Edge `json:"edges"`
}

// GraphRouter reads the "edges" list out of the layout data and returns the
// path with the fewest segments.
type GraphRouter struct{}

func (GraphRouter) Route(l Layout, from, to string) ([]string, error) {
	if from == "" || to == "" {
		return nil, xrail.NewClientError(xrail.CodeInvalidData, "route needs from and to")
	}
	var g graph
	if len(l.Data) > 0 {
		if err := json.Unmarshal(l.Data, &g); err != nil {
			return nil, xrail.NewClientError(xrail.CodeInvalidData, "layout %s: %v", l.ID, err)
		}
	}
	adj := make(map[string][]string)
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e.To)
		if !e.OneWay {
			adj[e.To] = append(adj[e.To], e.From)
		}
	}
	if from == to {
		if _, ok := adj[from]; ok {
			return []string{from}, nil
		}
	}

	prev := map[string]string{from: ""}
	frontier := []string{from}
	for len(frontier) > 0 {
		n := frontier[0]
		frontier = frontier[1:]
		for _, next := range adj[n] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = n
			if next == to {
				return walkBack(prev, from, to), nil
			}
			frontier = append(frontier, next)
		}
	}
	return nil, xrail.NewClientError(xrail.CodeNotFound, "no route from %s to %s in layout %s", from, to, l.ID)
}

func walkBack(prev map[string]string, from, to string) []string {
	var path []string
	for n := to; ; n = prev[n] {
		path = append(path, n)
		if n == from {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
