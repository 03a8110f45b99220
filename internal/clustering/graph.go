package clustering

import (
	"sort"
	"sync"
)

// Graph is the undirected eventlet similarity graph of one run.
type Graph struct {
	adj [][]int
}

// NewGraph creates a graph with n isolated nodes.
func NewGraph(n int) *Graph {
	return &Graph{adj: make([][]int, n)}
}

// AddEdge links a and b. Self loops are ignored.
func (g *Graph) AddEdge(a, b int) {
	if a == b {
		return
	}
	g.adj[a] = append(g.adj[a], b)
	g.adj[b] = append(g.adj[b], a)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.adj)
}

// Neighbors returns the adjacency list of node n.
func (g *Graph) Neighbors(n int) []int {
	return g.adj[n]
}

// EdgeCount returns the number of undirected edges.
func (g *Graph) EdgeCount() int {
	total := 0
	for _, a := range g.adj {
		total += len(a)
	}
	return total / 2
}

func (g *Graph) normalize() {
	for _, a := range g.adj {
		sort.Ints(a)
	}
}

type edge struct{ a, b int }

// linked decides whether two eventlets share an edge: similar enough and close
// enough in time. Eventlets without a representative embedding or without a
// centroid time never link.
func linked(a, b *Eventlet, p Params) bool {
	if a.CentroidTime == nil || b.CentroidTime == nil {
		return false
	}
	gap := a.CentroidTime.Sub(*b.CentroidTime)
	if gap < 0 {
		gap = -gap
	}
	if gap > p.MergeWindow {
		return false
	}
	sim, ok := CosineSimilarity(a.Representative, b.Representative)
	return ok && sim >= p.SimilarityThreshold
}

// BuildGraph compares every unordered pair of eventlets. Rows are split across
// p.Workers goroutines; the edge set is identical for any worker count.
func BuildGraph(eventlets []Eventlet, p Params) *Graph {
	n := len(eventlets)
	g := NewGraph(n)
	if n < 2 {
		return g
	}

	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}

	rows := make([][]edge, n)
	semaphore := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := range n - 1 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			for j := i + 1; j < n; j++ {
				if linked(&eventlets[i], &eventlets[j], p) {
					rows[i] = append(rows[i], edge{i, j})
				}
			}
		}(i)
	}
	wg.Wait()

	for _, row := range rows {
		for _, e := range row {
			g.AddEdge(e.a, e.b)
		}
	}
	g.normalize()
	return g
}

// Components returns the connected components, each sorted ascending and
// ordered by their smallest node.
func Components(g *Graph) [][]int {
	seen := make([]bool, g.Len())
	var comps [][]int

	for start := range g.Len() {
		if seen[start] {
			continue
		}
		seen[start] = true
		comp := []int{start}
		for k := 0; k < len(comp); k++ {
			for _, nb := range g.adj[comp[k]] {
				if !seen[nb] {
					seen[nb] = true
					comp = append(comp, nb)
				}
			}
		}
		sort.Ints(comp)
		comps = append(comps, comp)
	}
	return comps
}

