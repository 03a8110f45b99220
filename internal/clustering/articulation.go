package clustering

// ArticulationPoints returns the cut vertices of the component containing the
// given nodes, using Tarjan's low-link DFS. The component must be connected and
// closed under adjacency, as produced by Components. Components with fewer
// than three nodes have no cut vertices.
func ArticulationPoints(g *Graph, component []int) map[int]bool {
	cut := make(map[int]bool)
	if len(component) < 3 {
		return cut
	}

	disc := make(map[int]int, len(component))
	low := make(map[int]int, len(component))
	timer := 0

	var visit func(u, parent int)
	visit = func(u, parent int) {
		timer++
		disc[u] = timer
		low[u] = timer
		children := 0

		for _, v := range g.adj[u] {
			if v == parent {
				continue
			}
			if d, seen := disc[v]; seen {
				low[u] = min(low[u], d)
				continue
			}
			children++
			visit(v, u)
			low[u] = min(low[u], low[v])
			if parent != -1 && low[v] >= disc[u] {
				cut[u] = true
			}
		}

		if parent == -1 && children > 1 {
			cut[u] = true
		}
	}

	visit(component[0], -1)
	return cut
}
