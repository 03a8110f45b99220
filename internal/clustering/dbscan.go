package clustering

import (
	"sort"
	"time"
)

const (
	labelUnvisited = -2
	labelNoise     = -1
)

// Eventlet is a tight group of assets found by Stage 1.
type Eventlet struct {
	Index            int
	MemberIDs        []string
	CentroidTime     *time.Time
	CentroidLocation *GeoPoint
	Representative   []float32

	members []Feature
}

// Size returns the number of member assets.
func (e *Eventlet) Size() int {
	return len(e.MemberIDs)
}

type neighborIndex struct {
	features []Feature
	byTime   []int // indices of timed features ordered by (time, index)
	timeEps  int64
	distEps  float64
}

func newNeighborIndex(features []Feature, timeEps time.Duration, distEps float64) *neighborIndex {
	idx := &neighborIndex{
		features: features,
		timeEps:  int64(timeEps / time.Second),
		distEps:  distEps,
	}
	for i := range features {
		if features[i].HasTime {
			idx.byTime = append(idx.byTime, i)
		}
	}
	sort.SliceStable(idx.byTime, func(a, b int) bool {
		return features[idx.byTime[a]].Time < features[idx.byTime[b]].Time
	})
	return idx
}

// close applies both epsilons as a conjunction. Missing GPS on either side
// leaves the time test alone.
func (n *neighborIndex) close(a, b *Feature) bool {
	dt := a.Time - b.Time
	if dt < 0 {
		dt = -dt
	}
	if dt > n.timeEps {
		return false
	}
	if a.Location == nil || b.Location == nil {
		return true
	}
	return HaversineMeters(*a.Location, *b.Location) <= n.distEps
}

// neighbors returns i and every feature close to it, ordered by index.
func (n *neighborIndex) neighbors(i int) []int {
	f := &n.features[i]
	if !f.HasTime {
		return []int{i}
	}

	lo := sort.Search(len(n.byTime), func(k int) bool {
		return n.features[n.byTime[k]].Time >= f.Time-n.timeEps
	})

	var out []int
	for k := lo; k < len(n.byTime); k++ {
		j := n.byTime[k]
		if n.features[j].Time > f.Time+n.timeEps {
			break
		}
		if j == i || n.close(f, &n.features[j]) {
			out = append(out, j)
		}
	}
	sort.Ints(out)
	return out
}

// ClusterEventlets runs DBSCAN over the features. Features must be sorted by
// asset id (as returned by ExtractFeatures); every feature ends up in exactly
// one eventlet, noise points as singletons.
func ClusterEventlets(features []Feature, p Params) []Eventlet {
	idx := newNeighborIndex(features, p.TimeEps, p.DistanceEps)

	labels := make([]int, len(features))
	for i := range labels {
		labels[i] = labelUnvisited
	}

	clusters := 0
	for i := range features {
		if labels[i] != labelUnvisited {
			continue
		}
		seeds := idx.neighbors(i)
		if len(seeds) < p.MinSamples {
			labels[i] = labelNoise
			continue
		}

		c := clusters
		clusters++
		labels[i] = c

		queue := seeds
		for k := 0; k < len(queue); k++ {
			j := queue[k]
			if labels[j] == labelNoise {
				// Border point: joins the cluster but does not expand it.
				labels[j] = c
				continue
			}
			if labels[j] != labelUnvisited {
				continue
			}
			labels[j] = c
			if nb := idx.neighbors(j); len(nb) >= p.MinSamples {
				queue = append(queue, nb...)
			}
		}
	}

	groups := make([][]Feature, clusters)
	var eventlets []Eventlet
	for i, label := range labels {
		if label == labelNoise {
			eventlets = append(eventlets, newEventlet([]Feature{features[i]}))
			continue
		}
		groups[label] = append(groups[label], features[i])
	}
	for _, g := range groups {
		eventlets = append(eventlets, newEventlet(g))
	}

	sort.Slice(eventlets, func(a, b int) bool {
		return eventlets[a].MemberIDs[0] < eventlets[b].MemberIDs[0]
	})
	for i := range eventlets {
		eventlets[i].Index = i
	}
	return eventlets
}

func newEventlet(members []Feature) Eventlet {
	sort.Slice(members, func(a, b int) bool { return members[a].AssetID < members[b].AssetID })

	e := Eventlet{
		MemberIDs: make([]string, len(members)),
		members:   members,
	}

	var timeSum, timed int64
	var points []GeoPoint
	vectors := make([][]float32, 0, len(members))
	for i, m := range members {
		e.MemberIDs[i] = m.AssetID
		if m.HasTime {
			timeSum += m.Time
			timed++
		}
		if m.Location != nil {
			points = append(points, *m.Location)
		}
		vectors = append(vectors, m.Embedding)
	}

	if timed > 0 {
		t := time.Unix(timeSum/timed, 0).UTC()
		e.CentroidTime = &t
	}
	e.CentroidLocation = Centroid(points)
	e.Representative = meanEmbedding(vectors)
	return e
}
