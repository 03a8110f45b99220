package clustering

import (
	"sort"
	"time"

	"github.com/kozaktomas/album-suggester/internal/config"
)

// Params are the tunables of both stages.
type Params struct {
	TimeEps             time.Duration
	DistanceEps         float64 // meters
	MinSamples          int
	SimilarityThreshold float64
	MergeWindow         time.Duration
	Workers             int
}

// ParamsFromConfig maps the YAML clustering section onto engine params.
func ParamsFromConfig(cfg config.ClusteringConfig) Params {
	return Params{
		TimeEps:             cfg.Stage1.TimeWindow,
		DistanceEps:         cfg.Stage1.DistanceMeters,
		MinSamples:          cfg.Stage1.MinSamples,
		SimilarityThreshold: cfg.Stage2.SimilarityThreshold,
		MergeWindow:         cfg.Stage2.MergeTimeWindow,
		Workers:             cfg.Stage2.Workers,
	}
}

// Result is the outcome of one clustering run.
type Result struct {
	Eventlets  []Eventlet
	Candidates []*AlbumCandidate
	Skipped    []*InvalidAssetError
	EdgeCount  int
}

// Engine runs the full clustering pipeline.
type Engine struct {
	params Params
}

func NewEngine(p Params) *Engine {
	return &Engine{params: p}
}

// Run clusters assets into album candidates. The result does not depend on
// the order of assets. Only an invariant violation returns an error.
func (e *Engine) Run(assets []Asset) (*Result, error) {
	features, skipped := ExtractFeatures(assets)
	result := &Result{Skipped: skipped}
	if len(features) == 0 {
		return result, nil
	}

	result.Eventlets = ClusterEventlets(features, e.params)
	graph := BuildGraph(result.Eventlets, e.params)
	result.EdgeCount = graph.EdgeCount()

	for i, comp := range Components(graph) {
		weak := ArticulationPoints(graph, comp)
		candidate, err := Assemble(i, result.Eventlets, comp, weak)
		if err != nil {
			return nil, err
		}
		result.Candidates = append(result.Candidates, candidate)
	}

	sortCandidates(result.Candidates)
	return result, nil
}

func sortCandidates(cs []*AlbumCandidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].MinDate.Equal(cs[j].MinDate) {
			return cs[i].MinDate.Before(cs[j].MinDate)
		}
		return firstID(cs[i]) < firstID(cs[j])
	})
}

func firstID(c *AlbumCandidate) string {
	ids := c.AssetIDs()
	sort.Strings(ids)
	return ids[0]
}
