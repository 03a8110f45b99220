// Package clustering turns a flat set of photo assets into event candidates.
//
// Stage 1 groups assets that are close in both time and space into eventlets
// (DBSCAN with a time epsilon and a distance epsilon). Stage 2 links eventlets
// whose mean embeddings are similar and whose centroids are close in time, and
// every connected component of that graph becomes an AlbumCandidate. Eventlets
// that are articulation points of their component are weak, the rest strong.
package clustering

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"
)

// GeoPoint is a WGS84 coordinate in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies within the WGS84 range.
func (p GeoPoint) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Asset is a read-only photo record supplied by the asset source.
type Asset struct {
	ID        string
	Timestamp *time.Time
	Latitude  *float64
	Longitude *float64
	Embedding []float32
	AlbumIDs  []string
}

// Location returns the asset GPS position, or nil if it is missing or out of range.
func (a *Asset) Location() *GeoPoint {
	if a.Latitude == nil || a.Longitude == nil {
		return nil
	}
	p := GeoPoint{Lat: *a.Latitude, Lon: *a.Longitude}
	if !p.Valid() {
		return nil
	}
	return &p
}

// Feature is the clustering-ready view of an asset.
type Feature struct {
	AssetID   string
	Time      int64 // Unix seconds, meaningful only when HasTime
	HasTime   bool
	Location  *GeoPoint
	Embedding []float32
}

// ExtractFeatures normalizes assets into features sorted by asset id.
// Assets that neither stage can place are returned as InvalidAssetErrors and
// left out of the result. Of several assets sharing an id the first in
// compareAssets order is kept.
func ExtractFeatures(assets []Asset) ([]Feature, []*InvalidAssetError) {
	sorted := slices.Clone(assets)
	slices.SortStableFunc(sorted, compareAssets)

	features := make([]Feature, 0, len(sorted))
	var invalid []*InvalidAssetError
	seen := make(map[string]struct{}, len(sorted))
	dim := 0

	for i := range sorted {
		a := &sorted[i]
		if a.ID == "" {
			invalid = append(invalid, &InvalidAssetError{Reason: "missing id"})
			continue
		}
		if _, dup := seen[a.ID]; dup {
			invalid = append(invalid, &InvalidAssetError{AssetID: a.ID, Reason: "duplicate id"})
			continue
		}

		hasTime := a.Timestamp != nil && !a.Timestamp.IsZero()
		hasEmbedding := len(a.Embedding) > 0
		if !hasTime && !hasEmbedding {
			invalid = append(invalid, &InvalidAssetError{AssetID: a.ID, Reason: "no timestamp and no embedding"})
			continue
		}
		if hasEmbedding {
			if dim == 0 {
				dim = len(a.Embedding)
			} else if len(a.Embedding) != dim {
				invalid = append(invalid, &InvalidAssetError{
					AssetID: a.ID,
					Reason:  "embedding dimension mismatch",
				})
				continue
			}
		}
		seen[a.ID] = struct{}{}

		f := Feature{
			AssetID:   a.ID,
			Location:  a.Location(),
			Embedding: a.Embedding,
		}
		if hasTime {
			f.Time = a.Timestamp.UTC().Unix()
			f.HasTime = true
		}
		features = append(features, f)
	}

	return features, invalid
}

// compareAssets orders by id and then by content, so input order never
// decides which copy of a duplicated id survives.
func compareAssets(a, b Asset) int {
	return cmp.Or(
		strings.Compare(a.ID, b.ID),
		compareOptional(a.Timestamp, b.Timestamp, func(x, y time.Time) int { return x.Compare(y) }),
		compareOptional(a.Latitude, b.Latitude, cmp.Compare[float64]),
		compareOptional(a.Longitude, b.Longitude, cmp.Compare[float64]),
		slices.Compare(a.Embedding, b.Embedding),
		slices.Compare(a.AlbumIDs, b.AlbumIDs),
	)
}

// compareOptional sorts present values before missing ones.
func compareOptional[T any](a, b *T, compare func(x, y T) int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return compare(*a, *b)
}
