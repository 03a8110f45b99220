package clustering

import (
	"sort"
	"time"
)

// AlbumEnvelope describes an album that already exists in the photo service.
type AlbumEnvelope struct {
	AlbumID      string
	Title        string
	Description  string
	AssetIDs     []string
	CoverAssetID string
	MinDate      time.Time
	MaxDate      time.Time
	Location     *GeoPoint
}

// Validate reports why the envelope cannot be used for augmentation.
func (e *AlbumEnvelope) Validate() error {
	switch {
	case e.AlbumID == "":
		return &AugmentationSourceError{Reason: "missing album id"}
	case e.MinDate.IsZero() || e.MaxDate.IsZero():
		return &AugmentationSourceError{AlbumID: e.AlbumID, Reason: "missing date range"}
	case e.MaxDate.Before(e.MinDate):
		return &AugmentationSourceError{AlbumID: e.AlbumID, Reason: "max date before min date"}
	case e.Location != nil && !e.Location.Valid():
		return &AugmentationSourceError{AlbumID: e.AlbumID, Reason: "location out of range"}
	}
	return nil
}

// AugmentParams controls how far around an album envelope assets are collected.
type AugmentParams struct {
	Margin       time.Duration
	RadiusMeters float64
}

// Augment returns the ids of pool assets that plausibly belong to the album:
// timestamp within [MinDate-Margin, MaxDate+Margin] and, when both sides have a
// location, within RadiusMeters of the album centroid. Assets already in the
// album or listed in excluded are never returned. The envelope is not modified.
func Augment(env *AlbumEnvelope, pool []Feature, excluded map[string]struct{}, p AugmentParams) ([]string, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	inAlbum := make(map[string]struct{}, len(env.AssetIDs))
	for _, id := range env.AssetIDs {
		inAlbum[id] = struct{}{}
	}

	from := env.MinDate.Add(-p.Margin).Unix()
	to := env.MaxDate.Add(p.Margin).Unix()

	var additions []string
	for i := range pool {
		f := &pool[i]
		if !f.HasTime || f.Time < from || f.Time > to {
			continue
		}
		if _, ok := inAlbum[f.AssetID]; ok {
			continue
		}
		if _, ok := excluded[f.AssetID]; ok {
			continue
		}
		if env.Location != nil && f.Location != nil &&
			HaversineMeters(*env.Location, *f.Location) > p.RadiusMeters {
			continue
		}
		additions = append(additions, f.AssetID)
	}

	sort.Strings(additions)
	return additions, nil
}
