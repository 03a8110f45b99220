package clustering

import (
	"sort"
	"time"
)

// AlbumCandidate is one proposed album: a connected component of the
// eventlet graph split into strong and weak assets.
type AlbumCandidate struct {
	StrongAssetIDs []string
	WeakAssetIDs   []string
	MinDate        time.Time // zero when no member has a timestamp
	MaxDate        time.Time
	GPSPoints      []GeoPoint
	EventletCount  int
}

// AssetIDs returns strong followed by weak asset ids.
func (c *AlbumCandidate) AssetIDs() []string {
	ids := make([]string, 0, len(c.StrongAssetIDs)+len(c.WeakAssetIDs))
	ids = append(ids, c.StrongAssetIDs...)
	return append(ids, c.WeakAssetIDs...)
}

// Size returns the total number of assets.
func (c *AlbumCandidate) Size() int {
	return len(c.StrongAssetIDs) + len(c.WeakAssetIDs)
}

// Assemble builds the candidate for one component. weak holds the eventlet
// indices classified as weak.
func Assemble(index int, eventlets []Eventlet, component []int, weak map[int]bool) (*AlbumCandidate, error) {
	c := &AlbumCandidate{EventletCount: len(component)}

	var minT, maxT int64
	timed := false
	for _, n := range component {
		e := &eventlets[n]
		for _, m := range e.members {
			if weak[n] {
				c.WeakAssetIDs = append(c.WeakAssetIDs, m.AssetID)
			} else {
				c.StrongAssetIDs = append(c.StrongAssetIDs, m.AssetID)
			}
			if m.HasTime {
				if !timed || m.Time < minT {
					minT = m.Time
				}
				if !timed || m.Time > maxT {
					maxT = m.Time
				}
				timed = true
			}
			if m.Location != nil {
				c.GPSPoints = append(c.GPSPoints, *m.Location)
			}
		}
	}

	if c.Size() == 0 {
		return nil, &EmptyComponentError{Component: index}
	}

	sort.Strings(c.StrongAssetIDs)
	sort.Strings(c.WeakAssetIDs)
	if timed {
		c.MinDate = time.Unix(minT, 0).UTC()
		c.MaxDate = time.Unix(maxT, 0).UTC()
	}
	return c, nil
}
