package clustering

import "math"

const earthRadiusMeters = 6371008.8

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(a, b GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Centroid averages points on the unit sphere so that albums spanning the
// antimeridian do not collapse to longitude zero.
func Centroid(points []GeoPoint) *GeoPoint {
	if len(points) == 0 {
		return nil
	}
	var x, y, z float64
	for _, p := range points {
		lat := p.Lat * math.Pi / 180
		lon := p.Lon * math.Pi / 180
		x += math.Cos(lat) * math.Cos(lon)
		y += math.Cos(lat) * math.Sin(lon)
		z += math.Sin(lat)
	}
	n := float64(len(points))
	x, y, z = x/n, y/n, z/n

	hyp := math.Sqrt(x*x + y*y)
	return &GeoPoint{
		Lat: math.Atan2(z, hyp) * 180 / math.Pi,
		Lon: math.Atan2(y, x) * 180 / math.Pi,
	}
}
