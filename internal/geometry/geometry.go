// Package geometry wraps the GEOS boolean operations and geodesic area math
// the completion core is built on. All geometries are GeoJSON Polygon or
// MultiPolygon in WGS84 lon/lat; all areas are square meters on the spheroid,
// so ratios between stored areas are unit-consistent regardless of latitude.
package geometry

import (
	"fmt"

	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/twpayne/go-geos"
)

// Decode parses a GeoJSON geometry and verifies it is a valid, non-empty
// Polygon or MultiPolygon. Callers treat a failure here as an
// invalid-geometry precondition violation.
func Decode(geomJSON string) (*geos.Geom, error) {
	g, err := geos.NewGeomFromGeoJSON(geomJSON)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	if g.TypeID() != 3 && g.TypeID() != 6 { // Polygon or MultiPolygon
		return nil, fmt.Errorf("geometry type %d is not a polygon or multipolygon", g.TypeID())
	}
	if g.IsEmpty() {
		return nil, fmt.Errorf("geometry is empty")
	}
	if !g.IsValid() {
		return nil, fmt.Errorf("geometry does not satisfy OGC validity")
	}
	return g, nil
}

// AreaM2 returns the geodesic area of a GeoJSON geometry in square meters.
func AreaM2(geomJSON string) (float64, error) {
	g, err := geojson.UnmarshalGeometry([]byte(geomJSON))
	if err != nil {
		return 0, fmt.Errorf("parse geojson: %w", err)
	}
	a := geo.Area(g.Geometry())
	if a < 0 {
		a = -a
	}
	return a, nil
}

// Union returns the geometric union of the given GeoJSON geometries as
// GeoJSON. Overlap between inputs is counted once, so the union's area can
// be strictly less than the sum of the inputs' areas.
func Union(geomJSONs []string) (string, error) {
	if len(geomJSONs) == 0 {
		return "", fmt.Errorf("union of zero geometries")
	}
	merged, err := Decode(geomJSONs[0])
	if err != nil {
		return "", err
	}
	for _, j := range geomJSONs[1:] {
		g, err := Decode(j)
		if err != nil {
			return "", err
		}
		merged = merged.Union(g)
	}
	return merged.ToGeoJSON(-1), nil
}

// IntersectionAreaM2 returns the geodesic area in square meters of the
// overlap between two GeoJSON geometries, or 0 when they do not overlap
// with positive area.
func IntersectionAreaM2(aJSON, bJSON string) (float64, error) {
	a, err := Decode(aJSON)
	if err != nil {
		return 0, err
	}
	b, err := Decode(bJSON)
	if err != nil {
		return 0, err
	}
	if !a.Intersects(b) {
		return 0, nil
	}
	inter := a.Intersection(b)
	if inter == nil || inter.IsEmpty() || inter.Area() == 0 {
		// Touching boundaries intersect in lines or points, which cover no area.
		return 0, nil
	}
	return AreaM2(inter.ToGeoJSON(-1))
}

// Contiguous reports whether two GeoJSON geometries touch or overlap within
// the given buffer tolerance (degrees). The operator merge queue refuses to
// merge units that are not contiguous.
func Contiguous(aJSON, bJSON string, tolerance float64) (bool, error) {
	a, err := Decode(aJSON)
	if err != nil {
		return false, err
	}
	b, err := Decode(bJSON)
	if err != nil {
		return false, err
	}
	return a.Buffer(tolerance, 8).Intersects(b), nil
}
