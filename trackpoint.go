// Package fit2gpx converts FIT activity recordings into GPX tracks, optionally
// adding elevations from terrain tiles.
package fit2gpx

import (
	"iter"
	"time"
)

// A TrackPoint is one sampled position along an activity. Nil pointers and a
// zero Time mean that the value is unknown.
type TrackPoint struct {
	Lon         float64 // Degrees.
	Lat         float64 // Degrees.
	Elevation   *float64
	Time        time.Time
	Speed       *float64 // Meters per second.
	HeartRate   *int     // Beats per minute.
	Cadence     *int     // Revolutions per minute.
	Temperature *float64 // Degrees Celsius.
	Distance    *float64 // Meters.
}

// NoFix returns true if p is the no-fix sentinel (0, 0).
func (p *TrackPoint) NoFix() bool {
	return p.Lon == 0 && p.Lat == 0
}

// Valid returns true if p has a position fix with a latitude in [-90, 90) and
// a longitude in [-180, 180).
func (p *TrackPoint) Valid() bool {
	return !p.NoFix() &&
		-90 <= p.Lat && p.Lat < 90 &&
		-180 <= p.Lon && p.Lon < 180
}

// TileKey returns the key of the tile containing p.
func (p *TrackPoint) TileKey() TileKey {
	return TileKeyOf(p.Lon, p.Lat)
}

// ValidPoints returns the valid points of points, in order. The returned
// sequence is lazy and can be iterated again if points can.
func ValidPoints(points iter.Seq[TrackPoint]) iter.Seq[TrackPoint] {
	return func(yield func(TrackPoint) bool) {
		for point := range points {
			if !point.Valid() {
				continue
			}
			if !yield(point) {
				return
			}
		}
	}
}
