package fit2gpx

import (
	"cmp"
	"fmt"
	"iter"
	"maps"
	"math"
	"slices"
)

// A TileKey identifies the one degree by one degree tile whose south west
// corner is at Lat, Lon.
type TileKey struct {
	Lat int
	Lon int
}

// A TileKeySet is a set of tile keys.
type TileKeySet map[TileKey]struct{}

// TileKeyOf returns the key of the tile containing lon, lat.
func TileKeyOf(lon, lat float64) TileKey {
	return TileKey{
		Lat: int(math.Floor(lat)),
		Lon: int(math.Floor(lon)),
	}
}

// Compare compares k and other by latitude and then by longitude.
func (k TileKey) Compare(other TileKey) int {
	if c := cmp.Compare(k.Lat, other.Lat); c != 0 {
		return c
	}
	return cmp.Compare(k.Lon, other.Lon)
}

func (k TileKey) String() string {
	latHemisphere, lat := 'N', k.Lat
	if lat < 0 {
		latHemisphere, lat = 'S', -lat
	}
	lonHemisphere, lon := 'E', k.Lon
	if lon < 0 {
		lonHemisphere, lon = 'W', -lon
	}
	return fmt.Sprintf("%c%02d%c%03d", latHemisphere, lat, lonHemisphere, lon)
}

// NeededTileKeys returns the keys of the tiles containing the valid points of
// points.
func NeededTileKeys(points iter.Seq[TrackPoint]) TileKeySet {
	keys := make(TileKeySet)
	for point := range ValidPoints(points) {
		keys[point.TileKey()] = struct{}{}
	}
	return keys
}

// Add adds key to s.
func (s TileKeySet) Add(key TileKey) {
	s[key] = struct{}{}
}

// Contains returns true if s contains key.
func (s TileKeySet) Contains(key TileKey) bool {
	_, ok := s[key]
	return ok
}

// Union adds all keys in other to s.
func (s TileKeySet) Union(other TileKeySet) {
	maps.Copy(s, other)
}

// Sorted returns the keys in s in ascending order.
func (s TileKeySet) Sorted() []TileKey {
	return slices.SortedFunc(maps.Keys(s), TileKey.Compare)
}
