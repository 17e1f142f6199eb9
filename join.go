package fit2gpx

import (
	"fmt"
	"runtime"
	"sync"
)

// minJoinChunkSize is the minimum number of points joined by each goroutine.
const minJoinChunkSize = 4096

// A MissingTileError is returned by AddElevationStrict when a point lies
// outside all tiles.
type MissingTileError struct {
	Index int
	Key   TileKey
}

func (e *MissingTileError) Error() string {
	return fmt.Sprintf("point %d: %s: no elevation tile", e.Index, e.Key)
}

// JoinStats counts the outcome of adding elevations to points.
type JoinStats struct {
	Elevated int // Points given an elevation.
	Kept     int // Points whose existing elevation was kept.
	NoFix    int // No-fix points.
	Void     int // Points whose tile sample was void.
	Missing  int // Points outside all tiles.
}

func (s *JoinStats) add(other JoinStats) {
	s.Elevated += other.Elevated
	s.Kept += other.Kept
	s.NoFix += other.NoFix
	s.Void += other.Void
	s.Missing += other.Missing
}

// AddElevation sets the elevation of each point in points from the tile in
// index that contains it. Points with an existing elevation are only
// modified if overwrite is true. Points outside all tiles keep their existing
// elevation. Points on voids are left without an elevation.
func AddElevation(points []TrackPoint, index *TileIndex, overwrite bool) JoinStats {
	var stats JoinStats
	for _, chunkStats := range forEachChunk(len(points), func(start, end int) JoinStats {
		return joinElevation(points[start:end], index, overwrite)
	}) {
		stats.add(chunkStats)
	}
	pointsElevated.Add(float64(stats.Elevated))
	pointsOnVoid.Add(float64(stats.Void))
	pointsWithoutTile.Add(float64(stats.Missing))
	return stats
}

// AddElevationStrict is like AddElevation but returns a *MissingTileError for
// the first point that would be joined but lies outside all tiles. points are
// not modified if an error is returned.
func AddElevationStrict(points []TrackPoint, index *TileIndex, overwrite bool) (JoinStats, error) {
	for i := range points {
		point := &points[i]
		if !needsElevation(point, overwrite) {
			continue
		}
		key := point.TileKey()
		if _, ok := index.Tile(key); !ok {
			return JoinStats{}, &MissingTileError{
				Index: i,
				Key:   key,
			}
		}
	}
	return AddElevation(points, index, overwrite), nil
}

func needsElevation(point *TrackPoint, overwrite bool) bool {
	return !point.NoFix() && (overwrite || point.Elevation == nil)
}

func joinElevation(points []TrackPoint, index *TileIndex, overwrite bool) JoinStats {
	var stats JoinStats
	for i := range points {
		point := &points[i]
		switch {
		case point.NoFix():
			stats.NoFix++
			continue
		case !overwrite && point.Elevation != nil:
			stats.Kept++
			continue
		}
		tile, ok := index.Tile(point.TileKey())
		if !ok {
			stats.Missing++
			continue
		}
		elevation, ok := tile.Sample(point.Lon, point.Lat)
		if !ok {
			point.Elevation = nil
			stats.Void++
			continue
		}
		point.Elevation = &elevation
		stats.Elevated++
	}
	return stats
}

// forEachChunk splits [0, n) into contiguous chunks, calls fn on each chunk
// concurrently, and returns the results in chunk order.
func forEachChunk[T any](n int, fn func(start, end int) T) []T {
	if n == 0 {
		return nil
	}
	chunks := min(runtime.GOMAXPROCS(0), (n+minJoinChunkSize-1)/minJoinChunkSize)
	chunkSize := (n + chunks - 1) / chunks
	results := make([]T, chunks)
	var wg sync.WaitGroup
	for i := range chunks {
		start := min(i*chunkSize, n)
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = fn(start, end)
		}()
	}
	wg.Wait()
	return results
}
