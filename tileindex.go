package fit2gpx

import (
	"errors"
	"io"
	"maps"
	"slices"
)

// A TileIndex maps tile keys to loaded tiles. It is not modified after it is
// created so it can be shared between goroutines.
type TileIndex struct {
	tiles map[TileKey]Tile
}

// NewTileIndex returns a new TileIndex containing tiles, keyed by their own
// south west corners. Nil tiles are ignored. If two tiles have the same
// corner then the later tile is used.
func NewTileIndex(tiles []Tile) *TileIndex {
	x := &TileIndex{
		tiles: make(map[TileKey]Tile, len(tiles)),
	}
	for _, tile := range tiles {
		if tile == nil {
			continue
		}
		lat, lon := tile.SouthWest()
		x.tiles[TileKey{Lat: lat, Lon: lon}] = tile
	}
	return x
}

// Tile returns the tile with key.
func (x *TileIndex) Tile(key TileKey) (Tile, bool) {
	if x == nil {
		return nil, false
	}
	tile, ok := x.tiles[key]
	return tile, ok
}

// Len returns the number of tiles in x.
func (x *TileIndex) Len() int {
	if x == nil {
		return 0
	}
	return len(x.tiles)
}

// Keys returns the keys of the tiles in x in ascending order.
func (x *TileIndex) Keys() []TileKey {
	if x == nil {
		return nil
	}
	return slices.SortedFunc(maps.Keys(x.tiles), TileKey.Compare)
}

// Close closes all tiles in x that hold open files.
func (x *TileIndex) Close() error {
	if x == nil {
		return nil
	}
	return closeTiles(slices.Collect(maps.Values(x.tiles)))
}

func closeTiles(tiles []Tile) error {
	var errs []error
	for _, tile := range tiles {
		if closer, ok := tile.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
