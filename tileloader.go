package fit2gpx

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/twpayne/go-fit2gpx/geotiff"
	"github.com/twpayne/go-fit2gpx/hgt"
	"github.com/twpayne/go-fit2gpx/raster"
)

// A Tile is a loaded elevation tile.
type Tile interface {
	// SouthWest returns the integer coordinates of the tile's south west
	// corner.
	SouthWest() (lat, lon int)
	// Sample returns the elevation at lon, lat, or false if it is void or
	// outside the tile.
	Sample(lon, lat float64) (float64, bool)
}

// A TileFilenameFunc returns the filename of the tile with a key.
type TileFilenameFunc func(TileKey) string

// A TileOpenFunc opens the tile called filename in fsys.
type TileOpenFunc func(fsys fs.FS, filename string) (Tile, error)

// A TileLoader loads elevation tiles from a filesystem.
type TileLoader struct {
	fsys             fs.FS
	tileFilenameFunc TileFilenameFunc
	tileOpenFunc     TileOpenFunc
	interpolation    raster.Interpolation
	concurrency      int
	logger           *slog.Logger
	missingTiles     sync.Map
}

// A TileLoaderOption sets an option on a TileLoader.
type TileLoaderOption func(*TileLoader)

// WithConcurrency sets the maximum number of tiles loaded at once.
func WithConcurrency(concurrency int) TileLoaderOption {
	return func(l *TileLoader) {
		l.concurrency = concurrency
	}
}

// WithHGT loads HGT tiles. This is the default.
func WithHGT(options ...hgt.Option) TileLoaderOption {
	return func(l *TileLoader) {
		l.tileFilenameFunc = func(key TileKey) string {
			return hgt.Filename(key.Lat, key.Lon)
		}
		l.tileOpenFunc = func(fsys fs.FS, filename string) (Tile, error) {
			tile, err := hgt.Open(fsys, filename, append([]hgt.Option{hgt.WithInterpolation(l.interpolation)}, options...)...)
			if err != nil {
				return nil, err
			}
			return tile, nil
		}
	}
}

// WithGeoTIFF loads Copernicus GeoTIFF tiles.
func WithGeoTIFF(options ...geotiff.Option) TileLoaderOption {
	return func(l *TileLoader) {
		l.tileFilenameFunc = func(key TileKey) string {
			return geotiff.CopernicusFilename(key.Lat, key.Lon)
		}
		l.tileOpenFunc = func(fsys fs.FS, filename string) (Tile, error) {
			tile, err := geotiff.Open(fsys, filename, append([]geotiff.Option{geotiff.WithInterpolation(l.interpolation)}, options...)...)
			if err != nil {
				return nil, err
			}
			return tile, nil
		}
	}
}

// WithInterpolation sets the interpolation used by the built in tile formats.
func WithInterpolation(interpolation raster.Interpolation) TileLoaderOption {
	return func(l *TileLoader) {
		l.interpolation = interpolation
	}
}

// WithLoaderLogger sets the logger.
func WithLoaderLogger(logger *slog.Logger) TileLoaderOption {
	return func(l *TileLoader) {
		l.logger = logger
	}
}

// WithTileFilenameFunc sets the function that names tile files.
func WithTileFilenameFunc(tileFilenameFunc TileFilenameFunc) TileLoaderOption {
	return func(l *TileLoader) {
		l.tileFilenameFunc = tileFilenameFunc
	}
}

// WithTileOpenFunc sets the function that opens tile files.
func WithTileOpenFunc(tileOpenFunc TileOpenFunc) TileLoaderOption {
	return func(l *TileLoader) {
		l.tileOpenFunc = tileOpenFunc
	}
}

// NewTileLoader returns a new TileLoader that loads tiles from fsys.
func NewTileLoader(fsys fs.FS, options ...TileLoaderOption) *TileLoader {
	l := &TileLoader{
		fsys:        fsys,
		concurrency: runtime.GOMAXPROCS(0),
		logger:      slog.Default(),
	}
	WithHGT()(l)
	for _, option := range options {
		option(l)
	}
	return l
}

// Load loads the tiles with keys into a new TileIndex. Tiles that are missing
// or that fail to load are logged and left out of the index. Load only
// returns an error if ctx is canceled.
func (l *TileLoader) Load(ctx context.Context, keys TileKeySet) (*TileIndex, error) {
	sortedKeys := keys.Sorted()
	tiles := make([]Tile, len(sortedKeys))
	l.logger.Debug("loading tiles", slog.Any("keys", sortedKeys))

	var g errgroup.Group
	if l.concurrency > 0 {
		g.SetLimit(l.concurrency)
	}
	for i, key := range sortedKeys {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tiles[i] = l.loadTile(key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeTiles(tiles)
		return nil, err
	}

	return NewTileIndex(tiles), nil
}

// loadTile loads the tile with key, returning nil if it cannot be loaded.
func (l *TileLoader) loadTile(key TileKey) Tile {
	if _, ok := l.missingTiles.Load(key); ok {
		missingTileCacheHits.Inc()
		return nil
	}

	filename := l.tileFilenameFunc(key)
	switch tile, err := l.tileOpenFunc(l.fsys, filename); {
	case errors.Is(err, fs.ErrNotExist):
		l.missingTiles.Store(key, struct{}{})
		missingTileCacheMisses.Inc()
		l.logger.Warn("tile missing", slog.String("tile", key.String()), slog.String("filename", filename))
		return nil
	case err != nil:
		tileLoadErrors.Inc()
		l.logger.Error("tile load failed", slog.String("tile", key.String()), slog.String("filename", filename), slog.Any("err", err))
		return nil
	default:
		tilesLoaded.Inc()
		l.logger.Debug("tile loaded", slog.String("tile", key.String()), slog.String("filename", filename))
		return tile
	}
}
