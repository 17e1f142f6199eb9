package fit2gpx

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/twpayne/go-gpx"
	"golang.org/x/sync/errgroup"
)

// DefaultCreator is the default GPX creator.
const DefaultCreator = "fit2gpx"

// Reasons for skipping input files.
var (
	ErrNotFITFilename = errors.New("not a .fit file")
	ErrOutputExists   = errors.New("output exists")
	ErrEmptyTrack     = errors.New("empty track")
)

// A Converter converts FIT files to GPX files.
type Converter struct {
	loader           *TileLoader
	overwrite        bool
	strict           bool
	perFileElevation bool
	concurrency      int
	creator          string
	mergeFilename    string
	now              func() time.Time
	logger           *slog.Logger
}

// A ConverterOption sets an option on a Converter.
type ConverterOption func(*Converter)

// A Result is the result of converting a single file.
type Result struct {
	Filename       string
	OutputFilename string
	Points         int
	Elevation      JoinStats
	Skipped        error // Non-nil if the file was skipped.
	Err            error // Non-nil if the conversion failed.
}

// WithConverterConcurrency sets the maximum number of files converted at
// once.
func WithConverterConcurrency(concurrency int) ConverterOption {
	return func(c *Converter) {
		c.concurrency = concurrency
	}
}

// WithCreator sets the GPX creator.
func WithCreator(creator string) ConverterOption {
	return func(c *Converter) {
		c.creator = creator
	}
}

// WithElevation adds elevations using tiles from loader.
func WithElevation(loader *TileLoader) ConverterOption {
	return func(c *Converter) {
		c.loader = loader
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ConverterOption {
	return func(c *Converter) {
		c.logger = logger
	}
}

// WithMergedOutput writes all tracks to a single GPX file, one segment per
// input file, instead of one GPX file per input file.
func WithMergedOutput(filename string) ConverterOption {
	return func(c *Converter) {
		c.mergeFilename = filename
	}
}

// WithOverwrite sets whether existing GPX files and existing elevations are
// overwritten.
func WithOverwrite(overwrite bool) ConverterOption {
	return func(c *Converter) {
		c.overwrite = overwrite
	}
}

// WithPerFileElevation loads tiles separately for each file instead of once
// for the whole batch.
func WithPerFileElevation(perFileElevation bool) ConverterOption {
	return func(c *Converter) {
		c.perFileElevation = perFileElevation
	}
}

// WithStrictElevation fails files with points outside all loaded tiles.
func WithStrictElevation(strict bool) ConverterOption {
	return func(c *Converter) {
		c.strict = strict
	}
}

// NewConverter returns a new Converter with the given options.
func NewConverter(options ...ConverterOption) *Converter {
	c := &Converter{
		concurrency: runtime.GOMAXPROCS(0),
		creator:     DefaultCreator,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Convert converts filenames. Failures of individual files are reported in
// their Results. The returned error is non-nil only if ctx is canceled or the
// merged output cannot be written.
func (c *Converter) Convert(ctx context.Context, filenames []string) ([]Result, error) {
	results := make([]Result, len(filenames))
	activities := make([]*Activity, len(filenames))

	// Read all activities.
	g := c.newGroup()
	for i, filename := range filenames {
		result := &results[i]
		result.Filename = filename
		if c.mergeFilename == "" {
			result.OutputFilename = GPXFilename(filename)
		}
		if err := c.checkInput(result); err != nil {
			result.Skipped = err
			activitiesSkipped.Inc()
			c.logger.Info("skipping", slog.String("filename", filename), slog.String("reason", err.Error()))
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			activity, err := ReadActivityFile(filename)
			if err != nil {
				result.Err = err
				activityErrors.Inc()
				c.logger.Error("read failed", slog.String("filename", filename), slog.Any("err", err))
				return nil
			}
			activities[i] = activity
			result.Points = len(activity.Points)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	// Load the tiles for the whole batch.
	var index *TileIndex
	if c.loader != nil && !c.perFileElevation {
		keys := make(TileKeySet)
		for _, activity := range activities {
			if activity != nil {
				keys.Union(activity.TileKeys())
			}
		}
		var err error
		index, err = c.loader.Load(ctx, keys)
		if err != nil {
			return results, err
		}
		defer func() {
			if err := index.Close(); err != nil {
				c.logger.Warn("closing tiles failed", slog.Any("err", err))
			}
		}()
		c.logger.Info("tiles loaded", slog.Int("needed", len(keys)), slog.Int("loaded", index.Len()))
	}

	// Add elevations and write each activity.
	g = c.newGroup()
	for i, activity := range activities {
		if activity == nil {
			continue
		}
		result := &results[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.convertActivity(ctx, activity, index, result)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	if c.mergeFilename != "" {
		return results, c.writeMerged(activities, results)
	}
	return results, nil
}

func (c *Converter) newGroup() *errgroup.Group {
	g := &errgroup.Group{}
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	return g
}

// checkInput returns the reason for skipping result's input, if any.
func (c *Converter) checkInput(result *Result) error {
	if !strings.EqualFold(filepath.Ext(result.Filename), ".fit") {
		return ErrNotFITFilename
	}
	if result.OutputFilename == "" || c.overwrite {
		return nil
	}
	switch _, err := os.Stat(result.OutputFilename); {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	default:
		return ErrOutputExists
	}
}

func (c *Converter) convertActivity(ctx context.Context, activity *Activity, index *TileIndex, result *Result) {
	logger := c.logger.With(slog.String("filename", activity.Filename))

	if c.loader != nil {
		var err error
		switch {
		case c.perFileElevation && c.strict:
			err = c.addElevationPerFileStrict(ctx, activity, result)
		case c.perFileElevation:
			result.Elevation, err = activity.AddElevation(ctx, c.loader, c.overwrite)
		case c.strict:
			result.Elevation, err = AddElevationStrict(activity.Points, index, c.overwrite)
		default:
			result.Elevation = AddElevation(activity.Points, index, c.overwrite)
		}
		if err != nil {
			result.Err = err
			activityErrors.Inc()
			logger.Error("elevation failed", slog.Any("err", err))
			return
		}
		logger.Debug("elevation added",
			slog.Int("elevated", result.Elevation.Elevated),
			slog.Int("void", result.Elevation.Void),
			slog.Int("missing", result.Elevation.Missing),
		)
	}

	if len(activity.Points) == 0 {
		result.Skipped = ErrEmptyTrack
		activitiesSkipped.Inc()
		logger.Warn("skipping", slog.String("reason", ErrEmptyTrack.Error()))
		return
	}

	if c.mergeFilename != "" {
		return
	}
	g, err := activity.GPX(c.creator)
	if err == nil {
		err = WriteGPXFile(result.OutputFilename, g)
	}
	if err != nil {
		result.Err = err
		activityErrors.Inc()
		logger.Error("write failed", slog.Any("err", err))
		return
	}
	activitiesConverted.Inc()
	logger.Info("converted", slog.String("output", result.OutputFilename), slog.Int("points", result.Points))
}

func (c *Converter) addElevationPerFileStrict(ctx context.Context, activity *Activity, result *Result) (err error) {
	index, err := c.loader.Load(ctx, activity.TileKeys())
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, index.Close())
	}()
	result.Elevation, err = AddElevationStrict(activity.Points, index, c.overwrite)
	return err
}

// writeMerged writes the converted activities to a single GPX file.
func (c *Converter) writeMerged(activities []*Activity, results []Result) error {
	trk := &gpx.TrkType{
		Name: strings.TrimSuffix(filepath.Base(c.mergeFilename), filepath.Ext(c.mergeFilename)),
	}
	for i, activity := range activities {
		result := &results[i]
		if activity == nil || result.Err != nil || result.Skipped != nil {
			continue
		}
		trkSeg, err := activity.Segment()
		if err != nil {
			return err
		}
		trk.TrkSeg = append(trk.TrkSeg, trkSeg)
		result.OutputFilename = c.mergeFilename
	}
	g := NewGPX(c.creator, trk)
	g.Metadata = &gpx.MetadataType{
		Time: c.now(),
	}
	if err := WriteGPXFile(c.mergeFilename, g); err != nil {
		return err
	}
	activitiesConverted.Add(float64(len(trk.TrkSeg)))
	c.logger.Info("merged", slog.String("output", c.mergeFilename), slog.Int("segments", len(trk.TrkSeg)))
	return nil
}
