package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/twpayne/go-fit2gpx"
	"github.com/twpayne/go-fit2gpx/internal/logger"
	"github.com/twpayne/go-fit2gpx/raster"
)

func envOr(key, value string) string {
	if s, ok := os.LookupEnv(key); ok {
		return s
	}
	return value
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

// loadEnv loads environment variables from filename, if it exists.
func loadEnv(filename string) error {
	if err := godotenv.Load(filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type config struct {
	elevDataDir      string
	addElevation     bool
	overwrite        bool
	strict           bool
	perFileElevation bool
	interpolate      string
	format           string
	concurrency      int
	merge            string
	metricsTextfile  string
	filenames        []string
}

// parseFlags parses the command line arguments args. Defaults for some flags
// are read from the environment.
func parseFlags(args []string) (*config, error) {
	var c config
	flagSet := flag.NewFlagSet("fit2gpx", flag.ContinueOnError)
	flagSet.StringVar(&c.elevDataDir, "elev-data-dir", envOr("ELEV_DATA_DIR", "/tmp"), "elevation tile directory")
	flagSet.StringVar(&c.elevDataDir, "d", envOr("ELEV_DATA_DIR", "/tmp"), "elevation tile directory (shorthand)")
	flagSet.BoolVar(&c.addElevation, "add-elevation", envBool("ADD_ELEVATION"), "add elevations from tiles")
	flagSet.BoolVar(&c.addElevation, "a", envBool("ADD_ELEVATION"), "add elevations from tiles (shorthand)")
	flagSet.BoolVar(&c.overwrite, "overwrite", envBool("OVERWRITE"), "overwrite existing GPX files and elevations")
	flagSet.BoolVar(&c.overwrite, "o", envBool("OVERWRITE"), "overwrite existing GPX files and elevations (shorthand)")
	flagSet.BoolVar(&c.strict, "strict", false, "fail files with points outside all tiles")
	flagSet.BoolVar(&c.perFileElevation, "per-file-elevation", false, "load tiles separately for each file")
	flagSet.StringVar(&c.interpolate, "interpolate", "nearest", "interpolation (nearest or bilinear)")
	flagSet.StringVar(&c.format, "format", "hgt", "tile format (hgt or geotiff)")
	flagSet.IntVar(&c.concurrency, "concurrency", runtime.GOMAXPROCS(0), "maximum number of concurrent files and tiles")
	flagSet.StringVar(&c.merge, "merge", "", "write all tracks to a single GPX file")
	flagSet.StringVar(&c.metricsTextfile, "metrics-textfile", "", "write metrics to a Prometheus textfile")
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if flagSet.NArg() == 0 {
		return nil, errors.New("syntax: fit2gpx [flags] file.fit...")
	}
	c.filenames = flagSet.Args()
	return &c, nil
}

func run() error {
	if err := loadEnv(".env"); err != nil {
		return err
	}
	log := logger.Setup()

	c, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	converterOptions := []fit2gpx.ConverterOption{
		fit2gpx.WithConverterConcurrency(c.concurrency),
		fit2gpx.WithLogger(log),
		fit2gpx.WithOverwrite(c.overwrite),
		fit2gpx.WithPerFileElevation(c.perFileElevation),
		fit2gpx.WithStrictElevation(c.strict),
	}
	if c.merge != "" {
		converterOptions = append(converterOptions, fit2gpx.WithMergedOutput(c.merge))
	}

	if c.addElevation {
		switch fileInfo, err := os.Stat(c.elevDataDir); {
		case err != nil:
			return err
		case !fileInfo.IsDir():
			return fmt.Errorf("%s: not a directory", c.elevDataDir)
		}
		interpolation, err := raster.ParseInterpolation(c.interpolate)
		if err != nil {
			return err
		}
		loaderOptions := []fit2gpx.TileLoaderOption{
			fit2gpx.WithConcurrency(c.concurrency),
			fit2gpx.WithInterpolation(interpolation),
			fit2gpx.WithLoaderLogger(log),
		}
		switch c.format {
		case "hgt":
			loaderOptions = append(loaderOptions, fit2gpx.WithHGT())
		case "geotiff":
			loaderOptions = append(loaderOptions, fit2gpx.WithGeoTIFF())
		default:
			return fmt.Errorf("%s: unknown tile format", c.format)
		}
		loader := fit2gpx.NewTileLoader(os.DirFS(c.elevDataDir), loaderOptions...)
		converterOptions = append(converterOptions, fit2gpx.WithElevation(loader))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	results, err := fit2gpx.NewConverter(converterOptions...).Convert(ctx, c.filenames)

	if c.metricsTextfile != "" {
		if err := prometheus.WriteToTextfile(c.metricsTextfile, prometheus.DefaultGatherer); err != nil {
			log.Error("write metrics failed", "err", err)
		}
	}

	if err != nil {
		return err
	}
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
