package fit2gpx

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	missingTileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fit2gpx_missing_tile_cache_hits_total",
		Help: "The total number of hits on the missing tile cache",
	})
	missingTileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fit2gpx_missing_tile_cache_misses_total",
		Help: "The total number of misses on the missing tile cache",
	})
	tilesLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fit2gpx_tiles_loaded_total",
		Help: "The total number of elevation tiles loaded",
	})
	tileLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fit2gpx_tile_load_errors_total",
		Help: "The total number of elevation tiles that failed to load",
	})
	pointsElevated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fit2gpx_points_elevated_total",
		Help: "The total number of points given an elevation",
	})
	pointsWithoutTile = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fit2gpx_points_without_tile_total",
		Help: "The total number of points outside all loaded tiles",
	})
	pointsOnVoid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fit2gpx_points_on_void_total",
		Help: "The total number of points whose tile sample is void",
	})
	activitiesConverted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fit2gpx_activities_converted_total",
		Help: "The total number of activities written as GPX",
	})
	activitiesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fit2gpx_activities_skipped_total",
		Help: "The total number of input files skipped",
	})
	activityErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fit2gpx_activity_errors_total",
		Help: "The total number of input files that failed to convert",
	})
)
