package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/canopywatch/alert-engine/internal/adapter/gfw"
	kafkaadapter "github.com/canopywatch/alert-engine/internal/adapter/kafka"
	"github.com/canopywatch/alert-engine/internal/artifact"
	"github.com/canopywatch/alert-engine/internal/config"
	"github.com/canopywatch/alert-engine/internal/observability"
	"github.com/canopywatch/alert-engine/internal/pipeline"
	"github.com/canopywatch/alert-engine/internal/probe"
	"github.com/canopywatch/alert-engine/internal/render"
	"github.com/canopywatch/alert-engine/internal/store"
	"github.com/canopywatch/alert-engine/internal/upstream"
)

// engine holds the wired components shared by the subcommands.
type engine struct {
	cfg          *config.Config
	logger       *slog.Logger
	metrics      *observability.Metrics
	store        *store.Store
	tracker      *artifact.Tracker
	orchestrator *artifact.Orchestrator
	runner       *pipeline.Runner
	publisher    *kafkaadapter.Publisher // nil unless enabled
}

// newEngine loads config and wires every component. Callers must Close.
func newEngine() (*engine, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	metrics := observability.NewMetrics()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	renderer, err := render.NewLeafletRenderer()
	if err != nil {
		st.Close()
		return nil, err
	}

	var provider upstream.Provider = upstream.NewClient(
		cfg.Tiles.BaseURL, cfg.Tiles.Token, cfg.Tiles.Timeout, logger)
	if cfg.Tiles.CacheSize > 0 {
		provider = upstream.NewCachedProvider(provider, cfg.Tiles.CacheSize)
	}

	prober := probe.New(cfg.ProbeSettings(), logger, metrics)
	tracker := artifact.NewTracker(st)
	orchestrator := artifact.NewOrchestrator(
		st, provider, prober, renderer, cfg.Probe.UnknownBudget, logger, metrics)

	source := gfw.NewClient(
		cfg.Alerts.BaseURL, cfg.Alerts.APIKey, cfg.Alerts.Dataset, cfg.Alerts.Timeout, logger)

	var publisher *kafkaadapter.Publisher
	var summaryPublisher pipeline.SummaryPublisher
	if cfg.Kafka.Enabled {
		publisher = kafkaadapter.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		summaryPublisher = publisher
		logger.Info("kafka publishing enabled", "topic", cfg.Kafka.Topic)
	}

	runner := pipeline.NewRunner(
		source, st, tracker, provider, renderer, summaryPublisher, logger, metrics)

	return &engine{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		store:        st,
		tracker:      tracker,
		orchestrator: orchestrator,
		runner:       runner,
		publisher:    publisher,
	}, nil
}

func (e *engine) Close() {
	if e.publisher != nil {
		if err := e.publisher.Close(); err != nil {
			e.logger.Error("kafka publisher close error", "error", err)
		}
	}
	if err := e.store.Close(); err != nil {
		e.logger.Error("store close error", "error", err)
	}
}

// loadAOI reads the study-area polygon from a GeoJSON file holding either a
// bare geometry or a single feature.
func loadAOI(path string) (orb.Polygon, error) {
	if path == "" {
		return nil, fmt.Errorf("aoi path is required (run.aoiPath or ALERTENGINE_AOI_PATH)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aoi: %w", err)
	}

	var geom orb.Geometry
	if f, err := geojson.UnmarshalFeature(data); err == nil {
		geom = f.Geometry
	} else if g, err := geojson.UnmarshalGeometry(data); err == nil {
		geom = g.Geometry()
	} else {
		return nil, fmt.Errorf("aoi %s: not a GeoJSON feature or geometry", path)
	}

	switch g := geom.(type) {
	case orb.Polygon:
		return g, nil
	case orb.MultiPolygon:
		if len(g) == 1 {
			return g[0], nil
		}
		return nil, fmt.Errorf("aoi %s: multipolygon with %d parts, expected one study area", path, len(g))
	default:
		return nil, fmt.Errorf("aoi %s: unsupported geometry %s", path, geom.GeoJSONType())
	}
}
