// Package workflow assembles strategies into complete experiments and runs
// them through the control loop.
package workflow

import (
	"context"
	"time"

	"autoscope/internal/engine"
	"autoscope/internal/hardware"
	"autoscope/internal/instrument"
	"autoscope/internal/logging"
	"autoscope/internal/perception"
	"autoscope/internal/strategy"

	"go.uber.org/zap"
)

// MappingConfig describes a sample-mapping experiment: survey a region in one
// channel, then acquire every mapped field in the full channel set.
type MappingConfig struct {
	Center         instrument.StagePosition
	Width          float64 // um
	Height         float64 // um
	Resolution     float64 // um between fields
	SurveyChannel  string
	SurveyExposure float64 // ms
	Channels       map[string]float64 // channel -> exposure ms
	AutoExpose     bool
}

// MappingStrategy builds the composite strategy for a sample-mapping run.
func MappingStrategy(cfg MappingConfig) engine.Strategy {
	mapper := strategy.NewMapSample(cfg.Center, cfg.Width, cfg.Height, cfg.Resolution,
		cfg.SurveyChannel, cfg.SurveyExposure)

	subs := []engine.Strategy{mapper}
	for _, pos := range mapper.Positions() {
		mc := strategy.NewMultiChannel(cfg.Channels, pos)
		if cfg.AutoExpose {
			mc.WithAutoExposure()
		}
		subs = append(subs, mc)
	}
	return strategy.NewComposite(subs...)
}

// TimeSeriesConfig describes a time-series experiment: build a focus map over
// the positions, acquire each in every channel, then track the discovered
// entities for the configured duration.
type TimeSeriesConfig struct {
	Positions  []instrument.StagePosition
	FocusRange float64 // um sweep per position
	Channels   map[string]float64
	TrackType  string // entity type to follow; empty tracks nothing
	Duration   time.Duration
	Interval   time.Duration
}

// TimeSeriesStrategy builds the composite strategy for a time-series run.
func TimeSeriesStrategy(cfg TimeSeriesConfig) engine.Strategy {
	subs := []engine.Strategy{
		strategy.NewFocusMap(cfg.Positions, cfg.FocusRange),
	}
	for _, pos := range cfg.Positions {
		subs = append(subs, strategy.NewMultiChannel(cfg.Channels, pos))
	}
	if cfg.TrackType != "" && cfg.Duration > 0 {
		subs = append(subs, &deferredTrack{
			entityType: cfg.TrackType,
			duration:   cfg.Duration,
			interval:   cfg.Interval,
		})
	}
	return strategy.NewComposite(subs...)
}

// deferredTrack constructs its tracker on first use so the tracking window
// starts after the preceding acquisition stages finish, with targets taken
// from whatever those stages observed.
type deferredTrack struct {
	entityType string
	duration   time.Duration
	interval   time.Duration
	inner      *strategy.TrackDynamics
}

func (d *deferredTrack) init(p *perception.Perception) {
	if d.inner != nil {
		return
	}
	d.inner = strategy.NewTrackDynamics(d.duration, d.interval, p.EntitiesOfType(d.entityType))
}

func (d *deferredTrack) Next(p *perception.Perception) engine.Decision {
	d.init(p)
	return d.inner.Next(p)
}

func (d *deferredTrack) Complete(p *perception.Perception) bool {
	d.init(p)
	return d.inner.Complete(p)
}

// Run executes a strategy against the rig and returns the final perception.
// Loop options (sink, detector, progress) pass through unchanged.
func Run(ctx context.Context, s engine.Strategy, initial instrument.State, rig hardware.Rig, opts ...engine.LoopOption) (*perception.Perception, error) {
	log := logging.Get("workflow")
	loop := engine.New(s, initial, rig, opts...)
	log.Info("starting run", zap.String("run_id", loop.RunID()))

	p, err := loop.Run(ctx)
	if err != nil {
		log.Error("run failed", zap.Error(err), zap.Float64("energy_cost", loop.EnergyCost()))
		return p, err
	}
	log.Info("run complete",
		zap.Int("entities", len(p.EntityIDs())),
		zap.Float64("energy_cost", loop.EnergyCost()))
	return p, nil
}
