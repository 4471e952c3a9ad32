// autoscope drives an automated fluorescence microscope through
// perception-guided acquisition workflows. Without real hardware attached it
// runs against a deterministic simulated rig.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"autoscope/internal/config"
	"autoscope/internal/detect"
	"autoscope/internal/engine"
	"autoscope/internal/hardware"
	"autoscope/internal/instrument"
	"autoscope/internal/logging"
	"autoscope/internal/perception"
	"autoscope/internal/telemetry"
	"autoscope/internal/workflow"
)

var (
	configPath string
	verbose    bool

	// map command flags
	mapWidth      float64
	mapHeight     float64
	mapResolution float64
	mapChannel    string
	autoExpose    bool

	// timeseries command flags
	tsDuration time.Duration
	tsInterval time.Duration
	tsTrack    string
	tsFocus    float64
)

var rootCmd = &cobra.Command{
	Use:   "autoscope",
	Short: "Perception-guided microscope automation",
	Long: `autoscope runs closed-loop microscopy experiments: a strategy proposes
actions, the instrument executes them, and the observations feed back into
the strategy's picture of the sample.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		if err := logging.Init(level, cfg.Logging.Development); err != nil {
			return err
		}
		instrument.SetActiveLimits(cfg.Limits())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Map a sample region and acquire every field in all channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		mapping := workflow.MappingConfig{
			Center:         instrument.StagePosition{Z: cfg.Sim.FocalZ},
			Width:          mapWidth,
			Height:         mapHeight,
			Resolution:     mapResolution,
			SurveyChannel:  mapChannel,
			SurveyExposure: cfg.Channels[mapChannel],
			Channels:       cfg.Channels,
			AutoExpose:     autoExpose,
		}
		if mapping.SurveyExposure == 0 {
			return fmt.Errorf("unknown survey channel %q", mapChannel)
		}
		return runExperiment(cmd.Context(), cfg, workflow.MappingStrategy(mapping))
	},
}

var timeseriesCmd = &cobra.Command{
	Use:   "timeseries",
	Short: "Focus, acquire, and track entities over time",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ts := workflow.TimeSeriesConfig{
			Positions:  []instrument.StagePosition{{Z: cfg.Sim.FocalZ}},
			FocusRange: tsFocus,
			Channels:   cfg.Channels,
			TrackType:  tsTrack,
			Duration:   tsDuration,
			Interval:   tsInterval,
		}
		return runExperiment(cmd.Context(), cfg, workflow.TimeSeriesStrategy(ts))
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs from the telemetry store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		store, err := telemetry.Open(cfg.Telemetry.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.RecentRuns(20)
		if err != nil {
			return err
		}
		for _, r := range runs {
			status := "ok"
			if r.Error != "" {
				status = r.Error
			}
			fmt.Printf("%s  %s  iterations=%d  energy=%.1f  %s\n",
				r.ID, r.StartedAt.Format(time.RFC3339), r.Iterations, r.EnergyCost, status)
		}
		return nil
	},
}

// runExperiment wires the rig, detector, and telemetry around a strategy and
// runs it to completion, streaming progress as it goes.
func runExperiment(ctx context.Context, cfg *config.Config, s engine.Strategy) error {
	log := logging.Get("main")

	simCfg := hardware.DefaultSimConfig()
	simCfg.Width = cfg.Sim.Width
	simCfg.Height = cfg.Sim.Height
	simCfg.PixelSize = cfg.Sim.PixelSize
	simCfg.FocalZ = cfg.Sim.FocalZ
	simCfg.Limits = cfg.Limits()
	rig := hardware.NewSimRig(simCfg)

	initial, err := engine.ReadState(ctx, rig, cfg.Objective())
	if err != nil {
		return fmt.Errorf("read instrument state: %w", err)
	}

	// Limit edits to the config file take effect on the next action
	// validation without restarting the run.
	if watcher, err := config.NewWatcher(configPath, nil); err != nil {
		log.Warn("config watch unavailable", zap.Error(err))
	} else if err := watcher.Start(ctx); err != nil {
		log.Warn("config watch failed", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	opts := []engine.LoopOption{
		engine.WithDetector(detect.NewThresholdDetector("cell")),
		engine.WithParams(engine.TechnicalParameters{
			PixelSize: cfg.Sim.PixelSize,
			Channels:  cfg.Channels,
		}),
		engine.WithOptions(engine.Options{
			ActionTimeout: cfg.ActionTimeout(),
			IdlePoll:      cfg.IdlePoll(),
			MaxIdlePolls:  cfg.Loop.MaxIdlePolls,
		}),
	}

	if cfg.Telemetry.Enabled {
		store, err := telemetry.Open(cfg.Telemetry.DatabasePath)
		if err != nil {
			log.Warn("telemetry disabled", zap.Error(err))
		} else {
			defer store.Close()
			opts = append(opts, engine.WithSink(store))
		}
	}

	progress := make(chan engine.Snapshot, 16)
	opts = append(opts, engine.WithProgress(func(s engine.Snapshot) {
		select {
		case progress <- s:
		default: // never block the loop on a slow consumer
		}
	}))

	var final *perception.Perception
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(progress)
		p, err := workflow.Run(ctx, s, initial, rig, opts...)
		final = p
		return err
	})
	g.Go(func() error {
		for snap := range progress {
			log.Info("progress",
				zap.Int("iteration", snap.Iteration),
				zap.String("action", snap.LastAction),
				zap.Int("entities", snap.Entities),
				zap.Float64("energy", snap.EnergyCost))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for _, id := range final.EntityIDs() {
		pos, _ := final.Position(id)
		conf, _ := final.Confidence(id)
		fmt.Printf("%s  x=%.1f y=%.1f z=%.1f  confidence=%.2f\n", id, pos.X, pos.Y, pos.Z, conf)
	}
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "autoscope.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	mapCmd.Flags().Float64Var(&mapWidth, "width", 100, "region width in um")
	mapCmd.Flags().Float64Var(&mapHeight, "height", 100, "region height in um")
	mapCmd.Flags().Float64Var(&mapResolution, "resolution", 50, "field pitch in um")
	mapCmd.Flags().StringVar(&mapChannel, "survey-channel", "DAPI", "channel used for the survey pass")
	mapCmd.Flags().BoolVar(&autoExpose, "auto-expose", false, "run auto-exposure before each acquisition")

	timeseriesCmd.Flags().DurationVar(&tsDuration, "duration", 10*time.Minute, "tracking duration")
	timeseriesCmd.Flags().DurationVar(&tsInterval, "interval", 30*time.Second, "tracking interval")
	timeseriesCmd.Flags().StringVar(&tsTrack, "track", "cell", "entity type to track")
	timeseriesCmd.Flags().Float64Var(&tsFocus, "focus-range", 20, "autofocus sweep range in um")

	rootCmd.AddCommand(mapCmd, timeseriesCmd, runsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
