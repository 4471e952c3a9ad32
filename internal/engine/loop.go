package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autoscope/internal/detect"
	"autoscope/internal/hardware"
	"autoscope/internal/instrument"
	"autoscope/internal/logging"
	"autoscope/internal/perception"
)

// Loop failure modes. An invalid action is a policy/mechanism contract
// violation and is never retried; an action failure is fatal for the run
// because recoverable faults were already retried inside execution.
var (
	ErrInvalidAction = errors.New("invalid action for current instrument state")
	ErrActionFailed  = errors.New("action execution failed")
	ErrStalled       = errors.New("strategy idle without progress")
)

// Options tune the control loop.
type Options struct {
	// ActionTimeout bounds each action's execution, local to the action.
	ActionTimeout time.Duration

	// IdlePoll is how long the loop waits before re-asking an idle strategy.
	IdlePoll time.Duration

	// MaxIdlePolls bounds consecutive idle polls before the run aborts with
	// ErrStalled, so a strategy that idles forever cannot hang the loop.
	MaxIdlePolls int
}

// DefaultOptions returns the stock loop tuning.
func DefaultOptions() Options {
	return Options{
		ActionTimeout: 30 * time.Second,
		IdlePoll:      100 * time.Millisecond,
		MaxIdlePolls:  600,
	}
}

// Loop is the single authoritative driver of the action-perception cycle.
// InstrumentState and Perception are owned exclusively by the loop for the
// duration of one Run; no two actions from the same loop ever execute
// concurrently.
type Loop struct {
	strategy Strategy
	state    instrument.State
	percep   *perception.Perception

	rig      hardware.Rig
	detector detect.Detector
	params   TechnicalParameters

	sink     Sink
	progress func(Snapshot)
	opts     Options
	log      *zap.Logger

	runID  string
	iter   int
	energy float64
}

// LoopOption configures a Loop at construction time.
type LoopOption func(*Loop)

// WithSink attaches a telemetry sink.
func WithSink(s Sink) LoopOption { return func(l *Loop) { l.sink = s } }

// WithDetector attaches the analysis surface used by acquisitions.
func WithDetector(d detect.Detector) LoopOption { return func(l *Loop) { l.detector = d } }

// WithParams sets the technical acquisition parameters.
func WithParams(p TechnicalParameters) LoopOption { return func(l *Loop) { l.params = p } }

// WithProgress attaches a progress callback. The callback receives read-only
// snapshots and must not block for long.
func WithProgress(fn func(Snapshot)) LoopOption { return func(l *Loop) { l.progress = fn } }

// WithOptions overrides the loop tuning.
func WithOptions(o Options) LoopOption { return func(l *Loop) { l.opts = o } }

// New builds a control loop over the given strategy, initial state, and rig.
func New(strategy Strategy, initial instrument.State, rig hardware.Rig, opts ...LoopOption) *Loop {
	l := &Loop{
		strategy: strategy,
		state:    initial.Clone(),
		percep:   perception.New(),
		rig:      rig,
		sink:     NopSink{},
		opts:     DefaultOptions(),
		log:      logging.Get("loop"),
		runID:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RunID identifies this run in telemetry.
func (l *Loop) RunID() string { return l.runID }

// State returns a copy of the current instrument state.
func (l *Loop) State() instrument.State { return l.state.Clone() }

// EnergyCost returns the cumulative light energy delivered so far.
func (l *Loop) EnergyCost() float64 { return l.energy }

// Run drives the action-perception cycle until the strategy completes, the
// context is cancelled, or a fatal error occurs. The perception accumulated
// so far is returned even on failure, so partial progress is preserved.
func (l *Loop) Run(ctx context.Context) (*perception.Perception, error) {
	// Strategies see the starting stage position before any action runs, so
	// a run that begins at its target does not emit a redundant move.
	l.percep.SetCurrentPosition(l.state.Stage)
	l.sink.RunStarted(l.runID, l.state.Clone())
	l.log.Info("run started",
		zap.String("run_id", l.runID),
		zap.String("stage", l.state.Stage.Key()))

	err := l.run(ctx)

	l.sink.RunFinished(l.runID, l.iter, l.energy, err)
	if err != nil {
		l.log.Error("run aborted",
			zap.String("run_id", l.runID),
			zap.Int("iterations", l.iter),
			zap.Float64("energy_cost", l.energy),
			zap.Error(err))
	} else {
		l.log.Info("run finished",
			zap.String("run_id", l.runID),
			zap.Int("iterations", l.iter),
			zap.Float64("energy_cost", l.energy))
	}
	return l.percep, err
}

func (l *Loop) run(ctx context.Context) error {
	idlePolls := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.strategy.Complete(l.percep) {
			return nil
		}

		decision := l.strategy.Next(l.percep)
		switch decision.Kind {
		case DecisionDone:
			return nil
		case DecisionIdle:
			idlePolls++
			if idlePolls > l.opts.MaxIdlePolls {
				return fmt.Errorf("%w after %d polls", ErrStalled, idlePolls-1)
			}
			select {
			case <-time.After(l.opts.IdlePoll):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		idlePolls = 0

		action := decision.Action
		if !action.Validate(l.state) {
			return fmt.Errorf("%w: %s in state %s/%s", ErrInvalidAction,
				action.Name(), l.state.Stage.Key(), l.state.LightPath.Source)
		}

		l.iter++
		l.sink.ActionStarted(l.runID, l.iter, action.Name())
		l.log.Debug("executing action",
			zap.Int("iteration", l.iter),
			zap.String("action", action.Name()))

		actx := ActionContext{
			State:     l.state.Clone(),
			Rig:       l.rig,
			Detector:  l.detector,
			Params:    l.params,
			Timestamp: time.Now(),
		}
		cctx, cancel := context.WithTimeout(ctx, l.opts.ActionTimeout)
		result := action.Execute(cctx, actx)
		cancel()

		l.energy += result.EnergyCost
		l.sink.ActionFinished(l.runID, l.iter, action.Name(), result)

		if result.Status == StatusFailed {
			return fmt.Errorf("%w: %s at %s: %s", ErrActionFailed,
				action.Name(), l.state.Stage.Key(), result.Err)
		}

		// Advance state by prediction, then fold observations strictly after
		// the action that produced them.
		l.state = action.PredictState(l.state)
		l.percep.SetCurrentPosition(l.state.Stage)

		for _, obs := range result.Observations {
			l.percep.Update(obs)
			l.sink.ObservationRecorded(l.runID, obs)
		}
		if result.Quality != nil {
			l.percep.MergeQuality(result.Quality)
		}

		if l.progress != nil {
			l.progress(Snapshot{
				RunID:      l.runID,
				Iteration:  l.iter,
				State:      l.state.Clone(),
				EnergyCost: l.energy,
				Entities:   l.percep.EntityCount(),
				LastAction: action.Name(),
			})
		}
	}
}
