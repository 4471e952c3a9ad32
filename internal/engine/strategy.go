package engine

import "autoscope/internal/perception"

// DecisionKind separates "here is work" from "nothing to do right now" and
// "permanently finished". Overloading a single nil action for the last two is
// how sub-strategies get skipped prematurely, so the distinction is explicit.
type DecisionKind int

const (
	// DecisionAct carries the next action to execute.
	DecisionAct DecisionKind = iota

	// DecisionIdle means the strategy has nothing to contribute right now
	// but is not finished, e.g. waiting on a schedule.
	DecisionIdle

	// DecisionDone means the strategy is permanently finished.
	DecisionDone
)

// Decision is a strategy's answer to "what next".
type Decision struct {
	Kind   DecisionKind
	Action Action
}

// Act wraps an action into a decision.
func Act(a Action) Decision { return Decision{Kind: DecisionAct, Action: a} }

// Idle reports nothing to do right now.
func Idle() Decision { return Decision{Kind: DecisionIdle} }

// Done reports permanent completion.
func Done() Decision { return Decision{Kind: DecisionDone} }

// Strategy is a policy that decides the next action from current perception
// and declares when its objective is met. Strategies are stateful, owned by
// whatever composes them, and never shared between concurrent loops.
type Strategy interface {
	// Next returns the next decision given current perception. Asking
	// mutates whatever bookkeeping the strategy keeps.
	Next(p *perception.Perception) Decision

	// Complete reports whether the strategy's objective is met.
	Complete(p *perception.Perception) bool
}
