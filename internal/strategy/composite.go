// Package strategy implements the observation policies that drive the
// control loop: sequencing, spatial mapping, focus mapping, multi-channel
// acquisition, temporal tracking, and target search. Each strategy owns its
// bookkeeping per instance; mutable state is never shared across instances.
package strategy

import (
	"autoscope/internal/engine"
	"autoscope/internal/perception"
)

// Composite runs sub-strategies strictly in order. A sub-strategy that is
// idle but not complete blocks the sequence instead of being skipped, so
// "nothing right now" and "finished" cannot be conflated.
type Composite struct {
	subs []engine.Strategy
	idx  int
}

// NewComposite builds a sequential composite over the given sub-strategies.
func NewComposite(subs ...engine.Strategy) *Composite {
	return &Composite{subs: subs}
}

// Next asks the current sub-strategy and advances past finished ones.
func (c *Composite) Next(p *perception.Perception) engine.Decision {
	for c.idx < len(c.subs) {
		sub := c.subs[c.idx]
		d := sub.Next(p)
		switch d.Kind {
		case engine.DecisionAct:
			return d
		case engine.DecisionDone:
			c.idx++
		case engine.DecisionIdle:
			if sub.Complete(p) {
				c.idx++
				continue
			}
			return engine.Idle()
		}
	}
	return engine.Done()
}

// Complete reports whether every sub-strategy has finished.
func (c *Composite) Complete(p *perception.Perception) bool {
	return c.idx >= len(c.subs)
}
