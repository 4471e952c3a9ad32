package strategy

import (
	"time"

	"autoscope/internal/engine"
	"autoscope/internal/instrument"
	"autoscope/internal/perception"
)

// RevisitPolicy selects which low-confidence entity a search strategy
// returns to first.
type RevisitPolicy int

const (
	// RevisitLeastRecent returns to the entity observed longest ago.
	RevisitLeastRecent RevisitPolicy = iota
	// RevisitMostRecent returns to the entity observed most recently.
	RevisitMostRecent
)

const findConfidenceThreshold = 0.8

// FindCells searches an expanding grid around a center position until enough
// entities of the target type have been confidently identified. The grid is
// consumed first; once the candidate count reaches minCount, low-confidence
// detections are revisited before new ground is covered.
type FindCells struct {
	cellType string
	minCount int
	center   instrument.StagePosition
	spacing  float64
	gridN    int
	channel  string
	exposure float64
	policy   RevisitPolicy

	queue      []instrument.StagePosition
	visited    map[string]bool
	revisited  map[string]time.Time
	configured bool
	pendingAcq bool
	span       int
}

// NewFindCells builds a search strategy. gridN is the side length of the
// initial square grid; spacing is the field pitch in micrometers.
func NewFindCells(cellType string, minCount int, center instrument.StagePosition, spacing float64, gridN int, channel string, exposure float64, policy RevisitPolicy) *FindCells {
	f := &FindCells{
		cellType:  cellType,
		minCount:  minCount,
		center:    center,
		spacing:   spacing,
		gridN:     gridN,
		channel:   channel,
		exposure:  exposure,
		policy:    policy,
		visited:   make(map[string]bool),
		revisited: make(map[string]time.Time),
		span:      gridN,
	}
	f.queue = f.gridPositions(f.span)
	return f
}

// gridPositions lays out an n-by-n grid centered on the search origin,
// skipping fields that were already imaged.
func (f *FindCells) gridPositions(n int) []instrument.StagePosition {
	half := n / 2
	out := make([]instrument.StagePosition, 0, n*n)
	limits := instrument.ActiveLimits()
	for i := -half; i <= half; i++ {
		for j := -half; j <= half; j++ {
			pos := instrument.StagePosition{
				X: f.center.X + float64(i)*f.spacing,
				Y: f.center.Y + float64(j)*f.spacing,
				Z: f.center.Z,
			}
			if f.visited[pos.XYKey()] || !limits.AllowsStage(pos) {
				continue
			}
			out = append(out, pos)
		}
	}
	return out
}

// found returns the entity ids of the target type at or above the confidence
// threshold.
func (f *FindCells) found(p *perception.Perception) []string {
	var ids []string
	for _, id := range p.EntitiesOfType(f.cellType) {
		if c, ok := p.Confidence(id); ok && c >= findConfidenceThreshold {
			ids = append(ids, id)
		}
	}
	return ids
}

// revisitTarget picks a low-confidence detection to return to, ordered by the
// configured policy. A field is only revisited once per sighting: if the
// detection stays weak after re-imaging, the grid search moves on until a
// fresh observation of that entity arrives.
func (f *FindCells) revisitTarget(p *perception.Perception) (instrument.StagePosition, bool) {
	var (
		best    instrument.StagePosition
		bestAt  time.Time
		haveOne bool
	)
	for _, id := range p.EntitiesOfType(f.cellType) {
		c, ok := p.Confidence(id)
		if !ok || c >= findConfidenceThreshold {
			continue
		}
		pos, ok := p.Position(id)
		if !ok {
			continue
		}
		seen, ok := p.LastSeen(id)
		if !ok {
			continue
		}
		if at, done := f.revisited[pos.XYKey()]; done && !seen.After(at) {
			continue
		}
		better := !haveOne
		switch f.policy {
		case RevisitMostRecent:
			better = better || seen.After(bestAt)
		default:
			better = better || seen.Before(bestAt)
		}
		if better {
			best, bestAt, haveOne = pos, seen, true
		}
	}
	if !haveOne {
		return instrument.StagePosition{}, false
	}
	f.revisited[best.XYKey()] = bestAt
	return best, true
}

// Next surveys the search grid one field at a time. When the grid is spent
// and the count is still short, the grid doubles its span and continues
// outward.
func (f *FindCells) Next(p *perception.Perception) engine.Decision {
	if !f.configured {
		f.configured = true
		return engine.Act(&engine.ConfigureChannel{Channel: f.channel, Exposure: f.exposure})
	}
	if f.pendingAcq {
		f.pendingAcq = false
		return engine.Act(&engine.AcquireImage{Exposure: f.exposure, Channel: f.channel})
	}

	// Revisits only start once enough candidates have been sighted; until
	// then covering new ground is the faster path to minCount.
	if len(p.EntitiesOfType(f.cellType)) >= f.minCount {
		if pos, ok := f.revisitTarget(p); ok {
			f.visited[pos.XYKey()] = true
			f.pendingAcq = true
			return engine.Act(&engine.MoveStageTo{Target: pos})
		}
	}

	for len(f.queue) == 0 {
		f.span *= 2
		next := f.gridPositions(f.span)
		if len(next) == 0 {
			// The travel envelope is exhausted; nothing left to search.
			return engine.Done()
		}
		f.queue = next
	}

	pos := f.queue[0]
	f.queue = f.queue[1:]
	f.visited[pos.XYKey()] = true
	f.pendingAcq = true
	return engine.Act(&engine.MoveStageTo{Target: pos})
}

// Complete reports whether enough target entities have been confidently found.
func (f *FindCells) Complete(p *perception.Perception) bool {
	return len(f.found(p)) >= f.minCount
}
