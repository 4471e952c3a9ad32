package strategy

import (
	"sort"
	"time"

	"autoscope/internal/engine"
	"autoscope/internal/perception"
)

// TrackDynamics revisits target entities on a fixed interval for a fixed
// duration. Entities whose position is unknown (lost) are skipped until a
// search strategy reacquires them. The clock is injectable for tests.
type TrackDynamics struct {
	start    time.Time
	end      time.Time
	interval time.Duration
	next     map[string]time.Time
	now      func() time.Time
}

// NewTrackDynamics builds a tracking strategy over the given entity ids.
// Every target is due immediately.
func NewTrackDynamics(duration, interval time.Duration, targets []string) *TrackDynamics {
	return newTrackDynamics(duration, interval, targets, time.Now)
}

func newTrackDynamics(duration, interval time.Duration, targets []string, now func() time.Time) *TrackDynamics {
	start := now()
	t := &TrackDynamics{
		start:    start,
		end:      start.Add(duration),
		interval: interval,
		next:     make(map[string]time.Time, len(targets)),
		now:      now,
	}
	for _, id := range targets {
		t.next[id] = start
	}
	return t
}

// AddTarget schedules another entity for tracking, due immediately.
func (t *TrackDynamics) AddTarget(id string) {
	if _, ok := t.next[id]; !ok {
		t.next[id] = t.now()
	}
}

// Next moves to the first due entity's last known position and reschedules
// it one interval out. With nothing due the strategy is idle.
func (t *TrackDynamics) Next(p *perception.Perception) engine.Decision {
	now := t.now()
	if !now.Before(t.end) {
		return engine.Done()
	}

	due := make([]string, 0, len(t.next))
	for id, at := range t.next {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Strings(due)

	for _, id := range due {
		pos, ok := p.Position(id)
		if !ok {
			// Lost entity: its position is unknown until a search strategy
			// reacquires it. Push the schedule so it does not starve others.
			t.next[id] = now.Add(t.interval)
			continue
		}
		t.next[id] = now.Add(t.interval)
		return engine.Act(&engine.MoveStageTo{Target: pos})
	}
	return engine.Idle()
}

// Complete reports whether the tracking window has elapsed.
func (t *TrackDynamics) Complete(p *perception.Perception) bool {
	return !t.now().Before(t.end)
}
