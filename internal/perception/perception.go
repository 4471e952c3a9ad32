// Package perception holds the control loop's running model of the sample:
// observed entities, their confidence, position, and recency. Perception only
// grows or updates in place; it is never reset mid-experiment.
package perception

import (
	"sort"
	"time"

	"autoscope/internal/instrument"
)

// DefaultConfidence is recorded for observations that carry no
// detection_confidence quality metric.
const DefaultConfidence = 0.5

// MetricDetectionConfidence is the quality metric key the detector uses to
// report per-entity confidence.
const MetricDetectionConfidence = "detection_confidence"

// Observation is a single sighting of an entity, produced by the detection
// surface from an acquired frame.
type Observation struct {
	EntityID       string
	EntityType     string
	Timestamp      time.Time
	Position       *instrument.StagePosition
	Intensities    map[string]float64 // channel -> mean intensity
	Exposures      map[string]float64 // channel -> exposure ms
	QualityMetrics map[string]float64
	Metadata       map[string]string
}

// EntityRecord is the accumulated history for one observed entity.
type EntityRecord struct {
	ID           string
	Type         string
	Observations []Observation
}

// Perception accumulates understanding from observations. It is owned
// exclusively by one control loop; accessors hand out copies so external
// readers never hold live references.
type Perception struct {
	entities map[string]*EntityRecord
	conf     map[string]float64
	spatial  map[string]instrument.StagePosition
	temporal map[string]time.Time
	quality  map[string]float64

	// current tracks the stage position after the most recent action, kept
	// separate from entity spatial context so the entity-reference invariant
	// over spatial keys holds.
	current *instrument.StagePosition
}

// New returns an empty perception.
func New() *Perception {
	return &Perception{
		entities: make(map[string]*EntityRecord),
		conf:     make(map[string]float64),
		spatial:  make(map[string]instrument.StagePosition),
		temporal: make(map[string]time.Time),
		quality:  make(map[string]float64),
	}
}

// Update folds one observation in. A new entity id materializes a record;
// an existing one accumulates. Confidence, spatial and temporal context are
// overwritten, quality metrics are merged.
func (p *Perception) Update(obs Observation) {
	rec, ok := p.entities[obs.EntityID]
	if !ok {
		rec = &EntityRecord{ID: obs.EntityID, Type: obs.EntityType}
		p.entities[obs.EntityID] = rec
	}
	rec.Observations = append(rec.Observations, obs)

	conf := DefaultConfidence
	if c, ok := obs.QualityMetrics[MetricDetectionConfidence]; ok {
		conf = c
	}
	p.conf[obs.EntityID] = conf

	if obs.Position != nil {
		p.spatial[obs.EntityID] = *obs.Position
	}
	p.temporal[obs.EntityID] = obs.Timestamp

	for k, v := range obs.QualityMetrics {
		p.quality[k] = v
	}
}

// MergeQuality folds standalone quality metrics in, independent of any
// entity. Used for per-field scores such as focus and frame quality.
func (p *Perception) MergeQuality(m map[string]float64) {
	for k, v := range m {
		p.quality[k] = v
	}
}

// SetCurrentPosition records the stage position after an action.
func (p *Perception) SetCurrentPosition(pos instrument.StagePosition) {
	cp := pos
	p.current = &cp
}

// CurrentPosition returns the stage position after the most recent action.
func (p *Perception) CurrentPosition() (instrument.StagePosition, bool) {
	if p.current == nil {
		return instrument.StagePosition{}, false
	}
	return *p.current, true
}

// EntityCount returns the number of materialized entities.
func (p *Perception) EntityCount() int { return len(p.entities) }

// EntityIDs returns all known entity ids in sorted order.
func (p *Perception) EntityIDs() []string {
	ids := make([]string, 0, len(p.entities))
	for id := range p.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EntitiesOfType returns sorted ids of entities with the given type.
func (p *Perception) EntitiesOfType(t string) []string {
	var ids []string
	for id, rec := range p.entities {
		if rec.Type == t {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Entity returns a copy of the record for id.
func (p *Perception) Entity(id string) (EntityRecord, bool) {
	rec, ok := p.entities[id]
	if !ok {
		return EntityRecord{}, false
	}
	out := EntityRecord{ID: rec.ID, Type: rec.Type}
	out.Observations = append(out.Observations, rec.Observations...)
	return out, true
}

// Confidence returns the latest detection confidence for id.
func (p *Perception) Confidence(id string) (float64, bool) {
	c, ok := p.conf[id]
	return c, ok
}

// Position returns the last known stage position for id.
func (p *Perception) Position(id string) (instrument.StagePosition, bool) {
	pos, ok := p.spatial[id]
	return pos, ok
}

// LastSeen returns the timestamp of the most recent observation of id.
func (p *Perception) LastSeen(id string) (time.Time, bool) {
	t, ok := p.temporal[id]
	return t, ok
}

// Quality returns a recorded quality metric by key.
func (p *Perception) Quality(key string) (float64, bool) {
	q, ok := p.quality[key]
	return q, ok
}

// QualityMetrics returns a copy of all recorded quality metrics.
func (p *Perception) QualityMetrics() map[string]float64 {
	out := make(map[string]float64, len(p.quality))
	for k, v := range p.quality {
		out[k] = v
	}
	return out
}
