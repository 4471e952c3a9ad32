package perception

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"autoscope/internal/instrument"
)

func obsAt(id string, x, y float64, conf float64, at time.Time) Observation {
	pos := instrument.StagePosition{X: x, Y: y}
	return Observation{
		EntityID:   id,
		EntityType: "cell",
		Timestamp:  at,
		Position:   &pos,
		QualityMetrics: map[string]float64{
			MetricDetectionConfidence: conf,
		},
	}
}

func TestUpdateMaterializesEntity(t *testing.T) {
	p := New()
	now := time.Now()
	p.Update(obsAt("cell_0_0", 1, 2, 0.9, now))

	if p.EntityCount() != 1 {
		t.Fatalf("EntityCount = %d, want 1", p.EntityCount())
	}
	rec, ok := p.Entity("cell_0_0")
	if !ok {
		t.Fatal("entity not materialized")
	}
	if rec.Type != "cell" || len(rec.Observations) != 1 {
		t.Errorf("record = %+v", rec)
	}
	if c, _ := p.Confidence("cell_0_0"); c != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", c)
	}
	if pos, _ := p.Position("cell_0_0"); pos.X != 1 || pos.Y != 2 {
		t.Errorf("Position = %v", pos)
	}
	if seen, _ := p.LastSeen("cell_0_0"); !seen.Equal(now) {
		t.Errorf("LastSeen = %v, want %v", seen, now)
	}
}

func TestUpdateAccumulatesAndOverwrites(t *testing.T) {
	p := New()
	t0 := time.Now()
	t1 := t0.Add(time.Minute)

	p.Update(obsAt("cell_0_0", 1, 2, 0.9, t0))
	p.Update(obsAt("cell_0_0", 1.5, 2.5, 0.6, t1))

	rec, _ := p.Entity("cell_0_0")
	if len(rec.Observations) != 2 {
		t.Fatalf("observations = %d, want 2", len(rec.Observations))
	}
	// Confidence, position, and recency reflect the latest observation.
	if c, _ := p.Confidence("cell_0_0"); c != 0.6 {
		t.Errorf("Confidence = %v, want 0.6", c)
	}
	if pos, _ := p.Position("cell_0_0"); pos.X != 1.5 {
		t.Errorf("Position.X = %v, want 1.5", pos.X)
	}
	if seen, _ := p.LastSeen("cell_0_0"); !seen.Equal(t1) {
		t.Errorf("LastSeen = %v, want %v", seen, t1)
	}
}

func TestUpdateDefaultConfidence(t *testing.T) {
	p := New()
	p.Update(Observation{EntityID: "blob_1", EntityType: "debris", Timestamp: time.Now()})

	if c, ok := p.Confidence("blob_1"); !ok || c != DefaultConfidence {
		t.Errorf("Confidence = %v, %v; want %v, true", c, ok, DefaultConfidence)
	}
	if _, ok := p.Position("blob_1"); ok {
		t.Error("position recorded for observation without one")
	}
}

func TestEntitiesOfType(t *testing.T) {
	p := New()
	now := time.Now()
	p.Update(obsAt("cell_b", 0, 0, 0.9, now))
	p.Update(obsAt("cell_a", 0, 0, 0.9, now))
	p.Update(Observation{EntityID: "debris_1", EntityType: "debris", Timestamp: now})

	got := p.EntitiesOfType("cell")
	want := []string{"cell_a", "cell_b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EntitiesOfType mismatch (-want +got):\n%s", diff)
	}
	if got := p.EntityIDs(); len(got) != 3 {
		t.Errorf("EntityIDs = %v", got)
	}
}

func TestMergeQuality(t *testing.T) {
	p := New()
	p.MergeQuality(map[string]float64{"quality@(0.0,0.0)": 0.4})
	p.MergeQuality(map[string]float64{
		"quality@(0.0,0.0)":  0.8,
		"focus_z@(0.0,0.0)": 51.2,
	})

	if q, _ := p.Quality("quality@(0.0,0.0)"); q != 0.8 {
		t.Errorf("quality = %v, want 0.8 (latest wins)", q)
	}
	if z, ok := p.Quality("focus_z@(0.0,0.0)"); !ok || z != 51.2 {
		t.Errorf("focus_z = %v, %v", z, ok)
	}

	// The returned metric map is a copy, never live state.
	m := p.QualityMetrics()
	m["quality@(0.0,0.0)"] = 0
	if q, _ := p.Quality("quality@(0.0,0.0)"); q != 0.8 {
		t.Error("QualityMetrics returned a live reference")
	}
}

func TestCurrentPosition(t *testing.T) {
	p := New()
	if _, ok := p.CurrentPosition(); ok {
		t.Error("empty perception should have no current position")
	}
	p.SetCurrentPosition(instrument.StagePosition{X: 10, Y: 20, Z: 30})
	pos, ok := p.CurrentPosition()
	if !ok || pos.X != 10 || pos.Z != 30 {
		t.Errorf("CurrentPosition = %v, %v", pos, ok)
	}
}

func TestEntityReturnsCopy(t *testing.T) {
	p := New()
	p.Update(obsAt("cell_0_0", 1, 2, 0.9, time.Now()))

	rec, _ := p.Entity("cell_0_0")
	rec.Observations = append(rec.Observations, Observation{EntityID: "cell_0_0"})

	again, _ := p.Entity("cell_0_0")
	if len(again.Observations) != 1 {
		t.Error("Entity returned a live observation slice")
	}
}
