// Package patterns is the ensemble's pattern-based predictor: it tracks how
// often each incident kind recurs on each resource and, from the interval
// between occurrences, estimates how soon the next one is due.
package patterns

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
)

// Occurrence is one recorded instance of an incident kind on a resource.
type Occurrence struct {
	ResourceKey string             `json:"resource_key"`
	Kind        types.IncidentKind `json:"kind"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Recurrence is the detected periodic behavior of one (resource, kind) pair.
type Recurrence struct {
	ResourceKey     string             `json:"resource_key"`
	Kind            types.IncidentKind `json:"kind"`
	Occurrences     int                `json:"occurrences"`
	AverageInterval time.Duration      `json:"average_interval"`
	StdDevInterval  time.Duration      `json:"stddev_interval"`
	LastOccurrence  time.Time          `json:"last_occurrence"`
	NextPredicted   time.Time          `json:"next_predicted"`
	Confidence      float64            `json:"confidence"`
}

// Config controls the detector's memory window and persistence.
type Config struct {
	MaxEvents      int
	MinOccurrences int
	Window         time.Duration
	DataDir        string
}

// DefaultConfig matches the reference model's defaults.
func DefaultConfig() Config {
	return Config{
		MaxEvents:      5000,
		MinOccurrences: 3,
		Window:         90 * 24 * time.Hour,
	}
}

// Detector tracks historical occurrences and computes recurrence patterns.
type Detector struct {
	mu sync.RWMutex

	cfg      Config
	events   []Occurrence
	patterns map[string]*Recurrence // resourceKey:kind -> pattern

	path string
}

// New constructs a Detector, loading any persisted history.
func New(cfg Config) *Detector {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 5000
	}
	if cfg.MinOccurrences <= 0 {
		cfg.MinOccurrences = 3
	}
	if cfg.Window <= 0 {
		cfg.Window = 90 * 24 * time.Hour
	}
	d := &Detector{
		cfg:      cfg,
		events:   make([]Occurrence, 0),
		patterns: make(map[string]*Recurrence),
	}
	if cfg.DataDir != "" {
		d.path = filepath.Join(cfg.DataDir, "recurrence_patterns.json")
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			log.Warn().Err(err).Msg("pattern detector running memory-only: could not create data directory")
			d.path = ""
		} else if err := d.load(); err != nil {
			log.Warn().Err(err).Msg("pattern detector: could not load persisted recurrence patterns")
		}
	}
	return d
}

// RecordIncident folds an observed incident into the recurrence history for
// its (resource, kind) pair and recomputes that pair's pattern.
func (d *Detector) RecordIncident(inc types.Incident) {
	d.mu.Lock()
	defer d.mu.Unlock()

	at := inc.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	d.events = append(d.events, Occurrence{
		ResourceKey: inc.Resource.Key(),
		Kind:        inc.Kind,
		Timestamp:   at,
	})
	d.trim()

	key := patternKey(inc.Resource.Key(), inc.Kind)
	pattern := d.computePattern(inc.Resource.Key(), inc.Kind)
	if pattern == nil {
		delete(d.patterns, key)
	} else {
		d.patterns[key] = pattern
	}

	go func() {
		if err := d.save(); err != nil {
			log.Warn().Err(err).Msg("pattern detector: failed to persist recurrence history")
		}
	}()
}

// Probability implements ensemble.PatternSignal: the highest-confidence
// recurrence pattern across all resources for this incident kind is chosen,
// and its confidence is scaled by how close its next predicted occurrence is
// (full when due or overdue, zero when an average interval or more away).
// Returns (0, explanatory evidence) when no pattern applies.
func (d *Detector) Probability(kind types.IncidentKind) (float64, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var best *Recurrence
	for _, p := range d.patterns {
		if p.Kind != kind {
			continue
		}
		if p.Occurrences < d.cfg.MinOccurrences {
			continue
		}
		if best == nil || p.Confidence > best.Confidence {
			best = p
		}
	}
	if best == nil {
		return 0.0, "no recurring pattern observed for this incident kind"
	}

	now := time.Now()
	until := best.NextPredicted.Sub(now)
	var proximity float64
	switch {
	case until <= 0:
		proximity = 1.0
	case until >= best.AverageInterval:
		proximity = 0.0
	default:
		proximity = 1.0 - until.Hours()/best.AverageInterval.Hours()
	}

	probability := proximity * best.Confidence
	evidence := fmt.Sprintf(
		"resource %s recurs every ~%s (%d occurrences, next expected %s)",
		best.ResourceKey, formatDuration(best.AverageInterval), best.Occurrences, formatRelative(best.NextPredicted, now),
	)
	return probability, evidence
}

// Recurrences returns a copy of every currently tracked pattern.
func (d *Detector) Recurrences() []Recurrence {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Recurrence, 0, len(d.patterns))
	for _, p := range d.patterns {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextPredicted.Before(out[j].NextPredicted) })
	return out
}

func (d *Detector) computePattern(resourceKey string, kind types.IncidentKind) *Recurrence {
	cutoff := time.Now().Add(-d.cfg.Window)

	var events []Occurrence
	for _, e := range d.events {
		if e.ResourceKey == resourceKey && e.Kind == kind && e.Timestamp.After(cutoff) {
			events = append(events, e)
		}
	}
	if len(events) < d.cfg.MinOccurrences {
		return nil
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	var intervals []time.Duration
	for i := 1; i < len(events); i++ {
		intervals = append(intervals, events[i].Timestamp.Sub(events[i-1].Timestamp))
	}
	if len(intervals) == 0 {
		return nil
	}

	avg := averageDuration(intervals)
	stddev := stddevDuration(intervals, avg)

	consistency := 1.0
	if avg > 0 {
		cv := float64(stddev) / float64(avg)
		consistency = 1.0 - math.Min(cv, 1.0)
	}
	occurrenceBonus := math.Min(float64(len(events))/10.0, 0.3)
	confidence := consistency*0.7 + occurrenceBonus
	if confidence > 1.0 {
		confidence = 1.0
	}

	last := events[len(events)-1]
	return &Recurrence{
		ResourceKey:     resourceKey,
		Kind:            kind,
		Occurrences:     len(events),
		AverageInterval: avg,
		StdDevInterval:  stddev,
		LastOccurrence:  last.Timestamp,
		NextPredicted:   last.Timestamp.Add(avg),
		Confidence:      confidence,
	}
}

func (d *Detector) trim() {
	cutoff := time.Now().Add(-d.cfg.Window)
	kept := d.events[:0]
	for _, e := range d.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	d.events = kept
	if len(d.events) > d.cfg.MaxEvents {
		d.events = d.events[len(d.events)-d.cfg.MaxEvents:]
	}
}

func (d *Detector) save() error {
	if d.path == "" {
		return nil
	}
	d.mu.RLock()
	data := struct {
		Events   []Occurrence           `json:"events"`
		Patterns map[string]*Recurrence `json:"patterns"`
	}{
		Events:   d.events,
		Patterns: d.patterns,
	}
	d.mu.RUnlock()

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, d.path)
}

func (d *Detector) load() error {
	if st, err := os.Stat(d.path); err == nil {
		const maxOnDiskBytes = 10 << 20
		if st.Size() > maxOnDiskBytes {
			return fmt.Errorf("recurrence history file too large (%d bytes)", st.Size())
		}
	}
	raw, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var data struct {
		Events   []Occurrence           `json:"events"`
		Patterns map[string]*Recurrence `json:"patterns"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	d.events = data.Events
	d.patterns = make(map[string]*Recurrence, len(data.Patterns))
	for k, v := range data.Patterns {
		d.patterns[k] = v
	}
	d.trim()
	cutoff := time.Now().Add(-d.cfg.Window)
	for k, v := range d.patterns {
		if v == nil || v.Occurrences < d.cfg.MinOccurrences || v.LastOccurrence.Before(cutoff) {
			delete(d.patterns, k)
		}
	}
	return nil
}

func patternKey(resourceKey string, kind types.IncidentKind) string {
	return resourceKey + ":" + string(kind)
}

func averageDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var sum int64
	for _, d := range durations {
		sum += int64(d)
	}
	return time.Duration(sum / int64(len(durations)))
}

func stddevDuration(durations []time.Duration, mean time.Duration) time.Duration {
	if len(durations) < 2 {
		return 0
	}
	var sumSquares float64
	for _, d := range durations {
		diff := float64(d - mean)
		sumSquares += diff * diff
	}
	variance := sumSquares / float64(len(durations)-1)
	return time.Duration(math.Sqrt(variance))
}

func formatDuration(d time.Duration) string {
	if d < time.Hour {
		return d.Round(time.Minute).String()
	}
	if d < 48*time.Hour {
		return d.Round(time.Hour).String()
	}
	return fmt.Sprintf("%.1f days", d.Hours()/24)
}

func formatRelative(t, now time.Time) string {
	if t.Before(now) {
		return "now (overdue)"
	}
	return "in " + formatDuration(t.Sub(now))
}
