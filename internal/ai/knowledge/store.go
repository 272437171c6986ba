// Package knowledge is the incident corpus: an append-only log of observed
// incidents, a fingerprint-based similarity index, induced patterns, and
// per-action outcome statistics that the remediation engine draws
// recommendations from.
package knowledge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
)

// Config controls storage location and pattern induction thresholds.
type Config struct {
	DataDir                string
	MinOccurrencesForPattern int
	MaxSimilarResults        int
	MaxSimilarAgeDays        int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:                  "/var/lib/kratos-ai/knowledge",
		MinOccurrencesForPattern: 3,
		MaxSimilarResults:        10,
		MaxSimilarAgeDays:        90,
	}
}

type actionStat struct {
	successes int
	total     int
}

// Store is the Knowledge Base. All mutation goes through its exported
// methods, which hold mu for the duration of the in-memory update; disk
// writes happen while the lock is held to keep the log and the index from
// diverging under concurrent callers.
type Store struct {
	mu sync.RWMutex

	cfg Config

	incidents   map[string]types.Incident
	byFingerprint map[string][]string // fingerprint hash -> incident IDs, newest last
	patterns    map[string]*types.Pattern

	// outcomeStats[kind][action] tracks empirical success rate.
	outcomeStats map[types.IncidentKind]map[types.Action]*actionStat

	incidentLogPath string
	patternsPath    string
}

// New constructs a Store and loads any existing incident log / pattern file
// from cfg.DataDir.
func New(cfg Config) (*Store, error) {
	if cfg.MinOccurrencesForPattern <= 0 {
		cfg.MinOccurrencesForPattern = 3
	}
	if cfg.MaxSimilarResults <= 0 {
		cfg.MaxSimilarResults = 10
	}
	if cfg.MaxSimilarAgeDays <= 0 {
		cfg.MaxSimilarAgeDays = 90
	}

	s := &Store{
		cfg:             cfg,
		incidents:       make(map[string]types.Incident),
		byFingerprint:   make(map[string][]string),
		patterns:        make(map[string]*types.Pattern),
		outcomeStats:    make(map[types.IncidentKind]map[types.Action]*actionStat),
		incidentLogPath: filepath.Join(cfg.DataDir, "incidents.jsonl"),
		patternsPath:    filepath.Join(cfg.DataDir, "patterns.json"),
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", cfg.DataDir).Msg("knowledge base running memory-only: could not create data directory")
			return s, nil
		}
	}

	if err := s.loadIncidents(); err != nil {
		log.Warn().Err(err).Msg("knowledge base: partial load of incident log")
	}
	if err := s.loadPatterns(); err != nil {
		log.Warn().Err(err).Msg("knowledge base: could not load patterns file")
	}

	return s, nil
}

func (s *Store) loadIncidents() error {
	f, err := os.Open(s.incidentLogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var skipped int
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var inc types.Incident
		if err := json.Unmarshal(line, &inc); err != nil {
			skipped++
			continue
		}
		s.indexIncident(inc)
	}
	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Msg("knowledge base: skipped malformed incident log lines")
	}
	return scanner.Err()
}

func (s *Store) loadPatterns() error {
	data, err := os.ReadFile(s.patternsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var list []*types.Pattern
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode patterns: %w", err)
	}
	for _, p := range list {
		s.patterns[p.ID] = p
	}
	return nil
}

// indexIncident places an already-constructed incident into every index.
// Caller must hold mu for write (or be the single-threaded loader).
func (s *Store) indexIncident(inc types.Incident) {
	s.incidents[inc.ID] = inc
	fp := newFingerprint(inc).Hash()
	s.byFingerprint[fp] = append(s.byFingerprint[fp], inc.ID)
}

// RecordIncident appends inc to the durable log, updates every index, and
// triggers pattern induction for its fingerprint bucket.
func (s *Store) RecordIncident(inc types.Incident) (string, error) {
	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	if inc.DetectedAt.IsZero() {
		inc.DetectedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.indexIncident(inc)
	fp := newFingerprint(inc)
	bucket := s.byFingerprint[fp.Hash()]
	s.inducePattern(fp, bucket, inc)
	if err := s.appendIncidentLog(inc); err != nil {
		log.Error().Err(err).Str("incident_id", inc.ID).Msg("knowledge base: failed to persist incident, continuing in-memory")
	}
	s.mu.Unlock()

	log.Info().Str("incident_id", inc.ID).Str("kind", string(inc.Kind)).Str("resource", inc.Resource.Key()).Msg("recorded incident")
	return inc.ID, nil
}

func (s *Store) appendIncidentLog(inc types.Incident) error {
	if s.incidentLogPath == "" {
		return nil
	}
	data, err := json.Marshal(inc)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.incidentLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// inducePattern creates or updates the pattern for fp once its bucket
// crosses the minimum-occurrence threshold. Caller holds mu.
func (s *Store) inducePattern(fp fingerprint, bucket []string, inc types.Incident) {
	if len(bucket) < s.cfg.MinOccurrencesForPattern {
		return
	}
	id := fp.Hash()
	p, exists := s.patterns[id]
	if !exists {
		p = &types.Pattern{
			ID:                 id,
			Name:               fmt.Sprintf("%s on %s", inc.Kind, inc.Resource.Kind),
			Description:        fmt.Sprintf("Recurring %s incidents matching: %s", inc.Kind, fp.message),
			IncidentKinds:      []types.IncidentKind{inc.Kind},
			Indicators:         map[string]string{"resource_kind": inc.Resource.Kind, "namespace": inc.Resource.Namespace},
			RecommendedActions: defaultActionsForKind(inc.Kind),
			SuccessRate:        0.5,
		}
		s.patterns[id] = p
	}
	p.OccurrenceCount = len(bucket)
	p.LastSeen = inc.DetectedAt
	p.Confidence = min(1.0, float64(p.OccurrenceCount)/10.0)

	if err := s.savePatterns(); err != nil {
		log.Error().Err(err).Str("pattern_id", id).Msg("knowledge base: failed to persist patterns")
	}
}

func (s *Store) savePatterns() error {
	if s.patternsPath == "" {
		return nil
	}
	list := make([]*types.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.patternsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.patternsPath)
}

// RecordRemediation updates the empirical (kind, action) success statistics
// and the exponential moving average of any matching pattern's success rate.
func (s *Store) RecordRemediation(rem types.Remediation) {
	if rem.IncidentID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[rem.IncidentID]
	if !ok {
		return
	}

	stats, ok := s.outcomeStats[inc.Kind]
	if !ok {
		stats = make(map[types.Action]*actionStat)
		s.outcomeStats[inc.Kind] = stats
	}
	stat, ok := stats[rem.Action]
	if !ok {
		stat = &actionStat{}
		stats[rem.Action] = stat
	}
	stat.total++
	success := rem.Outcome.IsSuccessful()
	if success {
		stat.successes++
	}

	const alpha = 0.1
	fp := newFingerprint(inc).Hash()
	if p, ok := s.patterns[fp]; ok {
		observed := 0.0
		if success {
			observed = 1.0
		}
		p.SuccessRate = alpha*observed + (1-alpha)*p.SuccessRate
		if err := s.savePatterns(); err != nil {
			log.Error().Err(err).Msg("knowledge base: failed to persist pattern success rate update")
		}
	}
}

// FindSimilarIncidents returns prior incidents sharing inc's fingerprint,
// newest first, excluding inc itself and anything older than the
// configured max age.
func (s *Store) FindSimilarIncidents(inc types.Incident) []types.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fp := newFingerprint(inc).Hash()
	bucket := s.byFingerprint[fp]
	cutoff := time.Now().AddDate(0, 0, -s.cfg.MaxSimilarAgeDays)

	out := make([]types.Incident, 0, len(bucket))
	for i := len(bucket) - 1; i >= 0 && len(out) < s.cfg.MaxSimilarResults; i-- {
		id := bucket[i]
		if id == inc.ID {
			continue
		}
		other, ok := s.incidents[id]
		if !ok {
			continue
		}
		at := other.OccurredAt
		if at.IsZero() {
			at = other.DetectedAt
		}
		if at.Before(cutoff) {
			continue
		}
		out = append(out, other)
	}
	return out
}

// RecommendedAction pairs an action with its current success rate.
type RecommendedAction struct {
	Action      types.Action
	SuccessRate float64
}

// GetRecommendedActions merges empirical outcome statistics with
// pattern-declared actions, ranked by success rate descending.
func (s *Store) GetRecommendedActions(kind types.IncidentKind) []RecommendedAction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rates := make(map[types.Action]float64)

	if stats, ok := s.outcomeStats[kind]; ok {
		for action, st := range stats {
			if st.total >= 2 {
				rates[action] = float64(st.successes) / float64(st.total)
			}
		}
	}

	for _, p := range s.patterns {
		matches := false
		for _, k := range p.IncidentKinds {
			if k == kind {
				matches = true
				break
			}
		}
		if !matches {
			continue
		}
		for _, a := range p.RecommendedActions {
			if _, seen := rates[a]; !seen {
				rates[a] = p.SuccessRate
			}
		}
	}

	out := make([]RecommendedAction, 0, len(rates))
	for a, r := range rates {
		out = append(out, RecommendedAction{Action: a, SuccessRate: r})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate > out[j].SuccessRate
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// Stats summarizes the knowledge base's current size.
type Stats struct {
	IncidentCount int
	PatternCount  int
	TopPatterns   []types.Pattern
}

// GetStats returns corpus-wide counters and the patterns with the highest
// occurrence counts.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	top := make([]types.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		top = append(top, *p)
	}
	sort.Slice(top, func(i, j int) bool { return top[i].OccurrenceCount > top[j].OccurrenceCount })
	if len(top) > 5 {
		top = top[:5]
	}

	return Stats{
		IncidentCount: len(s.incidents),
		PatternCount:  len(s.patterns),
		TopPatterns:   top,
	}
}

// defaultActionsForKind seeds a freshly induced pattern's recommended
// actions from the same static table the remediation engine falls back to.
func defaultActionsForKind(kind types.IncidentKind) []types.Action {
	switch kind {
	case types.IncidentOOMKill, types.IncidentEviction:
		return []types.Action{types.ActionScaleMemoryUp}
	case types.IncidentCrashLoop, types.IncidentReadinessFail, types.IncidentLivenessFail:
		return []types.Action{types.ActionRestartPod}
	case types.IncidentNodeNotReady:
		return []types.Action{types.ActionCordonNode}
	case types.IncidentNodeMemoryPressure:
		return []types.Action{types.ActionNotifyOnly}
	case types.IncidentResourceExhaustion:
		return []types.Action{types.ActionScaleReplicasUp}
	case types.IncidentDeploymentFail:
		return []types.Action{types.ActionRollbackDeploy}
	default:
		return []types.Action{types.ActionNotifyOnly}
	}
}
