package knowledge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
)

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func sampleIncident(msg string) types.Incident {
	return types.Incident{
		Kind:     types.IncidentCrashLoop,
		Severity: types.SeverityHigh,
		Resource: types.Resource{Kind: "Pod", Name: "api-server-7d9f8c6b5-x2k9p", Namespace: "production", Labels: map[string]string{"app": "api-server"}},
		Message:  msg,
	}
}

func TestRecordIncidentAndFindSimilar(t *testing.T) {
	s := newMemoryStore(t)

	first, err := s.RecordIncident(sampleIncident("CrashLoopBackOff"))
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := s.RecordIncident(sampleIncident("CrashLoopBackOff"))
	require.NoError(t, err)

	inc2, ok := s.incidents[second]
	require.True(t, ok)

	similar := s.FindSimilarIncidents(inc2)
	require.Len(t, similar, 1)
	assert.Equal(t, first, similar[0].ID)
}

func TestFindSimilarExcludesOldIncidents(t *testing.T) {
	s := newMemoryStore(t)
	cfg := s.cfg
	cfg.MaxSimilarAgeDays = 1
	s.cfg = cfg

	old := sampleIncident("CrashLoopBackOff")
	old.ID = "old-incident"
	old.DetectedAt = time.Now().AddDate(0, 0, -5)
	s.indexIncident(old)

	current := sampleIncident("CrashLoopBackOff")
	current.ID = "current-incident"
	current.DetectedAt = time.Now()

	similar := s.FindSimilarIncidents(current)
	assert.Empty(t, similar)
}

func TestPatternInductionAfterMinOccurrences(t *testing.T) {
	s := newMemoryStore(t)

	for i := 0; i < 5; i++ {
		_, err := s.RecordIncident(sampleIncident("CrashLoopBackOff"))
		require.NoError(t, err)
	}

	stats := s.GetStats()
	require.GreaterOrEqual(t, stats.PatternCount, 1)

	var found *types.Pattern
	for _, p := range s.patterns {
		found = p
	}
	require.NotNil(t, found)
	assert.Equal(t, 5, found.OccurrenceCount)
	assert.Equal(t, 0.5, found.Confidence)
	assert.Contains(t, found.RecommendedActions, types.ActionRestartPod)
}

func TestGetRecommendedActionsRanksBySuccessRate(t *testing.T) {
	s := newMemoryStore(t)

	incID, err := s.RecordIncident(sampleIncident("CrashLoopBackOff"))
	require.NoError(t, err)

	s.RecordRemediation(types.Remediation{IncidentID: incID, Action: types.ActionRestartPod, Outcome: types.OutcomeSuccess})
	s.RecordRemediation(types.Remediation{IncidentID: incID, Action: types.ActionRestartPod, Outcome: types.OutcomeFailed})
	s.RecordRemediation(types.Remediation{IncidentID: incID, Action: types.ActionNotifyOnly, Outcome: types.OutcomeSuccess})
	s.RecordRemediation(types.Remediation{IncidentID: incID, Action: types.ActionNotifyOnly, Outcome: types.OutcomeSuccess})

	recs := s.GetRecommendedActions(types.IncidentCrashLoop)
	require.NotEmpty(t, recs)
	assert.Equal(t, types.ActionNotifyOnly, recs[0].Action)
	assert.InDelta(t, 1.0, recs[0].SuccessRate, 1e-9)
}

func TestRecordRemediationUpdatesPatternSuccessRateByEMA(t *testing.T) {
	s := newMemoryStore(t)

	var incID string
	for i := 0; i < 3; i++ {
		incID, _ = s.RecordIncident(sampleIncident("CrashLoopBackOff"))
	}

	var patternID string
	for id := range s.patterns {
		patternID = id
	}
	require.NotEmpty(t, patternID)

	s.RecordRemediation(types.Remediation{IncidentID: incID, Action: types.ActionRestartPod, Outcome: types.OutcomeSuccess})

	want := 0.1*1.0 + 0.9*0.5
	assert.InDelta(t, want, s.patterns[patternID].SuccessRate, 1e-9)
}

func TestReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = dir

	s1, err := New(cfg)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s1.RecordIncident(sampleIncident("CrashLoopBackOff"))
		require.NoError(t, err)
	}

	s2, err := New(cfg)
	require.NoError(t, err)
	stats := s2.GetStats()
	assert.Equal(t, 3, stats.IncidentCount)
	assert.Equal(t, 1, stats.PatternCount)
}
