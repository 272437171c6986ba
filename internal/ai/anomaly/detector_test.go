package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainStable(d *Detector, feature string, value float64, n int) {
	for i := 0; i < n; i++ {
		d.Observe(feature, value)
	}
}

func TestEvaluateLowVarianceFeatureIsNotAnomalous(t *testing.T) {
	d := New(DefaultConfig())
	trainStable(d, "cpu", 0.5, 50)

	res := d.Evaluate(map[string]float64{"cpu": 0.5})
	assert.False(t, res.Anomalous)
	require.Len(t, res.Scores, 1)
	assert.Less(t, res.Scores[0].ZScore, 2.0)
}

func TestEvaluateDetectsAnomalousSpike(t *testing.T) {
	d := New(DefaultConfig())
	for i := 0; i < 50; i++ {
		d.Observe("memory", 0.4+float64(i%3)*0.01)
	}

	res := d.Evaluate(map[string]float64{"memory": 0.95})
	assert.True(t, res.Anomalous)
	assert.NotNil(t, res.ETASeconds)
	assert.Equal(t, 300.0, *res.ETASeconds)
	assert.GreaterOrEqual(t, res.Probability, 0.5)
	assert.LessOrEqual(t, res.Probability, 0.95)
}

func TestEvaluateIgnoresFeatureWithTooFewSamples(t *testing.T) {
	d := New(DefaultConfig())
	trainStable(d, "cpu", 0.5, 3)

	res := d.Evaluate(map[string]float64{"cpu": 5.0})
	assert.Empty(t, res.Scores)
	assert.False(t, res.Anomalous)
}

func TestConfidenceScalesWithTrainingSamples(t *testing.T) {
	d := New(DefaultConfig())
	trainStable(d, "cpu", 0.5, 40)

	res := d.Evaluate(map[string]float64{"cpu": 0.5})
	assert.InDelta(t, 0.4, res.Confidence, 1e-9)
}

func TestWindowIsBounded(t *testing.T) {
	d := New(DefaultConfig())
	trainStable(d, "cpu", 1.0, 250)
	w := d.features["cpu"]
	assert.True(t, w.filled)
	assert.Len(t, w.samples(), DefaultConfig().WindowSize)
}
