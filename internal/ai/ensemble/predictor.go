// Package ensemble combines the anomaly detector, the time-series
// forecaster, and the knowledge base's pattern signal into a single
// calibrated failure prediction.
package ensemble

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/anomaly"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/forecast"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
)

const modelName = "kratos-ensemble"
const modelVersion = "1.0"

// Weights are the per-signal contributions to the combined probability.
// They must sum to 1.0.
type Weights struct {
	Anomaly    float64
	TimeSeries float64
	Pattern    float64
}

// DefaultWeights matches the reference model's static calibration.
func DefaultWeights() Weights {
	return Weights{Anomaly: 0.3, TimeSeries: 0.4, Pattern: 0.3}
}

// PatternSignal is the ensemble's third signal: a probability that an
// incident kind is about to recur, plus the evidence behind it. Optional;
// a nil PatternSignal degrades gracefully to a zero contribution.
type PatternSignal interface {
	Probability(kind types.IncidentKind) (probability float64, evidence string)
}

// Predictor is the Failure Predictor: the weighted combination of the
// anomaly detector and time-series forecaster, with a reserved slot for a
// knowledge-base pattern signal.
type Predictor struct {
	mu      sync.RWMutex
	weights Weights

	anomalyDetector *anomaly.Detector
	forecaster      *forecast.Service
	patterns        PatternSignal

	predictionValiditySecs float64
}

// New constructs a Predictor over the given sub-models. patterns may be nil,
// in which case the pattern signal contributes zero.
func New(anomalyDetector *anomaly.Detector, forecaster *forecast.Service, patterns PatternSignal) *Predictor {
	return &Predictor{
		weights:                DefaultWeights(),
		anomalyDetector:        anomalyDetector,
		forecaster:             forecaster,
		patterns:               patterns,
		predictionValiditySecs: 600,
	}
}

// Weights returns the predictor's current calibration.
func (p *Predictor) Weights() Weights {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.weights
}

// Predict produces a Prediction for a target resource given its current
// feature snapshot. The target's identity is only used to key the
// forecaster's history; the detector is evaluated against the supplied
// feature map directly.
func (p *Predictor) Predict(target types.Resource, kind types.IncidentKind, features map[string]float64) types.Prediction {
	p.mu.RLock()
	w := p.weights
	p.mu.RUnlock()

	anomalyResult := p.anomalyDetector.Evaluate(features)
	forecastResult := p.forecaster.Predict(target.Key())

	patternProb, patternEvidence := 0.0, "no pattern-based signal implemented"
	if p.patterns != nil {
		patternProb, patternEvidence = p.patterns.Probability(kind)
	}
	patternEvidence = "[Pattern] " + patternEvidence

	combined := w.Anomaly*anomalyResult.Probability + w.TimeSeries*forecastResult.Probability + w.Pattern*patternProb

	signalsTriggered := 0
	if anomalyResult.Probability > 0.5 {
		signalsTriggered++
	}
	if forecastResult.Probability > 0.5 {
		signalsTriggered++
	}
	if patternProb > 0.5 {
		signalsTriggered++
	}
	if signalsTriggered >= 2 {
		combined = math.Min(0.98, combined*1.3)
	}

	confidence := math.Min(anomalyResult.Confidence, forecastConfidence(forecastResult))

	var eta *float64
	for _, candidate := range []*float64{anomalyResult.ETASeconds, forecastResult.ETASeconds} {
		if candidate == nil {
			continue
		}
		if eta == nil || *candidate < *eta {
			eta = candidate
		}
	}

	evidence := []string{}
	for _, fs := range anomalyResult.Scores {
		if fs.Anomalous {
			evidence = append(evidence, "[Anomaly] "+fs.Feature+" is anomalous")
		} else if fs.Elevated {
			evidence = append(evidence, "[Anomaly] "+fs.Feature+" is elevated")
		}
	}
	evidence = append(evidence, forecastEvidence(forecastResult)...)
	evidence = append(evidence, patternEvidence)

	now := time.Now().UTC()
	expires := now.Add(time.Duration(p.predictionValiditySecs) * time.Second)

	pred := types.Prediction{
		ID:           uuid.New().String(),
		IncidentKind: kind,
		Target:       target,
		Probability:  combined,
		Confidence:   types.BucketForProbability(combined),
		ETASeconds:   eta,
		Evidence:     evidence,
		ModelName:    modelName,
		ModelVersion: modelVersion,
		CreatedAt:    now,
		ExpiresAt:    &expires,
	}

	log.Debug().
		Str("resource", target.Key()).
		Str("kind", string(kind)).
		Float64("probability", combined).
		Str("confidence", string(pred.Confidence)).
		Float64("model_confidence", confidence).
		Msg("ensemble prediction computed")

	return pred
}

func forecastConfidence(f forecast.BreachPrediction) float64 {
	if f.Triggered {
		return 0.8
	}
	return 0.5
}

func forecastEvidence(f forecast.BreachPrediction) []string {
	out := make([]string, 0, len(f.Evidence))
	for _, e := range f.Evidence {
		out = append(out, "[Forecast] "+e)
	}
	return out
}

// UpdateWeights exists to preserve the reference model's calibration seam:
// the original implementation never adjusted weights from observed
// outcomes, and no replacement calibration contract is defined by the
// specification, so this remains a logged no-op. Nothing in Brain's loops
// calls it.
func (p *Predictor) UpdateWeights(actual bool, predicted types.Prediction) {
	log.Debug().
		Bool("actual", actual).
		Str("prediction_id", predicted.ID).
		Msg("ensemble weight calibration not implemented; weights remain static")
}
