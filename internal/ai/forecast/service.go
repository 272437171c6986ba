// Package forecast is the time-series half of the prediction ensemble. It
// keeps a bounded per-metric history and fits a Holt linear (double
// exponential smoothing) model to estimate trend and breach time.
package forecast

import (
	"math"
	"sync"
	"time"
)

const maxHistory = 500

// Config controls smoothing constants and breach thresholds.
type Config struct {
	Alpha               float64 // level smoothing
	Beta                float64 // trend smoothing
	MaxHistory          int
	DefaultHorizonSecs  float64
	MemoryBreachPercent float64
	CPUBreachPercent    float64
}

// DefaultConfig matches the reference model: alpha=0.3, beta=0.1, a 30
// minute default horizon, memory breach at 95% utilization and CPU at 90%.
func DefaultConfig() Config {
	return Config{
		Alpha:               0.3,
		Beta:                0.1,
		MaxHistory:          maxHistory,
		DefaultHorizonSecs:  1800,
		MemoryBreachPercent: 95,
		CPUBreachPercent:    90,
	}
}

// Point is a single (timestamp, value) observation.
type Point struct {
	Timestamp time.Time
	Value     float64
}

type series struct {
	points []Point
}

func (s *series) add(p Point) {
	s.points = append(s.points, p)
}

func (s *series) trim(max int) {
	if len(s.points) > max {
		s.points = s.points[len(s.points)-max:]
	}
}

// Service holds per-(resource,metric) histories and fits Holt linear trend
// on demand.
type Service struct {
	mu     sync.RWMutex
	cfg    Config
	series map[string]*series
}

// New constructs a Service.
func New(cfg Config) *Service {
	if cfg.Alpha <= 0 {
		cfg.Alpha = 0.3
	}
	if cfg.Beta <= 0 {
		cfg.Beta = 0.1
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = maxHistory
	}
	return &Service{cfg: cfg, series: make(map[string]*series)}
}

func key(resourceKey, metric string) string { return resourceKey + "|" + metric }

// Observe appends a sample to the named resource/metric history.
func (s *Service) Observe(resourceKey, metric string, p Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(resourceKey, metric)
	sr, ok := s.series[k]
	if !ok {
		sr = &series{}
		s.series[k] = sr
	}
	sr.add(p)
	sr.trim(s.cfg.MaxHistory)
}

// holtFit runs Holt linear smoothing over the full history and returns the
// final level, trend, average sample interval, and mean absolute residual
// of the last 20 one-step-ahead predictions.
func holtFit(points []Point, alpha, beta float64) (level, trend, intervalSecs, meanAbsResidual float64, ok bool) {
	if len(points) < 2 {
		if len(points) == 1 {
			return points[0].Value, 0, 0, 0, true
		}
		return 0, 0, 0, 0, false
	}

	level = points[0].Value
	trend = points[1].Value - points[0].Value

	var residuals []float64
	for i := 1; i < len(points); i++ {
		forecastOneStep := level + trend
		residuals = append(residuals, points[i].Value-forecastOneStep)

		newLevel := alpha*points[i].Value + (1-alpha)*(level+trend)
		newTrend := beta*(newLevel-level) + (1-beta)*trend
		level, trend = newLevel, newTrend
	}

	span := points[len(points)-1].Timestamp.Sub(points[0].Timestamp).Seconds()
	if span > 0 {
		intervalSecs = span / float64(len(points)-1)
	}

	tail := residuals
	if len(tail) > 20 {
		tail = tail[len(tail)-20:]
	}
	if len(tail) > 0 {
		var sum float64
		for _, r := range tail {
			sum += math.Abs(r)
		}
		meanAbsResidual = sum / float64(len(tail))
	}

	return level, trend, intervalSecs, meanAbsResidual, true
}

// Forecast is the Holt-fitted projection for one metric.
type Forecast struct {
	CurrentValue    float64
	PredictedValue  float64
	LowerBound      float64
	UpperBound      float64
	HorizonSeconds  float64
	BreachETASeconds *float64
}

// Forecast projects resourceKey/metric horizonSecs into the future. With
// fewer than ten points it returns the last observed value (or zero) with
// no spread, per the boundary behavior: insufficient history predicts flat.
func (s *Service) Forecast(resourceKey, metric string, horizonSecs float64, breachPercent float64) Forecast {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[key(resourceKey, metric)]
	if !ok || len(sr.points) == 0 {
		return Forecast{HorizonSeconds: horizonSecs}
	}
	current := sr.points[len(sr.points)-1].Value

	if len(sr.points) < 10 {
		return Forecast{CurrentValue: current, PredictedValue: current, HorizonSeconds: horizonSecs}
	}

	level, trend, intervalSecs, meanAbsResidual, ok := holtFit(sr.points, s.cfg.Alpha, s.cfg.Beta)
	if !ok || intervalSecs <= 0 {
		return Forecast{CurrentValue: current, PredictedValue: current, HorizonSeconds: horizonSecs}
	}

	steps := horizonSecs / intervalSecs
	predicted := level + trend*steps

	var band float64
	if meanAbsResidual > 0 {
		band = 1.96 * meanAbsResidual
	} else {
		band = predicted * 0.1
	}

	eta := estimateBreachTime(sr.points, level, trend, intervalSecs, breachPercent)

	return Forecast{
		CurrentValue:     current,
		PredictedValue:   predicted,
		LowerBound:       predicted - band,
		UpperBound:       predicted + band,
		HorizonSeconds:   horizonSecs,
		BreachETASeconds: eta,
	}
}

// estimateBreachTime uses the growth rate implied by the last 10 points of
// history to estimate when the metric crosses breachPercent. A non-positive
// growth rate never breaches; an already-breached metric breaches at t=0.
func estimateBreachTime(points []Point, level, trend, intervalSecs, breachPercent float64) *float64 {
	if level >= breachPercent {
		zero := 0.0
		return &zero
	}
	tail := points
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	if len(tail) < 2 {
		return nil
	}
	span := tail[len(tail)-1].Timestamp.Sub(tail[0].Timestamp).Seconds()
	if span <= 0 {
		return nil
	}
	growthPerSecond := (tail[len(tail)-1].Value - tail[0].Value) / span
	if growthPerSecond <= 0 {
		return nil
	}
	secondsToBreach := (breachPercent - level) / growthPerSecond
	if secondsToBreach < 0 {
		return nil
	}
	return &secondsToBreach
}

// BreachPrediction is the ensemble-facing summary: the worse of the memory
// and CPU breach forecasts at the ensemble's evaluation horizon.
type BreachPrediction struct {
	Triggered   bool
	Probability float64
	ETASeconds  *float64
	Evidence    []string
}

// Predict evaluates memory and CPU breach forecasts for resourceKey and
// returns whichever has the higher probability.
func (s *Service) Predict(resourceKey string) BreachPrediction {
	horizon := s.cfg.DefaultHorizonSecs

	mem := s.Forecast(resourceKey, "memory_utilization_percent", horizon, s.cfg.MemoryBreachPercent)
	cpu := s.Forecast(resourceKey, "cpu_utilization_percent", horizon, s.cfg.CPUBreachPercent)

	var memProb, cpuProb float64
	if mem.PredictedValue >= s.cfg.MemoryBreachPercent {
		memProb = math.Min(0.95, (mem.PredictedValue-90)/10)
	}
	if cpu.PredictedValue >= s.cfg.CPUBreachPercent {
		cpuProb = math.Min(0.9, (cpu.PredictedValue-85)/15)
	}

	if memProb == 0 && cpuProb == 0 {
		return BreachPrediction{Evidence: []string{"no breach forecast within horizon"}}
	}

	if memProb >= cpuProb {
		return BreachPrediction{
			Triggered:   true,
			Probability: memProb,
			ETASeconds:  mem.BreachETASeconds,
			Evidence:    []string{"forecast memory utilization reaches breach threshold within horizon"},
		}
	}
	return BreachPrediction{
		Triggered:   true,
		Probability: cpuProb,
		ETASeconds:  cpu.BreachETASeconds,
		Evidence:    []string{"forecast CPU utilization reaches breach threshold within horizon"},
	}
}
