// Package brain is the top-level orchestrator: it owns exactly one
// instance of the knowledge base, anomaly detector, forecaster, pattern
// detector, ensemble predictor, safety validator, approval registry, and
// remediation engine, and drives them from two periodic loops gated by an
// autonomy mode.
package brain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/anomaly"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/approval"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/circuit"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/ensemble"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/forecast"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/knowledge"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/patterns"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/remediation"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/safety"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
	"github.com/jarvis-fineops/kratos-ai/internal/metrics"
	"github.com/jarvis-fineops/kratos-ai/internal/orchestrator"
)

// Mode is the autonomy level that gates prediction, plan generation, and
// auto-execution.
type Mode string

const (
	ModeObserve   Mode = "observe"
	ModePredict   Mode = "predict"
	ModeRecommend Mode = "recommend"
	ModeSemiAuto  Mode = "semi_auto"
	ModeAuto      Mode = "auto"
)

func (m Mode) runsPredictLoop() bool {
	return m != ModeObserve
}

func (m Mode) generatesPlans() bool {
	return m == ModeRecommend || m == ModeSemiAuto || m == ModeAuto
}

func (m Mode) autoExecutes() bool {
	return m == ModeSemiAuto || m == ModeAuto
}

// Config controls loop timing and thresholds.
type Config struct {
	Mode                   Mode
	ObserveInterval        time.Duration
	PredictInterval        time.Duration
	PredictionThreshold    float64
	AutoRemediateThreshold float64
	Namespaces             []string // empty means all namespaces
}

// DefaultConfig matches the reference model's defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                   ModeRecommend,
		ObserveInterval:        30 * time.Second,
		PredictInterval:        60 * time.Second,
		PredictionThreshold:    0.7,
		AutoRemediateThreshold: 0.85,
	}
}

// Brain is the self-healing core's top-level orchestrator.
type Brain struct {
	mu             sync.RWMutex
	cfg            Config
	client         orchestrator.Client
	clusterBreaker *circuit.Breaker
	running        bool
	cancel         context.CancelFunc

	Knowledge *knowledge.Store
	Anomaly   *anomaly.Detector
	Forecast  *forecast.Service
	Patterns  *patterns.Detector
	Predictor *ensemble.Predictor
	Safety    *safety.Validator
	Approvals *approval.Registry
	Engine    *remediation.Engine

	onIncident    *subscriberSet[types.Incident]
	onPrediction  *subscriberSet[types.Prediction]
	onRemediation *subscriberSet[types.Remediation]
}

// subscriberSet is a keyed, ordered set of observer callbacks. Subscribers
// are invoked in insertion order; a subscriber that panics is recovered and
// logged rather than propagated, so one bad listener can't take down the
// loop that notified it.
type subscriberSet[T any] struct {
	mu   sync.Mutex
	ids  []string
	subs map[string]func(T)
}

func newSubscriberSet[T any]() *subscriberSet[T] {
	return &subscriberSet[T]{subs: make(map[string]func(T))}
}

// Subscribe registers fn under id, replacing any existing subscriber with
// the same id without changing its position in the invocation order.
func (s *subscriberSet[T]) Subscribe(id string, fn func(T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[id]; !exists {
		s.ids = append(s.ids, id)
	}
	s.subs[id] = fn
}

// Unsubscribe removes the subscriber registered under id, if any.
func (s *subscriberSet[T]) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[id]; !exists {
		return
	}
	delete(s.subs, id)
	for i, existing := range s.ids {
		if existing == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}
}

func (s *subscriberSet[T]) notify(v T) {
	s.mu.Lock()
	ids := append([]string(nil), s.ids...)
	s.mu.Unlock()
	for _, id := range ids {
		s.mu.Lock()
		fn, ok := s.subs[id]
		s.mu.Unlock()
		if !ok {
			continue
		}
		s.invoke(id, fn, v)
	}
}

func (s *subscriberSet[T]) invoke(id string, fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("subscriber", id).Msg("brain: observer panicked, isolating")
		}
	}()
	fn(v)
}

// New wires together one instance of every component. client may be nil,
// in which case both loops have nothing to fetch and return on every tick;
// only HandleIncident/HandlePrediction called from elsewhere do anything.
func New(cfg Config, client orchestrator.Client, knowledgeStore *knowledge.Store, anomalyDetector *anomaly.Detector, forecaster *forecast.Service, patternDetector *patterns.Detector, validator *safety.Validator, approvals *approval.Registry, engine *remediation.Engine) *Brain {
	if cfg.ObserveInterval <= 0 {
		cfg.ObserveInterval = 30 * time.Second
	}
	if cfg.PredictInterval <= 0 {
		cfg.PredictInterval = 60 * time.Second
	}
	if cfg.PredictionThreshold <= 0 {
		cfg.PredictionThreshold = 0.7
	}
	if cfg.AutoRemediateThreshold <= 0 {
		cfg.AutoRemediateThreshold = 0.85
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeRecommend
	}

	breaker := circuit.NewBreaker("orchestrator-client", circuit.DefaultConfig())
	breaker.SetOnStateChange(func(from, to circuit.State) {
		if to == circuit.StateClosed {
			metrics.ClusterBreakerOpen.Set(0)
		} else {
			metrics.ClusterBreakerOpen.Set(1)
		}
		log.Info().Str("breaker", "orchestrator-client").Str("from", from.String()).Str("to", to.String()).Msg("brain: cluster breaker state changed")
	})

	return &Brain{
		cfg:            cfg,
		client:         client,
		clusterBreaker: breaker,
		Knowledge:      knowledgeStore,
		Anomaly:        anomalyDetector,
		Forecast:       forecaster,
		Patterns:       patternDetector,
		Predictor:      ensemble.New(anomalyDetector, forecaster, patternDetector),
		Safety:         validator,
		Approvals:      approvals,
		Engine:         engine,
		onIncident:     newSubscriberSet[types.Incident](),
		onPrediction:   newSubscriberSet[types.Prediction](),
		onRemediation:  newSubscriberSet[types.Remediation](),
	}
}

// OnIncident registers fn to be called, in insertion order alongside any
// other subscriber, every time an incident is recorded. Calling it again
// with the same id replaces the handler without reordering it.
func (b *Brain) OnIncident(id string, fn func(types.Incident)) {
	b.onIncident.Subscribe(id, fn)
}

// OnPrediction registers fn to be called every time a non-expired
// prediction is handled.
func (b *Brain) OnPrediction(id string, fn func(types.Prediction)) {
	b.onPrediction.Subscribe(id, fn)
}

// OnRemediation registers fn to be called every time a remediation reaches
// a terminal outcome via auto-execution.
func (b *Brain) OnRemediation(id string, fn func(types.Remediation)) {
	b.onRemediation.Subscribe(id, fn)
}

// Unsubscribe removes a previously registered incident, prediction, or
// remediation observer by id; it is a no-op if nothing is registered under
// that id in any of the three sets.
func (b *Brain) Unsubscribe(id string) {
	b.onIncident.Unsubscribe(id)
	b.onPrediction.Unsubscribe(id)
	b.onRemediation.Unsubscribe(id)
}

// Mode returns the brain's current autonomy level.
func (b *Brain) Mode() Mode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.Mode
}

// SetMode changes the autonomy level while running.
func (b *Brain) SetMode(m Mode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Mode = m
}

// IsRunning reports whether the two loops are active.
func (b *Brain) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// Start launches the observation and prediction loops. It returns once both
// goroutines have been scheduled; call Stop (or cancel ctx) to end them.
func (b *Brain) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("brain already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true
	b.mu.Unlock()

	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		b.runObservationLoop(gctx)
		return nil
	})
	g.Go(func() error {
		b.runPredictionLoop(gctx)
		return nil
	})

	go func() {
		_ = g.Wait()
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	metrics.BrainUp.Set(1)
	log.Info().Str("mode", string(b.Mode())).Msg("brain started")
	return nil
}

// Stop signals both loops to exit at their next wake. In-flight handler
// calls are allowed to finish; nothing is force-canceled.
func (b *Brain) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := b.Approvals.Flush(); err != nil {
		log.Warn().Err(err).Msg("brain: failed to flush pending approvals on stop")
	}
	metrics.BrainUp.Set(0)
	log.Info().Msg("brain stopping")
}

func (b *Brain) runObservationLoop(ctx context.Context) {
	interval := b.cfg.ObserveInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.observeOnce(ctx)
		}
	}
}

func (b *Brain) runPredictionLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.PredictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !b.Mode().runsPredictLoop() {
				continue
			}
			b.predictOnce(ctx)
		}
	}
}

// observeOnce fetches cluster state, detects incidents, and feeds each one
// through the handle-incident pipeline. It never interleaves two incidents'
// record→plan→execute sequence.
func (b *Brain) observeOnce(ctx context.Context) {
	if b.client == nil {
		return
	}
	var incidents []types.Incident
	err := b.clusterBreaker.ExecuteWithCategory(func() (error, circuit.ErrorCategory) {
		var detectErr error
		incidents, detectErr = DetectIncidents(ctx, b.client, b.cfg.Namespaces)
		return detectErr, circuit.CategorizeError(detectErr)
	})
	if err != nil {
		if circuit.IsCircuitOpen(err) {
			log.Debug().Msg("brain: observation loop skipped, cluster breaker open")
			return
		}
		log.Warn().Err(err).Msg("brain: observation loop failed to fetch cluster state")
		return
	}
	for _, inc := range incidents {
		b.HandleIncident(inc)
	}
}

// HandleIncident records an incident and, depending on mode, plans (and
// possibly executes) a remediation for it. Exported so callers that feed
// incidents from elsewhere (tests, an HTTP ingestion endpoint) can drive
// the same pipeline the observation loop uses.
func (b *Brain) HandleIncident(inc types.Incident) {
	id, err := b.Knowledge.RecordIncident(inc)
	if err != nil {
		log.Error().Err(err).Msg("brain: failed to record incident")
		return
	}
	inc.ID = id
	b.Patterns.RecordIncident(inc)
	metrics.IncidentsRecorded.WithLabelValues(string(inc.Kind)).Inc()
	b.onIncident.notify(inc)

	mode := b.Mode()
	dryRun := mode == ModeObserve
	if mode != ModeObserve && !mode.generatesPlans() {
		return
	}

	plan, err := b.Engine.Plan(remediation.PlanOptions{Incident: &inc, DryRun: dryRun})
	if err != nil {
		log.Error().Err(err).Msg("brain: failed to plan remediation for incident")
		return
	}
	b.recordPlanMetrics(plan)
	b.maybeAutoExecute(mode, plan)
}

// predictOnce evaluates the ensemble against every resource with recent
// forecaster history and turns high-probability predictions into plans.
func (b *Brain) predictOnce(ctx context.Context) {
	if b.client == nil {
		return
	}
	var targets []types.Resource
	err := b.clusterBreaker.ExecuteWithCategory(func() (error, circuit.ErrorCategory) {
		var listErr error
		targets, listErr = ObservableTargets(ctx, b.client, b.cfg.Namespaces)
		return listErr, circuit.CategorizeError(listErr)
	})
	if err != nil {
		if circuit.IsCircuitOpen(err) {
			log.Debug().Msg("brain: prediction loop skipped, cluster breaker open")
			return
		}
		log.Warn().Err(err).Msg("brain: prediction loop failed to list targets")
		return
	}
	for _, target := range targets {
		for _, kind := range predictableKinds {
			pred := b.Predictor.Predict(target, kind, nil)
			if pred.Probability < b.cfg.PredictionThreshold {
				continue
			}
			metrics.PredictionsMade.WithLabelValues(string(kind)).Inc()
			b.HandlePrediction(pred)
		}
	}
}

var predictableKinds = []types.IncidentKind{
	types.IncidentOOMKill,
	types.IncidentResourceExhaustion,
}

// HandlePrediction turns a sufficiently probable prediction into a plan,
// gated the same way HandleIncident is. Exported for the same reason.
func (b *Brain) HandlePrediction(pred types.Prediction) {
	if pred.Expired(time.Now()) {
		return
	}
	b.onPrediction.notify(pred)
	mode := b.Mode()
	if !mode.generatesPlans() {
		return
	}
	plan, err := b.Engine.Plan(remediation.PlanOptions{Prediction: &pred})
	if err != nil {
		log.Error().Err(err).Msg("brain: failed to plan remediation for prediction")
		return
	}
	b.recordPlanMetrics(plan)
	b.maybeAutoExecute(mode, plan)
}

// recordPlanMetrics reports the safety checks a plan failed or flagged
// and refreshes the pending-approvals gauge.
func (b *Brain) recordPlanMetrics(plan remediation.Plan) {
	for _, c := range plan.Safety.Checks {
		if c.Passed {
			continue
		}
		metrics.SafetyCheckFailures.WithLabelValues(c.Name, fmt.Sprintf("%t", c.Blocking)).Inc()
	}
	metrics.PendingApprovals.Set(float64(len(b.Engine.ListPending())))
}

func (b *Brain) maybeAutoExecute(mode Mode, plan remediation.Plan) {
	if !mode.autoExecutes() {
		return
	}
	if !plan.Safety.Safe || plan.Remediation.RequiresApproval {
		return
	}
	if plan.Remediation.Outcome != types.OutcomeCreated {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	rem, err := b.Engine.Execute(ctx, plan.Remediation.ID)
	if err != nil {
		log.Error().Err(err).Str("remediation_id", plan.Remediation.ID).Msg("brain: auto-execute failed")
		return
	}
	metrics.RemediationsByOutcome.WithLabelValues(string(rem.Outcome), string(rem.Action)).Inc()
	b.onRemediation.notify(rem)
}
