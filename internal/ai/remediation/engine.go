// Package remediation is the core decision-and-execution loop: given an
// incident or a prediction, it selects an action, generates parameters and
// an explanation, gates the plan through the safety validator, executes it
// through a uniform handler dispatch, and supports paired rollback.
package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/approval"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/knowledge"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/safety"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
)

// ErrNoTarget is returned by Plan when neither an incident nor a prediction
// is supplied; there is nothing to remediate. This is the one
// programmer-contract violation the engine recognizes, and it is returned
// as an error, never a panic.
var ErrNoTarget = errors.New("remediation: plan requires an incident or a prediction")

// Handler executes one action against a target. It returns a human
// readable result string and an error; handler panics are never expected,
// but a returned error always maps to outcome FAILED.
type Handler func(ctx context.Context, target types.Resource, params map[string]int64) (string, error)

// Config controls persistence location and execution timeouts.
type Config struct {
	DataDir    string
	MinTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:    "/var/lib/kratos-ai/remediation",
		MinTimeout: 30 * time.Second,
	}
}

// Engine is the Remediation Engine.
type Engine struct {
	mu sync.RWMutex

	cfg       Config
	validator *safety.Validator
	approvals *approval.Registry
	kb        *knowledge.Store
	handlers  map[types.Action]Handler

	history map[string]types.Remediation

	historyPath string
}

// New constructs an Engine. validator and approvals must be non-nil; kb may
// be nil, in which case action selection always falls back to the static
// table.
func New(cfg Config, validator *safety.Validator, approvals *approval.Registry, kb *knowledge.Store) *Engine {
	e := &Engine{
		cfg:         cfg,
		validator:   validator,
		approvals:   approvals,
		kb:          kb,
		handlers:    make(map[types.Action]Handler),
		history:     make(map[string]types.Remediation),
		historyPath: filepath.Join(cfg.DataDir, "remediation_history.json"),
	}
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			log.Warn().Err(err).Msg("remediation engine running memory-only: could not create data directory")
			e.historyPath = ""
		} else if err := e.loadHistory(); err != nil {
			log.Warn().Err(err).Msg("remediation engine: could not load history")
		}
	}
	return e
}

// RegisterHandler wires an executor for an action. Actions with no
// registered handler always produce outcome SKIPPED when dispatched,
// matching the reference model (CORDON_NODE, DRAIN_NODE, and the
// config/network/scheduling actions have none in the original either).
func (e *Engine) RegisterHandler(action types.Action, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[action] = h
}

func (e *Engine) loadHistory() error {
	data, err := os.ReadFile(e.historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var list []types.Remediation
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode remediation history: %w", err)
	}
	for _, r := range list {
		e.history[r.ID] = r
	}
	return nil
}

func (e *Engine) saveHistory() error {
	if e.historyPath == "" {
		return nil
	}
	list := make([]types.Remediation, 0, len(e.history))
	for _, r := range e.history {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := e.historyPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, e.historyPath)
}

// Plan is the full output of planning a remediation: the remediation
// itself, its safety validation, and rollback/impact metadata.
type Plan struct {
	Remediation           types.Remediation
	Safety                safety.Validation
	EstimatedImpact       string
	EstimatedDurationSecs int
	CanRollback           bool
	RollbackPlan          string
}

// PlanOptions carries the optional inputs to Plan.
type PlanOptions struct {
	Incident   *types.Incident
	Prediction *types.Prediction
	Metrics    *types.ResourceMetrics
	Cluster    *safety.ClusterState
	DryRun     bool
}

// Plan selects an action, builds its parameters and explanation, validates
// it for safety, and returns the full plan. Either opts.Incident or
// opts.Prediction must be set.
func (e *Engine) Plan(opts PlanOptions) (Plan, error) {
	if opts.Incident == nil && opts.Prediction == nil {
		return Plan{}, ErrNoTarget
	}

	var target types.Resource
	var kind types.IncidentKind
	var incidentID, predictionID string
	var similar []types.Incident
	var recommendedLabels []string

	if opts.Incident != nil {
		target = opts.Incident.Resource
		kind = opts.Incident.Kind
		incidentID = opts.Incident.ID
		if e.kb != nil {
			similar = e.kb.FindSimilarIncidents(*opts.Incident)
		}
	} else {
		target = opts.Prediction.Target
		kind = opts.Prediction.IncidentKind
		predictionID = opts.Prediction.ID
	}

	action := e.selectAction(opts.Incident != nil, kind, &recommendedLabels)

	metrics := opts.Metrics
	if metrics == nil && opts.Incident != nil {
		metrics = opts.Incident.Metrics
	}
	params := generateParameters(action, metrics)

	rem := types.Remediation{
		ID:           uuid.New().String(),
		Action:       action,
		Target:       target,
		IncidentID:   incidentID,
		PredictionID: predictionID,
		Parameters:   params,
		Outcome:      types.OutcomeCreated,
		DryRun:       opts.DryRun,
		CreatedAt:    time.Now().UTC(),
	}
	rem.Explanation = buildExplanation(opts.Incident, opts.Prediction, action, params, similar, recommendedLabels)

	validation := e.validator.Validate(rem, opts.Cluster)
	rem.RequiresApproval = validation.RequiresApproval

	canRollback, rollbackDesc := rollbackPlanDescription(action, params)

	if !validation.Safe {
		rem.Outcome = types.OutcomeSkipped
		rem.ErrorMessage = validation.Summary()
		now := time.Now().UTC()
		rem.CompletedAt = &now
	} else if validation.RequiresApproval {
		rem.Outcome = types.OutcomePendingApproval
		e.approvals.Add(rem.ID, validation.ApprovalReason)
	}

	e.mu.Lock()
	e.history[rem.ID] = rem
	_ = e.saveHistory()
	e.mu.Unlock()

	log.Info().
		Str("remediation_id", rem.ID).
		Str("action", string(action)).
		Str("outcome", string(rem.Outcome)).
		Bool("requires_approval", rem.RequiresApproval).
		Msg("remediation plan created")

	return Plan{
		Remediation:           rem,
		Safety:                validation,
		EstimatedImpact:       estimatedImpact(action),
		EstimatedDurationSecs: estimatedDurationSeconds(action),
		CanRollback:           canRollback,
		RollbackPlan:          rollbackDesc,
	}, nil
}

func (e *Engine) selectAction(fromIncident bool, kind types.IncidentKind, recommendedLabels *[]string) types.Action {
	if fromIncident && e.kb != nil {
		recs := e.kb.GetRecommendedActions(kind)
		if len(recs) > 0 && recs[0].SuccessRate > 0.6 {
			for _, r := range recs {
				*recommendedLabels = append(*recommendedLabels, string(r.Action))
			}
			return recs[0].Action
		}
	}
	if fromIncident {
		return defaultActionForIncident(kind)
	}
	return defaultActionForPrediction(kind)
}

// Get returns a copy of a remediation by ID.
func (e *Engine) Get(id string) (types.Remediation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.history[id]
	return r, ok
}

// Approve marks a pending-approval remediation approved by approver and
// resolves its entry in the approval registry. It does not execute the
// remediation; call Execute afterward.
func (e *Engine) Approve(id, approver string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.history[id]
	if !ok {
		return fmt.Errorf("remediation %s not found", id)
	}
	if r.Outcome != types.OutcomePendingApproval {
		return fmt.Errorf("remediation %s is not pending approval", id)
	}
	r.Approved = true
	r.ApprovedBy = approver
	e.history[id] = r
	e.approvals.Resolve(id)
	_ = e.saveHistory()
	return nil
}

// Deny marks a pending-approval remediation SKIPPED.
func (e *Engine) Deny(id, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.history[id]
	if !ok {
		return fmt.Errorf("remediation %s not found", id)
	}
	r.Outcome = types.OutcomeSkipped
	r.ErrorMessage = "denied: " + reason
	now := time.Now().UTC()
	r.CompletedAt = &now
	e.history[id] = r
	e.approvals.Resolve(id)
	_ = e.saveHistory()
	return nil
}

// Execute runs a remediation's handler (or skips it, per dry-run / missing
// handler rules), records the outcome, and updates the knowledge base and
// safety validator bookkeeping. A remediation still pending approval
// returns without executing.
func (e *Engine) Execute(ctx context.Context, id string) (types.Remediation, error) {
	e.mu.Lock()
	rem, ok := e.history[id]
	if !ok {
		e.mu.Unlock()
		return types.Remediation{}, fmt.Errorf("remediation %s not found", id)
	}
	if rem.Outcome == types.OutcomePendingApproval && !rem.Approved {
		e.mu.Unlock()
		return rem, nil
	}
	if rem.Outcome.IsTerminal() {
		e.mu.Unlock()
		return rem, nil
	}
	handler, hasHandler := e.handlers[rem.Action]
	e.mu.Unlock()

	now := time.Now().UTC()
	rem.ExecutedAt = &now
	rem.Outcome = types.OutcomeExecuting

	var outcome types.Outcome
	var errMsg string

	switch {
	case rem.DryRun:
		outcome = types.OutcomeDryRun
	case !hasHandler:
		outcome = types.OutcomeSkipped
		errMsg = fmt.Sprintf("no handler registered for action %s", rem.Action)
	default:
		timeout := time.Duration(estimatedDurationSeconds(rem.Action)) * 2 * time.Second
		if timeout < e.cfg.MinTimeout {
			timeout = e.cfg.MinTimeout
		}
		execCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := runHandler(execCtx, handler, rem.Target, rem.Parameters)
		cancel()
		if err != nil {
			outcome = types.OutcomeFailed
			redacted, _ := safety.RedactSensitiveText(err.Error())
			errMsg = redacted
		} else {
			outcome = types.OutcomeSuccess
			redacted, _ := safety.RedactSensitiveText(result)
			rem.Output = redacted
		}
	}

	rem.Outcome = outcome
	rem.ErrorMessage = errMsg
	completedAt := time.Now().UTC()
	rem.CompletedAt = &completedAt

	e.mu.Lock()
	e.history[id] = rem
	_ = e.saveHistory()
	e.mu.Unlock()

	if e.kb != nil {
		e.kb.RecordRemediation(rem)
	}
	e.validator.RecordAction(rem.Target)

	log.Info().
		Str("remediation_id", rem.ID).
		Str("action", string(rem.Action)).
		Str("outcome", string(rem.Outcome)).
		Msg("remediation executed")

	return rem, nil
}

func runHandler(ctx context.Context, h Handler, target types.Resource, params map[string]int64) (string, error) {
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := h(ctx, target, params)
		done <- result{out, err}
	}()
	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return "", errors.New("timeout")
	}
}

// Rollback creates and executes the inverse of a successfully executed
// remediation, linking the two bidirectionally.
func (e *Engine) Rollback(ctx context.Context, id string, cluster *safety.ClusterState) (types.Remediation, error) {
	e.mu.RLock()
	original, ok := e.history[id]
	e.mu.RUnlock()
	if !ok {
		return types.Remediation{}, fmt.Errorf("remediation %s not found", id)
	}
	if !original.Outcome.IsSuccessful() {
		return types.Remediation{}, fmt.Errorf("remediation %s did not succeed, nothing to roll back", id)
	}
	inverseAction, ok := rollbackableActions[original.Action]
	if !ok {
		return types.Remediation{}, fmt.Errorf("action %s is not rollback-eligible", original.Action)
	}

	rem := types.Remediation{
		ID:         uuid.New().String(),
		Action:     inverseAction,
		Target:     original.Target,
		Parameters: inverseParameters(original.Parameters),
		Outcome:    types.OutcomeCreated,
		CreatedAt:  time.Now().UTC(),
		Explanation: types.Explanation{
			Summary: fmt.Sprintf("rolling back remediation %s", original.ID),
		},
		ApprovedBy: "system_rollback",
		Approved:   true,
	}

	validation := e.validator.Validate(rem, cluster)
	if !validation.Safe {
		rem.Outcome = types.OutcomeSkipped
		rem.ErrorMessage = validation.Summary()
		now := time.Now().UTC()
		rem.CompletedAt = &now
		e.mu.Lock()
		e.history[rem.ID] = rem
		_ = e.saveHistory()
		e.mu.Unlock()
		return rem, nil
	}

	e.mu.Lock()
	e.history[rem.ID] = rem
	e.mu.Unlock()

	executed, err := e.Execute(ctx, rem.ID)
	if err != nil {
		return types.Remediation{}, err
	}

	if executed.Outcome.IsSuccessful() {
		e.mu.Lock()
		executed.RollbackRemediation = original.ID
		original.RollbackRemediation = executed.ID
		e.history[executed.ID] = executed
		e.history[original.ID] = original
		_ = e.saveHistory()
		e.mu.Unlock()
	}

	return executed, nil
}

// ListPending returns every remediation currently awaiting approval.
func (e *Engine) ListPending() []types.Remediation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []types.Remediation
	for _, r := range e.history {
		if r.Outcome == types.OutcomePendingApproval {
			out = append(out, r)
		}
	}
	return out
}
