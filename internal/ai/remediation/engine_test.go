package remediation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/approval"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/knowledge"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/safety"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
)

func newTestEngine(t *testing.T) (*Engine, *safety.Validator, *approval.Registry) {
	t.Helper()
	v := safety.New(safety.DefaultConfig())
	a := approval.New(approval.Config{DataDir: t.TempDir(), DefaultTimeout: time.Hour})
	kb, err := knowledge.New(knowledge.Config{DataDir: t.TempDir(), MinOccurrencesForPattern: 3})
	require.NoError(t, err)
	e := New(Config{DataDir: t.TempDir(), MinTimeout: 30 * time.Second}, v, a, kb)
	return e, v, a
}

// newTestEngineNoCooldown mirrors newTestEngine but disables the cooldown
// check, for tests that deliberately act twice on the same target in quick
// succession (e.g. executing a remediation and immediately rolling it back).
func newTestEngineNoCooldown(t *testing.T) (*Engine, *safety.Validator, *approval.Registry) {
	t.Helper()
	cfg := safety.DefaultConfig()
	cfg.CooldownSeconds = 0
	v := safety.New(cfg)
	a := approval.New(approval.Config{DataDir: t.TempDir(), DefaultTimeout: time.Hour})
	kb, err := knowledge.New(knowledge.Config{DataDir: t.TempDir(), MinOccurrencesForPattern: 3})
	require.NoError(t, err)
	e := New(Config{DataDir: t.TempDir(), MinTimeout: 30 * time.Second}, v, a, kb)
	return e, v, a
}

func oomIncident(ns string) *types.Incident {
	return &types.Incident{
		Kind:     types.IncidentOOMKill,
		Severity: types.SeverityHigh,
		Resource: types.Resource{Kind: "Pod", Name: "api-server", Namespace: ns},
		Message:  "container api-server was OOMKilled",
		Metrics:  &types.ResourceMetrics{MemoryLimitBytes: 1 << 30},
	}
}

func TestPlanRequiresIncidentOrPrediction(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Plan(PlanOptions{})
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestPlanOOMIncidentSelectsScaleMemoryUp(t *testing.T) {
	e, _, _ := newTestEngine(t)
	plan, err := e.Plan(PlanOptions{Incident: oomIncident("default")})
	require.NoError(t, err)
	assert.Equal(t, types.ActionScaleMemoryUp, plan.Remediation.Action)
	assert.True(t, plan.Safety.Safe)
	assert.False(t, plan.Remediation.RequiresApproval)
	assert.Equal(t, types.OutcomeCreated, plan.Remediation.Outcome)
	assert.True(t, plan.CanRollback)
	assert.NotEmpty(t, plan.Remediation.Explanation.Steps)
}

func TestPlanProtectedNamespaceRequiresApproval(t *testing.T) {
	e, _, approvals := newTestEngine(t)
	plan, err := e.Plan(PlanOptions{Incident: oomIncident("kube-system")})
	require.NoError(t, err)
	assert.True(t, plan.Safety.Safe)
	assert.True(t, plan.Remediation.RequiresApproval)
	assert.Equal(t, types.OutcomePendingApproval, plan.Remediation.Outcome)

	_, ok := approvals.Get(plan.Remediation.ID)
	assert.True(t, ok)
}

func TestExecuteRespectsPendingApproval(t *testing.T) {
	e, _, _ := newTestEngine(t)
	plan, err := e.Plan(PlanOptions{Incident: oomIncident("kube-system")})
	require.NoError(t, err)

	e.RegisterHandler(types.ActionScaleMemoryUp, func(ctx context.Context, target types.Resource, params map[string]int64) (string, error) {
		return "resized", nil
	})

	result, err := e.Execute(context.Background(), plan.Remediation.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomePendingApproval, result.Outcome)

	require.NoError(t, e.Approve(plan.Remediation.ID, "oncall"))
	result, err = e.Execute(context.Background(), plan.Remediation.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, result.Outcome)
}

func TestPlanSkippedWhenRateLimited(t *testing.T) {
	e, v, _ := newTestEngine(t)
	target := types.Resource{Kind: "Pod", Name: "api-server", Namespace: "default"}
	for i := 0; i < safety.DefaultConfig().MaxActionsPerHour; i++ {
		v.RecordAction(target)
	}

	plan, err := e.Plan(PlanOptions{Incident: oomIncident("default")})
	require.NoError(t, err)
	assert.False(t, plan.Safety.Safe)
	assert.Equal(t, types.OutcomeSkipped, plan.Remediation.Outcome)
	assert.NotEmpty(t, plan.Remediation.ErrorMessage)
}

func TestExecuteSkipsWithNoHandlerRegistered(t *testing.T) {
	e, _, _ := newTestEngine(t)
	plan, err := e.Plan(PlanOptions{Incident: oomIncident("default")})
	require.NoError(t, err)

	result, err := e.Execute(context.Background(), plan.Remediation.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSkipped, result.Outcome)
	assert.Contains(t, result.ErrorMessage, "no handler registered")
}

func TestExecuteDryRunSkipsHandlerButSucceeds(t *testing.T) {
	e, _, _ := newTestEngine(t)
	called := false
	e.RegisterHandler(types.ActionScaleMemoryUp, func(ctx context.Context, target types.Resource, params map[string]int64) (string, error) {
		called = true
		return "ok", nil
	})

	plan, err := e.Plan(PlanOptions{Incident: oomIncident("default"), DryRun: true})
	require.NoError(t, err)

	result, err := e.Execute(context.Background(), plan.Remediation.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeDryRun, result.Outcome)
	assert.False(t, called)
}

func TestExecuteFailsWhenHandlerErrors(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.RegisterHandler(types.ActionScaleMemoryUp, func(ctx context.Context, target types.Resource, params map[string]int64) (string, error) {
		return "", errors.New("kube api unavailable")
	})

	plan, err := e.Plan(PlanOptions{Incident: oomIncident("default")})
	require.NoError(t, err)

	result, err := e.Execute(context.Background(), plan.Remediation.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeFailed, result.Outcome)
	assert.Contains(t, result.ErrorMessage, "kube api unavailable")
}

func TestRollbackPairsMemoryAction(t *testing.T) {
	e, _, _ := newTestEngineNoCooldown(t)
	e.RegisterHandler(types.ActionScaleMemoryUp, func(ctx context.Context, target types.Resource, params map[string]int64) (string, error) {
		return "resized up", nil
	})
	e.RegisterHandler(types.ActionScaleMemoryDown, func(ctx context.Context, target types.Resource, params map[string]int64) (string, error) {
		return "resized down", nil
	})

	plan, err := e.Plan(PlanOptions{Incident: oomIncident("default")})
	require.NoError(t, err)
	original, err := e.Execute(context.Background(), plan.Remediation.ID)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeSuccess, original.Outcome)

	rollback, err := e.Rollback(context.Background(), original.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, types.ActionScaleMemoryDown, rollback.Action)
	assert.Equal(t, types.OutcomeSuccess, rollback.Outcome)
	assert.Equal(t, original.Parameters["new_memory_bytes"], rollback.Parameters["old_memory_bytes"])
	assert.Equal(t, original.Parameters["old_memory_bytes"], rollback.Parameters["new_memory_bytes"])

	reloaded, ok := e.Get(original.ID)
	require.True(t, ok)
	assert.Equal(t, rollback.ID, reloaded.RollbackRemediation)
	assert.Equal(t, original.ID, rollback.RollbackRemediation)
}

func TestRollbackRejectsNonReversibleAction(t *testing.T) {
	e, _, _ := newTestEngineNoCooldown(t)
	e.RegisterHandler(types.ActionRestartPod, func(ctx context.Context, target types.Resource, params map[string]int64) (string, error) {
		return "restarted", nil
	})
	plan, err := e.Plan(PlanOptions{Incident: &types.Incident{
		Kind:     types.IncidentCrashLoop,
		Resource: types.Resource{Kind: "Pod", Name: "worker", Namespace: "default"},
		Message:  "worker is crash looping",
	}})
	require.NoError(t, err)
	rem, err := e.Execute(context.Background(), plan.Remediation.ID)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeSuccess, rem.Outcome)

	_, err = e.Rollback(context.Background(), rem.ID, nil)
	assert.Error(t, err)
}

func TestPlanPrefersKnowledgeBaseRecommendationOverStaticTable(t *testing.T) {
	e, _, _ := newTestEngine(t)

	seedIncident := oomIncident("default")
	seedIncident.ID = "seed"
	_, err := e.kb.RecordIncident(*seedIncident)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		e.kb.RecordRemediation(types.Remediation{
			Action:     types.ActionRestartPod,
			Outcome:    types.OutcomeSuccess,
			IncidentID: "seed",
		})
	}

	plan, err := e.Plan(PlanOptions{Incident: oomIncident("default")})
	require.NoError(t, err)
	assert.Equal(t, types.ActionRestartPod, plan.Remediation.Action)
}

func TestListPendingReturnsOnlyAwaitingApproval(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Plan(PlanOptions{Incident: oomIncident("kube-system")})
	require.NoError(t, err)
	_, err = e.Plan(PlanOptions{Incident: oomIncident("default")})
	require.NoError(t, err)

	pending := e.ListPending()
	require.Len(t, pending, 1)
	assert.Equal(t, "kube-system", pending[0].Target.Namespace)
}
