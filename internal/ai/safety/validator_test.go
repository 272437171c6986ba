package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
)

func scaleMemRemediation(ns string, labels map[string]string) types.Remediation {
	return types.Remediation{
		Action: types.ActionScaleMemoryUp,
		Target: types.Resource{Kind: "Pod", Name: "api-server", Namespace: ns, Labels: labels},
		Parameters: map[string]int64{
			"old_memory_bytes": 1 << 30,
			"new_memory_bytes": (1 << 30) + (1 << 29),
		},
	}
}

func TestValidateSafeByDefault(t *testing.T) {
	v := New(DefaultConfig())
	result := v.Validate(scaleMemRemediation("production", map[string]string{"app": "api-server"}), nil)
	assert.True(t, result.Safe)
	assert.False(t, result.RequiresApproval)
}

func TestValidateProtectedNamespaceRequiresApproval(t *testing.T) {
	v := New(DefaultConfig())
	result := v.Validate(scaleMemRemediation("kube-system", nil), nil)
	assert.True(t, result.Safe)
	assert.True(t, result.RequiresApproval)
	assert.Contains(t, result.ApprovalReason, "kube-system")
}

func TestValidateProtectedWorkloadRequiresApproval(t *testing.T) {
	v := New(DefaultConfig())
	result := v.Validate(scaleMemRemediation("production", map[string]string{"app": "postgres"}), nil)
	assert.True(t, result.RequiresApproval)
}

func TestValidateHighRiskActionRequiresApproval(t *testing.T) {
	v := New(DefaultConfig())
	rem := types.Remediation{Action: types.ActionRollbackDeploy, Target: types.Resource{Kind: "Deployment", Name: "api", Namespace: "production"}}
	result := v.Validate(rem, nil)
	assert.True(t, result.RequiresApproval)
}

func TestValidateRateLimitBlocksAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActionsPerHour = 3
	v := New(cfg)

	for i := 0; i < 3; i++ {
		v.RecordAction(types.Resource{Kind: "Pod", Name: "x", Namespace: "ns"})
	}

	result := v.Validate(scaleMemRemediation("production", nil), nil)
	assert.False(t, result.Safe)
	found := false
	for _, c := range result.Checks {
		if c.Name == "rate_limit" {
			found = true
			assert.False(t, c.Passed)
		}
	}
	assert.True(t, found)
}

func TestValidateCooldownBlocksRepeatedActionOnSameTarget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownSeconds = 120
	v := New(cfg)
	target := types.Resource{Kind: "Pod", Name: "api-server", Namespace: "production"}
	v.RecordAction(target)

	rem := scaleMemRemediation("production", nil)
	result := v.Validate(rem, nil)
	assert.False(t, result.Safe)
}

func TestValidateResourceLimitsBlocksOversizedRequest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMemoryBytes = 1 << 30
	v := New(cfg)
	rem := scaleMemRemediation("production", nil)
	result := v.Validate(rem, nil)
	assert.False(t, result.Safe)
}

func TestValidateBlastRadiusSkippedWithoutClusterState(t *testing.T) {
	v := New(DefaultConfig())
	rem := types.Remediation{Action: types.ActionDrainNode, Target: types.Resource{Kind: "Node", Name: "node-1"}}
	result := v.Validate(rem, nil)
	for _, c := range result.Checks {
		assert.NotEqual(t, "blast_radius", c.Name)
	}
}

func TestValidateBlastRadiusHighRiskWhenNodeThresholdExceeded(t *testing.T) {
	v := New(DefaultConfig())
	rem := types.Remediation{Action: types.ActionDrainNode, Target: types.Resource{Kind: "Node", Name: "node-1"}}
	result := v.Validate(rem, &ClusterState{TotalNodes: 2, TotalPods: 50})
	assert.True(t, result.RequiresApproval)
	assert.Equal(t, RiskHigh, result.OverallRisk)
}

func TestRecordActionPrunesOldEntries(t *testing.T) {
	v := New(DefaultConfig())
	v.mu.Lock()
	v.actionTimes = append(v.actionTimes, time.Now().Add(-2*time.Hour))
	v.mu.Unlock()
	v.RecordAction(types.Resource{Kind: "Pod", Name: "x"})
	require.Len(t, v.actionTimes, 1)
}

func TestRedactSensitiveTextMasksSecrets(t *testing.T) {
	redacted, count := RedactSensitiveText("password: hunter2\nnormal line")
	assert.Contains(t, redacted, "[REDACTED]")
	assert.Equal(t, 1, count)
}
