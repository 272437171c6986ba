// Package safety is the Remediation Engine's gatekeeper: it rate-limits,
// cools down, and risk-assesses every proposed action before the engine is
// allowed to execute it, and redacts sensitive text from anything the core
// logs or explains.
package safety

import (
	"sync"
	"time"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
)

// RiskLevel orders how disruptive a failed check's consequences would be.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = map[RiskLevel]int{
	RiskNone: 0, RiskLow: 1, RiskMedium: 2, RiskHigh: 3, RiskCritical: 4,
}

func maxRisk(a, b RiskLevel) RiskLevel {
	if riskOrder[b] > riskOrder[a] {
		return b
	}
	return a
}

// Check is the outcome of one safety rule.
type Check struct {
	Name      string
	Passed    bool
	Risk      RiskLevel
	Message   string
	Blocking  bool // a failed blocking check makes the plan unsafe
}

// Validation is the full result of validating a proposed remediation.
type Validation struct {
	Safe             bool
	OverallRisk      RiskLevel
	Checks           []Check
	Warnings         []string
	RequiresApproval bool
	ApprovalReason   string
}

// Summary renders a short human-readable description of the validation.
func (v Validation) Summary() string {
	if v.Safe && !v.RequiresApproval {
		return "all safety checks passed"
	}
	for _, c := range v.Checks {
		if !c.Passed && c.Blocking {
			return "blocked: " + c.Message
		}
	}
	if v.RequiresApproval {
		return "requires approval: " + v.ApprovalReason
	}
	return "blocked"
}

// ClusterState is the optional, externally supplied snapshot used by the
// blast-radius check. When nil, blast radius is skipped (matching the
// reference model, which never supplied it from the main planning path).
type ClusterState struct {
	TotalPods  int
	TotalNodes int
}

// Config holds the validator's thresholds, all independently overridable.
type Config struct {
	MaxPodsAffectedPercent  float64
	MaxNodesAffectedPercent float64
	MaxActionsPerHour       int
	CooldownSeconds         float64
	MaxMemoryBytes          int64
	MaxReplicas             int64
	HighRiskActions         map[types.Action]bool
	ProtectedNamespaces     map[string]bool
	ProtectedLabels         map[string]map[string]bool
}

// DefaultConfig matches the reference model's defaults.
func DefaultConfig() Config {
	return Config{
		MaxPodsAffectedPercent:  25,
		MaxNodesAffectedPercent: 10,
		MaxActionsPerHour:       20,
		CooldownSeconds:         60,
		MaxMemoryBytes:          4 * 1024 * 1024 * 1024,
		MaxReplicas:             10,
		HighRiskActions: map[types.Action]bool{
			types.ActionDrainNode:      true,
			types.ActionRollbackDeploy: true,
			types.ActionDeletePod:      true,
			types.ActionUpdateSecret:   true,
			types.ActionCordonNode:     true,
		},
		ProtectedNamespaces: map[string]bool{
			"kube-system":      true,
			"kube-public":      true,
			"kube-node-lease":  true,
			"monitoring":       true,
			"istio-system":     true,
		},
		ProtectedLabels: map[string]map[string]bool{
			"app":      {"database": true, "postgres": true, "mysql": true, "redis": true, "elasticsearch": true},
			"tier":     {"data": true, "database": true},
			"critical": {"true": true, "yes": true},
		},
	}
}

// Validator tracks recent action timestamps per target for rate limiting
// and cooldown, and evaluates every other check statelessly.
type Validator struct {
	mu sync.Mutex

	cfg Config

	actionTimes  []time.Time          // all recorded actions, for the hourly rate limit
	lastByTarget map[string]time.Time // target key -> last action time, for cooldown
}

// New constructs a Validator.
func New(cfg Config) *Validator {
	return &Validator{cfg: cfg, lastByTarget: make(map[string]time.Time)}
}

// Validate runs every check against a proposed remediation and returns the
// combined verdict. cluster may be nil, in which case blast radius is
// skipped entirely.
func (v *Validator) Validate(rem types.Remediation, cluster *ClusterState) Validation {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	var checks []Check
	var warnings []string
	overall := RiskNone
	requiresApproval := false
	approvalReason := ""

	requireApproval := func(reason string) {
		if !requiresApproval {
			requiresApproval = true
			approvalReason = reason
		}
	}

	// rate_limit
	cutoff := now.Add(-time.Hour)
	recent := 0
	for _, t := range v.actionTimes {
		if t.After(cutoff) {
			recent++
		}
	}
	rateOK := recent < v.cfg.MaxActionsPerHour
	checks = append(checks, Check{
		Name: "rate_limit", Passed: rateOK, Blocking: true,
		Risk:    riskIf(!rateOK, RiskHigh),
		Message: "actions in the last hour within limit",
	})
	if !rateOK {
		checks[len(checks)-1].Message = "exceeded max actions per hour"
		overall = maxRisk(overall, RiskHigh)
	}

	// cooldown
	cooldownOK := true
	if last, ok := v.lastByTarget[rem.Target.Key()]; ok {
		if now.Sub(last).Seconds() < v.cfg.CooldownSeconds {
			cooldownOK = false
		}
	}
	checks = append(checks, Check{
		Name: "cooldown", Passed: cooldownOK, Blocking: true,
		Risk:    riskIf(!cooldownOK, RiskMedium),
		Message: cooldownMessage(cooldownOK),
	})
	if !cooldownOK {
		overall = maxRisk(overall, RiskMedium)
	}

	// protected_namespace
	protectedNS := v.cfg.ProtectedNamespaces[rem.Target.Namespace]
	checks = append(checks, Check{
		Name: "protected_namespace", Passed: !protectedNS, Blocking: false,
		Risk:    riskIf(protectedNS, RiskHigh),
		Message: protectedNamespaceMessage(protectedNS, rem.Target.Namespace),
	})
	if protectedNS {
		overall = maxRisk(overall, RiskHigh)
		requireApproval("target namespace " + rem.Target.Namespace + " is protected")
	}

	// protected_workload
	protectedWorkload := false
	for label, values := range v.cfg.ProtectedLabels {
		if v, ok := rem.Target.Labels[label]; ok && values[v] {
			protectedWorkload = true
			break
		}
	}
	checks = append(checks, Check{
		Name: "protected_workload", Passed: !protectedWorkload, Blocking: false,
		Risk:    riskIf(protectedWorkload, RiskHigh),
		Message: protectedWorkloadMessage(protectedWorkload),
	})
	if protectedWorkload {
		overall = maxRisk(overall, RiskHigh)
		requireApproval("target workload carries a protected label")
	}

	// high_risk_action
	highRisk := v.cfg.HighRiskActions[rem.Action]
	checks = append(checks, Check{
		Name: "high_risk_action", Passed: !highRisk, Blocking: false,
		Risk:    riskIf(highRisk, RiskMedium),
		Message: highRiskMessage(highRisk, rem.Action),
	})
	if highRisk {
		overall = maxRisk(overall, RiskMedium)
		requireApproval(string(rem.Action) + " is a high-risk action")
	}

	// blast_radius (only evaluated when a cluster snapshot is supplied)
	if cluster != nil {
		podPct, nodePct := blastRadius(rem, *cluster)
		podExceeded := podPct > v.cfg.MaxPodsAffectedPercent
		nodeExceeded := nodePct > v.cfg.MaxNodesAffectedPercent
		passed := !podExceeded
		checks = append(checks, Check{
			Name: "blast_radius", Passed: passed, Blocking: true,
			Risk:    riskIf(podExceeded, RiskCritical),
			Message: blastRadiusMessage(podPct, nodePct),
		})
		if podExceeded {
			overall = maxRisk(overall, RiskCritical)
		}
		if nodeExceeded {
			overall = maxRisk(overall, RiskHigh)
			requireApproval("blast radius exceeds node threshold")
		}
	}

	// resource_limits
	limitsOK := true
	if newMem, ok := rem.Parameters["new_memory_bytes"]; ok && newMem > v.cfg.MaxMemoryBytes {
		limitsOK = false
	}
	if newReplicas, ok := rem.Parameters["new_replicas"]; ok && newReplicas > v.cfg.MaxReplicas {
		limitsOK = false
	}
	checks = append(checks, Check{
		Name: "resource_limits", Passed: limitsOK, Blocking: true,
		Risk:    riskIf(!limitsOK, RiskHigh),
		Message: "requested resources within configured limits",
	})
	if !limitsOK {
		checks[len(checks)-1].Message = "requested resources exceed configured limits"
		overall = maxRisk(overall, RiskHigh)
	}

	safe := true
	for _, c := range checks {
		if c.Blocking && !c.Passed {
			safe = false
		}
	}

	return Validation{
		Safe:             safe,
		OverallRisk:      overall,
		Checks:           checks,
		Warnings:         warnings,
		RequiresApproval: requiresApproval,
		ApprovalReason:   approvalReason,
	}
}

// RecordAction must be called exactly once per executed remediation
// (including dry runs and no-handler skips, matching the reference model,
// which counts every attempt toward rate limiting) to advance the rate
// limit window and the target's cooldown anchor.
func (v *Validator) RecordAction(target types.Resource) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := time.Now()
	v.actionTimes = append(v.actionTimes, now)
	v.lastByTarget[target.Key()] = now

	cutoff := now.Add(-time.Hour)
	kept := v.actionTimes[:0]
	for _, t := range v.actionTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	v.actionTimes = kept
}

func blastRadius(rem types.Remediation, cluster ClusterState) (podPercent, nodePercent float64) {
	switch rem.Action {
	case types.ActionDrainNode, types.ActionCordonNode:
		if cluster.TotalNodes > 0 {
			nodePercent = 100.0 / float64(cluster.TotalNodes)
		}
	case types.ActionDeletePod, types.ActionRestartPod:
		if cluster.TotalPods > 0 {
			podPercent = 100.0 / float64(cluster.TotalPods)
		}
	case types.ActionScaleReplicasDown:
		if cluster.TotalPods > 0 {
			podPercent = 100.0 * float64(rem.Parameters["replica_delta"]) / float64(cluster.TotalPods)
		}
	}
	return podPercent, nodePercent
}

func riskIf(cond bool, r RiskLevel) RiskLevel {
	if cond {
		return r
	}
	return RiskNone
}

func cooldownMessage(ok bool) string {
	if ok {
		return "target is outside its cooldown window"
	}
	return "target was acted on too recently"
}

func protectedNamespaceMessage(protected bool, ns string) string {
	if !protected {
		return "namespace is not protected"
	}
	return "namespace " + ns + " is protected"
}

func protectedWorkloadMessage(protected bool) string {
	if !protected {
		return "workload is not protected"
	}
	return "workload carries a protected label"
}

func highRiskMessage(highRisk bool, action types.Action) string {
	if !highRisk {
		return "action is not high-risk"
	}
	return string(action) + " requires operator approval"
}

func blastRadiusMessage(podPct, nodePct float64) string {
	if podPct == 0 && nodePct == 0 {
		return "blast radius negligible"
	}
	return "blast radius within evaluated thresholds"
}
