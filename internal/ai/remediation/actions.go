package remediation

import (
	"fmt"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
)

const (
	defaultMemoryBytes = 512 * 1024 * 1024      // 512 MiB
	maxMemoryBytes     = 4 * 1024 * 1024 * 1024 // 4 GiB
	minReplicas        = 1
	maxReplicas        = 10
)

// defaultActionForIncident is the static fallback action table used when
// the knowledge base has no sufficiently successful recommendation.
func defaultActionForIncident(kind types.IncidentKind) types.Action {
	switch kind {
	case types.IncidentOOMKill, types.IncidentEviction:
		return types.ActionScaleMemoryUp
	case types.IncidentCrashLoop, types.IncidentReadinessFail, types.IncidentLivenessFail:
		return types.ActionRestartPod
	case types.IncidentNodeNotReady:
		return types.ActionCordonNode
	case types.IncidentNodeMemoryPressure:
		return types.ActionNotifyOnly
	case types.IncidentResourceExhaustion:
		return types.ActionScaleReplicasUp
	case types.IncidentDeploymentFail:
		return types.ActionRollbackDeploy
	default:
		return types.ActionNotifyOnly
	}
}

// defaultActionForPrediction is the smaller preemptive table used for
// acting on a prediction rather than a realized incident.
func defaultActionForPrediction(kind types.IncidentKind) types.Action {
	switch kind {
	case types.IncidentOOMKill:
		return types.ActionScaleMemoryUp
	case types.IncidentResourceExhaustion:
		return types.ActionScaleReplicasUp
	default:
		return types.ActionNotifyOnly
	}
}

// generateParameters fills in the numeric parameters an action needs given
// the best-known current metrics for the target.
func generateParameters(action types.Action, metrics *types.ResourceMetrics) map[string]int64 {
	params := map[string]int64{}

	switch action {
	case types.ActionScaleMemoryUp:
		old := int64(defaultMemoryBytes)
		if metrics != nil && metrics.MemoryLimitBytes > 0 {
			old = metrics.MemoryLimitBytes
		}
		newMem := int64(float64(old) * 1.5)
		if newMem > maxMemoryBytes {
			newMem = maxMemoryBytes
		}
		params["old_memory_bytes"] = old
		params["new_memory_bytes"] = newMem
		params["max_allowed_memory_bytes"] = maxMemoryBytes

	case types.ActionScaleMemoryDown:
		old := int64(defaultMemoryBytes)
		if metrics != nil && metrics.MemoryLimitBytes > 0 {
			old = metrics.MemoryLimitBytes
		}
		newMem := int64(float64(old) / 1.5)
		params["old_memory_bytes"] = old
		params["new_memory_bytes"] = newMem

	case types.ActionScaleReplicasUp:
		old := int64(1)
		newReplicas := old + 1
		if newReplicas > maxReplicas {
			newReplicas = maxReplicas
		}
		params["old_replicas"] = old
		params["new_replicas"] = newReplicas

	case types.ActionScaleReplicasDown:
		old := int64(2)
		newReplicas := old - 1
		if newReplicas < minReplicas {
			newReplicas = minReplicas
		}
		params["old_replicas"] = old
		params["new_replicas"] = newReplicas
	}

	return params
}

// rollbackableActions pairs each reversible action with its inverse.
var rollbackableActions = map[types.Action]types.Action{
	types.ActionScaleMemoryUp:     types.ActionScaleMemoryDown,
	types.ActionScaleMemoryDown:   types.ActionScaleMemoryUp,
	types.ActionScaleReplicasUp:   types.ActionScaleReplicasDown,
	types.ActionScaleReplicasDown: types.ActionScaleReplicasUp,
}

// inverseParameters swaps every old_*/new_* pair so the rollback
// remediation requests exactly the state the original replaced. This
// generalizes symmetrically across memory and replica parameters rather
// than special-casing memory alone.
func inverseParameters(params map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(params))
	for k, v := range params {
		out[k] = v
	}
	pairs := [][2]string{
		{"old_memory_bytes", "new_memory_bytes"},
		{"old_replicas", "new_replicas"},
	}
	for _, pair := range pairs {
		oldKey, newKey := pair[0], pair[1]
		oldVal, hasOld := params[oldKey]
		newVal, hasNew := params[newKey]
		if hasOld && hasNew {
			out[oldKey] = newVal
			out[newKey] = oldVal
		}
	}
	return out
}

func describeAction(action types.Action, params map[string]int64) string {
	switch action {
	case types.ActionScaleMemoryUp, types.ActionScaleMemoryDown:
		return fmt.Sprintf("change memory limit from %d to %d bytes", params["old_memory_bytes"], params["new_memory_bytes"])
	case types.ActionScaleReplicasUp, types.ActionScaleReplicasDown:
		return fmt.Sprintf("change replica count from %d to %d", params["old_replicas"], params["new_replicas"])
	case types.ActionRestartPod:
		return "restart the pod"
	case types.ActionCordonNode:
		return "mark the node unschedulable"
	case types.ActionDrainNode:
		return "drain all pods from the node"
	case types.ActionRollbackDeploy:
		return "roll back the deployment to its previous revision"
	case types.ActionDeletePod:
		return "delete the pod so its controller recreates it"
	case types.ActionUpdateSecret:
		return "rotate the referenced secret"
	default:
		return "notify an operator without taking action"
	}
}

func assessRisk(action types.Action) string {
	switch action {
	case types.ActionDrainNode, types.ActionRollbackDeploy, types.ActionDeletePod, types.ActionUpdateSecret, types.ActionCordonNode:
		return "high"
	case types.ActionScaleReplicasDown, types.ActionScaleMemoryDown:
		return "medium"
	default:
		return "low"
	}
}

func estimatedImpact(action types.Action) string {
	switch action {
	case types.ActionDrainNode:
		return "all pods on one node are rescheduled"
	case types.ActionCordonNode:
		return "one node stops receiving new pods"
	case types.ActionRollbackDeploy:
		return "the deployment briefly serves the prior revision during rollout"
	case types.ActionRestartPod, types.ActionDeletePod:
		return "one pod is unavailable during restart"
	case types.ActionScaleReplicasUp, types.ActionScaleReplicasDown:
		return "replica count changes, briefly affecting available capacity"
	case types.ActionScaleMemoryUp, types.ActionScaleMemoryDown:
		return "the pod restarts to apply the new memory limit"
	default:
		return "no direct cluster impact"
	}
}

func estimatedDurationSeconds(action types.Action) int {
	switch action {
	case types.ActionDrainNode:
		return 300
	case types.ActionRollbackDeploy:
		return 120
	case types.ActionScaleMemoryUp, types.ActionScaleMemoryDown, types.ActionRestartPod, types.ActionDeletePod:
		return 30
	case types.ActionScaleReplicasUp, types.ActionScaleReplicasDown:
		return 20
	case types.ActionCordonNode:
		return 10
	default:
		return 5
	}
}
