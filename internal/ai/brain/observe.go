package brain

import (
	"context"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
	"github.com/jarvis-fineops/kratos-ai/internal/orchestrator"
)

// DetectIncidents translates raw cluster state into incidents. A pod's
// phase and restart count drive crash-loop detection; node conditions
// drive not-ready detection; warning events carry the rest (OOMKilling,
// Evicted, Unhealthy, FailedScheduling, and similar well-known reasons).
func DetectIncidents(ctx context.Context, client orchestrator.Client, namespaces []string) ([]types.Incident, error) {
	var incidents []types.Incident
	now := time.Now().UTC()

	nodes, err := client.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	for _, n := range nodes {
		if n.Ready {
			continue
		}
		incidents = append(incidents, types.Incident{
			Kind:       types.IncidentNodeNotReady,
			Severity:   types.SeverityHigh,
			Resource:   types.Resource{Kind: "Node", Name: n.Name},
			Message:    fmt.Sprintf("node %s is not ready", n.Name),
			OccurredAt: now,
			DetectedAt: now,
		})
	}

	nsList := namespaces
	if len(nsList) == 0 {
		nsList = []string{""}
	}
	for _, ns := range nsList {
		pods, err := client.ListPods(ctx, ns)
		if err != nil {
			return nil, fmt.Errorf("list pods in %q: %w", ns, err)
		}
		for _, p := range pods {
			if kind, ok := incidentKindForPod(p); ok {
				incidents = append(incidents, types.Incident{
					Kind:     kind,
					Severity: severityForPodIncident(kind),
					Resource: types.Resource{
						Kind:      "Pod",
						Name:      p.Name,
						Namespace: p.Namespace,
						Labels:    p.Labels,
					},
					Message:    fmt.Sprintf("pod %s/%s: phase=%s restarts=%d", p.Namespace, p.Name, p.Phase, p.RestartCount),
					OccurredAt: now,
					DetectedAt: now,
				})
			}
		}

		events, err := client.ListEvents(ctx, ns, now.Add(-5*time.Minute).Unix())
		if err != nil {
			return nil, fmt.Errorf("list events in %q: %w", ns, err)
		}
		for _, e := range events {
			if e.Type != string(corev1.EventTypeWarning) {
				continue
			}
			kind, ok := incidentKindForEventReason(e.Reason)
			if !ok {
				continue
			}
			incidents = append(incidents, types.Incident{
				Kind:     kind,
				Severity: severityForPodIncident(kind),
				Resource: types.Resource{
					Kind:      e.InvolvedObjectKind,
					Name:      e.InvolvedObjectName,
					Namespace: e.Namespace,
				},
				Message:    e.Message,
				OccurredAt: now,
				DetectedAt: now,
			})
		}
	}

	return incidents, nil
}

func incidentKindForPod(p orchestrator.PodStatus) (types.IncidentKind, bool) {
	switch {
	case p.RestartCount >= 5:
		return types.IncidentCrashLoop, true
	case p.Phase == corev1.PodFailed:
		return types.IncidentCrashLoop, true
	default:
		return "", false
	}
}

func incidentKindForEventReason(reason string) (types.IncidentKind, bool) {
	switch strings.ToLower(reason) {
	case "oomkilling", "oomkilled":
		return types.IncidentOOMKill, true
	case "evicted":
		return types.IncidentEviction, true
	case "unhealthy":
		return types.IncidentReadinessFail, true
	case "backoff", "crashloopbackoff":
		return types.IncidentCrashLoop, true
	case "failedscheduling":
		return types.IncidentResourceExhaustion, true
	case "faileddeploy", "progressdeadlineexceeded":
		return types.IncidentDeploymentFail, true
	case "networknotready", "networkunavailable":
		return types.IncidentNetworkUnavailable, true
	case "failedmount", "erroffering":
		return types.IncidentDiskPressure, true
	case "failed", "imagepullbackoff", "errimagepull":
		return types.IncidentImagePullFailure, true
	default:
		return "", false
	}
}

func severityForPodIncident(kind types.IncidentKind) types.Severity {
	switch kind {
	case types.IncidentOOMKill, types.IncidentNodeNotReady, types.IncidentDeploymentFail:
		return types.SeverityHigh
	case types.IncidentCrashLoop, types.IncidentEviction, types.IncidentResourceExhaustion:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

// ObservableTargets lists every pod resource the prediction loop should
// evaluate the ensemble against.
func ObservableTargets(ctx context.Context, client orchestrator.Client, namespaces []string) ([]types.Resource, error) {
	nsList := namespaces
	if len(nsList) == 0 {
		nsList = []string{""}
	}
	var targets []types.Resource
	for _, ns := range nsList {
		pods, err := client.ListPods(ctx, ns)
		if err != nil {
			return nil, fmt.Errorf("list pods in %q: %w", ns, err)
		}
		for _, p := range pods {
			targets = append(targets, types.Resource{
				Kind:      "Pod",
				Name:      p.Name,
				Namespace: p.Namespace,
				Labels:    p.Labels,
			})
		}
	}
	return targets, nil
}
