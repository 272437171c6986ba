// Package orchestrator declares the contract the Brain uses to observe and
// act on a Kubernetes cluster. No production implementation ships in this
// module; a real one would be backed by client-go or controller-runtime.
package orchestrator

import (
	"context"

	corev1 "k8s.io/api/core/v1"
)

// NodeStatus is the subset of node state the observation loop reasons about.
type NodeStatus struct {
	Name       string
	Ready      bool
	Conditions []corev1.NodeCondition
}

// PodStatus is the subset of pod state the observation loop reasons about.
type PodStatus struct {
	Name          string
	Namespace     string
	Labels        map[string]string
	Phase         corev1.PodPhase
	RestartCount  int32
	NodeName      string
	OwnerKind     string
	OwnerName     string
	ContainerName string
}

// Event is a cluster event relevant to incident detection.
type Event struct {
	InvolvedObjectKind string
	InvolvedObjectName string
	Namespace          string
	Type               string
	Reason             string
	Message            string
	Count              int32
}

// Client is the orchestrator's cluster access contract. Every method may
// return an error; callers propagate it into a SKIPPED or FAILED outcome
// rather than panicking.
type Client interface {
	ListNodes(ctx context.Context) ([]NodeStatus, error)
	ListPods(ctx context.Context, namespace string) ([]PodStatus, error)
	ListEvents(ctx context.Context, namespace string, since int64) ([]Event, error)

	DeletePod(ctx context.Context, namespace, name string) error
	PatchDeploymentResources(ctx context.Context, namespace, name string, memoryBytes int64) error
	PatchDeploymentReplicas(ctx context.Context, namespace, name string, replicas int32) error
	PatchNodeSchedulable(ctx context.Context, name string, schedulable bool) error
	DrainNode(ctx context.Context, name string) error
	RollbackDeployment(ctx context.Context, namespace, name string) error
}
