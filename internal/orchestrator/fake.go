package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client used by tests and local development. It
// never talks to a real cluster; nodes, pods, and events are seeded
// directly and mutating calls just record what happened.
type Fake struct {
	mu sync.Mutex

	Nodes  []NodeStatus
	Pods   []PodStatus
	Events []Event

	DeletedPods        []string
	PatchedReplicas    map[string]int32
	PatchedMemoryBytes map[string]int64
	CordonedNodes      map[string]bool
	DrainedNodes       []string
	RolledBackDeploys  []string
}

// NewFake constructs an empty Fake client.
func NewFake() *Fake {
	return &Fake{
		PatchedReplicas:    make(map[string]int32),
		PatchedMemoryBytes: make(map[string]int64),
		CordonedNodes:      make(map[string]bool),
	}
}

func (f *Fake) ListNodes(ctx context.Context) ([]NodeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]NodeStatus, len(f.Nodes))
	copy(out, f.Nodes)
	return out, nil
}

func (f *Fake) ListPods(ctx context.Context, namespace string) ([]PodStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PodStatus
	for _, p := range f.Pods {
		if namespace == "" || p.Namespace == namespace {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *Fake) ListEvents(ctx context.Context, namespace string, since int64) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, e := range f.Events {
		if namespace == "" || e.Namespace == namespace {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *Fake) DeletePod(ctx context.Context, namespace, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeletedPods = append(f.DeletedPods, namespace+"/"+name)
	return nil
}

func (f *Fake) PatchDeploymentResources(ctx context.Context, namespace, name string, memoryBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PatchedMemoryBytes[key(namespace, name)] = memoryBytes
	return nil
}

func (f *Fake) PatchDeploymentReplicas(ctx context.Context, namespace, name string, replicas int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PatchedReplicas[key(namespace, name)] = replicas
	return nil
}

func (f *Fake) PatchNodeSchedulable(ctx context.Context, name string, schedulable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CordonedNodes[name] = !schedulable
	return nil
}

func (f *Fake) DrainNode(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DrainedNodes = append(f.DrainedNodes, name)
	return nil
}

func (f *Fake) RollbackDeployment(ctx context.Context, namespace, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RolledBackDeploys = append(f.RolledBackDeploys, key(namespace, name))
	return nil
}

func key(namespace, name string) string {
	return fmt.Sprintf("%s/%s", namespace, name)
}
