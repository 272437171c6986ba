package brain

import (
	"context"
	"fmt"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/anomaly"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/approval"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/circuit"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/forecast"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/knowledge"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/patterns"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/remediation"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/safety"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
	"github.com/jarvis-fineops/kratos-ai/internal/orchestrator"
)

func newTestBrain(t *testing.T, mode Mode, client orchestrator.Client) *Brain {
	t.Helper()
	kb, err := knowledge.New(knowledge.Config{DataDir: t.TempDir(), MinOccurrencesForPattern: 3})
	require.NoError(t, err)
	v := safety.New(safety.DefaultConfig())
	a := approval.New(approval.Config{DataDir: t.TempDir(), DefaultTimeout: time.Hour})
	engine := remediation.New(remediation.Config{DataDir: t.TempDir(), MinTimeout: 30 * time.Second}, v, a, kb)

	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.ObserveInterval = 20 * time.Millisecond
	cfg.PredictInterval = 20 * time.Millisecond

	return New(cfg, client,
		kb,
		anomaly.New(anomaly.DefaultConfig()),
		forecast.New(forecast.DefaultConfig()),
		patterns.New(patterns.DefaultConfig()),
		v, a, engine,
	)
}

func TestDetectIncidentsFindsNodeNotReady(t *testing.T) {
	client := orchestrator.NewFake()
	client.Nodes = []orchestrator.NodeStatus{{Name: "node-1", Ready: false}}

	incidents, err := DetectIncidents(context.Background(), client, nil)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, types.IncidentNodeNotReady, incidents[0].Kind)
}

func TestDetectIncidentsFindsCrashLoopFromRestarts(t *testing.T) {
	client := orchestrator.NewFake()
	client.Pods = []orchestrator.PodStatus{{Name: "worker", Namespace: "default", RestartCount: 9, Phase: corev1.PodRunning}}

	incidents, err := DetectIncidents(context.Background(), client, nil)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, types.IncidentCrashLoop, incidents[0].Kind)
}

func TestDetectIncidentsMapsOOMEvent(t *testing.T) {
	client := orchestrator.NewFake()
	client.Events = []orchestrator.Event{{
		InvolvedObjectKind: "Pod", InvolvedObjectName: "api-server", Namespace: "default",
		Type: "Warning", Reason: "OOMKilling", Message: "container was OOMKilled",
	}}

	incidents, err := DetectIncidents(context.Background(), client, nil)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, types.IncidentOOMKill, incidents[0].Kind)
}

func TestHandleIncidentObserveModeDoesNotAutoExecute(t *testing.T) {
	b := newTestBrain(t, ModeObserve, orchestrator.NewFake())
	b.Engine.RegisterHandler(types.ActionScaleMemoryUp, func(ctx context.Context, target types.Resource, params map[string]int64) (string, error) {
		return "resized", nil
	})

	b.HandleIncident(types.Incident{
		Kind:     types.IncidentOOMKill,
		Resource: types.Resource{Kind: "Pod", Name: "api-server", Namespace: "default"},
		Message:  "container api-server was OOMKilled",
	})

	pending := b.Engine.ListPending()
	assert.Empty(t, pending)
}

func TestHandleIncidentRecommendModeCreatesPlanWithoutExecuting(t *testing.T) {
	b := newTestBrain(t, ModeRecommend, orchestrator.NewFake())
	executed := false
	b.Engine.RegisterHandler(types.ActionScaleMemoryUp, func(ctx context.Context, target types.Resource, params map[string]int64) (string, error) {
		executed = true
		return "resized", nil
	})

	b.HandleIncident(types.Incident{
		Kind:     types.IncidentOOMKill,
		Resource: types.Resource{Kind: "Pod", Name: "api-server", Namespace: "default"},
		Message:  "container api-server was OOMKilled",
	})

	assert.False(t, executed)
}

func TestHandleIncidentAutoModeExecutesWhenSafe(t *testing.T) {
	b := newTestBrain(t, ModeAuto, orchestrator.NewFake())
	executed := make(chan struct{}, 1)
	b.Engine.RegisterHandler(types.ActionScaleMemoryUp, func(ctx context.Context, target types.Resource, params map[string]int64) (string, error) {
		executed <- struct{}{}
		return "resized", nil
	})

	b.HandleIncident(types.Incident{
		Kind:     types.IncidentOOMKill,
		Resource: types.Resource{Kind: "Pod", Name: "api-server", Namespace: "default"},
		Message:  "container api-server was OOMKilled",
	})

	select {
	case <-executed:
	case <-time.After(time.Second):
		t.Fatal("expected auto-execute to run the handler")
	}
}

func TestHandleIncidentAutoModeDoesNotExecuteWhenApprovalRequired(t *testing.T) {
	b := newTestBrain(t, ModeAuto, orchestrator.NewFake())
	executed := false
	b.Engine.RegisterHandler(types.ActionScaleMemoryUp, func(ctx context.Context, target types.Resource, params map[string]int64) (string, error) {
		executed = true
		return "resized", nil
	})

	b.HandleIncident(types.Incident{
		Kind:     types.IncidentOOMKill,
		Resource: types.Resource{Kind: "Pod", Name: "api-server", Namespace: "kube-system"},
		Message:  "container api-server was OOMKilled",
	})

	time.Sleep(50 * time.Millisecond)
	assert.False(t, executed)
	assert.Len(t, b.Engine.ListPending(), 1)
}

func TestStartAndStopRunsLoopsWithoutPanicking(t *testing.T) {
	b := newTestBrain(t, ModeObserve, orchestrator.NewFake())
	require.NoError(t, b.Start(context.Background()))
	assert.True(t, b.IsRunning())
	time.Sleep(60 * time.Millisecond)
	b.Stop()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, b.IsRunning())
}

type flakyClient struct {
	*orchestrator.Fake
	failing bool
}

func (f *flakyClient) ListNodes(ctx context.Context) ([]orchestrator.NodeStatus, error) {
	if f.failing {
		return nil, assertErr
	}
	return f.Fake.ListNodes(ctx)
}

var assertErr = fmt.Errorf("cluster api unreachable")

func TestObserveOnceTripsCircuitBreakerAfterRepeatedFailures(t *testing.T) {
	client := &flakyClient{Fake: orchestrator.NewFake(), failing: true}
	b := newTestBrain(t, ModeObserve, client)

	for i := 0; i < 5; i++ {
		b.observeOnce(context.Background())
	}

	assert.Equal(t, circuit.StateOpen, b.clusterBreaker.State())
}

func TestOnIncidentNotifiesSubscribersInOrderAndIsolatesPanics(t *testing.T) {
	b := newTestBrain(t, ModeRecommend, orchestrator.NewFake())

	var order []string
	b.OnIncident("panics", func(types.Incident) {
		order = append(order, "panics")
		panic("boom")
	})
	b.OnIncident("records", func(inc types.Incident) {
		order = append(order, "records")
		assert.Equal(t, types.IncidentOOMKill, inc.Kind)
	})

	b.HandleIncident(types.Incident{
		Kind:     types.IncidentOOMKill,
		Resource: types.Resource{Kind: "Pod", Name: "api-server", Namespace: "default"},
		Message:  "container api-server was OOMKilled",
	})

	assert.Equal(t, []string{"panics", "records"}, order)
}

func TestUnsubscribeStopsFurtherNotifications(t *testing.T) {
	b := newTestBrain(t, ModeRecommend, orchestrator.NewFake())

	calls := 0
	b.OnIncident("counter", func(types.Incident) { calls++ })
	b.Unsubscribe("counter")

	b.HandleIncident(types.Incident{
		Kind:     types.IncidentOOMKill,
		Resource: types.Resource{Kind: "Pod", Name: "api-server", Namespace: "default"},
		Message:  "container api-server was OOMKilled",
	})

	assert.Equal(t, 0, calls)
}

func TestModeGating(t *testing.T) {
	assert.False(t, ModeObserve.runsPredictLoop())
	assert.True(t, ModePredict.runsPredictLoop())
	assert.False(t, ModePredict.generatesPlans())
	assert.True(t, ModeRecommend.generatesPlans())
	assert.False(t, ModeRecommend.autoExecutes())
	assert.True(t, ModeSemiAuto.autoExecutes())
	assert.True(t, ModeAuto.autoExecutes())
}
