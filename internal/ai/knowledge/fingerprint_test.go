package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
)

func TestNormalizeMessageIsIdempotent(t *testing.T) {
	msgs := []string{
		"Pod api-server-7d9f8c6b5-x2k9p was OOMKilled at 2026-07-30T10:15:00Z from 10.0.1.23",
		"container restarted 14 times",
		"connection refused to 192.168.1.1",
	}
	for _, m := range msgs {
		once := normalizeMessage(m)
		twice := normalizeMessage(once)
		assert.Equal(t, once, twice, "normalization must be idempotent for %q", m)
	}
}

func TestNormalizeMessageReplacesVolatileTokens(t *testing.T) {
	msg := "Pod api-server-7d9f8c6b5-x2k9p was OOMKilled at 2026-07-30T10:15:00Z from 10.0.1.23, restart count 142"
	got := normalizeMessage(msg)
	assert.Contains(t, got, "<pod_suffix>")
	assert.Contains(t, got, "<timestamp>")
	assert.Contains(t, got, "<ip>")
	assert.Contains(t, got, "<num>")
	assert.NotContains(t, got, "7d9f8c6b5")
}

func TestFingerprintHashStableAcrossEquivalentMessages(t *testing.T) {
	base := types.Incident{
		Kind:     types.IncidentOOMKill,
		Resource: types.Resource{Kind: "Pod", Namespace: "production", Labels: map[string]string{"app": "api-server"}},
		Message:  "Pod api-server-7d9f8c6b5-x2k9p was OOMKilled",
	}
	other := base
	other.Message = "Pod api-server-9a1b2c3d4-m8n7q was OOMKilled"

	assert.Equal(t, newFingerprint(base).Hash(), newFingerprint(other).Hash())
	assert.Len(t, newFingerprint(base).Hash(), 16)
}

func TestFingerprintHashDiffersAcrossKind(t *testing.T) {
	a := types.Incident{Kind: types.IncidentOOMKill, Resource: types.Resource{Kind: "Pod", Namespace: "default"}, Message: "x"}
	b := a
	b.Kind = types.IncidentCrashLoop
	assert.NotEqual(t, newFingerprint(a).Hash(), newFingerprint(b).Hash())
}
