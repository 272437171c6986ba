package knowledge

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
)

var (
	uuidPattern      = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`)
	ipv4Pattern      = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	numberPattern    = regexp.MustCompile(`(^|[^A-Za-z0-9])\d{3,}\b`)
	podSuffixPattern = regexp.MustCompile(`-[a-z0-9]{5,10}(-[a-z0-9]{5})?\b`)
)

// normalizeMessage strips instance-specific detail from an incident message
// so that semantically equivalent incidents hash to the same fingerprint.
// Order matters: later patterns must not re-match placeholders left by
// earlier ones.
func normalizeMessage(msg string) string {
	out := uuidPattern.ReplaceAllString(msg, "<UUID>")
	out = timestampPattern.ReplaceAllString(out, "<TIMESTAMP>")
	out = ipv4Pattern.ReplaceAllString(out, "<IP>")
	out = numberPattern.ReplaceAllString(out, "${1}<NUM>")
	out = podSuffixPattern.ReplaceAllString(out, "-<POD_SUFFIX>")
	out = strings.ToLower(strings.TrimSpace(out))
	return out
}

// fingerprint is the normalized descriptor used to cluster semantically
// equivalent incidents.
type fingerprint struct {
	kind         types.IncidentKind
	resourceKind string
	namespace    string
	labelHash    string
	message      string
}

func newFingerprint(inc types.Incident) fingerprint {
	return fingerprint{
		kind:         inc.Kind,
		resourceKind: inc.Resource.Kind,
		namespace:    inc.Resource.Namespace,
		labelHash:    hashLabels(inc.Resource.Labels),
		message:      normalizeMessage(inc.Message),
	}
}

func hashLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	sum := md5.Sum([]byte(strings.Join(pairs, ",")))
	return hex.EncodeToString(sum[:])[:8]
}

// Hash returns the stable 16-character hex fingerprint hash.
func (f fingerprint) Hash() string {
	joined := strings.Join([]string{
		string(f.kind), f.resourceKind, f.namespace, f.labelHash, f.message,
	}, ":")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])[:16]
}

func (f fingerprint) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", f.kind, f.resourceKind, f.namespace, f.labelHash, f.message)
}
