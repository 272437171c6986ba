// Package approval is the Remediation Engine's pending-approval registry.
// A remediation whose safety validation requires approval is held here
// until an operator approves or denies it, or it expires.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Entry is one remediation awaiting an operator decision.
type Entry struct {
	RemediationID  string    `json:"remediation_id"`
	Reason         string    `json:"reason"`
	RequestedAt    time.Time `json:"requested_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Config controls persistence location and default expiry.
type Config struct {
	DataDir        string
	DefaultTimeout time.Duration
}

// DefaultConfig returns a 30-minute approval window.
func DefaultConfig() Config {
	return Config{
		DataDir:        "/var/lib/kratos-ai/approvals",
		DefaultTimeout: 30 * time.Minute,
	}
}

// Registry holds pending approvals. It is constructed and owned explicitly
// by the remediation engine; there is no package-level singleton, unlike
// the CLI-convenience store this package's predecessor used.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Entry

	cfg      Config
	path     string
	saveTimer   *time.Timer
	savePending bool
}

// New constructs a Registry and loads any persisted pending entries.
func New(cfg Config) *Registry {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Minute
	}
	r := &Registry{
		pending: make(map[string]*Entry),
		cfg:     cfg,
	}
	if cfg.DataDir != "" {
		r.path = filepath.Join(cfg.DataDir, "pending_approvals.json")
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			log.Warn().Err(err).Msg("approval registry running memory-only: could not create data directory")
			r.path = ""
		} else if err := r.load(); err != nil {
			log.Warn().Err(err).Msg("approval registry: could not load persisted approvals")
		}
	}
	return r
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decode pending approvals: %w", err)
	}
	for _, e := range entries {
		r.pending[e.RemediationID] = e
	}
	return nil
}

// Add registers a remediation as pending approval, expiring after the
// registry's default timeout.
func (r *Registry) Add(remediationID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.pending[remediationID] = &Entry{
		RemediationID: remediationID,
		Reason:        reason,
		RequestedAt:   now,
		ExpiresAt:     now.Add(r.cfg.DefaultTimeout),
	}
	r.scheduleSave()
}

// Get returns the pending entry for a remediation, if any.
func (r *Registry) Get(remediationID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[remediationID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Resolve removes a remediation from the pending set, whether because it
// was approved, denied, or executed.
func (r *Registry) Resolve(remediationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[remediationID]; ok {
		delete(r.pending, remediationID)
		r.scheduleSave()
	}
}

// List returns every currently pending entry.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.pending))
	for _, e := range r.pending {
		out = append(out, *e)
	}
	return out
}

// scheduleSave debounces disk writes: repeated Add/Resolve calls within the
// window collapse into a single write 5 seconds after the last change.
// Caller holds mu.
func (r *Registry) scheduleSave() {
	if r.path == "" {
		return
	}
	r.savePending = true
	if r.saveTimer != nil {
		return
	}
	r.saveTimer = time.AfterFunc(5*time.Second, func() {
		r.mu.Lock()
		pending := r.savePending
		r.savePending = false
		r.saveTimer = nil
		r.mu.Unlock()
		if pending {
			if err := r.Flush(); err != nil {
				log.Error().Err(err).Msg("approval registry: failed to persist pending approvals")
			}
		}
	})
}

// Flush writes the current pending set to disk immediately, bypassing the
// debounce timer. Call this on shutdown.
func (r *Registry) Flush() error {
	if r.path == "" {
		return nil
	}
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.pending))
	for _, e := range r.pending {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// RunExpiryLoop periodically removes pending entries whose expiry has
// passed, invoking onExpire for each one. It blocks until ctx is canceled.
func (r *Registry) RunExpiryLoop(ctx context.Context, interval time.Duration, onExpire func(remediationID string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.expireOnce(onExpire)
		}
	}
}

func (r *Registry) expireOnce(onExpire func(remediationID string)) {
	now := time.Now()
	r.mu.Lock()
	var expired []string
	for id, e := range r.pending {
		if now.After(e.ExpiresAt) {
			expired = append(expired, id)
			delete(r.pending, id)
		}
	}
	if len(expired) > 0 {
		r.scheduleSave()
	}
	r.mu.Unlock()

	for _, id := range expired {
		if onExpire != nil {
			onExpire(id)
		}
	}
}
