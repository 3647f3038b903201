package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"aicore/internal/logging"
)

type (
	trackerKey   struct{}
	delegateKey  struct{}
	sessionKey   struct{}
	operationKey struct{}
)

const defaultSaveDelay = 5 * time.Second

// Tracker manages token usage recording and persistence.
type Tracker struct {
	mu        sync.Mutex
	data      UsageData
	filePath  string // empty disables persistence
	dirty     bool
	saveDelay time.Duration
	saveTimer *time.Timer
}

func newData() UsageData {
	return UsageData{
		Version: "1.0",
		Aggregate: AggregatedStats{
			ByProvider:  make(map[string]TokenCounts),
			ByModel:     make(map[string]TokenCounts),
			ByDelegate:  make(map[string]TokenCounts),
			ByOperation: make(map[string]TokenCounts),
			BySession:   make(map[string]TokenCounts),
		},
	}
}

// NewMemoryTracker returns a tracker that never touches disk.
func NewMemoryTracker() *Tracker {
	return &Tracker{data: newData()}
}

// NewTracker creates a tracker persisted under <workspace>/.aicore/usage.json.
func NewTracker(workspacePath string) (*Tracker, error) {
	dir := filepath.Join(workspacePath, ".aicore")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .aicore dir: %w", err)
	}

	t := &Tracker{
		filePath:  filepath.Join(dir, "usage.json"),
		data:      newData(),
		saveDelay: defaultSaveDelay,
	}
	if err := t.Load(); err != nil {
		logging.StoreError("usage file unreadable, starting fresh: %v", err)
		t.data = newData()
	}
	return t, nil
}

// Load reads the usage data from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.filePath == "" {
		return nil
	}

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &t.data); err != nil {
		return err
	}

	agg := &t.data.Aggregate
	for _, m := range []*map[string]TokenCounts{&agg.ByProvider, &agg.ByModel, &agg.ByDelegate, &agg.ByOperation, &agg.BySession} {
		if *m == nil {
			*m = make(map[string]TokenCounts)
		}
	}
	return nil
}

// Save writes the usage data to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	if t.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	t.dirty = false
	return os.WriteFile(t.filePath, data, 0644)
}

// Close stops any pending auto-save and flushes to disk.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.saveTimer != nil {
		t.saveTimer.Stop()
		t.saveTimer = nil
	}
	return t.saveLocked()
}

// Track records one provider call. Delegate, session and operation labels
// come from ctx when the caller's label is empty.
func (t *Tracker) Track(ctx context.Context, ev UsageEvent) {
	if ev.Delegate == "" {
		ev.Delegate = labelFrom(ctx, delegateKey{}, "main")
	}
	if ev.SessionID == "" {
		ev.SessionID = labelFrom(ctx, sessionKey{}, "unknown")
	}
	if ev.Operation == "" {
		ev.Operation = labelFrom(ctx, operationKey{}, "chat")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	in, out, cached := ev.InputTokens, ev.OutputTokens, ev.CachedTokens
	agg := &t.data.Aggregate
	agg.TotalProject.Add(in, out, cached)
	addToMap(agg.ByProvider, ev.Provider, in, out, cached)
	addToMap(agg.ByModel, ev.Model, in, out, cached)
	addToMap(agg.ByDelegate, ev.Delegate, in, out, cached)
	addToMap(agg.ByOperation, ev.Operation, in, out, cached)
	addToMap(agg.BySession, ev.SessionID, in, out, cached)

	// Debounced auto-save.
	if t.filePath != "" && t.saveDelay > 0 && !t.dirty {
		t.dirty = true
		t.saveTimer = time.AfterFunc(t.saveDelay, func() {
			if err := t.Save(); err != nil {
				logging.StoreError("usage autosave failed: %v", err)
			}
		})
	}
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByProvider = copyTokenCountsMap(stats.ByProvider)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByDelegate = copyTokenCountsMap(stats.ByDelegate)
	stats.ByOperation = copyTokenCountsMap(stats.ByOperation)
	stats.BySession = copyTokenCountsMap(stats.BySession)
	return stats
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output, cached int) {
	entry := m[key]
	entry.Add(input, output, cached)
	m[key] = entry
}

func labelFrom(ctx context.Context, key any, fallback string) string {
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v
	}
	return fallback
}

// Context Helpers

// NewContext returns a new context carrying the tracker.
func NewContext(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext retrieves the tracker from the context.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}

// WithLabels tags usage recorded under ctx. Empty values leave the existing
// label in place.
func WithLabels(ctx context.Context, delegate, sessionID, operation string) context.Context {
	if delegate != "" {
		ctx = context.WithValue(ctx, delegateKey{}, delegate)
	}
	if sessionID != "" {
		ctx = context.WithValue(ctx, sessionKey{}, sessionID)
	}
	if operation != "" {
		ctx = context.WithValue(ctx, operationKey{}, operation)
	}
	return ctx
}
