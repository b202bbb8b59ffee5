package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Default cache names created at startup.
const (
	NameAPIResponses     = "api_responses"
	NameComments         = "comments"
	NameWeatherForecasts = "weather_forecasts"
)

// Manager is the process-wide registry of named caches. It runs an optional
// background monitor that sheds LRU entries when process memory exceeds the
// configured soft limit. Construct with NewManager, stop with Close; tests
// build fresh instances instead of sharing a singleton.
type Manager struct {
	mu     sync.Mutex
	caches map[string]Store

	memoryLimitBytes uint64
	interval         time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// readMem reports current process memory usage. Replaceable in tests.
	readMem func() (used uint64, ok bool)
}

// Summary aggregates per-cache stats plus totals.
type Summary struct {
	Caches map[string]Stats `json:"caches"`
	Totals Stats            `json:"totals"`
}

// NewManager creates a Manager. A memoryLimitMB of 0 disables the
// memory-pressure monitor entirely (best-effort optimization, never a
// correctness requirement).
func NewManager(memoryLimitMB int, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m := &Manager{
		caches:           make(map[string]Store),
		memoryLimitBytes: uint64(memoryLimitMB) * 1024 * 1024,
		interval:         interval,
		readMem: func() (uint64, bool) {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return ms.HeapAlloc, true
		},
	}
	// api_responses is always present; the typed defaults (weather_forecasts,
	// comments) are registered by their owning components.
	m.Register(NameAPIResponses, New[string, []byte](Options{
		DefaultTTL: 300 * time.Second,
		MaxSize:    500,
	}))
	return m
}

// Register adds a named cache to the registry, replacing any previous one.
func (m *Manager) Register(name string, s Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches[name] = s
}

// Get returns the named cache, or nil if not registered.
func (m *Manager) Get(name string) Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caches[name]
}

// GetBytes returns the named byte cache, auto-creating it with default
// settings (ttl 300s, max 500) when absent or of a different type.
func (m *Manager) GetBytes(name string) *Cache[string, []byte] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.caches[name]; ok {
		if c, ok := s.(*Cache[string, []byte]); ok {
			return c
		}
	}
	c := New[string, []byte](Options{DefaultTTL: 300 * time.Second, MaxSize: 500})
	m.caches[name] = c
	return c
}

// ClearAll empties every registered cache.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.caches {
		s.Clear()
	}
}

// StatsSummary returns per-cache stats and aggregate totals.
func (m *Manager) StatsSummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := Summary{Caches: make(map[string]Stats, len(m.caches))}
	for name, s := range m.caches {
		st := s.Stats()
		sum.Caches[name] = st
		sum.Totals.Size += st.Size
		sum.Totals.Hits += st.Hits
		sum.Totals.Misses += st.Misses
		sum.Totals.Evictions += st.Evictions
		sum.Totals.EvictionsTTL += st.EvictionsTTL
		sum.Totals.EvictionsLRU += st.EvictionsLRU
		sum.Totals.EvictionsMemory += st.EvictionsMemory
	}
	if total := sum.Totals.Hits + sum.Totals.Misses; total > 0 {
		sum.Totals.HitRate = float64(sum.Totals.Hits) / float64(total)
	}
	return sum
}

// Start launches the background memory monitor and expiry sweeper.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
				m.CheckMemoryPressure()
			}
		}
	}()
}

// Close stops the background monitor and waits for it to exit.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) sweep() {
	m.mu.Lock()
	caches := make([]Store, 0, len(m.caches))
	for _, s := range m.caches {
		caches = append(caches, s)
	}
	m.mu.Unlock()
	for _, s := range caches {
		s.RemoveExpired()
	}
}

// CheckMemoryPressure samples process memory and, above 80% of the soft
// limit, sheds 10% of every cache. No-op when no limit is configured or the
// usage cannot be queried.
func (m *Manager) CheckMemoryPressure() {
	if m.memoryLimitBytes == 0 {
		return
	}
	used, ok := m.readMem()
	if !ok {
		return
	}
	if float64(used) < 0.8*float64(m.memoryLimitBytes) {
		return
	}

	m.mu.Lock()
	caches := make(map[string]Store, len(m.caches))
	for name, s := range m.caches {
		caches[name] = s
	}
	m.mu.Unlock()

	for name, s := range caches {
		n := int(math.Ceil(float64(s.Len()) * 0.1))
		if n == 0 {
			continue
		}
		evicted := s.ShedMemoryPressure(n)
		if evicted > 0 {
			slog.Info("Cache: memory pressure eviction", "cache", name, "evicted", evicted)
		}
	}
}

// snapshotRecord is one entry of the persisted stats file.
type snapshotRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Summary   Summary   `json:"summary"`
}

const maxSnapshotRecords = 100

// PersistSnapshot appends the current stats summary to a rolling JSON file
// keeping at most the last 100 records. Best-effort: failures are logged
// and dropped.
func (m *Manager) PersistSnapshot(path string) {
	if path == "" {
		return
	}

	var records []snapshotRecord
	if data, err := os.ReadFile(path); err == nil {
		// A corrupt file is discarded and rebuilt
		_ = json.Unmarshal(data, &records)
	}

	records = append(records, snapshotRecord{
		Timestamp: time.Now(),
		Summary:   m.StatsSummary(),
	})
	if len(records) > maxSnapshotRecords {
		records = records[len(records)-maxSnapshotRecords:]
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		slog.Error("Cache: failed to marshal stats snapshot", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Error("Cache: failed to create snapshot directory", "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Error("Cache: failed to write stats snapshot", "error", err)
	}
}
