package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRegistersAPIResponsesByDefault(t *testing.T) {
	m := NewManager(0, time.Second)
	defer m.Close()

	require.NotNil(t, m.Get(NameAPIResponses))
	assert.Nil(t, m.Get(NameWeatherForecasts), "typed caches are registered by their owners")
}

func TestManagerStatsSummary(t *testing.T) {
	m := NewManager(0, time.Second)
	defer m.Close()

	c := New[string, int](Options{DefaultTTL: time.Minute, MaxSize: 10})
	m.Register("numbers", c)
	c.Set("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("missing")

	sum := m.StatsSummary()
	assert.Equal(t, 1, sum.Caches["numbers"].Size)
	assert.Equal(t, uint64(1), sum.Totals.Hits)
	assert.Equal(t, uint64(1), sum.Totals.Misses)
	assert.InDelta(t, 0.5, sum.Totals.HitRate, 1e-9)
}

func TestManagerMemoryPressureSheds(t *testing.T) {
	m := NewManager(100, time.Second) // 100 MB soft limit
	defer m.Close()

	c := New[string, int](Options{DefaultTTL: time.Hour, MaxSize: 1000})
	m.Register("numbers", c)
	for i := 0; i < 100; i++ {
		c.Set(string(rune(i)), i)
	}

	// Below 80% of the limit: nothing happens.
	m.readMem = func() (uint64, bool) { return 10 * 1024 * 1024, true }
	m.CheckMemoryPressure()
	assert.Equal(t, 100, c.Len())

	// Above 80%: shed 10% of each cache.
	m.readMem = func() (uint64, bool) { return 90 * 1024 * 1024, true }
	m.CheckMemoryPressure()
	assert.Equal(t, 90, c.Len())
	assert.Equal(t, uint64(10), c.Stats().EvictionsMemory)
}

func TestManagerMemoryPressureDisabledWithoutLimit(t *testing.T) {
	m := NewManager(0, time.Second)
	defer m.Close()

	c := New[string, int](Options{DefaultTTL: time.Hour, MaxSize: 1000})
	m.Register("numbers", c)
	c.Set("a", 1)

	m.readMem = func() (uint64, bool) { return 1 << 40, true }
	m.CheckMemoryPressure()
	assert.Equal(t, 1, c.Len())
}

func TestManagerGetBytesAutoCreates(t *testing.T) {
	m := NewManager(0, time.Second)
	defer m.Close()

	c := m.GetBytes("scratch")
	require.NotNil(t, c)
	c.Set("k", []byte("v"))

	again := m.GetBytes("scratch")
	v, ok := again.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestManagerPersistSnapshot(t *testing.T) {
	m := NewManager(0, time.Second)
	defer m.Close()

	path := filepath.Join(t.TempDir(), "stats.json")
	m.PersistSnapshot(path)
	m.PersistSnapshot(path)

	assert.FileExists(t, path)
}
