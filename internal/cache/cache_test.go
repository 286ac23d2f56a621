package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	hits, misses int
}

func (m *countingMetrics) IncrementCacheHit()  { m.hits++ }
func (m *countingMetrics) IncrementCacheMiss() { m.misses++ }

func TestCache_SetGet(t *testing.T) {
	metrics := &countingMetrics{}
	c := NewCache(time.Minute).WithMetrics(metrics)
	defer c.Close()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", []byte("v"))
	data, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	assert.Equal(t, 1, metrics.hits)
	assert.Equal(t, 1, metrics.misses)
}

func TestCache_Expiry(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	defer c.Close()

	c.Set("k", []byte("v"))
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats()["total_items"])
}

func TestCache_DeletePrefix(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Close()

	c.Set("leaderboard:acme/widgets:cumulative", []byte("1"))
	c.Set("leaderboard:acme/widgets:latest", []byte("2"))
	c.Set("leaderboard:acme/other:latest", []byte("3"))

	assert.Equal(t, 2, c.DeletePrefix("leaderboard:acme/widgets:"))
	assert.Equal(t, 1, c.Stats()["total_items"])
}

func TestCache_JSON(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Close()

	type row struct {
		Login string `json:"login"`
		Score int    `json:"score"`
	}

	require.NoError(t, c.SetJSON("rows", []row{{"alice", 80}}))

	var out []row
	require.True(t, c.GetJSON("rows", &out))
	assert.Equal(t, []row{{"alice", 80}}, out)

	assert.False(t, c.GetJSON("nope", &out))
}
