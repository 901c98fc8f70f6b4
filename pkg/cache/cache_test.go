package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestCache_Expiry(t *testing.T) {
	c := New[string, int](time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, c.Len())

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	c.Set("b", 2)
	c.Delete("b")
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCache_GetOrLoadDedupes(t *testing.T) {
	c := New[string, string](time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
				calls.Inc()
				<-release
				return "loaded", nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "loaded", v)
	}
}

func TestCache_FailedLoadNotCached(t *testing.T) {
	c := New[string, int](time.Minute)
	boom := errors.New("boom")

	_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
