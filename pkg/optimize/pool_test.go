package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferPool_ResetsOnPut(t *testing.T) {
	pool := NewBufferPool(16, 1024)

	buf := pool.Get()
	assert.Zero(t, buf.Len())
	buf.WriteString("frame")
	pool.Put(buf)

	assert.Zero(t, pool.Get().Len())
}

func TestBufferPool_DropsOversized(t *testing.T) {
	pool := NewBufferPool(16, 64)
	buf := pool.Get()
	buf.Write(make([]byte, 4096))
	pool.Put(buf)

	assert.Equal(t, "", pool.Get().String())
	pool.Put(nil)
}

func TestSamplePool_ZeroesSlices(t *testing.T) {
	pool := NewSamplePool(8)

	s := pool.Get()
	assert.Len(t, s, 8)
	for i := range s {
		s[i] = int32(i + 1)
	}
	pool.Put(s)

	again := pool.Get()
	assert.Len(t, again, 8)
	for _, v := range again {
		assert.Zero(t, v)
	}

	pool.Put(make([]int32, 2))
	assert.Len(t, pool.Get(), 8)
}

func BenchmarkBufferPool(b *testing.B) {
	pool := NewBufferPool(64<<10, 1<<20)
	payload := make([]byte, 32<<10)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := pool.Get()
		buf.Write(payload)
		pool.Put(buf)
	}
}
