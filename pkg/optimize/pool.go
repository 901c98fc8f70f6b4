package optimize

import (
	"bytes"
	"sync"
)

// BufferPool recycles byte buffers for per-frame encoding.
type BufferPool struct {
	pool    sync.Pool
	maxSize int
}

// NewBufferPool creates buffers with initial capacity. Buffers that grew
// beyond maxSize are dropped on Put instead of being kept alive.
func NewBufferPool(initial, maxSize int) *BufferPool {
	return &BufferPool{
		maxSize: maxSize,
		pool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, initial))
			},
		},
	}
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

// Put resets b and returns it to the pool.
func (p *BufferPool) Put(b *bytes.Buffer) {
	if b == nil || (p.maxSize > 0 && b.Cap() > p.maxSize) {
		return
	}
	b.Reset()
	p.pool.Put(b)
}

// SamplePool recycles PCM scratch slices of a fixed length.
type SamplePool struct {
	pool sync.Pool
	size int
}

func NewSamplePool(size int) *SamplePool {
	return &SamplePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				s := make([]int32, size)
				return &s
			},
		},
	}
}

// Get returns a zeroed slice of the pool's length.
func (p *SamplePool) Get() []int32 {
	s := *p.pool.Get().(*[]int32)
	for i := range s {
		s[i] = 0
	}
	return s
}

func (p *SamplePool) Put(s []int32) {
	if cap(s) < p.size {
		return
	}
	s = s[:p.size]
	p.pool.Put(&s)
}
