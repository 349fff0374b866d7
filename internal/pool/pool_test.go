package pool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcPin(t *testing.T) {
	n := ProcPin()
	ProcUnpin()
	assert.GreaterOrEqual(t, n, 0)

	var wg sync.WaitGroup
	for i := 0; i < runtime.GOMAXPROCS(0); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := ProcPin()
			ProcUnpin()
			assert.GreaterOrEqual(t, n, 0)
		}()
	}
	wg.Wait()
}

// Pool[T] stores each element through a single pointer-width dequeue
// slot (pool_queue.go), so T itself must be pointer-width — these tests
// pool *[]byte, not []byte, for the same reason watcher.go does.

func TestBufferPoolGetPut(t *testing.T) {
	p := &Pool[*[]byte]{
		New: func() *[]byte { b := make([]byte, 0, 4096); return &b },
	}

	buf := p.Get()
	require.NotNil(t, buf)
	*buf = append(*buf, "hotpatch"...)
	p.Put(buf)

	buf2 := p.Get()
	assert.Equal(t, 4096, cap(*buf2))
}

func TestBufferPoolConcurrent(t *testing.T) {
	p := &Pool[*[]byte]{
		New: func() *[]byte { b := make([]byte, 0, 64); return &b },
	}

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := p.Get()
			*buf = append((*buf)[:0], make([]byte, 32)...)
			p.Put(buf)
		}()
	}
	wg.Wait()
}

// newWrappingDequeue builds a dequeue whose head and tail indexes start
// 500 slots short of the 32-bit wrap point, so a sequence of more than
// 500 pushes crosses it.
func newWrappingDequeue[T any](n int) *poolDequeue[T] {
	d := &poolDequeue[T]{vals: make([]atomic.Pointer[T], n)}
	d.headTail.Store(d.pack(1<<dequeueBits-500, 1<<dequeueBits-500))
	return d
}

func TestDequeuePushPop(t *testing.T) {
	d := newWrappingDequeue[int](16)
	require.True(t, d.pushHead(1))
	require.True(t, d.pushHead(2))

	v, ok := d.popTail()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = d.popHead()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = d.popHead()
	assert.False(t, ok)
}

func BenchmarkScratchPool(b *testing.B) {
	p := &Pool[*[]byte]{
		New: func() *[]byte { buf := make([]byte, 0, 4096); return &buf },
	}
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := p.Get()
			*buf = append((*buf)[:0], "scratch"...)
			p.Put(buf)
		}
	})
}

func BenchmarkSyncPoolBaseline(b *testing.B) {
	p := &sync.Pool{
		New: func() any { buf := make([]byte, 0, 4096); return &buf },
	}
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := p.Get().(*[]byte)
			*buf = append((*buf)[:0], "scratch"...)
			p.Put(buf)
		}
	})
}

func TestChainGrows(t *testing.T) {
	c := new(poolChain[int])
	for i := 0; i < 100; i++ {
		c.pushHead(i)
	}
	count := 0
	for {
		if _, ok := c.popTail(); !ok {
			break
		}
		count++
	}
	assert.Equal(t, 100, count)
}
