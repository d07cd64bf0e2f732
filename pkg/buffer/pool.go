package buffer

import (
	"sync"

	"go.uber.org/atomic"
)

// Size classes, roughly powers of 4.
const (
	class256B = 256
	class1KB  = 1024
	class4KB  = 4096
	class16KB = 16384
	class64KB = 65536
	numClass  = 5

	// MaxPooledSize is the largest storage size kept by a Pool. Larger
	// buffers are allocated directly and left to the garbage collector.
	MaxPooledSize = class64KB
)

var classSizes = [numClass]int{class256B, class1KB, class4KB, class16KB, class64KB}

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	Acquired  int64
	Reclaimed int64
	Oversize  int64
	Discarded int64
}

// Pool hands out reference-counted MemoryBuffers backed by size-class
// storage. A Pool is safe for concurrent use and never blocks.
type Pool struct {
	classes [numClass]sync.Pool

	acquired  atomic.Int64
	reclaimed atomic.Int64
	oversize  atomic.Int64
	discarded atomic.Int64
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	p := &Pool{}
	for i := range p.classes {
		size := classSizes[i]
		p.classes[i].New = func() any {
			slab := make([]byte, size)
			return &slab
		}
	}
	return p
}

func classFor(size int) int {
	for i, s := range classSizes {
		if size <= s {
			return i
		}
	}
	return -1
}

func classOf(capacity int) int {
	for i, s := range classSizes {
		if capacity == s {
			return i
		}
	}
	return -1
}

// Acquire returns an empty buffer with at least sizeHint bytes of capacity
// and a reference count of one. The buffer stays growable; storage grown
// past its size class is not returned to the pool.
func (p *Pool) Acquire(sizeHint int) *MemoryBuffer {
	if sizeHint <= 0 {
		sizeHint = class256B
	}
	p.acquired.Inc()

	b := &MemoryBuffer{
		refs: atomic.NewInt32(1),
		pool: p,
	}
	if idx := classFor(sizeHint); idx >= 0 {
		b.slab = p.classes[idx].Get().(*[]byte)
		b.data = *b.slab
	} else {
		p.oversize.Inc()
		b.data = make([]byte, sizeHint)
	}
	return b
}

// Release drops one reference on b. It reports whether the storage was
// reclaimed.
func (p *Pool) Release(b *MemoryBuffer) bool {
	return b.Release()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Acquired:  p.acquired.Load(),
		Reclaimed: p.reclaimed.Load(),
		Oversize:  p.oversize.Load(),
		Discarded: p.discarded.Load(),
	}
}

// put returns data to its size class. The pool holds *[]byte so Put does
// not allocate; slab is reused when data is still the storage it was
// acquired with.
func (p *Pool) put(slab *[]byte, data []byte) {
	idx := classOf(cap(data))
	if idx < 0 {
		p.discarded.Inc()
		return
	}
	data = data[:cap(data)]
	if slab == nil || len(*slab) == 0 || &(*slab)[0] != &data[0] {
		fresh := data
		slab = &fresh
	} else {
		*slab = data
	}
	p.reclaimed.Inc()
	p.classes[idx].Put(slab)
}
