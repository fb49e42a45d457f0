package ivf

import (
	"sync"
	"sync/atomic"
)

// Partition is an append-only list of (row id, payload) entries owned by one
// centroid. The payload is either a quantized code (codeWidth bytes) or a raw
// vector (vecWidth floats), depending on how the index was configured.
//
// Concurrency: appends are serialized by an internal mutex; readers never
// block. A block's slices are sized once and never resliced after the block
// pointer is published; the writer fills the slot past the published count
// and then advances the count atomically, so a reader always sees fully
// written entries and never a partial one. Existing entries are never
// reordered or mutated.
type Partition struct {
	codeWidth int // bytes per entry, 0 when storing raw vectors
	vecWidth  int // floats per entry, 0 when storing codes

	mu    sync.Mutex
	count atomic.Int64
	block atomic.Pointer[partitionBlock]
}

// partitionBlock slices always have len == cap; entries beyond the published
// count are allocated but not yet readable.
type partitionBlock struct {
	ids   []uint64
	codes []byte
	vecs  []float32
}

func newBlock(capEntries, codeWidth, vecWidth int) *partitionBlock {
	b := &partitionBlock{ids: make([]uint64, capEntries)}
	if codeWidth > 0 {
		b.codes = make([]byte, capEntries*codeWidth)
	}
	if vecWidth > 0 {
		b.vecs = make([]float32, capEntries*vecWidth)
	}
	return b
}

// NewCodePartition creates a partition storing fixed-width quantized codes.
func NewCodePartition(codeWidth int) *Partition {
	p := &Partition{codeWidth: codeWidth}
	p.block.Store(newBlock(0, codeWidth, 0))
	return p
}

// NewVectorPartition creates a partition storing raw vectors.
func NewVectorPartition(dim int) *Partition {
	p := &Partition{vecWidth: dim}
	p.block.Store(newBlock(0, 0, dim))
	return p
}

// Append adds an entry. code or vec must match the configured width.
func (p *Partition) Append(id uint64, code []byte, vec []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := int(p.count.Load())
	b := p.block.Load()

	if n == len(b.ids) {
		newCap := len(b.ids) * 2
		if newCap < 16 {
			newCap = 16
		}
		grown := newBlock(newCap, p.codeWidth, p.vecWidth)
		copy(grown.ids, b.ids[:n])
		copy(grown.codes, b.codes[:n*p.codeWidth])
		copy(grown.vecs, b.vecs[:n*p.vecWidth])
		p.block.Store(grown)
		b = grown
	}

	b.ids[n] = id
	if p.codeWidth > 0 {
		copy(b.codes[n*p.codeWidth:(n+1)*p.codeWidth], code)
	}
	if p.vecWidth > 0 {
		copy(b.vecs[n*p.vecWidth:(n+1)*p.vecWidth], vec)
	}

	// Publish after the entry is fully written.
	p.count.Store(int64(n + 1))
}

// Len returns the published entry count.
func (p *Partition) Len() int {
	return int(p.count.Load())
}

// Snapshot returns a consistent read view of the published entries.
// codes is nil for vector partitions; vecs is nil for code partitions.
func (p *Partition) Snapshot() (ids []uint64, codes []byte, vecs []float32) {
	// Load order matters: reading the count before the block guarantees the
	// block observed holds at least count fully written entries.
	n := int(p.count.Load())
	b := p.block.Load()

	ids = b.ids[:n:n]
	if p.codeWidth > 0 {
		codes = b.codes[: n*p.codeWidth : n*p.codeWidth]
	}
	if p.vecWidth > 0 {
		vecs = b.vecs[: n*p.vecWidth : n*p.vecWidth]
	}
	return ids, codes, vecs
}
