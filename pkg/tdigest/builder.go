package tdigest

import (
	"sync"

	"github.com/TFMV/alloctrace/pkg/errors"
)

// Builder accumulates values into a digest. Pushed values buffer until
// the buffer reaches the digest size, then fold into the digest in one
// merge.
//
// Ownership contract: a builder is either freed with Free or consumed
// by Build, never both. Every operation on a consumed builder fails
// with ErrBuilderConsumed.
type Builder struct {
	mu       sync.Mutex
	buffer   []float64
	digested *TDigest
	consumed bool
}

// NewBuilder creates a builder targeting a digest of the given size.
func NewBuilder(size int) *Builder {
	return &Builder{
		buffer:   make([]float64, 0, size),
		digested: NewWithSize(size),
	}
}

// Push adds a value.
func (b *Builder) Push(value float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return errors.ErrBuilderConsumed
	}
	b.buffer = append(b.buffer, value)
	if len(b.buffer) >= b.digested.maxSize {
		b.fold()
	}
	return nil
}

// fold merges the buffered values into the digest. Caller holds b.mu.
func (b *Builder) fold() {
	if len(b.buffer) == 0 {
		return
	}
	b.digested = b.digested.MergeUnsorted(b.buffer)
	b.buffer = b.buffer[:0]
}

// Merge folds other into b and consumes other. The two builders must
// not be touched concurrently with this call.
func (b *Builder) Merge(other *Builder) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return errors.ErrBuilderConsumed
	}

	other.mu.Lock()
	defer other.mu.Unlock()
	if other.consumed {
		return errors.ErrBuilderConsumed
	}

	b.fold()
	other.fold()
	b.digested = MergeDigests([]*TDigest{b.digested, other.digested})
	other.consumed = true
	other.digested = nil
	return nil
}

// Build folds the remaining buffer, consumes the builder, and returns
// the immutable digest. A built builder must not be freed.
func (b *Builder) Build() (*TDigest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return nil, errors.ErrBuilderConsumed
	}
	b.fold()
	td := b.digested
	b.consumed = true
	b.digested = nil
	return td, nil
}

// Free releases a builder that has not been built. Freeing a consumed
// builder is a use-after-consume error.
func (b *Builder) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return errors.ErrBuilderConsumed
	}
	b.consumed = true
	b.buffer = nil
	b.digested = nil
	return nil
}
