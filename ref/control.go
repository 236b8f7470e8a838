package ref

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// control is the type-erased view of a control block. Handles hold a
// control so that Strong[T] does not carry the deleter type.
type control interface {
	retainStrong()
	releaseStrong()
	retainWeak()
	releaseWeak()
	tryPromote() bool
	useCount() int64
	weakCount() int64
}

var (
	blockSeq     atomic.Uint64
	liveBlocks   atomic.Int64
	livePayloads atomic.Int64
)

// Stats is a snapshot of process-wide control block gauges.
type Stats struct {
	Blocks   int64 // control blocks not yet reclaimed
	Payloads int64 // payloads not yet destroyed
}

// ReadStats returns the current gauges.
func ReadStats() Stats {
	return Stats{
		Blocks:   liveBlocks.Load(),
		Payloads: livePayloads.Load(),
	}
}

// block is the concrete control block for one (payload, deleter) pair.
type block[T any, D Deleter[T]] struct {
	counts
	ptr     *T
	deleter D
	id      uint64
}

func newBlock[T any, D Deleter[T]](p *T, d D) *block[T, D] {
	b := &block[T, D]{
		ptr:     p,
		deleter: d,
		id:      blockSeq.Add(1),
	}
	b.init()
	liveBlocks.Add(1)
	livePayloads.Add(1)
	return b
}

func (b *block[T, D]) releaseStrong() {
	if !b.counts.releaseStrong() {
		return
	}
	defer b.releaseWeak()
	b.destroy()
}

func (b *block[T, D]) releaseWeak() {
	if b.counts.releaseWeak() {
		b.reclaim()
	}
}

// destroy runs the deleter. Only the goroutine that took the strong count
// to zero gets here.
func (b *block[T, D]) destroy() {
	defer livePayloads.Add(-1)
	b.deleter.Delete(b.ptr)

	if ce := Logger().Check(zap.DebugLevel, "payload destroyed"); ce != nil {
		ce.Write(
			zap.Uint64("block", b.id),
			zap.String("type", fmt.Sprintf("%T", b.ptr)),
			zap.Int64("observers", b.weak.Load()-1),
		)
	}
}

// reclaim drops the block's references once no handle of either kind
// remains.
func (b *block[T, D]) reclaim() {
	var zero D
	b.ptr = nil
	b.deleter = zero
	liveBlocks.Add(-1)

	if ce := Logger().Check(zap.DebugLevel, "control block reclaimed"); ce != nil {
		ce.Write(zap.Uint64("block", b.id))
	}
}
