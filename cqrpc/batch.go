// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import "sync"

// batch is one assembled submission unit: the contiguous slot buffer plus
// the combined release procedure over every descriptor's cleanup.
type batch struct {
	slots []OpSlot
	ops   []*Operation

	// releaseOnce guarantees exactly-once release on every exit path:
	// normal completion, operation failure, rejection, and the deferred
	// path after a timed-out or interrupted wait.
	releaseOnce sync.Once
}

// assembleBatch packs the ordered descriptors into sequential slots. Each
// slot is zeroed before the descriptor writes its fields so transport
// reserved fields stay neutral. Descriptor order must match protocol
// legality; duplicate op types within one batch are the caller's bug.
func assembleBatch(ops []*Operation) *batch {
	slots := make([]OpSlot, len(ops))
	for i, op := range ops {
		slots[i] = OpSlot{}
		op.contribute(&slots[i])
	}
	return &batch{slots: slots, ops: ops}
}

// release runs every descriptor's cleanup exactly once. The first caller
// wins; the success flag of later calls is ignored.
func (b *batch) release(success bool) {
	b.releaseOnce.Do(func() {
		for _, op := range b.ops {
			op.finish(success)
		}
	})
}
