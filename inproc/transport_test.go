// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package inproc

import (
	"context"
	"testing"
	"time"

	"github.com/Query-farm/cq-rpc-go/cqrpc"
)

func TestCompletionQueueResolvesTags(t *testing.T) {
	q := newCompletionQueue()
	ctx := context.Background()

	q.post(1, cqrpc.EventSuccess)
	q.post(2, cqrpc.EventOperationError)

	// Waiting for the later tag leaves the earlier event queued.
	if got := q.await(ctx, 2, time.Time{}); got != cqrpc.EventOperationError {
		t.Errorf("tag 2 outcome = %v", got)
	}
	if got := q.await(ctx, 1, time.Time{}); got != cqrpc.EventSuccess {
		t.Errorf("tag 1 outcome = %v", got)
	}
}

func TestCompletionQueueTimedOut(t *testing.T) {
	q := newCompletionQueue()
	deadline := time.Now().Add(5 * time.Millisecond)
	if got := q.await(context.Background(), 9, deadline); got != cqrpc.EventTimedOut {
		t.Errorf("outcome = %v, want EventTimedOut", got)
	}
}

func TestCompletionQueueContextCancel(t *testing.T) {
	q := newCompletionQueue()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(time.Millisecond)
		cancel()
	}()
	if got := q.await(ctx, 9, time.Time{}); got != cqrpc.EventTimedOut {
		t.Errorf("outcome = %v, want EventTimedOut", got)
	}
}

func TestCompletionQueueShutdownWakesWaiters(t *testing.T) {
	q := newCompletionQueue()
	done := make(chan cqrpc.EventOutcome, 1)
	go func() {
		done <- q.await(context.Background(), 9, time.Time{})
	}()
	time.Sleep(time.Millisecond)
	q.close()
	select {
	case got := <-done:
		if got != cqrpc.EventShutdown {
			t.Errorf("outcome = %v, want EventShutdown", got)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by shutdown")
	}
}

// TestEventSurvivesAbandonedWait checks the deferred-resolution contract: a
// wait that times out leaves the tag unresolved, and a later wait for the
// same tag still observes the event.
func TestEventSurvivesAbandonedWait(t *testing.T) {
	q := newCompletionQueue()
	ctx := context.Background()

	if got := q.await(ctx, 7, time.Now().Add(time.Millisecond)); got != cqrpc.EventTimedOut {
		t.Fatalf("first wait = %v", got)
	}
	q.post(7, cqrpc.EventSuccess)
	if got := q.await(ctx, 7, time.Time{}); got != cqrpc.EventSuccess {
		t.Errorf("second wait = %v", got)
	}
}

func TestTrackedFaultCounters(t *testing.T) {
	tr := New()

	buf := tr.AllocByteBuffer([]byte("x"))
	if tr.Allocated() != 1 {
		t.Fatalf("allocated = %d", tr.Allocated())
	}
	buf.Free()
	if tr.Freed() != 1 {
		t.Errorf("freed = %d", tr.Freed())
	}

	buf.Free()
	if tr.DoubleFrees() != 1 {
		t.Errorf("double frees = %d", tr.DoubleFrees())
	}

	buf.Bytes()
	if tr.ReadsAfterFree() != 1 {
		t.Errorf("reads after free = %d", tr.ReadsAfterFree())
	}
}

func TestMessageSlotFreesHeldBuffer(t *testing.T) {
	tr := New()

	slot := tr.AllocMessageSlot().(*messageSlot)
	buf := tr.AllocByteBuffer([]byte("payload")).(*byteBuffer)
	slot.set(buf)

	slot.Free()
	if tr.Freed() != 2 {
		t.Errorf("freed = %d, want slot and buffer", tr.Freed())
	}
	if tr.DoubleFrees() != 0 {
		t.Errorf("double frees = %d", tr.DoubleFrees())
	}
}

func TestSubmitBatchRejected(t *testing.T) {
	tr := New()
	tr.RejectSubmissions(3)

	h, err := tr.CreateCall(tr.Channel("a"), cqrpc.CallSpec{Method: []byte("m")})
	if err != nil {
		t.Fatal(err)
	}
	if code := tr.SubmitBatch(h, nil, 1); code != 3 {
		t.Errorf("code = %d", code)
	}
	if tr.Batches() != 0 {
		t.Errorf("batches = %d", tr.Batches())
	}

	tr.RejectSubmissions(cqrpc.SubmitOK)
	if code := tr.SubmitBatch(h, nil, 2); code != cqrpc.SubmitOK {
		t.Errorf("code after restore = %d", code)
	}
	tr.WaitQuiesce(time.Second)
}

func TestDestroyCallWakesBlockedWorker(t *testing.T) {
	tr := New()
	tr.HandleExchange("echo", func(_ cqrpc.Metadata, in []byte) ([]byte, error) {
		return in, nil
	})

	h, err := tr.CreateCall(tr.Channel("a"), cqrpc.CallSpec{Method: []byte("echo")})
	if err != nil {
		t.Fatal(err)
	}

	// A recv with nothing inbound blocks its worker on the call state.
	slots := []cqrpc.OpSlot{{
		Type:        cqrpc.OpRecvMessage,
		RecvMessage: tr.AllocMessageSlot(),
	}}
	if code := tr.SubmitBatch(h, slots, 11); code != cqrpc.SubmitOK {
		t.Fatalf("submit: %d", code)
	}

	tr.DestroyCall(h)
	if got := tr.AwaitEvent(context.Background(), 11, time.Time{}); got != cqrpc.EventOperationError {
		t.Errorf("outcome = %v, want EventOperationError", got)
	}
	slots[0].RecvMessage.Free()
	if !tr.WaitQuiesce(time.Second) {
		t.Error("worker did not finish after destroy")
	}
}
