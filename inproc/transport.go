// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package inproc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/Query-farm/cq-rpc-go/cqrpc"
)

// Transport is an in-process cqrpc.Transport. One Transport plays both the
// wire layer and the peer: registered method handlers produce the peer's
// side of every call.
type Transport struct {
	mu      sync.Mutex
	methods map[string]*methodInfo

	latencyNs  atomic.Int64
	rejectCode atomic.Int64
	initialMD  cqrpc.Metadata
	trailing   cqrpc.Metadata

	cq *completionQueue
	wg sync.WaitGroup

	allocated   atomic.Int64
	freed       atomic.Int64
	doubleFrees atomic.Int64
	afterFrees  atomic.Int64
	batches     atomic.Int64
}

// New creates an empty in-process transport.
func New() *Transport {
	return &Transport{
		methods: make(map[string]*methodInfo),
		cq:      newCompletionQueue(),
	}
}

// Channel returns a channel bound to the given destination authority.
func (t *Transport) Channel(authority string) cqrpc.Channel {
	return &channel{t: t, authority: []byte(authority)}
}

type channel struct {
	t         *Transport
	authority []byte
}

func (ch *channel) Authority() []byte { return ch.authority }

// SetLatency injects a processing delay before every submitted batch runs.
func (t *Transport) SetLatency(d time.Duration) {
	t.latencyNs.Store(int64(d))
}

// RejectSubmissions makes SubmitBatch return the given code. SubmitOK
// restores normal acceptance.
func (t *Transport) RejectSubmissions(code cqrpc.SubmitCode) {
	t.rejectCode.Store(int64(code))
}

// SetInitialMetadata sets extra entries the peer includes in its initial
// metadata block.
func (t *Transport) SetInitialMetadata(md cqrpc.Metadata) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialMD = md.Clone()
}

// SetTrailing sets extra entries the peer attaches to trailing metadata.
func (t *Transport) SetTrailing(md cqrpc.Metadata) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trailing = md.Clone()
}

// Shutdown makes completion waits report queue shutdown.
func (t *Transport) Shutdown() {
	t.cq.close()
}

// Batches returns the number of batches accepted so far.
func (t *Transport) Batches() int64 { return t.batches.Load() }

// Allocated returns the number of scratch objects handed out.
func (t *Transport) Allocated() int64 { return t.allocated.Load() }

// Freed returns the number of scratch objects released exactly once.
func (t *Transport) Freed() int64 { return t.freed.Load() }

// DoubleFrees returns the number of redundant Free calls observed.
func (t *Transport) DoubleFrees() int64 { return t.doubleFrees.Load() }

// ReadsAfterFree returns the number of scratch reads after release.
func (t *Transport) ReadsAfterFree() int64 { return t.afterFrees.Load() }

// WaitQuiesce blocks until every accepted batch worker has finished and
// every scratch object has been returned, so the fault counters are final.
// Deferred releases run on their own goroutines after the worker posts its
// event, so worker completion alone is not enough. Returns false on
// timeout, which indicates a leak.
func (t *Transport) WaitQuiesce(timeout time.Duration) bool {
	workersDone := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(workersDone)
	}()
	deadline := time.After(timeout)
	select {
	case <-workersDone:
	case <-deadline:
		return false
	}
	for t.allocated.Load() != t.freed.Load() {
		select {
		case <-deadline:
			return false
		case <-time.After(time.Millisecond):
		}
	}
	return true
}

// --- cqrpc.Transport implementation ---

// CreateCall binds a call to a registered method. Unknown methods still
// yield a handle; the peer resolves them to an UNIMPLEMENTED status.
func (t *Transport) CreateCall(ch cqrpc.Channel, spec cqrpc.CallSpec) (cqrpc.CallHandle, error) {
	t.mu.Lock()
	info := t.methods[string(spec.Method)]
	t.mu.Unlock()
	c := &call{
		t:         t,
		method:    append([]byte(nil), spec.Method...),
		authority: append([]byte(nil), spec.Authority...),
		deadline:  spec.Deadline,
		info:      info,
	}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

// DestroyCall marks the call dead and wakes any batch worker blocked on it.
// Pending tags still resolve afterwards (with an operation error).
func (t *Transport) DestroyCall(h cqrpc.CallHandle) {
	c := h.(*call)
	c.mu.Lock()
	c.destroyed = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// SubmitBatch accepts a tagged batch and executes it on a worker goroutine.
func (t *Transport) SubmitBatch(h cqrpc.CallHandle, slots []cqrpc.OpSlot, tag cqrpc.Tag) cqrpc.SubmitCode {
	if code := cqrpc.SubmitCode(t.rejectCode.Load()); code != cqrpc.SubmitOK {
		return code
	}
	c := h.(*call)
	buf := append([]cqrpc.OpSlot(nil), slots...)
	t.batches.Add(1)
	t.wg.Add(1)
	go t.runBatch(c, buf, tag)
	return cqrpc.SubmitOK
}

// AwaitEvent blocks for the tagged completion event. A timed-out or
// cancelled wait leaves the event in the queue for a later wait.
func (t *Transport) AwaitEvent(ctx context.Context, tag cqrpc.Tag, deadline time.Time) cqrpc.EventOutcome {
	return t.cq.await(ctx, tag, deadline)
}

// --- scratch allocation with fault tracking ---

func (t *Transport) AllocMetadataArray() cqrpc.MetadataArray {
	t.allocated.Add(1)
	return &metadataArray{tracked: tracked{owner: t}}
}

func (t *Transport) AllocByteBuffer(p []byte) cqrpc.ByteBuffer {
	t.allocated.Add(1)
	return &byteBuffer{tracked: tracked{owner: t}, p: append([]byte(nil), p...)}
}

func (t *Transport) AllocMessageSlot() cqrpc.MessageSlot {
	t.allocated.Add(1)
	return &messageSlot{tracked: tracked{owner: t}}
}

func (t *Transport) AllocStatusSlot() cqrpc.StatusSlot {
	t.allocated.Add(1)
	return &statusSlot{tracked: tracked{owner: t}}
}

// tracked is the common free-exactly-once accounting for scratch objects.
type tracked struct {
	owner *Transport
	freed atomic.Bool
}

func (a *tracked) release() {
	if a.freed.Swap(true) {
		a.owner.doubleFrees.Add(1)
		return
	}
	a.owner.freed.Add(1)
}

func (a *tracked) checkLive() {
	if a.freed.Load() {
		a.owner.afterFrees.Add(1)
	}
}

type metadataArray struct {
	tracked
	mu      sync.Mutex
	entries cqrpc.Metadata
}

func (m *metadataArray) set(md cqrpc.Metadata) {
	m.checkLive()
	m.mu.Lock()
	m.entries = md
	m.mu.Unlock()
}

func (m *metadataArray) Entries() cqrpc.Metadata {
	m.checkLive()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries
}

func (m *metadataArray) Free() { m.release() }

type byteBuffer struct {
	tracked
	p []byte
}

func (b *byteBuffer) Bytes() []byte {
	b.checkLive()
	return b.p
}

func (b *byteBuffer) Free() { b.release() }

type messageSlot struct {
	tracked
	mu  sync.Mutex
	buf *byteBuffer
}

func (m *messageSlot) set(buf *byteBuffer) {
	m.checkLive()
	m.mu.Lock()
	m.buf = buf
	m.mu.Unlock()
}

func (m *messageSlot) Buffer() cqrpc.ByteBuffer {
	m.checkLive()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buf == nil {
		return nil
	}
	return m.buf
}

// Free releases the slot and the buffer it holds, if any.
func (m *messageSlot) Free() {
	m.mu.Lock()
	buf := m.buf
	m.mu.Unlock()
	if buf != nil {
		buf.release()
	}
	m.release()
}

type statusSlot struct {
	tracked
	mu     sync.Mutex
	code   cqrpc.StatusCode
	detail []byte
}

func (s *statusSlot) set(code cqrpc.StatusCode, detail []byte) {
	s.checkLive()
	s.mu.Lock()
	s.code = code
	s.detail = detail
	s.mu.Unlock()
}

func (s *statusSlot) Code() cqrpc.StatusCode {
	s.checkLive()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

func (s *statusSlot) Detail() []byte {
	s.checkLive()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detail
}

func (s *statusSlot) Free() { s.release() }

// --- completion queue ---

type completionEvent struct {
	tag     cqrpc.Tag
	outcome cqrpc.EventOutcome
}

// completionQueue is a FIFO of resolved tags. Waiters scan for their tag
// and leave foreign events queued in arrival order.
type completionQueue struct {
	mu      sync.Mutex
	events  *queue.Queue
	changed chan struct{}
	down    bool
}

func newCompletionQueue() *completionQueue {
	return &completionQueue{
		events:  queue.New(),
		changed: make(chan struct{}),
	}
}

func (q *completionQueue) signalLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *completionQueue) post(tag cqrpc.Tag, outcome cqrpc.EventOutcome) {
	q.mu.Lock()
	q.events.Add(completionEvent{tag: tag, outcome: outcome})
	q.signalLocked()
	q.mu.Unlock()
}

func (q *completionQueue) close() {
	q.mu.Lock()
	q.down = true
	q.signalLocked()
	q.mu.Unlock()
}

func (q *completionQueue) await(ctx context.Context, tag cqrpc.Tag, deadline time.Time) cqrpc.EventOutcome {
	var timeC <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeC = timer.C
	}
	for {
		q.mu.Lock()
		// Rotate through the FIFO looking for our tag.
		for n := q.events.Length(); n > 0; n-- {
			ev := q.events.Remove().(completionEvent)
			if ev.tag == tag {
				q.mu.Unlock()
				return ev.outcome
			}
			q.events.Add(ev)
		}
		if q.down {
			q.mu.Unlock()
			return cqrpc.EventShutdown
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return cqrpc.EventTimedOut
		case <-timeC:
			return cqrpc.EventTimedOut
		}
	}
}
