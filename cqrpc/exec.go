// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// runBatch is the synchronous batch executor: it assembles the descriptors,
// submits them under the session's exclusive handle lock with a fresh tag,
// releases the lock, and blocks outside the lock waiting for the tagged
// completion event.
//
// Buffer release is guaranteed exactly once on every path. After a timed-out
// or interrupted wait the transport still resolves the tag eventually, so
// release is deferred to that resolution instead of performed immediately;
// releasing right away would race the transport's asynchronous completion of
// the same tag (premature free), and releasing on both paths would double
// free. The release guard plus the deferred drain below close that hazard.
func (s *Session) runBatch(ctx context.Context, ops []*Operation) error {
	b := assembleBatch(ops)
	tag := nextTag()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		b.release(false)
		return ErrCallClosed
	}
	code := s.tr.SubmitBatch(s.handle, b.slots, tag)
	// The handle is not needed again until the next batch; waiting happens
	// outside the lock.
	s.mu.Unlock()

	if code != SubmitOK {
		b.release(false)
		return &SubmissionError{Code: code}
	}

	slog.Debug("cqrpc: batch submitted", "tag", uint64(tag), "ops", len(ops))

	switch outcome := s.tr.AwaitEvent(ctx, tag, s.deadline); outcome {
	case EventSuccess:
		b.release(true)
		for _, op := range ops {
			s.absorb(op)
		}
		return nil
	case EventOperationError:
		b.release(false)
		return ErrOperationFailed
	case EventShutdown:
		b.release(false)
		return ErrQueueShutdown
	case EventTimedOut:
		// The event was not consumed. Hold the buffers until the tag's
		// eventual resolution, then release exactly once.
		go func() {
			s.tr.AwaitEvent(context.Background(), tag, time.Time{})
			b.release(false)
		}()
		if err := context.Cause(ctx); err != nil {
			return fmt.Errorf("cqrpc: batch wait interrupted: %w", err)
		}
		return ErrDeadlineExceeded
	default:
		b.release(false)
		return fmt.Errorf("cqrpc: unknown completion outcome %d", int(outcome))
	}
}

// absorb mirrors a receive descriptor's result cell into the session's
// single-write caches.
func (s *Session) absorb(op *Operation) {
	switch op.typ {
	case OpRecvInitialMetadata:
		s.setInitialMetadata(op.InitialMetadata())
	case OpRecvStatusOnClient:
		s.setStatus(op.Status())
	}
}
