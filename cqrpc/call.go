// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"context"
	"sync"
	"time"
)

// Session is the per-call mutable record: the exclusive call handle plus
// idempotent single-write caches for initial metadata, trailing metadata,
// and the final status. At most one batch submission is in flight against
// the handle at any time; concurrent submitters serialize on the handle
// lock rather than fail.
type Session struct {
	tr       Transport
	handle   CallHandle
	deadline time.Time
	stats    *CallStats

	// mu is the exclusive call-handle lock: it serializes batch
	// submissions and guards closed.
	mu     sync.Mutex
	closed bool

	// cacheMu guards the single-write caches. Each cache transitions
	// unset -> set exactly once; later reads return the cached value
	// without a new wire round-trip.
	cacheMu       sync.Mutex
	initialMD     Metadata
	haveInitialMD bool
	status        RpcStatus
	haveStatus    bool
	endErr        error

	// onClose runs once when the session is closed, after the handle is
	// destroyed. Used for call-end hooks.
	closeOnce sync.Once
	onClose   func()
}

// newSession wraps a freshly created call handle.
func newSession(tr Transport, handle CallHandle, deadline time.Time, stats *CallStats) *Session {
	if stats == nil {
		stats = &CallStats{}
	}
	return &Session{tr: tr, handle: handle, deadline: deadline, stats: stats}
}

// Handle returns the underlying call handle.
func (s *Session) Handle() CallHandle {
	return s.handle
}

// Stats returns the session's I/O counters.
func (s *Session) Stats() *CallStats {
	return s.stats
}

func (s *Session) setInitialMetadata(md Metadata) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if !s.haveInitialMD {
		s.initialMD = md
		s.haveInitialMD = true
	}
}

func (s *Session) setStatus(st RpcStatus) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if !s.haveStatus {
		s.status = st
		s.haveStatus = true
	}
}

// noteError records the first error observed on the session, surfaced to
// call-end hooks.
func (s *Session) noteError(err error) {
	if err == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.endErr == nil {
		s.endErr = err
	}
}

func (s *Session) firstError() error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.endErr
}

func (s *Session) cachedInitialMetadata() (Metadata, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.initialMD, s.haveInitialMD
}

func (s *Session) cachedStatus() (RpcStatus, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.status, s.haveStatus
}

// InitialMetadata returns the peer's initial metadata. The block is read at
// most once from the wire; repeated calls return the cached value.
func (s *Session) InitialMetadata(ctx context.Context) (Metadata, error) {
	if md, ok := s.cachedInitialMetadata(); ok {
		return md, nil
	}
	op := opRecvInitialMetadata(s.tr)
	if err := s.runBatch(ctx, []*Operation{op}); err != nil {
		return nil, err
	}
	md, _ := s.cachedInitialMetadata()
	return md, nil
}

// Status blocks until the terminal status is available. Idempotent: the
// status is read at most once from the wire and cached.
func (s *Session) Status(ctx context.Context) (RpcStatus, error) {
	if st, ok := s.cachedStatus(); ok {
		return st, nil
	}
	op := opRecvStatus(s.tr)
	if err := s.runBatch(ctx, []*Operation{op}); err != nil {
		return RpcStatus{}, err
	}
	st, _ := s.cachedStatus()
	return st, nil
}

// Read receives the next message. ok is false when the stream ended without
// another message; that is not an error.
func (s *Session) Read(ctx context.Context) (p []byte, ok bool, err error) {
	op := opRecvMessage(s.tr)
	if err := s.runBatch(ctx, []*Operation{op}); err != nil {
		return nil, false, err
	}
	p, ok = op.Message()
	if ok {
		s.stats.RecordReceived(int64(len(p)))
	}
	return p, ok, nil
}

// Write sends one message payload.
func (s *Session) Write(ctx context.Context, p []byte) error {
	op := opSendMessage(s.tr, p)
	if err := s.runBatch(ctx, []*Operation{op}); err != nil {
		return err
	}
	s.stats.RecordSent(int64(len(p)))
	return nil
}

// CloseSend emits the client half-close: no further messages will be sent.
func (s *Session) CloseSend(ctx context.Context) error {
	return s.runBatch(ctx, []*Operation{opSendClose()})
}

// Close releases the call handle. Safe to call at any point, including
// mid-stream, and idempotent. Operations on a closed session return
// ErrCallClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.tr.DestroyCall(s.handle)
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
	})
}
