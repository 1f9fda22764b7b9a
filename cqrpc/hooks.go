// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"context"
	"sync/atomic"
)

// Call type string constants for CallInfo.CallType.
const (
	CallTypeUnary  = "unary"
	CallTypeStream = "stream"
)

// CallHook provides observability callpoints around a call's lifetime.
// Implementations must be safe for concurrent use.
type CallHook interface {
	OnCallStart(ctx context.Context, info CallInfo) (context.Context, HookToken)
	OnCallEnd(ctx context.Context, token HookToken, info CallInfo, stats *CallStats, err error)
}

// HookToken is an opaque value returned by OnCallStart and passed back to
// OnCallEnd. Only meaningful to the CallHook that created it.
type HookToken interface{}

// CallInfo carries call metadata passed to hooks.
type CallInfo struct {
	Method    string // RPC method name
	Authority string // destination authority
	CallType  string // CallTypeUnary or CallTypeStream
	RequestID string // request identifier attached to outgoing metadata
}

// CallStats holds per-call I/O counters. Counters are updated atomically so
// hooks may read them while the call is still in flight.
type CallStats struct {
	MessagesSent     atomic.Int64
	MessagesReceived atomic.Int64
	BytesSent        atomic.Int64
	BytesReceived    atomic.Int64
}

// RecordSent records one outgoing message of the given payload size.
func (s *CallStats) RecordSent(bytes int64) {
	s.MessagesSent.Add(1)
	s.BytesSent.Add(bytes)
}

// RecordReceived records one incoming message of the given payload size.
func (s *CallStats) RecordReceived(bytes int64) {
	s.MessagesReceived.Add(1)
	s.BytesReceived.Add(bytes)
}
