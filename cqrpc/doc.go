// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package cqrpc is the client-side execution engine for the cq_rpc
// protocol, whose wire transport is driven by tagged batches resolved
// through an asynchronous completion queue. The engine exposes
// synchronous, composable call semantics — unary, client-streaming,
// server-streaming, and bidirectional — on top of a transport that only
// offers "submit a batch of operations, be notified later."
//
// # Architecture
//
//   - Operation descriptors ([OpType], internal): each wire action carries
//     its submission-slot contribution, a write-once result cell, and a
//     cleanup step over transport-owned scratch.
//   - Batch execution: descriptors are packed into one contiguous
//     submission, executed as a single transport-level unit, and resolved
//     by blocking on the batch's completion tag. Buffer release is
//     guaranteed exactly once on every path, including timed-out and
//     interrupted waits, where it is deferred to the tag's eventual
//     resolution.
//   - [Session]: per-call state with an exclusive handle lock and
//     idempotent caches for initial metadata, trailing metadata, and the
//     terminal status.
//   - Call shapes: [InvokeUnary], [OpenServerStream], [OpenClientStream],
//     [OpenBidiStream], each submitting the shape's initial batch and
//     failing fast on any batch error.
//   - [Sequence]: a sticky-error sequencing context that threads a
//     [Codec] pair through ordered send/receive actions and stops at the
//     first failure.
//
// # Collaborators
//
// The [Transport] interface is the engine's only dependency on the wire
// layer: call-handle creation, tagged batch submission, completion-event
// waits, and opaque scratch allocation. Connection establishment,
// transport security, load balancing, and application message encoding
// (see [Codec]) are all outside the engine.
//
// # Concurrency
//
// The single suspension point is the blocking wait for a tagged completion
// event. Batches against one call handle are strictly serialized by the
// handle lock; independent handles proceed concurrently. Concurrent
// submitters against one session block on the lock rather than fail.
package cqrpc
