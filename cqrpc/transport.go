// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"context"
	"sync/atomic"
	"time"
)

// Tag is an opaque completion token correlating a submitted batch with its
// eventual asynchronous completion event.
type Tag uint64

var tagCounter atomic.Uint64

// nextTag returns a fresh process-unique completion tag.
func nextTag() Tag {
	return Tag(tagCounter.Add(1))
}

// OpType identifies one of the six wire-level actions a batch slot can carry.
type OpType int

const (
	OpSendInitialMetadata OpType = iota
	OpSendMessage
	OpSendCloseFromClient
	OpRecvInitialMetadata
	OpRecvMessage
	OpRecvStatusOnClient
)

// OpSlot is one entry in a contiguous batch submission buffer. The batch
// assembler zeroes every slot before a descriptor writes its fields, so
// transport-reserved fields (Flags) always start neutral.
type OpSlot struct {
	Type OpType

	// Flags is reserved for the transport. Must be zero on submission.
	Flags uint32

	// Send-side fields, owned by the descriptor until release.
	SendMetadata Metadata
	SendPayload  ByteBuffer

	// Receive-side scratch, allocated by the descriptor, filled by the
	// transport, read and freed by the descriptor's cleanup.
	RecvMetadata MetadataArray
	RecvMessage  MessageSlot
	RecvTrailing MetadataArray
	RecvStatus   StatusSlot
}

// SubmitCode is the transport's verdict on a batch submission.
// SubmitOK means the batch was accepted for asynchronous execution; any
// other value is a rejection code (malformed batch, call already terminal).
type SubmitCode int

const SubmitOK SubmitCode = 0

// EventOutcome classifies the completion event observed for a tag.
type EventOutcome int

const (
	// EventSuccess: every operation in the batch executed.
	EventSuccess EventOutcome = iota
	// EventOperationError: at least one operation failed at the transport.
	EventOperationError
	// EventTimedOut: the wait ended before the tag resolved. The transport
	// still guarantees the tag eventually resolves.
	EventTimedOut
	// EventShutdown: the completion queue is shutting down.
	EventShutdown
)

// CallHandle is the opaque transport-level object representing one in-flight
// RPC invocation. Only the transport that created it understands it.
type CallHandle interface {
	// Method returns the method name the handle was created for.
	Method() []byte
}

// Channel represents one destination reachable through a transport.
type Channel interface {
	// Authority returns the destination authority the channel is bound to.
	Authority() []byte
}

// CallSpec carries everything a transport needs to create a call handle.
// Deadline is already resolved to an absolute timestamp (zero = none).
// Parent and Propagation are forwarded opaquely.
type CallSpec struct {
	Method      []byte
	Authority   []byte
	Deadline    time.Time
	Parent      CallHandle
	Propagation PropagationMask
}

// MetadataArray is transport-owned scratch for receiving a metadata block.
type MetadataArray interface {
	// Entries reads the received entries. Empty if the op never executed.
	Entries() Metadata
	// Free releases the scratch. Must be called exactly once.
	Free()
}

// ByteBuffer is a transport-owned payload buffer.
type ByteBuffer interface {
	// Bytes reads the buffer contents.
	Bytes() []byte
	// Free releases the buffer. Must be called exactly once.
	Free()
}

// MessageSlot is transport-owned scratch for receiving one message.
type MessageSlot interface {
	// Buffer returns the received message buffer, or nil when the stream
	// ended without this message (or the op never executed).
	Buffer() ByteBuffer
	// Free releases the slot and any buffer it holds. Exactly once.
	Free()
}

// StatusSlot is transport-owned scratch for receiving the terminal status.
type StatusSlot interface {
	Code() StatusCode
	Detail() []byte
	// Free releases the slot. Must be called exactly once.
	Free()
}

// Transport is the collaborator interface the engine needs from the wire
// layer. Implementations must allow concurrent use; the engine serializes
// submissions per call handle but distinct handles proceed independently.
//
// Transport security, connection establishment, and load balancing are the
// transport's concern and invisible to the engine.
type Transport interface {
	// CreateCall creates a call handle bound to a method name, destination,
	// and already-resolved deadline.
	CreateCall(ch Channel, spec CallSpec) (CallHandle, error)
	// DestroyCall releases a call handle. Pending batch tags against the
	// handle must still resolve afterwards.
	DestroyCall(h CallHandle)

	// SubmitBatch submits a tagged batch buffer for asynchronous execution.
	// The buffer and all scratch it references stay owned by the caller and
	// must remain valid until the tag resolves.
	SubmitBatch(h CallHandle, slots []OpSlot, tag Tag) SubmitCode

	// AwaitEvent blocks until the tagged event completes, the deadline
	// passes (zero deadline = wait forever), or ctx is cancelled. A timed-out
	// or interrupted wait does not consume the event: the tag still resolves
	// for a later AwaitEvent.
	AwaitEvent(ctx context.Context, tag Tag, deadline time.Time) EventOutcome

	// Scratch allocation for batch descriptors.
	AllocMetadataArray() MetadataArray
	AllocByteBuffer(p []byte) ByteBuffer
	AllocMessageSlot() MessageSlot
	AllocStatusSlot() StatusSlot
}
