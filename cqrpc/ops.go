// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cqrpc

// Operation is a self-contained descriptor for one wire-level action: the
// slot contribution it writes into the submission buffer, a write-once
// result cell, and a cleanup step that reads transport scratch into the
// cell and releases the scratch.
//
// Exactly one Operation exists per distinct wire action per batch. The
// result cell is written at most once, by finish after a successful batch,
// and may be read any number of times afterwards. A batch must not contain
// two operations of the same type; that is the caller's responsibility.
type Operation struct {
	typ OpType

	// Send-side payloads, owned until finish frees them.
	sendMD  Metadata
	sendBuf ByteBuffer

	// Receive-side scratch, allocated at construction, filled by the
	// transport, read and freed by finish.
	recvMD  MetadataArray
	recvMsg MessageSlot
	trailMD MetadataArray
	status  StatusSlot

	result opResult
}

// opResult is the descriptor's result cell. Unset until finish(true).
type opResult struct {
	set            bool
	initialMD      Metadata
	message        []byte
	messagePresent bool
	status         RpcStatus
}

// opSendInitialMetadata sends the outgoing metadata block.
func opSendInitialMetadata(md Metadata) *Operation {
	return &Operation{typ: OpSendInitialMetadata, sendMD: md}
}

// opSendMessage sends one message payload. The payload is copied into a
// transport buffer owned by the descriptor until release.
func opSendMessage(tr Transport, payload []byte) *Operation {
	return &Operation{typ: OpSendMessage, sendBuf: tr.AllocByteBuffer(payload)}
}

// opSendClose emits the client half-close.
func opSendClose() *Operation {
	return &Operation{typ: OpSendCloseFromClient}
}

// opRecvInitialMetadata receives the peer's initial metadata block.
func opRecvInitialMetadata(tr Transport) *Operation {
	return &Operation{typ: OpRecvInitialMetadata, recvMD: tr.AllocMetadataArray()}
}

// opRecvMessage receives at most one message; absence signals the stream
// ended without it.
func opRecvMessage(tr Transport) *Operation {
	return &Operation{typ: OpRecvMessage, recvMsg: tr.AllocMessageSlot()}
}

// opRecvStatus receives the terminal status and trailing metadata.
func opRecvStatus(tr Transport) *Operation {
	return &Operation{
		typ:     OpRecvStatusOnClient,
		trailMD: tr.AllocMetadataArray(),
		status:  tr.AllocStatusSlot(),
	}
}

// contribute writes the descriptor's fields into an already-zeroed slot.
func (op *Operation) contribute(slot *OpSlot) {
	slot.Type = op.typ
	switch op.typ {
	case OpSendInitialMetadata:
		slot.SendMetadata = op.sendMD
	case OpSendMessage:
		slot.SendPayload = op.sendBuf
	case OpSendCloseFromClient:
		// no fields beyond the type
	case OpRecvInitialMetadata:
		slot.RecvMetadata = op.recvMD
	case OpRecvMessage:
		slot.RecvMessage = op.recvMsg
	case OpRecvStatusOnClient:
		slot.RecvTrailing = op.trailMD
		slot.RecvStatus = op.status
	}
}

// finish is the descriptor's cleanup. It runs exactly once per batch
// resolution (the assembler's release guard enforces this): on success it
// reads the transport scratch into the result cell first; in every case it
// frees the scratch, tolerating ops whose side never executed.
func (op *Operation) finish(success bool) {
	if success {
		op.result.set = true
		switch op.typ {
		case OpRecvInitialMetadata:
			op.result.initialMD = op.recvMD.Entries().Clone()
		case OpRecvMessage:
			if buf := op.recvMsg.Buffer(); buf != nil {
				op.result.message = append([]byte(nil), buf.Bytes()...)
				op.result.messagePresent = true
			}
		case OpRecvStatusOnClient:
			op.result.status = RpcStatus{
				Code:     op.status.Code(),
				Detail:   append([]byte(nil), op.status.Detail()...),
				Trailing: op.trailMD.Entries().Clone(),
			}
		}
	}
	if op.sendBuf != nil {
		op.sendBuf.Free()
	}
	if op.recvMD != nil {
		op.recvMD.Free()
	}
	if op.recvMsg != nil {
		op.recvMsg.Free()
	}
	if op.trailMD != nil {
		op.trailMD.Free()
	}
	if op.status != nil {
		op.status.Free()
	}
}

// InitialMetadata reads the result cell of a RecvInitialMetadata op.
func (op *Operation) InitialMetadata() Metadata {
	return op.result.initialMD
}

// Message reads the result cell of a RecvMessage op. The second return is
// false when the stream ended without a message.
func (op *Operation) Message() ([]byte, bool) {
	return op.result.message, op.result.messagePresent
}

// Status reads the result cell of a RecvStatusOnClient op.
func (op *Operation) Status() RpcStatus {
	return op.result.status
}
