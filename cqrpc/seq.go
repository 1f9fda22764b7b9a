// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import "context"

// Sequence is a short-circuiting sequencing context over one typed stream
// handle. After the first failure (encode, decode, or transport) every
// later action is a no-op and Err returns that first error. No hidden
// control transfer: the short circuit is explicit sticky-error state.
type Sequence[Req, Resp any] struct {
	ctx    context.Context
	stream *Stream[Req, Resp]
	err    error
}

// NewSequence starts a sequencing context against an open stream.
func NewSequence[Req, Resp any](ctx context.Context, stream *Stream[Req, Resp]) *Sequence[Req, Resp] {
	return &Sequence[Req, Resp]{ctx: ctx, stream: stream}
}

// Err returns the first failure observed, or nil.
func (q *Sequence[Req, Resp]) Err() error {
	return q.err
}

// SendMessage encodes and writes one request. No-op once failed.
func (q *Sequence[Req, Resp]) SendMessage(req Req) {
	if q.err != nil {
		return
	}
	q.err = q.stream.Send(q.ctx, req)
}

// ReceiveMessage reads and decodes the next response. ok is false when the
// stream ended or the sequence already failed.
func (q *Sequence[Req, Resp]) ReceiveMessage() (resp Resp, ok bool) {
	var zero Resp
	if q.err != nil {
		return zero, false
	}
	resp, ok, err := q.stream.Recv(q.ctx)
	if err != nil {
		q.err = err
		return zero, false
	}
	return resp, ok
}

// ReceiveAllMessages drains the response stream in receive order. An empty
// stream yields an empty slice, not an error.
func (q *Sequence[Req, Resp]) ReceiveAllMessages() []Resp {
	out := []Resp{}
	for {
		resp, ok := q.ReceiveMessage()
		if !ok {
			return out
		}
		out = append(out, resp)
	}
}

// SendHalfClose signals that no further requests will be sent.
func (q *Sequence[Req, Resp]) SendHalfClose() {
	if q.err != nil {
		return
	}
	q.err = q.stream.CloseSend(q.ctx)
}

// InitialMetadata returns the peer's initial metadata.
func (q *Sequence[Req, Resp]) InitialMetadata() Metadata {
	if q.err != nil {
		return nil
	}
	md, err := q.stream.InitialMetadata(q.ctx)
	if err != nil {
		q.err = err
		return nil
	}
	return md
}

// WaitForStatus blocks for the terminal status.
func (q *Sequence[Req, Resp]) WaitForStatus() RpcStatus {
	if q.err != nil {
		return RpcStatus{}
	}
	status, err := q.stream.Status(q.ctx)
	if err != nil {
		q.err = err
		return RpcStatus{}
	}
	return status
}

// CloseCall releases the call handle. Runs even after a failure; closing is
// how a failed sequence reclaims its resources.
func (q *Sequence[Req, Resp]) CloseCall() {
	q.stream.Close()
}
