// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Codec is the encode/decode pair a client handle threads through a call.
// Encoding of application messages is pluggable and outside the engine.
type Codec[Req, Resp any] struct {
	Encode func(Req) ([]byte, error)
	Decode func([]byte) (Resp, error)
}

// BytesCodec passes payloads through unchanged.
func BytesCodec() Codec[[]byte, []byte] {
	return Codec[[]byte, []byte]{
		Encode: func(p []byte) ([]byte, error) { return p, nil },
		Decode: func(p []byte) ([]byte, error) { return p, nil },
	}
}

// Client issues calls against one destination channel.
type Client struct {
	tr       Transport
	ch       Channel
	hook     CallHook
	defaults CallOptions
}

// NewClient creates a client bound to a transport and a channel.
func NewClient(tr Transport, ch Channel) *Client {
	return &Client{tr: tr, ch: ch}
}

// SetCallHook registers a hook called around each call's lifetime.
func (c *Client) SetCallHook(hook CallHook) {
	c.hook = hook
}

// SetDefaultOptions sets options merged under every call's own options.
func (c *Client) SetDefaultOptions(opts CallOptions) {
	c.defaults = opts
}

// UnaryResult is the outcome of a successful unary call.
type UnaryResult[Resp any] struct {
	Payload         Resp
	InitialMetadata Metadata
	Trailing        Metadata
	Status          RpcStatus
}

// callSetup bundles everything newCall prepares for one call.
type callSetup struct {
	sess     *Session
	comp     Compressor
	outgoing Metadata
	info     CallInfo
}

// newCall merges options, resolves the deadline exactly once, creates the
// call handle, and arranges hook start/end around the session's lifetime.
func (c *Client) newCall(ctx context.Context, method, callType string, opts []CallOptions) (context.Context, *callSetup, error) {
	merged := mergeAll(c.defaults, opts)

	requestID := merged.RequestID
	if requestID == "" {
		if v, ok := merged.Metadata.Get(MetaRequestID); ok {
			requestID = string(v)
		} else {
			requestID = uuid.NewString()
		}
	}
	outgoing := merged.Metadata.Clone()
	if _, ok := outgoing.Get(MetaRequestID); !ok {
		outgoing = append(outgoing, Pair(MetaRequestID, requestID))
	}
	if merged.Compressor != nil {
		if _, ok := outgoing.Get(MetaEncoding); !ok {
			outgoing = append(outgoing, Pair(MetaEncoding, merged.Compressor.Name()))
		}
	}

	deadline := merged.Deadline.Resolve(time.Now())
	handle, err := c.tr.CreateCall(c.ch, CallSpec{
		Method:      []byte(method),
		Authority:   c.ch.Authority(),
		Deadline:    deadline,
		Parent:      merged.Parent,
		Propagation: merged.Propagation,
	})
	if err != nil {
		return ctx, nil, fmt.Errorf("cqrpc: creating call %q: %w", method, err)
	}

	sess := newSession(c.tr, handle, deadline, nil)
	info := CallInfo{
		Method:    method,
		Authority: string(c.ch.Authority()),
		CallType:  callType,
		RequestID: requestID,
	}
	if c.hook != nil {
		hookCtx, token := c.hook.OnCallStart(ctx, info)
		ctx = hookCtx
		hook := c.hook
		endCtx := ctx
		sess.onClose = func() {
			hook.OnCallEnd(endCtx, token, info, sess.Stats(), sess.firstError())
		}
	}

	slog.Debug("cqrpc: call created",
		"method", method, "type", callType, "request_id", requestID)
	return ctx, &callSetup{sess: sess, comp: merged.Compressor, outgoing: outgoing, info: info}, nil
}

// encodeOutbound encodes and, when configured, compresses one request.
func encodeOutbound[Req, Resp any](codec Codec[Req, Resp], comp Compressor, req Req) ([]byte, error) {
	p, err := codec.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("cqrpc: encoding request: %w", err)
	}
	if comp != nil {
		p, err = comp.Compress(p)
		if err != nil {
			return nil, fmt.Errorf("cqrpc: compressing request: %w", err)
		}
	}
	return p, nil
}

// decodeInbound reverses compression and decodes one response payload.
func decodeInbound[Req, Resp any](codec Codec[Req, Resp], comp Compressor, p []byte) (Resp, error) {
	var zero Resp
	if comp != nil {
		var err error
		p, err = comp.Decompress(p)
		if err != nil {
			return zero, fmt.Errorf("cqrpc: decompressing response: %w", err)
		}
	}
	resp, err := codec.Decode(p)
	if err != nil {
		return zero, fmt.Errorf("cqrpc: decoding response: %w", err)
	}
	return resp, nil
}

// InvokeUnary performs a complete request/response round trip in a single
// six-op batch: the request is fully sent, and the response message (if
// any) and terminal status are received, in one submission. A non-OK status
// is classified into a *StatusError.
func InvokeUnary[Req, Resp any](ctx context.Context, c *Client, method string, req Req, codec Codec[Req, Resp], opts ...CallOptions) (*UnaryResult[Resp], error) {
	ctx, setup, err := c.newCall(ctx, method, CallTypeUnary, opts)
	if err != nil {
		return nil, err
	}
	s := setup.sess
	defer s.Close()

	payload, err := encodeOutbound(codec, setup.comp, req)
	if err != nil {
		s.noteError(err)
		return nil, err
	}

	recvMD := opRecvInitialMetadata(c.tr)
	recvMsg := opRecvMessage(c.tr)
	recvStatus := opRecvStatus(c.tr)
	ops := []*Operation{
		opSendInitialMetadata(setup.outgoing),
		opSendClose(),
		recvMD,
		recvMsg,
		opSendMessage(c.tr, payload),
		recvStatus,
	}
	if err := s.runBatch(ctx, ops); err != nil {
		s.noteError(err)
		return nil, err
	}
	s.stats.RecordSent(int64(len(payload)))

	st := recvStatus.Status()
	if !st.OK() {
		serr := &StatusError{Code: st.Code, Detail: st.Detail, Trailing: st.Trailing}
		s.noteError(serr)
		return nil, serr
	}

	raw, present := recvMsg.Message()
	if !present {
		s.noteError(ErrNoResponse)
		return nil, ErrNoResponse
	}
	s.stats.RecordReceived(int64(len(raw)))

	resp, err := decodeInbound(codec, setup.comp, raw)
	if err != nil {
		s.noteError(err)
		return nil, err
	}
	return &UnaryResult[Resp]{
		Payload:         resp,
		InitialMetadata: recvMD.InitialMetadata(),
		Trailing:        st.Trailing,
		Status:          st,
	}, nil
}

// Stream is a typed handle over an open streaming call, bundling the call
// session with the codec pair.
type Stream[Req, Resp any] struct {
	sess  *Session
	codec Codec[Req, Resp]
	comp  Compressor
}

// Session exposes the underlying call session.
func (st *Stream[Req, Resp]) Session() *Session {
	return st.sess
}

// Send encodes and writes one request message.
func (st *Stream[Req, Resp]) Send(ctx context.Context, req Req) error {
	p, err := encodeOutbound(st.codec, st.comp, req)
	if err != nil {
		st.sess.noteError(err)
		return err
	}
	if err := st.sess.Write(ctx, p); err != nil {
		st.sess.noteError(err)
		return err
	}
	return nil
}

// Recv reads and decodes the next response message. ok is false when the
// stream ended without another message; that is not an error.
func (st *Stream[Req, Resp]) Recv(ctx context.Context) (resp Resp, ok bool, err error) {
	var zero Resp
	raw, ok, err := st.sess.Read(ctx)
	if err != nil {
		st.sess.noteError(err)
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}
	resp, err = decodeInbound(st.codec, st.comp, raw)
	if err != nil {
		st.sess.noteError(err)
		return zero, false, err
	}
	return resp, true, nil
}

// CloseSend emits the client half-close.
func (st *Stream[Req, Resp]) CloseSend(ctx context.Context) error {
	err := st.sess.CloseSend(ctx)
	st.sess.noteError(err)
	return err
}

// InitialMetadata returns the peer's initial metadata (cached after the
// first wire read).
func (st *Stream[Req, Resp]) InitialMetadata(ctx context.Context) (Metadata, error) {
	md, err := st.sess.InitialMetadata(ctx)
	st.sess.noteError(err)
	return md, err
}

// Status blocks for the terminal status. Streaming shapes surface the raw
// status without reclassification.
func (st *Stream[Req, Resp]) Status(ctx context.Context) (RpcStatus, error) {
	status, err := st.sess.Status(ctx)
	st.sess.noteError(err)
	return status, err
}

// Close releases the call handle. Idempotent.
func (st *Stream[Req, Resp]) Close() {
	st.sess.Close()
}

// openStream runs a shape's initial batch and fails fast: on any batch
// error the handle is released and no stream is surfaced to the caller.
func openStream[Req, Resp any](ctx context.Context, setup *callSetup, codec Codec[Req, Resp], ops []*Operation) (*Stream[Req, Resp], error) {
	if err := setup.sess.runBatch(ctx, ops); err != nil {
		setup.sess.noteError(err)
		setup.sess.Close()
		return nil, err
	}
	return &Stream[Req, Resp]{sess: setup.sess, codec: codec, comp: setup.comp}, nil
}

// OpenServerStream starts a downstream call: the single seed request is
// fully sent and half-closed in the initial batch; the caller then reads
// the response stream.
func OpenServerStream[Req, Resp any](ctx context.Context, c *Client, method string, req Req, codec Codec[Req, Resp], opts ...CallOptions) (*Stream[Req, Resp], error) {
	ctx, setup, err := c.newCall(ctx, method, CallTypeStream, opts)
	if err != nil {
		return nil, err
	}
	payload, err := encodeOutbound(codec, setup.comp, req)
	if err != nil {
		setup.sess.noteError(err)
		setup.sess.Close()
		return nil, err
	}
	stream, err := openStream(ctx, setup, codec, []*Operation{
		opSendInitialMetadata(setup.outgoing),
		opSendClose(),
		opSendMessage(c.tr, payload),
	})
	if err != nil {
		return nil, err
	}
	stream.sess.stats.RecordSent(int64(len(payload)))
	return stream, nil
}

// OpenClientStream starts an upstream call: only the metadata block is sent
// in the initial batch; the caller writes messages and half-closes before
// reading the final response or status.
func OpenClientStream[Req, Resp any](ctx context.Context, c *Client, method string, codec Codec[Req, Resp], opts ...CallOptions) (*Stream[Req, Resp], error) {
	ctx, setup, err := c.newCall(ctx, method, CallTypeStream, opts)
	if err != nil {
		return nil, err
	}
	return openStream(ctx, setup, codec, []*Operation{
		opSendInitialMetadata(setup.outgoing),
	})
}

// OpenBidiStream starts a bidirectional call. The initial batch is
// identical to OpenClientStream; the caller may interleave Send and Recv
// freely afterwards.
func OpenBidiStream[Req, Resp any](ctx context.Context, c *Client, method string, codec Codec[Req, Resp], opts ...CallOptions) (*Stream[Req, Resp], error) {
	ctx, setup, err := c.newCall(ctx, method, CallTypeStream, opts)
	if err != nil {
		return nil, err
	}
	return openStream(ctx, setup, codec, []*Operation{
		opSendInitialMetadata(setup.outgoing),
	})
}
