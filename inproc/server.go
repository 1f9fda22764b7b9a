// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package inproc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Query-farm/cq-rpc-go/cqrpc"
)

type methodKind int

const (
	methodUnary methodKind = iota
	methodProducer
	methodExchange
)

// UnaryHandler produces one response for one request. A nil response with
// a nil error ends the call OK without a response message.
type UnaryHandler func(md cqrpc.Metadata, req []byte) ([]byte, error)

// ProducerHandler produces a server-driven stream of responses for one
// seed request. Responses returned alongside a non-nil error are still
// delivered before the error status.
type ProducerHandler func(md cqrpc.Metadata, req []byte) ([][]byte, error)

// ExchangeHandler produces one response per client message.
type ExchangeHandler func(md cqrpc.Metadata, in []byte) ([]byte, error)

type methodInfo struct {
	name     string
	kind     methodKind
	unary    UnaryHandler
	producer ProducerHandler
	exchange ExchangeHandler
}

// HandleUnary registers a unary peer method.
func (t *Transport) HandleUnary(name string, h UnaryHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.methods[name] = &methodInfo{name: name, kind: methodUnary, unary: h}
}

// HandleProducer registers a server-streaming peer method.
func (t *Transport) HandleProducer(name string, h ProducerHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.methods[name] = &methodInfo{name: name, kind: methodProducer, producer: h}
}

// HandleExchange registers a peer method that answers each client message
// with exactly one response.
func (t *Transport) HandleExchange(name string, h ExchangeHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.methods[name] = &methodInfo{name: name, kind: methodExchange, exchange: h}
}

// call is the peer-side state of one in-flight RPC.
type call struct {
	t         *Transport
	method    []byte
	authority []byte
	deadline  time.Time
	info      *methodInfo // nil: unknown method

	mu         sync.Mutex
	cond       *sync.Cond
	clientMD   cqrpc.Metadata
	comp       cqrpc.Compressor
	inbox      [][]byte // plaintext requests awaiting the handler
	outbox     [][]byte // wire-form responses awaiting delivery
	halfClosed bool
	finished   bool
	status     cqrpc.RpcStatus
	handlerRan bool
	destroyed  bool
}

func (c *call) Method() []byte { return c.method }

var errCallDestroyed = errors.New("inproc: call destroyed")

// runBatch executes one submitted batch: optional injected latency, then
// the batch's send actions, then its receive actions, and finally the
// completion event for the batch tag. The batch is one atomic transport
// unit, so sends apply as metadata, messages, half-close regardless of
// their slot order within the batch.
func (t *Transport) runBatch(c *call, slots []cqrpc.OpSlot, tag cqrpc.Tag) {
	defer t.wg.Done()
	if d := time.Duration(t.latencyNs.Load()); d > 0 {
		time.Sleep(d)
	}

	var sendMD cqrpc.Metadata
	var msgs [][]byte
	halfClose := false
	for i := range slots {
		switch s := &slots[i]; s.Type {
		case cqrpc.OpSendInitialMetadata:
			sendMD = append(sendMD, s.SendMetadata...)
		case cqrpc.OpSendMessage:
			msgs = append(msgs, append([]byte(nil), s.SendPayload.Bytes()...))
		case cqrpc.OpSendCloseFromClient:
			halfClose = true
		}
	}
	if err := c.applySends(sendMD, msgs, halfClose); err != nil {
		t.cq.post(tag, cqrpc.EventOperationError)
		return
	}

	for i := range slots {
		switch s := &slots[i]; s.Type {
		case cqrpc.OpRecvInitialMetadata:
			s.RecvMetadata.(*metadataArray).set(c.initialMetadata())
		case cqrpc.OpRecvMessage:
			p, present, err := c.nextMessage()
			if err != nil {
				t.cq.post(tag, cqrpc.EventOperationError)
				return
			}
			if present {
				s.RecvMessage.(*messageSlot).set(t.AllocByteBuffer(p).(*byteBuffer))
			}
		case cqrpc.OpRecvStatusOnClient:
			st, err := c.awaitStatus()
			if err != nil {
				t.cq.post(tag, cqrpc.EventOperationError)
				return
			}
			s.RecvTrailing.(*metadataArray).set(st.Trailing)
			s.RecvStatus.(*statusSlot).set(st.Code, st.Detail)
		}
	}
	t.cq.post(tag, cqrpc.EventSuccess)
}

// applySends feeds the batch's client-side actions into the call state and
// advances the peer handler.
func (c *call) applySends(md cqrpc.Metadata, msgs [][]byte, halfClose bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return errCallDestroyed
	}
	if len(md) > 0 {
		c.clientMD = append(c.clientMD, md...)
		if name, ok := c.clientMD.Get(cqrpc.MetaEncoding); ok {
			if comp, found := cqrpc.LookupCompressor(string(name)); found {
				c.comp = comp
			}
		}
	}
	for _, m := range msgs {
		plain := m
		if c.comp != nil {
			var err error
			plain, err = c.comp.Decompress(m)
			if err != nil {
				c.finishLocked(cqrpc.RpcStatus{
					Code:   cqrpc.StatusInvalidArgument,
					Detail: []byte(fmt.Sprintf("undecodable message: %v", err)),
				})
				return nil
			}
		}
		c.inbox = append(c.inbox, plain)
	}
	if halfClose {
		c.halfClosed = true
	}
	c.advanceLocked()
	return nil
}

// initialMetadata returns the peer's initial metadata block: the
// transport-level entries plus an echo of the client's request id.
func (c *call) initialMetadata() cqrpc.Metadata {
	c.t.mu.Lock()
	md := c.t.initialMD.Clone()
	c.t.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.clientMD.Get(cqrpc.MetaRequestID); ok {
		md = append(md, cqrpc.Pair(cqrpc.MetaRequestID, string(id)))
	}
	return md
}

// nextMessage blocks until a response is deliverable, the stream finishes,
// or the call is destroyed.
func (c *call) nextMessage() (p []byte, present bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if len(c.outbox) > 0 {
			p := c.outbox[0]
			c.outbox = c.outbox[1:]
			return p, true, nil
		}
		if c.finished {
			return nil, false, nil
		}
		if c.destroyed {
			return nil, false, errCallDestroyed
		}
		c.cond.Wait()
	}
}

// awaitStatus blocks until the call reaches its terminal status.
func (c *call) awaitStatus() (cqrpc.RpcStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if c.finished {
			return c.status, nil
		}
		if c.destroyed {
			return cqrpc.RpcStatus{}, errCallDestroyed
		}
		c.cond.Wait()
	}
}

// advanceLocked runs the peer handler as far as the call state allows.
// Unary and producer handlers run once after the half-close; exchange
// handlers consume the inbox message by message.
func (c *call) advanceLocked() {
	if c.finished {
		return
	}
	if c.info == nil {
		c.finishLocked(cqrpc.RpcStatus{
			Code:   cqrpc.StatusUnimplemented,
			Detail: []byte(fmt.Sprintf("unknown method %q", c.method)),
		})
		return
	}
	switch c.info.kind {
	case methodUnary:
		if c.halfClosed && !c.handlerRan {
			c.handlerRan = true
			resp, err := c.info.unary(c.clientMD, c.takeRequestLocked())
			if err != nil {
				c.finishLocked(statusFromError(err))
				return
			}
			if resp != nil {
				c.emitLocked(resp)
			}
			c.finishLocked(c.okStatusLocked())
		}
	case methodProducer:
		if c.halfClosed && !c.handlerRan {
			c.handlerRan = true
			outputs, err := c.info.producer(c.clientMD, c.takeRequestLocked())
			for _, out := range outputs {
				c.emitLocked(out)
			}
			if err != nil {
				c.finishLocked(statusFromError(err))
				return
			}
			c.finishLocked(c.okStatusLocked())
		}
	case methodExchange:
		for len(c.inbox) > 0 {
			in := c.inbox[0]
			c.inbox = c.inbox[1:]
			out, err := c.info.exchange(c.clientMD, in)
			if err != nil {
				c.finishLocked(statusFromError(err))
				return
			}
			c.emitLocked(out)
		}
		if c.halfClosed {
			c.finishLocked(c.okStatusLocked())
		}
	}
}

func (c *call) takeRequestLocked() []byte {
	if len(c.inbox) == 0 {
		return nil
	}
	req := c.inbox[0]
	c.inbox = c.inbox[1:]
	return req
}

// emitLocked queues one response in wire form.
func (c *call) emitLocked(p []byte) {
	if c.comp != nil {
		if compressed, err := c.comp.Compress(p); err == nil {
			p = compressed
		}
	}
	c.outbox = append(c.outbox, p)
	c.cond.Broadcast()
}

func (c *call) okStatusLocked() cqrpc.RpcStatus {
	c.t.mu.Lock()
	trailing := c.t.trailing.Clone()
	c.t.mu.Unlock()
	return cqrpc.RpcStatus{Code: cqrpc.StatusOK, Trailing: trailing}
}

func (c *call) finishLocked(st cqrpc.RpcStatus) {
	c.finished = true
	c.status = st
	c.cond.Broadcast()
}

// statusFromError maps a handler error to a terminal status. A
// *cqrpc.StatusError passes through unchanged; anything else becomes
// UNKNOWN with the error text as detail.
func statusFromError(err error) cqrpc.RpcStatus {
	var serr *cqrpc.StatusError
	if errors.As(err, &serr) {
		return serr.Status()
	}
	return cqrpc.RpcStatus{Code: cqrpc.StatusUnknown, Detail: []byte(err.Error())}
}
