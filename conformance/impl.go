// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"bytes"
	"errors"
	"strconv"

	"github.com/Query-farm/cq-rpc-go/cqrpc"
	"github.com/Query-farm/cq-rpc-go/inproc"
)

// Metadata keys the conformance methods consult.
const (
	// SuffixKey holds the suffix the concat method appends to its request.
	SuffixKey = "conformance.suffix"
)

// RegisterMethods registers all conformance methods on the transport.
// State-carrying exchange methods hold their state per registration, so a
// fresh transport should be used per test.
func RegisterMethods(tr *inproc.Transport) {
	// Unary round trips
	tr.HandleUnary("echo", echo)
	tr.HandleUnary("reverse", reverse)
	tr.HandleUnary("concat", concat)
	tr.HandleUnary("echo_request_id", echoRequestID)

	// Unary edge cases
	tr.HandleUnary("no_response", noResponse)
	tr.HandleUnary("large_response", largeResponse)

	// Error propagation
	tr.HandleUnary("fail_invalid_argument", failInvalidArgument)
	tr.HandleUnary("fail_unavailable", failUnavailable)
	tr.HandleUnary("fail_plain", failPlain)

	registerStreams(tr)
}

func echo(_ cqrpc.Metadata, req []byte) ([]byte, error) {
	return req, nil
}

func reverse(_ cqrpc.Metadata, req []byte) ([]byte, error) {
	out := make([]byte, len(req))
	for i, b := range req {
		out[len(req)-1-i] = b
	}
	return out, nil
}

// concat appends the SuffixKey metadata value to the request payload.
func concat(md cqrpc.Metadata, req []byte) ([]byte, error) {
	suffix, _ := md.Get(SuffixKey)
	return append(append([]byte(nil), req...), suffix...), nil
}

// echoRequestID returns the request identifier attached by the client.
func echoRequestID(md cqrpc.Metadata, _ []byte) ([]byte, error) {
	id, ok := md.Get(cqrpc.MetaRequestID)
	if !ok {
		return nil, &cqrpc.StatusError{
			Code:   cqrpc.StatusFailedPrecondition,
			Detail: []byte("request id metadata missing"),
		}
	}
	return id, nil
}

// noResponse finishes OK without a response message.
func noResponse(_ cqrpc.Metadata, _ []byte) ([]byte, error) {
	return nil, nil
}

// largeResponse returns a payload of the requested decimal size.
func largeResponse(_ cqrpc.Metadata, req []byte) ([]byte, error) {
	n, err := strconv.Atoi(string(req))
	if err != nil || n < 0 {
		return nil, &cqrpc.StatusError{
			Code:   cqrpc.StatusInvalidArgument,
			Detail: []byte("size must be a non-negative integer"),
		}
	}
	return bytes.Repeat([]byte{0xAB}, n), nil
}

func failInvalidArgument(_ cqrpc.Metadata, req []byte) ([]byte, error) {
	return nil, &cqrpc.StatusError{
		Code:     cqrpc.StatusInvalidArgument,
		Detail:   []byte("rejected: " + string(req)),
		Trailing: cqrpc.Metadata{cqrpc.Pair("conformance.rejected", "true")},
	}
}

func failUnavailable(_ cqrpc.Metadata, _ []byte) ([]byte, error) {
	return nil, &cqrpc.StatusError{
		Code:   cqrpc.StatusUnavailable,
		Detail: []byte("try again later"),
	}
}

// failPlain returns a plain Go error, which the peer maps to UNKNOWN.
func failPlain(_ cqrpc.Metadata, _ []byte) ([]byte, error) {
	return nil, errors.New("handler exploded")
}
