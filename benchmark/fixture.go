// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package benchmark provides peer method fixtures for the cq_rpc
// benchmarks. RegisterMethods installs a small method set covering the
// cheapest possible round trip (noop), payload echo at several sizes,
// and the streaming shapes.
package benchmark

import (
	"github.com/Query-farm/cq-rpc-go/cqrpc"
	"github.com/Query-farm/cq-rpc-go/inproc"
)

// RegisterMethods registers all benchmark methods on the transport.
func RegisterMethods(tr *inproc.Transport) {
	tr.HandleUnary("noop", noop)
	tr.HandleUnary("echo", echo)
	registerStreams(tr)
}

// noop returns an empty payload, measuring pure batch round-trip overhead.
func noop(cqrpc.Metadata, []byte) ([]byte, error) {
	return []byte{}, nil
}

func echo(_ cqrpc.Metadata, req []byte) ([]byte, error) {
	return req, nil
}
