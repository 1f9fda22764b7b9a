// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"bytes"
	"strconv"

	"github.com/Query-farm/cq-rpc-go/cqrpc"
	"github.com/Query-farm/cq-rpc-go/inproc"
)

func registerStreams(tr *inproc.Transport) {
	tr.HandleProducer("generate", generate)
	tr.HandleExchange("transform", transform)
}

// generate produces count messages of 64 bytes each, for a decimal seed
// "count".
func generate(_ cqrpc.Metadata, req []byte) ([][]byte, error) {
	count, err := strconv.Atoi(string(req))
	if err != nil || count < 0 {
		return nil, &cqrpc.StatusError{
			Code:   cqrpc.StatusInvalidArgument,
			Detail: []byte("count must be a non-negative integer"),
		}
	}
	payload := bytes.Repeat([]byte{0x5A}, 64)
	out := make([][]byte, count)
	for i := range out {
		out[i] = payload
	}
	return out, nil
}

// transform echoes each input unchanged.
func transform(_ cqrpc.Metadata, in []byte) ([]byte, error) {
	return in, nil
}
