// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"strconv"
	"sync"

	"github.com/Query-farm/cq-rpc-go/cqrpc"
	"github.com/Query-farm/cq-rpc-go/inproc"
)

func registerStreams(tr *inproc.Transport) {
	// Producer streams
	tr.HandleProducer("produce_n", produceN)
	tr.HandleProducer("produce_empty", produceEmpty)
	tr.HandleProducer("produce_single", produceSingle)
	tr.HandleProducer("produce_error_mid_stream", produceErrorMidStream)
	tr.HandleProducer("produce_error_on_init", produceErrorOnInit)

	// Exchange streams
	tr.HandleExchange("exchange_double", exchangeDouble)
	tr.HandleExchange("exchange_accumulate", newAccumulate())
	tr.HandleExchange("exchange_error_on_negative", exchangeErrorOnNegative)
}

// produceN emits the decimal values 0..n-1 for a decimal seed n.
func produceN(_ cqrpc.Metadata, req []byte) ([][]byte, error) {
	n, err := strconv.Atoi(string(req))
	if err != nil || n < 0 {
		return nil, &cqrpc.StatusError{
			Code:   cqrpc.StatusInvalidArgument,
			Detail: []byte("count must be a non-negative integer"),
		}
	}
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, strconv.AppendInt(nil, int64(i), 10))
	}
	return out, nil
}

func produceEmpty(cqrpc.Metadata, []byte) ([][]byte, error) {
	return nil, nil
}

func produceSingle(_ cqrpc.Metadata, req []byte) ([][]byte, error) {
	return [][]byte{append([]byte(nil), req...)}, nil
}

// produceErrorMidStream delivers two values and then fails, exercising
// partial delivery before a terminal error.
func produceErrorMidStream(cqrpc.Metadata, []byte) ([][]byte, error) {
	return [][]byte{[]byte("0"), []byte("1")}, &cqrpc.StatusError{
		Code:   cqrpc.StatusInternal,
		Detail: []byte("stream broke after 2 values"),
	}
}

func produceErrorOnInit(cqrpc.Metadata, []byte) ([][]byte, error) {
	return nil, &cqrpc.StatusError{
		Code:   cqrpc.StatusFailedPrecondition,
		Detail: []byte("refusing to start"),
	}
}

// exchangeDouble answers each decimal input with its doubled value.
func exchangeDouble(_ cqrpc.Metadata, in []byte) ([]byte, error) {
	v, err := strconv.ParseInt(string(in), 10, 64)
	if err != nil {
		return nil, &cqrpc.StatusError{
			Code:   cqrpc.StatusInvalidArgument,
			Detail: []byte("input must be an integer"),
		}
	}
	return strconv.AppendInt(nil, v*2, 10), nil
}

// newAccumulate returns an exchange handler that answers each decimal
// input with the running sum of all inputs seen so far.
func newAccumulate() inproc.ExchangeHandler {
	var mu sync.Mutex
	var sum int64
	return func(_ cqrpc.Metadata, in []byte) ([]byte, error) {
		v, err := strconv.ParseInt(string(in), 10, 64)
		if err != nil {
			return nil, &cqrpc.StatusError{
				Code:   cqrpc.StatusInvalidArgument,
				Detail: []byte("input must be an integer"),
			}
		}
		mu.Lock()
		defer mu.Unlock()
		sum += v
		return strconv.AppendInt(nil, sum, 10), nil
	}
}

// exchangeErrorOnNegative echoes inputs until it sees a negative value.
func exchangeErrorOnNegative(_ cqrpc.Metadata, in []byte) ([]byte, error) {
	v, err := strconv.ParseInt(string(in), 10, 64)
	if err != nil || v < 0 {
		return nil, &cqrpc.StatusError{
			Code:   cqrpc.StatusOutOfRange,
			Detail: []byte("negative input"),
		}
	}
	return in, nil
}
