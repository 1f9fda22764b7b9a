// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"errors"
	"fmt"
)

// Batch execution errors. All failures are returned as values; the engine
// never terminates a goroutine on a call failure.
var (
	// ErrOperationFailed indicates that at least one operation in a batch
	// failed at the transport. The caller may still inspect the call status
	// separately.
	ErrOperationFailed = errors.New("cqrpc: batch operation failed")
	// ErrDeadlineExceeded indicates the blocking wait for a batch completion
	// timed out. The core never retries; retry policy belongs to the caller.
	ErrDeadlineExceeded = errors.New("cqrpc: deadline exceeded")
	// ErrQueueShutdown indicates the completion queue reported shutdown.
	// Fatal for the owning context.
	ErrQueueShutdown = errors.New("cqrpc: completion queue shut down")
	// ErrCallClosed is returned for any operation attempted on a session
	// after Close.
	ErrCallClosed = errors.New("cqrpc: call is closed")
	// ErrNoResponse is returned by a unary call that completed with an OK
	// status but no response message on the wire.
	ErrNoResponse = errors.New("cqrpc: unary call completed without a response message")
)

// SubmissionError reports that the transport rejected a batch submission
// outright: malformed batch or call already terminal. No wait is performed
// and buffers are released immediately.
type SubmissionError struct {
	Code SubmitCode
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("cqrpc: batch submission rejected (code %d)", int(e.Code))
}

// Is supports errors.Is by matching any *SubmissionError target.
func (e *SubmissionError) Is(target error) bool {
	_, ok := target.(*SubmissionError)
	return ok
}

// StatusError carries an application-level non-OK terminal status returned
// by the peer. Only the unary path classifies statuses into errors; streaming
// shapes surface the raw RpcStatus via Status without reclassification.
type StatusError struct {
	Code     StatusCode
	Detail   []byte
	Trailing Metadata
}

func (e *StatusError) Error() string {
	if len(e.Detail) == 0 {
		return fmt.Sprintf("cqrpc: call failed with status %s", e.Code)
	}
	return fmt.Sprintf("cqrpc: call failed with status %s: %s", e.Code, e.Detail)
}

// Is supports errors.Is by matching any *StatusError target.
func (e *StatusError) Is(target error) bool {
	_, ok := target.(*StatusError)
	return ok
}

// Status returns the terminal status the error was built from.
func (e *StatusError) Status() RpcStatus {
	return RpcStatus{Code: e.Code, Detail: e.Detail, Trailing: e.Trailing}
}
