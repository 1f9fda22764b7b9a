// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cqrpc_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Query-farm/cq-rpc-go/conformance"
	"github.com/Query-farm/cq-rpc-go/cqrpc"
	"github.com/Query-farm/cq-rpc-go/inproc"
)

// newFixture builds a transport with the conformance methods and a client
// bound to it.
func newFixture(t testing.TB) (*inproc.Transport, *cqrpc.Client) {
	t.Helper()
	tr := inproc.New()
	t.Cleanup(tr.Shutdown)
	conformance.RegisterMethods(tr)
	return tr, cqrpc.NewClient(tr, tr.Channel("test.local"))
}

func TestUnaryEcho(t *testing.T) {
	tr, client := newFixture(t)

	res, err := cqrpc.InvokeUnary(context.Background(), client,
		"echo", []byte("ping"), cqrpc.BytesCodec())
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if !bytes.Equal(res.Payload, []byte("ping")) {
		t.Errorf("payload = %q", res.Payload)
	}
	if !res.Status.OK() {
		t.Errorf("status = %v", res.Status.Code)
	}

	// The whole round trip is one batch submission.
	if got := tr.Batches(); got != 1 {
		t.Errorf("batches = %d, want 1", got)
	}
}

func TestUnaryRequestIDGenerated(t *testing.T) {
	_, client := newFixture(t)

	res, err := cqrpc.InvokeUnary(context.Background(), client,
		"echo_request_id", nil, cqrpc.BytesCodec())
	if err != nil {
		t.Fatalf("echo_request_id: %v", err)
	}
	if len(res.Payload) == 0 {
		t.Fatal("no request id attached")
	}

	// The peer echoes the id into its initial metadata too.
	id, ok := res.InitialMetadata.Get(cqrpc.MetaRequestID)
	if !ok || !bytes.Equal(id, res.Payload) {
		t.Errorf("initial metadata id %q, payload %q", id, res.Payload)
	}
}

func TestUnaryExplicitRequestID(t *testing.T) {
	_, client := newFixture(t)

	res, err := cqrpc.InvokeUnary(context.Background(), client,
		"echo_request_id", nil, cqrpc.BytesCodec(),
		cqrpc.CallOptions{RequestID: "req-42"})
	if err != nil {
		t.Fatalf("echo_request_id: %v", err)
	}
	if string(res.Payload) != "req-42" {
		t.Errorf("request id = %q", res.Payload)
	}
}

func TestUnaryMetadataDelivered(t *testing.T) {
	_, client := newFixture(t)

	res, err := cqrpc.InvokeUnary(context.Background(), client,
		"concat", []byte("abc"), cqrpc.BytesCodec(),
		cqrpc.CallOptions{Metadata: cqrpc.Metadata{cqrpc.Pair(conformance.SuffixKey, "-xyz")}})
	if err != nil {
		t.Fatalf("concat: %v", err)
	}
	if string(res.Payload) != "abc-xyz" {
		t.Errorf("payload = %q", res.Payload)
	}
}

func TestUnaryNoResponse(t *testing.T) {
	_, client := newFixture(t)

	_, err := cqrpc.InvokeUnary(context.Background(), client,
		"no_response", nil, cqrpc.BytesCodec())
	if !errors.Is(err, cqrpc.ErrNoResponse) {
		t.Errorf("err = %v, want ErrNoResponse", err)
	}
}

func TestUnaryStatusError(t *testing.T) {
	_, client := newFixture(t)

	_, err := cqrpc.InvokeUnary(context.Background(), client,
		"fail_invalid_argument", []byte("bad"), cqrpc.BytesCodec())

	var serr *cqrpc.StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if serr.Code != cqrpc.StatusInvalidArgument {
		t.Errorf("code = %v", serr.Code)
	}
	if v, ok := serr.Trailing.Get("conformance.rejected"); !ok || string(v) != "true" {
		t.Errorf("trailing = %+v", serr.Trailing)
	}
}

func TestUnaryPlainHandlerError(t *testing.T) {
	_, client := newFixture(t)

	_, err := cqrpc.InvokeUnary(context.Background(), client,
		"fail_plain", nil, cqrpc.BytesCodec())

	var serr *cqrpc.StatusError
	if !errors.As(err, &serr) || serr.Code != cqrpc.StatusUnknown {
		t.Errorf("err = %v, want UNKNOWN status", err)
	}
}

func TestUnaryUnknownMethod(t *testing.T) {
	_, client := newFixture(t)

	_, err := cqrpc.InvokeUnary(context.Background(), client,
		"does_not_exist", nil, cqrpc.BytesCodec())

	var serr *cqrpc.StatusError
	if !errors.As(err, &serr) || serr.Code != cqrpc.StatusUnimplemented {
		t.Errorf("err = %v, want UNIMPLEMENTED status", err)
	}
}

func TestUnaryCompression(t *testing.T) {
	for _, comp := range []cqrpc.Compressor{cqrpc.Zstd(), cqrpc.Gzip()} {
		t.Run(comp.Name(), func(t *testing.T) {
			_, client := newFixture(t)

			payload := bytes.Repeat([]byte("compressible "), 1000)
			res, err := cqrpc.InvokeUnary(context.Background(), client,
				"echo", payload, cqrpc.BytesCodec(),
				cqrpc.CallOptions{Compressor: comp})
			if err != nil {
				t.Fatalf("echo: %v", err)
			}
			if !bytes.Equal(res.Payload, payload) {
				t.Error("payload did not round-trip through compression")
			}
		})
	}
}

func TestUnaryLargeResponse(t *testing.T) {
	_, client := newFixture(t)

	res, err := cqrpc.InvokeUnary(context.Background(), client,
		"large_response", []byte("1048576"), cqrpc.BytesCodec())
	if err != nil {
		t.Fatalf("large_response: %v", err)
	}
	if len(res.Payload) != 1<<20 {
		t.Errorf("payload size = %d", len(res.Payload))
	}
}

func TestUnarySubmissionRejected(t *testing.T) {
	tr, client := newFixture(t)
	tr.RejectSubmissions(7)

	_, err := cqrpc.InvokeUnary(context.Background(), client,
		"echo", nil, cqrpc.BytesCodec())

	var serr *cqrpc.SubmissionError
	if !errors.As(err, &serr) || serr.Code != 7 {
		t.Errorf("err = %v, want submission error code 7", err)
	}
}

func TestDefaultOptionsApply(t *testing.T) {
	_, client := newFixture(t)
	client.SetDefaultOptions(cqrpc.CallOptions{
		Metadata: cqrpc.Metadata{cqrpc.Pair(conformance.SuffixKey, "-default")},
	})

	res, err := cqrpc.InvokeUnary(context.Background(), client,
		"concat", []byte("v"), cqrpc.BytesCodec())
	if err != nil {
		t.Fatalf("concat: %v", err)
	}
	if string(res.Payload) != "v-default" {
		t.Errorf("payload = %q", res.Payload)
	}
}

// recordingHook captures call lifecycle notifications.
type recordingHook struct {
	starts []cqrpc.CallInfo
	ends   []error
}

func (h *recordingHook) OnCallStart(ctx context.Context, info cqrpc.CallInfo) (context.Context, cqrpc.HookToken) {
	h.starts = append(h.starts, info)
	return ctx, len(h.starts)
}

func (h *recordingHook) OnCallEnd(_ context.Context, _ cqrpc.HookToken, _ cqrpc.CallInfo, _ *cqrpc.CallStats, err error) {
	h.ends = append(h.ends, err)
}

func TestCallHookLifecycle(t *testing.T) {
	_, client := newFixture(t)
	hook := &recordingHook{}
	client.SetCallHook(hook)
	ctx := context.Background()

	if _, err := cqrpc.InvokeUnary(ctx, client, "echo", []byte("x"), cqrpc.BytesCodec()); err != nil {
		t.Fatalf("echo: %v", err)
	}
	_, err := cqrpc.InvokeUnary(ctx, client, "fail_unavailable", nil, cqrpc.BytesCodec())
	if err == nil {
		t.Fatal("fail_unavailable succeeded")
	}

	if len(hook.starts) != 2 || len(hook.ends) != 2 {
		t.Fatalf("starts = %d, ends = %d", len(hook.starts), len(hook.ends))
	}
	if hook.starts[0].Method != "echo" || hook.starts[0].CallType != cqrpc.CallTypeUnary {
		t.Errorf("start info = %+v", hook.starts[0])
	}
	if hook.starts[0].RequestID == "" {
		t.Error("no request id in hook info")
	}
	if hook.ends[0] != nil {
		t.Errorf("first call ended with %v", hook.ends[0])
	}
	var serr *cqrpc.StatusError
	if !errors.As(hook.ends[1], &serr) {
		t.Errorf("second call ended with %v", hook.ends[1])
	}
}

func TestDeadlineExceeded(t *testing.T) {
	tr, client := newFixture(t)
	tr.SetLatency(50 * time.Millisecond)

	_, err := cqrpc.InvokeUnary(context.Background(), client,
		"echo", []byte("x"), cqrpc.BytesCodec(),
		cqrpc.CallOptions{Deadline: cqrpc.DeadlineAfter(time.Millisecond)})
	if !errors.Is(err, cqrpc.ErrDeadlineExceeded) {
		t.Errorf("err = %v, want ErrDeadlineExceeded", err)
	}

	// The scratch buffers of the abandoned batch are reclaimed once the
	// transport resolves the tag.
	if !tr.WaitQuiesce(5 * time.Second) {
		t.Fatal("transport did not quiesce")
	}
	if tr.Allocated() != tr.Freed() {
		t.Errorf("allocated %d, freed %d", tr.Allocated(), tr.Freed())
	}
	if tr.DoubleFrees() != 0 || tr.ReadsAfterFree() != 0 {
		t.Errorf("double frees %d, reads after free %d", tr.DoubleFrees(), tr.ReadsAfterFree())
	}
}

func TestContextCancelledDuringWait(t *testing.T) {
	tr, client := newFixture(t)
	tr.SetLatency(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := cqrpc.InvokeUnary(ctx, client, "echo", []byte("x"), cqrpc.BytesCodec())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	if !tr.WaitQuiesce(5 * time.Second) {
		t.Fatal("transport did not quiesce")
	}
	if tr.Allocated() != tr.Freed() {
		t.Errorf("allocated %d, freed %d", tr.Allocated(), tr.Freed())
	}
}

func TestQueueShutdown(t *testing.T) {
	tr, client := newFixture(t)
	tr.SetLatency(20 * time.Millisecond)
	go func() {
		time.Sleep(time.Millisecond)
		tr.Shutdown()
	}()

	_, err := cqrpc.InvokeUnary(context.Background(), client,
		"echo", []byte("x"), cqrpc.BytesCodec())
	if err == nil {
		t.Fatal("call succeeded across shutdown")
	}
}
