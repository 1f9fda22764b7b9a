// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command cq-rpc-conformance drives the conformance method set through an
// in-process transport and reports a pass/fail summary. It is a smoke
// harness for the call engine outside of go test.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Query-farm/cq-rpc-go/conformance"
	"github.com/Query-farm/cq-rpc-go/cqrpc"
	"github.com/Query-farm/cq-rpc-go/inproc"
)

func main() {
	tr := inproc.New()
	defer tr.Shutdown()
	conformance.RegisterMethods(tr)

	client := cqrpc.NewClient(tr, tr.Channel("conformance.local"))
	client.SetDefaultOptions(cqrpc.CallOptions{
		Deadline: cqrpc.DeadlineAfter(5 * time.Second),
	})
	ctx := context.Background()

	failures := 0
	check := func(name string, err error) {
		if err != nil {
			failures++
			fmt.Printf("FAIL %-28s %v\n", name, err)
			return
		}
		fmt.Printf("ok   %s\n", name)
	}

	check("echo", func() error {
		res, err := cqrpc.InvokeUnary(ctx, client, "echo", []byte("ping"), cqrpc.BytesCodec())
		if err != nil {
			return err
		}
		if !bytes.Equal(res.Payload, []byte("ping")) {
			return fmt.Errorf("payload %q", res.Payload)
		}
		return nil
	}())

	check("reverse", func() error {
		res, err := cqrpc.InvokeUnary(ctx, client, "reverse", []byte("abc"), cqrpc.BytesCodec())
		if err != nil {
			return err
		}
		if !bytes.Equal(res.Payload, []byte("cba")) {
			return fmt.Errorf("payload %q", res.Payload)
		}
		return nil
	}())

	check("no_response", func() error {
		_, err := cqrpc.InvokeUnary(ctx, client, "no_response", nil, cqrpc.BytesCodec())
		if !errors.Is(err, cqrpc.ErrNoResponse) {
			return fmt.Errorf("want ErrNoResponse, got %v", err)
		}
		return nil
	}())

	check("fail_invalid_argument", func() error {
		_, err := cqrpc.InvokeUnary(ctx, client, "fail_invalid_argument", []byte("x"), cqrpc.BytesCodec())
		var serr *cqrpc.StatusError
		if !errors.As(err, &serr) || serr.Code != cqrpc.StatusInvalidArgument {
			return fmt.Errorf("want INVALID_ARGUMENT, got %v", err)
		}
		return nil
	}())

	check("produce_n", func() error {
		stream, err := cqrpc.OpenServerStream(ctx, client, "produce_n", []byte("4"), cqrpc.BytesCodec())
		if err != nil {
			return err
		}
		seq := cqrpc.NewSequence(ctx, stream)
		got := seq.ReceiveAllMessages()
		st := seq.WaitForStatus()
		seq.CloseCall()
		if err := seq.Err(); err != nil {
			return err
		}
		if len(got) != 4 || !st.OK() {
			return fmt.Errorf("%d messages, status %v", len(got), st.Code)
		}
		return nil
	}())

	check("exchange_double", func() error {
		stream, err := cqrpc.OpenBidiStream(ctx, client, "exchange_double", cqrpc.BytesCodec())
		if err != nil {
			return err
		}
		seq := cqrpc.NewSequence(ctx, stream)
		seq.SendMessage([]byte("21"))
		resp, ok := seq.ReceiveMessage()
		seq.SendHalfClose()
		seq.WaitForStatus()
		seq.CloseCall()
		if err := seq.Err(); err != nil {
			return err
		}
		if !ok || !bytes.Equal(resp, []byte("42")) {
			return fmt.Errorf("response %q", resp)
		}
		return nil
	}())

	if failures > 0 {
		fmt.Printf("%d conformance checks failed\n", failures)
		os.Exit(1)
	}
	fmt.Println("all conformance checks passed")
}
