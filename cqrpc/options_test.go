// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cqrpc_test

import (
	"reflect"
	"testing"
	"testing/quick"
	"time"

	"github.com/Query-farm/cq-rpc-go/cqrpc"
)

// optionsSeed is a quick-generatable stand-in for CallOptions: every field
// is a primitive the generator knows how to produce.
type optionsSeed struct {
	HasDeadline   bool
	DeadlineMs    int16
	Propagation   uint32
	MetadataPairs []struct{ K, V string }
	Compressor    uint8
	RequestID     string
}

func (s optionsSeed) options() cqrpc.CallOptions {
	var o cqrpc.CallOptions
	if s.HasDeadline {
		o.Deadline = cqrpc.DeadlineAt(time.Unix(0, int64(s.DeadlineMs)*int64(time.Millisecond)))
	}
	o.Propagation = cqrpc.PropagationMask(s.Propagation)
	for _, p := range s.MetadataPairs {
		o.Metadata = append(o.Metadata, cqrpc.Pair(p.K, p.V))
	}
	switch s.Compressor % 3 {
	case 1:
		o.Compressor = cqrpc.Zstd()
	case 2:
		o.Compressor = cqrpc.Gzip()
	}
	o.RequestID = s.RequestID
	return o
}

// TestPropertyMergeAssociative proves that option merging is associative:
// for any three option values, merging them pairwise in either grouping
// yields the same result.
func TestPropertyMergeAssociative(t *testing.T) {
	property := func(sa, sb, sc optionsSeed) bool {
		a, b, c := sa.options(), sb.options(), sc.options()
		left := a.Merge(b).Merge(c)
		right := a.Merge(b.Merge(c))
		return reflect.DeepEqual(left, right)
	}
	if err := quick.Check(property, nil); err != nil {
		t.Error(err)
	}
}

// TestPropertyMergeIdentity proves that the zero CallOptions value is a
// two-sided identity for Merge.
func TestPropertyMergeIdentity(t *testing.T) {
	var zero cqrpc.CallOptions
	property := func(s optionsSeed) bool {
		a := s.options()
		return reflect.DeepEqual(zero.Merge(a), a) &&
			reflect.DeepEqual(a.Merge(zero), a)
	}
	if err := quick.Check(property, nil); err != nil {
		t.Error(err)
	}
}

// TestMergeRightBias checks that the right-hand side wins for scalar fields
// while metadata concatenates in order.
func TestMergeRightBias(t *testing.T) {
	base := cqrpc.CallOptions{
		Deadline:    cqrpc.DeadlineAfter(time.Second),
		Propagation: cqrpc.PropagateDeadline,
		Metadata:    cqrpc.Metadata{cqrpc.Pair("a", "1")},
		Compressor:  cqrpc.Zstd(),
		RequestID:   "base",
	}
	override := cqrpc.CallOptions{
		Deadline:  cqrpc.DeadlineAfter(2 * time.Second),
		Metadata:  cqrpc.Metadata{cqrpc.Pair("b", "2")},
		RequestID: "override",
	}

	got := base.Merge(override)
	if !reflect.DeepEqual(got.Deadline, override.Deadline) {
		t.Errorf("deadline not overridden: %+v", got.Deadline)
	}
	if got.Propagation != cqrpc.PropagateDeadline {
		t.Errorf("propagation lost: %v", got.Propagation)
	}
	if got.RequestID != "override" {
		t.Errorf("request id = %q", got.RequestID)
	}
	if got.Compressor == nil || got.Compressor.Name() != "zstd" {
		t.Errorf("compressor lost")
	}
	want := cqrpc.Metadata{cqrpc.Pair("a", "1"), cqrpc.Pair("b", "2")}
	if !reflect.DeepEqual(got.Metadata, want) {
		t.Errorf("metadata = %+v", got.Metadata)
	}
}

// TestDeadlineResolve checks the absolute, relative, and unset resolution
// rules: relative deadlines resolve against the supplied clock and the
// unset deadline resolves to the zero time.
func TestDeadlineResolve(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	var unset cqrpc.Deadline
	if unset.IsSet() {
		t.Fatal("zero deadline reports set")
	}
	if !unset.Resolve(now).IsZero() {
		t.Error("unset deadline resolved to a timestamp")
	}

	at := now.Add(time.Minute)
	if got := cqrpc.DeadlineAt(at).Resolve(now); !got.Equal(at) {
		t.Errorf("absolute deadline resolved to %v", got)
	}

	if got := cqrpc.DeadlineAfter(30 * time.Second).Resolve(now); !got.Equal(now.Add(30 * time.Second)) {
		t.Errorf("relative deadline resolved to %v", got)
	}
}
