// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import "time"

type deadlineKind int

const (
	deadlineNone deadlineKind = iota
	deadlineAbsolute
	deadlineRelative
)

// Deadline is an absolute timestamp or "N from now at resolution time".
// It is resolved exactly once, when the call is created, and never
// re-resolved afterwards. The zero value means no deadline.
type Deadline struct {
	kind  deadlineKind
	at    time.Time
	after time.Duration
}

// DeadlineAt builds an absolute deadline.
func DeadlineAt(t time.Time) Deadline {
	return Deadline{kind: deadlineAbsolute, at: t}
}

// DeadlineAfter builds a relative deadline, resolved against the clock at
// call-creation time.
func DeadlineAfter(d time.Duration) Deadline {
	return Deadline{kind: deadlineRelative, after: d}
}

// IsSet reports whether the deadline is present.
func (d Deadline) IsSet() bool {
	return d.kind != deadlineNone
}

// Resolve collapses the deadline to a single absolute timestamp. The zero
// time means "infinite future": no deadline is enforced.
func (d Deadline) Resolve(now time.Time) time.Time {
	switch d.kind {
	case deadlineAbsolute:
		return d.at
	case deadlineRelative:
		return now.Add(d.after)
	default:
		return time.Time{}
	}
}

// PropagationMask selects which properties a child call inherits from its
// parent. The mask is forwarded opaquely to the transport; the engine does
// not interpret it. Zero means unset.
type PropagationMask uint32

const (
	PropagateDeadline     PropagationMask = 0x1
	PropagateStats        PropagationMask = 0x2
	PropagateTracing      PropagationMask = 0x4
	PropagateCancellation PropagationMask = 0x8
	PropagateDefaults     PropagationMask = 0xffff
)

// CallOptions is a mergeable call configuration. Merging keeps the
// right-hand side's scalar fields when present, otherwise the left's, and
// concatenates metadata lists. Merge is associative and the zero value is a
// two-sided identity.
type CallOptions struct {
	// Deadline for the whole call, resolved once at call creation.
	Deadline Deadline
	// Parent is an optional parent call the transport may propagate
	// properties from, selected by Propagation.
	Parent CallHandle
	// Propagation is forwarded opaquely to the transport. Zero means unset.
	Propagation PropagationMask
	// Metadata is sent once as a block with the initial batch.
	Metadata Metadata
	// Compressor, when non-nil, is applied to message payloads.
	Compressor Compressor
	// RequestID is attached as cq_rpc.request_id metadata. When empty, the
	// client generates one.
	RequestID string
}

// Merge combines o with other, other taking precedence for scalar fields
// that are present and metadata lists concatenating in order.
func (o CallOptions) Merge(other CallOptions) CallOptions {
	out := o
	if other.Deadline.IsSet() {
		out.Deadline = other.Deadline
	}
	if other.Parent != nil {
		out.Parent = other.Parent
	}
	if other.Propagation != 0 {
		out.Propagation = other.Propagation
	}
	if len(other.Metadata) > 0 {
		merged := make(Metadata, 0, len(o.Metadata)+len(other.Metadata))
		merged = append(merged, o.Metadata...)
		merged = append(merged, other.Metadata...)
		out.Metadata = merged
	}
	if other.Compressor != nil {
		out.Compressor = other.Compressor
	}
	if other.RequestID != "" {
		out.RequestID = other.RequestID
	}
	return out
}

// mergeAll folds a list of option values onto a base, left to right.
func mergeAll(base CallOptions, opts []CallOptions) CallOptions {
	out := base
	for _, o := range opts {
		out = out.Merge(o)
	}
	return out
}
