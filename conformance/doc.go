// Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package conformance provides shared test fixtures for the cq_rpc call
// engine. It registers a set of peer methods — unary, producer, and
// exchange — that exercise every call shape and failure mode: payload
// echo, metadata inspection, absent responses, error propagation with
// specific status codes, empty and large streams, and mid-stream errors.
//
// The only entry point intended for external use is [RegisterMethods],
// which registers all conformance methods on an [inproc.Transport].
package conformance
