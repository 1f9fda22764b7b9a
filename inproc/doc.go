// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package inproc provides an in-process implementation of the
// [cqrpc.Transport] collaborator interface, used by the test suite, the
// examples, and the benchmarks.
//
// The transport runs each submitted batch on its own worker goroutine and
// resolves completion tags through a FIFO completion queue, mimicking the
// ordering and timing behavior of a real completion-queue driven wire
// layer. Peers are registered per method in one of three shapes:
//
//   - [Transport.HandleUnary]: one request produces one response.
//   - [Transport.HandleProducer]: one request produces a server-driven
//     stream of responses.
//   - [Transport.HandleExchange]: each client message produces one
//     response.
//
// Every scratch allocation handed to the engine is tracked: the transport
// counts allocations, frees, double frees, and reads after free, which the
// resource-safety tests assert on. SetLatency injects per-batch processing
// delay for deadline and interruption tests.
package inproc
