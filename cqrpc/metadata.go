// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cqrpc

// Well-known metadata keys used in the cq_rpc wire protocol.
const (
	// MetaRequestID carries the client-supplied request identifier. The
	// client generates one when the caller did not provide it.
	MetaRequestID = "cq_rpc.request_id"
	// MetaEncoding names the message compressor applied to payloads on
	// this call. Absent means identity.
	MetaEncoding = "cq_rpc.message_encoding"
)

// MetadataPair is one key/value byte-string entry.
type MetadataPair struct {
	Key   []byte
	Value []byte
}

// Metadata is an ordered sequence of entries, sent once as a block at the
// start of a call. Values are treated as immutable after submission.
type Metadata []MetadataPair

// Pair builds a MetadataPair from string key and value.
func Pair(key, value string) MetadataPair {
	return MetadataPair{Key: []byte(key), Value: []byte(value)}
}

// Get returns the value of the first entry with the given key.
func (m Metadata) Get(key string) ([]byte, bool) {
	for _, p := range m {
		if string(p.Key) == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Clone returns a copy of the entry list. Entry byte slices are shared;
// metadata values are never mutated after construction.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	copy(out, m)
	return out
}
