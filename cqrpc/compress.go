// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compressor transforms message payloads on the wire. The compressor name
// travels as cq_rpc.message_encoding metadata so the peer can reverse it.
type Compressor interface {
	Name() string
	Compress(p []byte) ([]byte, error)
	Decompress(p []byte) ([]byte, error)
}

var (
	compressorMu sync.RWMutex
	compressors  = make(map[string]Compressor)
)

// RegisterCompressor makes a compressor resolvable by name. The zstd and
// gzip compressors are registered at package init.
func RegisterCompressor(c Compressor) {
	compressorMu.Lock()
	defer compressorMu.Unlock()
	compressors[c.Name()] = c
}

// LookupCompressor resolves a registered compressor by name.
func LookupCompressor(name string) (Compressor, bool) {
	compressorMu.RLock()
	defer compressorMu.RUnlock()
	c, ok := compressors[name]
	return c, ok
}

func init() {
	zc, err := newZstdCompressor()
	if err == nil {
		RegisterCompressor(zc)
	}
	RegisterCompressor(gzipCompressor{})
}

// Zstd returns the registered zstd compressor.
func Zstd() Compressor {
	c, _ := LookupCompressor("zstd")
	return c
}

// Gzip returns the registered gzip compressor.
func Gzip() Compressor {
	c, _ := LookupCompressor("gzip")
	return c
}

type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCompressor() (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (c *zstdCompressor) Name() string { return "zstd" }

func (c *zstdCompressor) Compress(p []byte) ([]byte, error) {
	return c.enc.EncodeAll(p, nil), nil
}

func (c *zstdCompressor) Decompress(p []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(p, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

type gzipCompressor struct{}

func (gzipCompressor) Name() string { return "gzip" }

func (gzipCompressor) Compress(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(p); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(p []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	return out, nil
}
