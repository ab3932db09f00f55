// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testgguf builds GGUF data streams for tests.
package testgguf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/nlpodyssey/qvarbuilder/dtype"
)

// Tensor is a tensor to be written. Shape is in row-major order.
type Tensor struct {
	Name  string
	DType dtype.DType
	Shape []int
	Data  []byte
}

// KV is a metadata entry. Value must be one of the Go types produced by
// header.Read, or an Array.
type KV struct {
	Key   string
	Value any
}

// Array is a typed metadata array.
type Array struct {
	Type  uint32
	Items []any
}

// File describes a whole GGUF data stream.
type File struct {
	// Version defaults to 3.
	Version uint32
	// Alignment defaults to 32. When set, it is also written as
	// "general.alignment" metadata.
	Alignment int
	Metadata  []KV
	Tensors   []Tensor
}

// Offsets returns the byte-buffer offset of each tensor, in order.
func (f File) Offsets() []int {
	alignment := f.alignment()
	offsets := make([]int, len(f.Tensors))
	off := 0
	for i, t := range f.Tensors {
		offsets[i] = off
		off = align(off+len(t.Data), alignment)
	}
	return offsets
}

func (f File) alignment() int {
	if f.Alignment == 0 {
		return 32
	}
	return f.Alignment
}

// Bytes serializes the File.
func (f File) Bytes() []byte {
	version := f.Version
	if version == 0 {
		version = 3
	}
	e := NewEncoder(version)
	e.Uint32(0x46554747).Uint32(version)

	kvs := f.Metadata
	if f.Alignment != 0 {
		kvs = append([]KV{{Key: "general.alignment", Value: uint32(f.Alignment)}}, kvs...)
	}
	e.Count(uint64(len(f.Tensors))).Count(uint64(len(kvs)))
	for _, kv := range kvs {
		e.String(kv.Key).TypedValue(kv.Value)
	}

	offsets := f.Offsets()
	for i, t := range f.Tensors {
		e.String(t.Name).Uint32(uint32(len(t.Shape)))
		for j := len(t.Shape) - 1; j >= 0; j-- {
			e.Count(uint64(t.Shape[j]))
		}
		e.Uint32(uint32(t.DType)).Uint64(uint64(offsets[i]))
	}

	alignment := f.alignment()
	e.Pad(alignment)
	start := e.Len()
	for i, t := range f.Tensors {
		e.Pad0(start + offsets[i] - e.Len())
		e.Bytes(t.Data)
	}
	return e.Buffer()
}

// WriteFile serializes the File into a new file inside a test temporary
// directory, returning its path.
func (f File) WriteFile(tb testing.TB) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "model.gguf")
	if err := os.WriteFile(path, f.Bytes(), 0o600); err != nil {
		tb.Fatal(err)
	}
	return path
}

func align(offset, alignment int) int {
	return offset + (alignment-offset%alignment)%alignment
}

// Encoder appends little-endian GGUF primitives to a buffer. It is useful
// to craft malformed streams.
type Encoder struct {
	buf     bytes.Buffer
	version uint32
}

// NewEncoder returns an Encoder writing counts with the width of the
// given format version.
func NewEncoder(version uint32) *Encoder {
	return &Encoder{version: version}
}

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int { return e.buf.Len() }

// Buffer returns a copy of the written bytes.
func (e *Encoder) Buffer() []byte { return bytes.Clone(e.buf.Bytes()) }

func (e *Encoder) Uint8(v uint8) *Encoder {
	e.buf.WriteByte(v)
	return e
}

func (e *Encoder) Uint16(v uint16) *Encoder {
	e.buf.Write(binary.LittleEndian.AppendUint16(nil, v))
	return e
}

func (e *Encoder) Uint32(v uint32) *Encoder {
	e.buf.Write(binary.LittleEndian.AppendUint32(nil, v))
	return e
}

func (e *Encoder) Uint64(v uint64) *Encoder {
	e.buf.Write(binary.LittleEndian.AppendUint64(nil, v))
	return e
}

// Count writes a length or counter, 32-bit wide in version 1.
func (e *Encoder) Count(v uint64) *Encoder {
	if e.version == 1 {
		return e.Uint32(uint32(v))
	}
	return e.Uint64(v)
}

func (e *Encoder) String(s string) *Encoder {
	e.Count(uint64(len(s)))
	e.buf.WriteString(s)
	return e
}

func (e *Encoder) Bytes(b []byte) *Encoder {
	e.buf.Write(b)
	return e
}

// Pad writes zero bytes up to the next multiple of alignment.
func (e *Encoder) Pad(alignment int) *Encoder {
	return e.Pad0(align(e.Len(), alignment) - e.Len())
}

// Pad0 writes n zero bytes.
func (e *Encoder) Pad0(n int) *Encoder {
	e.buf.Write(make([]byte, n))
	return e
}

// TypedValue writes the value type tag followed by the value.
func (e *Encoder) TypedValue(v any) *Encoder {
	e.Uint32(valueType(v))
	return e.Value(v)
}

// Value writes a value without its type tag.
func (e *Encoder) Value(v any) *Encoder {
	switch v := v.(type) {
	case uint8:
		e.Uint8(v)
	case int8:
		e.Uint8(uint8(v))
	case uint16:
		e.Uint16(v)
	case int16:
		e.Uint16(uint16(v))
	case uint32:
		e.Uint32(v)
	case int32:
		e.Uint32(uint32(v))
	case float32:
		e.Uint32(math.Float32bits(v))
	case bool:
		if v {
			e.Uint8(1)
		} else {
			e.Uint8(0)
		}
	case string:
		e.String(v)
	case uint64:
		e.Uint64(v)
	case int64:
		e.Uint64(uint64(v))
	case float64:
		e.Uint64(math.Float64bits(v))
	case Array:
		e.Uint32(v.Type).Count(uint64(len(v.Items)))
		for _, item := range v.Items {
			e.Value(item)
		}
	default:
		panic(fmt.Sprintf("testgguf: unsupported value type %T", v))
	}
	return e
}

func valueType(v any) uint32 {
	switch v.(type) {
	case uint8:
		return 0
	case int8:
		return 1
	case uint16:
		return 2
	case int16:
		return 3
	case uint32:
		return 4
	case int32:
		return 5
	case float32:
		return 6
	case bool:
		return 7
	case string:
		return 8
	case Array:
		return 9
	case uint64:
		return 10
	case int64:
		return 11
	case float64:
		return 12
	}
	panic(fmt.Sprintf("testgguf: unsupported value type %T", v))
}

// F32 encodes float32 values as little-endian bytes.
func F32(values ...float32) []byte {
	b := make([]byte, 0, 4*len(values))
	for _, v := range values {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

// Filled returns n bytes all set to v.
func Filled(n int, v byte) []byte {
	return bytes.Repeat([]byte{v}, n)
}
