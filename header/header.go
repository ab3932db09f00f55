// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package header reads and validates the header of a GGUF container:
// key/value metadata, the tensor-info table, and the position of the
// tensor-data byte-buffer.
package header

// Header provides tensors information and metadata, as defined by
// the GGUF format.
type Header struct {
	// Version of the GGUF format (1, 2 or 3).
	Version uint32
	// Alignment of the byte-buffer start and of every tensor offset.
	Alignment int
	Tensors   TensorMap
	Metadata  Metadata
	// ByteBufferOffset indicates the byte index position where the byte-buffer
	// is expected to start, relative to the beginning of the whole
	// GGUF data stream (or file).
	ByteBufferOffset int
}

// DefaultAlignment is used when the header metadata does not provide
// a "general.alignment" value.
const DefaultAlignment = 32

// AlignmentKey is the metadata key overriding DefaultAlignment.
const AlignmentKey = "general.alignment"

// Metadata is the set of key/value pairs read from the header.
//
// Values have one of the following types: uint8, int8, uint16, int16,
// uint32, int32, uint64, int64, float32, float64, bool, string, or []any
// for arrays (whose items are of the same types, recursively).
type Metadata map[string]any

// String returns the value for key if it is a string.
func (m Metadata) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Uint returns the value for key converted to uint64, if it holds an
// unsigned integer of any size.
func (m Metadata) Uint(key string) (uint64, bool) {
	switch v := m[key].(type) {
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	}
	return 0, false
}

// Architecture returns the "general.architecture" value, or an empty string.
func (m Metadata) Architecture() string {
	s, _ := m.String("general.architecture")
	return s
}
