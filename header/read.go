// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/nlpodyssey/qvarbuilder/dtype"
)

// Magic is the little-endian uint32 value of the "GGUF" file signature.
const Magic uint32 = 0x46554747

const (
	// MaxDims is the maximum number of dimensions of a tensor.
	MaxDims = 4
	// MaxStringLen limits the length of any string in the header.
	MaxStringLen = 64 << 20

	maxArrayDepth = 8
	maxPrealloc   = 1 << 16
)

// ErrDuplicateTensor is reported when the same tensor name appears more
// than once in the tensor-info table.
var ErrDuplicateTensor = errors.New("duplicate tensor name")

// ValueType is the type tag of a metadata value.
type ValueType uint32

// Metadata value types.
const (
	TypeUint8   ValueType = 0
	TypeInt8    ValueType = 1
	TypeUint16  ValueType = 2
	TypeInt16   ValueType = 3
	TypeUint32  ValueType = 4
	TypeInt32   ValueType = 5
	TypeFloat32 ValueType = 6
	TypeBool    ValueType = 7
	TypeString  ValueType = 8
	TypeArray   ValueType = 9
	TypeUint64  ValueType = 10
	TypeInt64   ValueType = 11
	TypeFloat64 ValueType = 12
)

// Read reads and parses from "r" the header part of a GGUF data stream,
// up to the end of the tensor-info table.
//
// Note that after successfully reading and parsing, NO validation is
// performed on the obtained Header, apart from rejecting unknown data
// types and duplicate tensor names.
//
// Data is consumed from "r" up to the end of the tensor-info table; the
// alignment padding and the tensor data are not read. ByteBufferOffset is
// computed relative to the position of "r" when Read was called.
func Read(r io.Reader) (Header, error) {
	d := &decoder{r: r}

	magic, err := d.uint32()
	if err != nil {
		return Header{}, fmt.Errorf("failed to read magic: %w", err)
	}
	if magic != Magic {
		return Header{}, fmt.Errorf("invalid magic %#08x", magic)
	}

	h := Header{Alignment: DefaultAlignment}
	if h.Version, err = d.uint32(); err != nil {
		return Header{}, fmt.Errorf("failed to read version: %w", err)
	}
	if h.Version < 1 || h.Version > 3 {
		return Header{}, fmt.Errorf("unsupported version %d", h.Version)
	}
	d.version = h.Version

	tensorCount, err := d.count()
	if err != nil {
		return Header{}, fmt.Errorf("failed to read tensor count: %w", err)
	}
	kvCount, err := d.count()
	if err != nil {
		return Header{}, fmt.Errorf("failed to read metadata count: %w", err)
	}

	if h.Metadata, err = d.metadata(kvCount); err != nil {
		return Header{}, err
	}
	if h.Tensors, err = d.tensors(tensorCount); err != nil {
		return Header{}, err
	}

	if _, ok := h.Metadata[AlignmentKey]; ok {
		a, ok := h.Metadata.Uint(AlignmentKey)
		if !ok || a > math.MaxInt32 {
			return Header{}, fmt.Errorf("invalid %q value %v", AlignmentKey, h.Metadata[AlignmentKey])
		}
		h.Alignment = int(a)
	}

	h.ByteBufferOffset = d.n
	if h.Alignment > 0 {
		h.ByteBufferOffset = alignOffset(d.n, h.Alignment)
	}
	return h, nil
}

func alignOffset(offset, alignment int) int {
	return offset + (alignment-offset%alignment)%alignment
}

// decoder reads little-endian GGUF primitives, keeping track of the
// number of bytes consumed.
type decoder struct {
	r       io.Reader
	n       int
	version uint32
	buf     [8]byte
}

func (d *decoder) read(size int) ([]byte, error) {
	b := d.buf[:size]
	if _, err := io.ReadFull(d.r, b); err != nil {
		return nil, err
	}
	d.n += size
	return b, nil
}

func (d *decoder) uint8() (uint8, error) {
	b, err := d.read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) uint16() (uint16, error) {
	b, err := d.read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *decoder) uint32() (uint32, error) {
	b, err := d.read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) uint64() (uint64, error) {
	b, err := d.read(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// count reads a length or counter, which is 32-bit in version 1 and
// 64-bit afterwards.
func (d *decoder) count() (uint64, error) {
	if d.version == 1 {
		v, err := d.uint32()
		return uint64(v), err
	}
	return d.uint64()
}

func (d *decoder) string() (string, error) {
	size, err := d.count()
	if err != nil {
		return "", fmt.Errorf("failed to read string length: %w", err)
	}
	if size > MaxStringLen {
		return "", fmt.Errorf("string length too large: %d", size)
	}
	b := make([]byte, size)
	if _, err = io.ReadFull(d.r, b); err != nil {
		return "", fmt.Errorf("failed to read string: %w", err)
	}
	d.n += int(size)
	return string(b), nil
}

func (d *decoder) metadata(count uint64) (Metadata, error) {
	if count == 0 {
		return nil, nil
	}
	m := make(Metadata, min(count, maxPrealloc))
	for i := uint64(0); i < count; i++ {
		key, err := d.string()
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata key %d: %w", i, err)
		}
		t, err := d.uint32()
		if err != nil {
			return nil, fmt.Errorf("failed to read type of metadata %q: %w", key, err)
		}
		// Repeated keys are not rejected: the last value wins.
		if m[key], err = d.value(ValueType(t), 0); err != nil {
			return nil, fmt.Errorf("failed to read value of metadata %q: %w", key, err)
		}
	}
	return m, nil
}

func (d *decoder) value(t ValueType, depth int) (any, error) {
	switch t {
	case TypeUint8:
		return d.uint8()
	case TypeInt8:
		v, err := d.uint8()
		return int8(v), err
	case TypeUint16:
		return d.uint16()
	case TypeInt16:
		v, err := d.uint16()
		return int16(v), err
	case TypeUint32:
		return d.uint32()
	case TypeInt32:
		v, err := d.uint32()
		return int32(v), err
	case TypeUint64:
		return d.uint64()
	case TypeInt64:
		v, err := d.uint64()
		return int64(v), err
	case TypeFloat32:
		v, err := d.uint32()
		return math.Float32frombits(v), err
	case TypeFloat64:
		v, err := d.uint64()
		return math.Float64frombits(v), err
	case TypeBool:
		v, err := d.uint8()
		if err == nil && v > 1 {
			return nil, fmt.Errorf("invalid bool value %d", v)
		}
		return v == 1, err
	case TypeString:
		return d.string()
	case TypeArray:
		return d.array(depth)
	}
	return nil, fmt.Errorf("invalid value type %d", uint32(t))
}

func (d *decoder) array(depth int) ([]any, error) {
	if depth >= maxArrayDepth {
		return nil, fmt.Errorf("arrays nested too deeply")
	}
	t, err := d.uint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read array type: %w", err)
	}
	n, err := d.count()
	if err != nil {
		return nil, fmt.Errorf("failed to read array length: %w", err)
	}
	items := make([]any, 0, min(n, maxPrealloc))
	for i := uint64(0); i < n; i++ {
		v, err := d.value(ValueType(t), depth+1)
		if err != nil {
			return nil, fmt.Errorf("failed to read array item %d: %w", i, err)
		}
		items = append(items, v)
	}
	return items, nil
}

func (d *decoder) tensors(count uint64) (TensorMap, error) {
	if count == 0 {
		return nil, nil
	}
	tm := make(TensorMap, min(count, maxPrealloc))
	for i := uint64(0); i < count; i++ {
		t, err := d.tensor()
		if err != nil {
			return nil, fmt.Errorf("failed to read tensor info %d: %w", i, err)
		}
		if _, exists := tm[t.Name]; exists {
			return nil, fmt.Errorf("%w %q", ErrDuplicateTensor, t.Name)
		}
		tm[t.Name] = t
	}
	return tm, nil
}

func (d *decoder) tensor() (t Tensor, err error) {
	if t.Name, err = d.string(); err != nil {
		return Tensor{}, fmt.Errorf("failed to read name: %w", err)
	}

	nDims, err := d.uint32()
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to read dimensions of %q: %w", t.Name, err)
	}
	if nDims > MaxDims {
		return Tensor{}, fmt.Errorf("tensor %q has too many dimensions: %d", t.Name, nDims)
	}
	if nDims > 0 {
		t.Shape = make(Shape, nDims)
	}
	// Dimensions are stored innermost first: fill the shape backwards.
	for i := int(nDims) - 1; i >= 0; i-- {
		dim, err := d.count()
		if err != nil {
			return Tensor{}, fmt.Errorf("failed to read shape of %q: %w", t.Name, err)
		}
		if dim > math.MaxInt {
			return Tensor{}, fmt.Errorf("tensor %q dimension too large: %d", t.Name, dim)
		}
		t.Shape[i] = int(dim)
	}

	kind, err := d.uint32()
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to read type of %q: %w", t.Name, err)
	}
	if t.DType, err = dtype.Parse(kind); err != nil {
		return Tensor{}, fmt.Errorf("tensor %q: %w", t.Name, err)
	}

	offset, err := d.uint64()
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to read offset of %q: %w", t.Name, err)
	}
	if offset > math.MaxInt {
		return Tensor{}, fmt.Errorf("tensor %q offset too large: %d", t.Name, offset)
	}
	t.Offset = int(offset)
	return t, nil
}
