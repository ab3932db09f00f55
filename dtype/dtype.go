// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtype

import (
	"fmt"
	"math"
	"math/bits"
)

// DType represents a tensor quantization scheme, as recorded in a GGUF
// tensor-info entry.
//
// Values coincide with the on-disk ggml_type tags. Tags that are not listed
// here (including the slots 4 and 5 that were removed from the format) are
// invalid.
type DType uint32

const (
	// F32 represents a 32-bit floating point data type.
	F32 DType = 0
	// F16 represents a 16-bit half-precision floating point data type.
	F16 DType = 1
	// Q4_0 stores blocks of 32 4-bit values with one F16 scale.
	Q4_0 DType = 2
	// Q4_1 stores blocks of 32 4-bit values with an F16 scale and minimum.
	Q4_1 DType = 3
	// Q5_0 stores blocks of 32 5-bit values with one F16 scale.
	Q5_0 DType = 6
	// Q5_1 stores blocks of 32 5-bit values with an F16 scale and minimum.
	Q5_1 DType = 7
	// Q8_0 stores blocks of 32 8-bit values with one F16 scale.
	Q8_0 DType = 8
	// Q8_1 stores blocks of 32 8-bit values with an F16 scale and sum.
	Q8_1 DType = 9
	// Q2_K is the 2-bit k-quant scheme (super-blocks of 256 values).
	Q2_K DType = 10
	// Q3_K is the 3-bit k-quant scheme (super-blocks of 256 values).
	Q3_K DType = 11
	// Q4_K is the 4-bit k-quant scheme (super-blocks of 256 values).
	Q4_K DType = 12
	// Q5_K is the 5-bit k-quant scheme (super-blocks of 256 values).
	Q5_K DType = 13
	// Q6_K is the 6-bit k-quant scheme (super-blocks of 256 values).
	Q6_K DType = 14
	// Q8_K is the 8-bit k-quant scheme (super-blocks of 256 values).
	Q8_K DType = 15
	// BF16 represents a 16-bit brain floating point data type.
	BF16 DType = 30
)

// QK is the number of values in a block of the "legacy" quantization
// schemes (Q4_0 to Q8_1).
const QK = 32

// QKK is the number of values in a super-block of the k-quant schemes.
const QKK = 256

type traits struct {
	name      string
	blockSize int
	typeSize  int
}

var dTypeTraits = map[DType]traits{
	F32:  {"F32", 1, 4},
	F16:  {"F16", 1, 2},
	Q4_0: {"Q4_0", QK, 2 + QK/2},
	Q4_1: {"Q4_1", QK, 2 + 2 + QK/2},
	Q5_0: {"Q5_0", QK, 2 + 4 + QK/2},
	Q5_1: {"Q5_1", QK, 2 + 2 + 4 + QK/2},
	Q8_0: {"Q8_0", QK, 2 + QK},
	Q8_1: {"Q8_1", QK, 2 + 2 + QK},
	Q2_K: {"Q2_K", QKK, QKK/16 + QKK/4 + 2 + 2},
	Q3_K: {"Q3_K", QKK, QKK/8 + QKK/4 + 12 + 2},
	Q4_K: {"Q4_K", QKK, 2 + 2 + 12 + QKK/2},
	Q5_K: {"Q5_K", QKK, 2 + 2 + 12 + QKK/8 + QKK/2},
	Q6_K: {"Q6_K", QKK, QKK/2 + QKK/4 + QKK/16 + 2},
	Q8_K: {"Q8_K", QKK, 4 + QKK + 2*QKK/16},
	BF16: {"BF16", 1, 2},
}

// All returns every valid DType, ordered by tag value.
func All() []DType {
	return []DType{F32, F16, Q4_0, Q4_1, Q5_0, Q5_1, Q8_0, Q8_1, Q2_K, Q3_K, Q4_K, Q5_K, Q6_K, Q8_K, BF16}
}

// Parse converts a raw ggml_type tag into a DType, returning an error
// if the tag does not denote a supported scheme.
func Parse(tag uint32) (DType, error) {
	dt := DType(tag)
	if err := dt.Validate(); err != nil {
		return 0, err
	}
	return dt, nil
}

// Validate returns an error if the DType is not valid, otherwise nil.
func (dt DType) Validate() error {
	if _, ok := dTypeTraits[dt]; !ok {
		return fmt.Errorf("invalid DType(%d)", uint32(dt))
	}
	return nil
}

// String returns a string representation of a DType.
func (dt DType) String() string {
	t, ok := dTypeTraits[dt]
	if !ok {
		return fmt.Sprintf("invalid DType(%d)", uint32(dt))
	}
	return t.name
}

// BlockSize returns the number of values encoded by one block of this
// scheme, or -1 if the DType value is invalid. Non-quantized types have
// a block size of 1.
func (dt DType) BlockSize() int {
	t, ok := dTypeTraits[dt]
	if !ok {
		return -1
	}
	return t.blockSize
}

// TypeSize returns the size in bytes of one block of this scheme,
// or -1 if the DType value is invalid.
func (dt DType) TypeSize() int {
	t, ok := dTypeTraits[dt]
	if !ok {
		return -1
	}
	return t.typeSize
}

// IsQuantized reports whether the scheme packs values into blocks.
func (dt DType) IsQuantized() bool {
	return dt.BlockSize() > 1
}

// ByteSize returns the number of bytes needed to store the given number
// of elements with this scheme.
//
// An error is returned if the DType is invalid, if elements is negative or
// not a multiple of the block size, or if the result overflows int.
func (dt DType) ByteSize(elements int) (int, error) {
	if err := dt.Validate(); err != nil {
		return 0, err
	}
	if elements < 0 {
		return 0, fmt.Errorf("negative number of elements %d", elements)
	}
	t := dTypeTraits[dt]
	if elements%t.blockSize != 0 {
		return 0, fmt.Errorf("number of elements %d is not a multiple of %s block size %d", elements, t.name, t.blockSize)
	}
	hi, size := bits.Mul(uint(elements/t.blockSize), uint(t.typeSize))
	if hi != 0 || size > math.MaxInt {
		return 0, fmt.Errorf("int overflow computing %s byte size of %d elements", t.name, elements)
	}
	return int(size), nil
}

// MarshalText satisfies encoding.TextMarshaler interface.
func (dt DType) MarshalText() ([]byte, error) {
	if err := dt.Validate(); err != nil {
		return nil, err
	}
	return []byte(dTypeTraits[dt].name), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler interface.
func (dt *DType) UnmarshalText(text []byte) error {
	s := string(text)
	for v, t := range dTypeTraits {
		if t.name == s {
			*dt = v
			return nil
		}
	}
	return fmt.Errorf("failed to text-unmarshal DType from value %q", s)
}
