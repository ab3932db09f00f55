// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import (
	"fmt"
	"sort"
)

// Validate checks whether the content of a Header is valid according to
// GGUF format, returning an error if a problem is encountered,
// otherwise nil.
//
// This validation can serve as an early isolated checking mechanism to
// identify bogus values before performing further actions that
// heavily depend upon the Header, such as reading tensors data from
// byte-buffer.
//
// The Header is checked against the following rules:
//
//   - Alignment must be a positive power of two
//   - ByteBufferOffset must not be negative and must be aligned
//   - each key in Tensors TensorMap must match the mapped Tensor.Name
//   - each Tensor's DType must be valid
//   - each Tensor's Shape must only contain positive values
//   - the innermost (last) dimension of each Tensor must be a multiple of
//     the DType block size
//   - each Tensor's Offset must be aligned
//   - the byte ranges of any pair of tensors must not overlap
//   - no overflow must occur during calculations at any step, making sure
//     that all computed values fit within the "int" type
//
// The byte ranges are not checked against the actual size of the data
// stream, which is not known to the Header.
func (h Header) Validate() error {
	if h.Alignment <= 0 || h.Alignment&(h.Alignment-1) != 0 {
		return fmt.Errorf("invalid alignment %d: must be a positive power of two", h.Alignment)
	}
	if h.ByteBufferOffset < 0 {
		return fmt.Errorf("invalid byte-buffer offset negative value %d", h.ByteBufferOffset)
	}
	if h.ByteBufferOffset%h.Alignment != 0 {
		return fmt.Errorf("byte-buffer offset %d is not aligned to %d", h.ByteBufferOffset, h.Alignment)
	}
	return validateTensors(h.Tensors, h.Alignment)
}

func validateTensors(tm TensorMap, alignment int) error {
	if err := validateTensorNames(tm); err != nil {
		return err
	}

	ts := tm.TensorSlice()
	sort.Sort(TensorSliceByOffset{ts})

	var prev *Tensor
	var prevOffsets DataOffsets
	for i := range ts {
		t := &ts[i]
		offsets, err := validateTensor(*t, alignment)
		if err != nil {
			return fmt.Errorf("invalid tensor %q: %w", t.Name, err)
		}
		if prev != nil && offsets.Overlaps(prevOffsets) {
			return fmt.Errorf("invalid tensor %q: data [%d, %d) overlaps tensor %q data [%d, %d)",
				t.Name, offsets.Begin, offsets.End, prev.Name, prevOffsets.Begin, prevOffsets.End)
		}
		if prev == nil || offsets.End > prevOffsets.End {
			prev, prevOffsets = t, offsets
		}
	}
	return nil
}

func validateTensorNames(tm TensorMap) error {
	for k, t := range tm {
		if k != t.Name {
			return fmt.Errorf("tensor names mismatch: TensorMap key %q, Tensor.Name %q", k, t.Name)
		}
	}
	return nil
}

func validateTensor(t Tensor, alignment int) (DataOffsets, error) {
	if err := t.DType.Validate(); err != nil {
		return DataOffsets{}, err
	}
	for i, v := range t.Shape {
		if v <= 0 {
			return DataOffsets{}, fmt.Errorf("shape %v has non-positive dimension at index %d", []int(t.Shape), i)
		}
	}
	if bs := t.DType.BlockSize(); len(t.Shape) > 0 && t.Shape[len(t.Shape)-1]%bs != 0 {
		return DataOffsets{}, fmt.Errorf("innermost dimension %d is not a multiple of %s block size %d",
			t.Shape[len(t.Shape)-1], t.DType, bs)
	}
	if t.Offset%alignment != 0 {
		return DataOffsets{}, fmt.Errorf("data offset %d is not aligned to %d", t.Offset, alignment)
	}
	return t.DataOffsets()
}
