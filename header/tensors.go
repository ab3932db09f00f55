// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import (
	"fmt"

	"github.com/nlpodyssey/qvarbuilder/dtype"
)

// Tensor provides properties of a tensor, as described within a
// GGUF tensor-info entry.
type Tensor struct {
	Name  string
	DType dtype.DType
	// Shape is in row-major order (outermost dimension first), that is,
	// reversed with respect to the on-disk dimensions list.
	Shape Shape
	// Offset of the tensor data, relative to the start of the byte-buffer.
	Offset int
}

// Elements returns the number of values of the tensor.
func (t Tensor) Elements() (int, error) {
	return t.Shape.Elements()
}

// Size returns the number of bytes of tensor data, derived from Shape
// and DType.
func (t Tensor) Size() (int, error) {
	n, err := t.Elements()
	if err != nil {
		return 0, err
	}
	return t.DType.ByteSize(n)
}

// DataOffsets returns the byte range of the tensor data within the
// byte-buffer.
func (t Tensor) DataOffsets() (DataOffsets, error) {
	size, err := t.Size()
	if err != nil {
		return DataOffsets{}, err
	}
	end, err := checkedAddNonNeg(t.Offset, size)
	if err != nil {
		return DataOffsets{}, fmt.Errorf("failed to compute data-offsets end: %w", err)
	}
	return DataOffsets{Begin: t.Offset, End: end}, nil
}

// TensorMap is a set of Tensor objects mapped by their name.
type TensorMap map[string]Tensor

// TensorSlice is a slice of Tensor objects.
type TensorSlice []Tensor

// TensorSliceByOffset implements sort.Interface allowing to sort a
// TensorSlice by ascending Offset values, then by name.
// It provides Less, while using Len and Swap methods of the embedded
// TensorSlice value.
type TensorSliceByOffset struct{ TensorSlice }

// TensorSlice creates an unsorted slice of Tensor objects filled with
// all values of the TensorMap.
func (tm TensorMap) TensorSlice() TensorSlice {
	if len(tm) == 0 {
		return nil
	}
	ts := make(TensorSlice, 0, len(tm))
	for _, t := range tm {
		ts = append(ts, t)
	}
	return ts
}

// Len is the number of elements in the collection.
// This function partially satisfies sort.Interface.
func (ts TensorSlice) Len() int {
	return len(ts)
}

// Swap swaps the elements with indexes i and j.
// This function partially satisfies sort.Interface.
func (ts TensorSlice) Swap(i, j int) {
	ts[i], ts[j] = ts[j], ts[i]
}

// Less reports whether the Tensor with index i must sort before the Tensor
// with index j, according to their Offset.
func (t TensorSliceByOffset) Less(i, j int) bool {
	a, b := t.TensorSlice[i], t.TensorSlice[j]
	return a.Offset < b.Offset || (a.Offset == b.Offset && a.Name < b.Name)
}
