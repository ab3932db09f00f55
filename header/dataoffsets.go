// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import (
	"errors"
	"math"
)

// DataOffsets describes "[Begin, End)" byte range of the tensor's data
// within the GGUF byte-buffer.
//
// Tensor data starts at Begin byte index (inclusive) and ends at End byte
// index (exclusive). Both positions are relative to the beginning of the
// byte-buffer.
type DataOffsets struct {
	// Begin is the lower bound byte index (included).
	Begin int
	// End is the upper bound byte index (excluded).
	End int
}

// Len returns the number of bytes in the range.
func (a DataOffsets) Len() int {
	return a.End - a.Begin
}

// Overlaps reports whether the two ranges share at least one byte.
func (a DataOffsets) Overlaps(b DataOffsets) bool {
	return a.Begin < b.End && b.Begin < a.End
}

var errIntSumOverflow = errors.New("int sum overflow")

func checkedAddNonNeg(a, b int) (int, error) {
	if a < 0 || b < 0 {
		return 0, errors.New("unexpected negative number")
	}
	if a > math.MaxInt-b {
		return 0, errIntSumOverflow
	}
	return a + b, nil
}
