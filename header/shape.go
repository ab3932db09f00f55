// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import (
	"fmt"
	"math"
	"math/bits"
	"slices"
)

// The Shape of a tensor.
type Shape []int

// Elements returns the product of all dimensions. An empty shape counts
// as 1 scalar value.
func (s Shape) Elements() (int, error) {
	size := uint(1)
	for _, v := range s {
		if v < 0 {
			return 0, fmt.Errorf("shape contains negative value %d", v)
		}
		var hi uint
		if hi, size = bits.Mul(size, uint(v)); hi != 0 || size > math.MaxInt {
			return 0, fmt.Errorf("int overflow computing tensor elements size from shape")
		}
	}
	return int(size), nil
}

// Equal reports whether s and other have the same dimensions.
func (s Shape) Equal(other []int) bool {
	return slices.Equal(s, other)
}

// Clone returns a copy of the shape, or nil if it is empty.
func (s Shape) Clone() Shape {
	if len(s) == 0 {
		return nil
	}
	return slices.Clone(s)
}
