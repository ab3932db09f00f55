// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qvarbuilder

import (
	"slices"
	"strings"

	"github.com/nlpodyssey/qvarbuilder/quant"
)

// Separator joins path segments and leaf names into fully-qualified
// tensor names.
const Separator = "."

// VarBuilder is a scope over a Store: a path prefix of name segments and
// the device decoded tensors are tagged with.
//
// A VarBuilder is a small value, cheap to copy. Deriving a new scope never
// modifies the receiver, so sibling scopes are independent. The zero value
// is not usable: obtain a VarBuilder from Store.Root.
type VarBuilder struct {
	store  *Store
	path   []string
	device quant.Device
}

// Push returns a child scope, whose path is the receiver's path followed
// by segment.
func (vb VarBuilder) Push(segment string) VarBuilder {
	return vb.PushPrefix(segment)
}

// PushPrefix returns a scope descending through all segments, in order.
func (vb VarBuilder) PushPrefix(segments ...string) VarBuilder {
	path := make([]string, 0, len(vb.path)+len(segments))
	path = append(path, vb.path...)
	path = append(path, segments...)
	vb.path = path
	return vb
}

// WithDevice returns the same scope, tagging tensors with device.
func (vb VarBuilder) WithDevice(device quant.Device) VarBuilder {
	vb.device = device
	return vb
}

// Name returns the fully-qualified name of leaf in this scope: the path
// segments and leaf joined by Separator, or just leaf at the root.
func (vb VarBuilder) Name(leaf string) string {
	if len(vb.path) == 0 {
		return leaf
	}
	return strings.Join(vb.path, Separator) + Separator + leaf
}

// Get reads and decodes the tensor leaf of this scope, whose declared
// shape must be exactly shape.
//
// Errors match one of ErrNotFound, ErrShapeMismatch, ErrIO or ErrCodec.
// Each call reads and decodes the data again: nothing is cached.
func (vb VarBuilder) Get(shape []int, leaf string) (*quant.Tensor, error) {
	return vb.store.get(vb.Name(leaf), shape, true, vb.device)
}

// GetNoShape is like Get, without checking the shape.
func (vb VarBuilder) GetNoShape(leaf string) (*quant.Tensor, error) {
	return vb.store.get(vb.Name(leaf), nil, false, vb.device)
}

// Contains reports whether the Store has a tensor with the given
// fully-qualified name, regardless of the scope's path.
func (vb VarBuilder) Contains(name string) bool {
	return vb.store.Contains(name)
}

// ContainsTensor reports whether the tensor leaf exists in this scope.
func (vb VarBuilder) ContainsTensor(leaf string) bool {
	return vb.store.Contains(vb.Name(leaf))
}

// Path returns a copy of the path segments.
func (vb VarBuilder) Path() []string {
	return slices.Clone(vb.path)
}

// Device returns the device tensors are tagged with.
func (vb VarBuilder) Device() quant.Device {
	return vb.device
}

// Store returns the Store shared by all scopes derived from the same root.
func (vb VarBuilder) Store() *Store {
	return vb.store
}
