// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qvarbuilder

import (
	"errors"
	"fmt"
	"io"
)

// Error classes. Every error returned by this package matches exactly one
// of them with errors.Is.
var (
	// ErrIO is reported when the container cannot be opened or read,
	// including short reads of tensor data and reads on a closed Store.
	ErrIO = errors.New("i/o error")
	// ErrFormat is reported when the container header cannot be parsed
	// or is invalid.
	ErrFormat = errors.New("invalid container format")
	// ErrNotFound is reported when a tensor name is absent from the index.
	// Use errors.As with *NotFoundError to get the name.
	ErrNotFound = errors.New("tensor not found")
	// ErrShapeMismatch is reported when a tensor's declared shape differs
	// from the expected one. Use errors.As with *ShapeMismatchError to get
	// the details.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrCodec is reported when tensor data is rejected by the decoder
	// of its quantization scheme.
	ErrCodec = errors.New("cannot decode tensor data")
)

// NotFoundError reports a fully-qualified tensor name which is not
// present in the index.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tensor %q not found", e.Name)
}

// Is makes NotFoundError match ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ShapeMismatchError reports the declared (Found) and requested (Expected)
// shapes of a tensor.
type ShapeMismatchError struct {
	Name     string
	Found    []int
	Expected []int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch for tensor %q: found %v, expected %v", e.Name, e.Found, e.Expected)
}

// Is makes ShapeMismatchError match ErrShapeMismatch.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// TensorError is a failure to read or decode the data of a tensor.
// Kind is either ErrIO or ErrCodec.
type TensorError struct {
	Name string
	Kind error
	Err  error
}

func (e *TensorError) Error() string {
	return fmt.Sprintf("tensor %q: %v: %v", e.Name, e.Kind, e.Err)
}

func (e *TensorError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// ioRecorder keeps the first error returned by r, other than io.EOF,
// telling I/O failures apart from malformed data while parsing.
type ioRecorder struct {
	r   io.Reader
	err error
}

func (rec *ioRecorder) Read(p []byte) (int, error) {
	n, err := rec.r.Read(p)
	if err != nil && err != io.EOF && rec.err == nil {
		rec.err = err
	}
	return n, err
}

// headerError classifies an error from header parsing.
func headerError(err error, rec *ioRecorder) error {
	if rec.err != nil {
		return fmt.Errorf("%w: failed to read header: %w", ErrIO, err)
	}
	return fmt.Errorf("%w: failed to read header: %w", ErrFormat, err)
}
