// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package qvarbuilder resolves named tensors out of a GGUF model-weights
// container and decodes them, on demand, into quantized tensors.
//
// A Store holds the tensor index scanned once from the container header.
// A VarBuilder is a scope over a Store: it composes dot-separated tensor
// names following a model's module nesting, checks declared shapes, and
// reads and decodes the tensor data on every retrieval.
package qvarbuilder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"time"

	"github.com/nlpodyssey/qvarbuilder/header"
	"github.com/nlpodyssey/qvarbuilder/quant"
	"golang.org/x/exp/mmap"
	"k8s.io/klog/v2"
)

// Store is the index of the tensors of a GGUF container, together with
// the handle used to read their data.
//
// A Store is immutable after creation and safe for concurrent use: tensor
// data is read with positioned reads (io.ReaderAt), without any shared
// cursor.
type Store struct {
	r      io.ReaderAt
	closer io.Closer

	version   uint32
	alignment int
	tensors   header.TensorMap
	metadata  header.Metadata
	// dataOffset is the byte-buffer offset relative to the start of r
	dataOffset int64
	device     quant.Device
}

// Load opens the GGUF file at path, reads and validates its header, and
// returns a Store tagging decoded tensors with device.
//
// The file stays open until Store.Close is called. Tensor data is not
// read until requested.
func Load(path string, device quant.Device) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open container: %w", ErrIO, err)
	}
	s, err := newStore(f, f, device, path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// LoadMmap is like Load, but the file is memory-mapped.
func LoadMmap(path string, device quant.Device) (*Store, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to map container: %w", ErrIO, err)
	}
	s, err := newStore(m, m, device, path)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	return s, nil
}

// NewStore reads the GGUF header from the beginning of r and returns a
// new Store.
//
// The caller retains ownership of r, which must remain readable as long
// as tensors are retrieved from the Store; Store.Close does not close it.
func NewStore(r io.ReaderAt, device quant.Device) (*Store, error) {
	return newStore(r, nil, device, "")
}

func newStore(r io.ReaderAt, closer io.Closer, device quant.Device, source string) (*Store, error) {
	rec := &ioRecorder{r: io.NewSectionReader(r, 0, math.MaxInt64)}
	head, err := header.Read(bufio.NewReader(rec))
	if err != nil {
		return nil, headerError(err, rec)
	}
	if err = head.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid header: %w", ErrFormat, err)
	}

	klog.V(2).InfoS("Loaded GGUF index",
		"source", source,
		"version", head.Version,
		"architecture", head.Metadata.Architecture(),
		"tensors", len(head.Tensors),
		"metadata", len(head.Metadata),
		"dataOffset", head.ByteBufferOffset)

	return &Store{
		r:          r,
		closer:     closer,
		version:    head.Version,
		alignment:  head.Alignment,
		tensors:    head.Tensors,
		metadata:   head.Metadata,
		dataOffset: int64(head.ByteBufferOffset),
		device:     device,
	}, nil
}

// Close releases the container handle, if the Store owns it.
// Retrieving tensors after Close fails with ErrIO.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	if err := s.closer.Close(); err != nil {
		return fmt.Errorf("%w: failed to close container: %w", ErrIO, err)
	}
	return nil
}

// Root returns the VarBuilder with an empty path, tagging tensors with the
// Store's device.
func (s *Store) Root() VarBuilder {
	return VarBuilder{store: s, device: s.device}
}

// Contains reports whether a tensor with the given fully-qualified name
// exists.
func (s *Store) Contains(name string) bool {
	_, ok := s.tensors[name]
	return ok
}

// Tensor returns the descriptor of the named tensor, and whether it has
// been found.
func (s *Store) Tensor(name string) (header.Tensor, bool) {
	t, ok := s.tensors[name]
	if !ok {
		return header.Tensor{}, false
	}
	t.Shape = t.Shape.Clone()
	return t, true
}

// Tensors returns a snapshot of all tensor descriptors, mapped by name.
// The returned map is a new copy, owned by the caller.
func (s *Store) Tensors() map[string]header.Tensor {
	m := make(map[string]header.Tensor, len(s.tensors))
	for name, t := range s.tensors {
		t.Shape = t.Shape.Clone()
		m[name] = t
	}
	return m
}

// TensorNames returns the sorted names of all tensors.
//
// If there are no tensors it returns nil.
func (s *Store) TensorNames() []string {
	if len(s.tensors) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.tensors))
	for name := range s.tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of tensors.
func (s *Store) Len() int {
	return len(s.tensors)
}

// Metadata returns a copy of the key/value pairs of the header.
func (s *Store) Metadata() header.Metadata {
	m := make(header.Metadata, len(s.metadata))
	for k, v := range s.metadata {
		m[k] = cloneValue(v)
	}
	return m
}

func cloneValue(v any) any {
	items, ok := v.([]any)
	if !ok {
		return v
	}
	c := make([]any, len(items))
	for i, item := range items {
		c[i] = cloneValue(item)
	}
	return c
}

// Version returns the GGUF format version of the container.
func (s *Store) Version() uint32 {
	return s.version
}

// Alignment returns the alignment of the tensor data.
func (s *Store) Alignment() int {
	return s.alignment
}

// DataOffset returns the position of the first byte of tensor data,
// relative to the beginning of the container.
func (s *Store) DataOffset() int64 {
	return s.dataOffset
}

// Device returns the device of the root VarBuilder.
func (s *Store) Device() quant.Device {
	return s.device
}

// get looks up name and decodes the tensor. If check is true, the declared
// shape must be equal to shape.
func (s *Store) get(name string, shape []int, check bool, device quant.Device) (*quant.Tensor, error) {
	t, ok := s.tensors[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	if check && !t.Shape.Equal(shape) {
		return nil, &ShapeMismatchError{
			Name:     name,
			Found:    t.Shape.Clone(),
			Expected: slices.Clone(shape),
		}
	}
	return s.readTensor(t, device)
}

// readTensor reads the exact byte range of t with a single positioned read,
// then decodes it.
func (s *Store) readTensor(t header.Tensor, device quant.Device) (*quant.Tensor, error) {
	start := time.Now()

	size, err := t.Size()
	if err != nil {
		return nil, &TensorError{Name: t.Name, Kind: ErrCodec, Err: err}
	}
	offset, err := checkedAddNonNegInt64(s.dataOffset, int64(t.Offset))
	if err != nil {
		return nil, &TensorError{Name: t.Name, Kind: ErrIO, Err: fmt.Errorf("failed to calculate tensor data offset: %w", err)}
	}

	buf := make([]byte, size)
	n, err := s.r.ReadAt(buf, offset)
	if n < size {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, &TensorError{
			Name: t.Name,
			Kind: ErrIO,
			Err:  fmt.Errorf("failed to read %d bytes at offset %d (got %d): %w", size, offset, n, err),
		}
	}

	qt, err := quant.Decode(t.DType, buf, t.Shape, device)
	if err != nil {
		return nil, &TensorError{Name: t.Name, Kind: ErrCodec, Err: err}
	}

	klog.V(4).InfoS("Loaded tensor",
		"name", t.Name,
		"dtype", t.DType,
		"shape", t.Shape,
		"bytes", size,
		"device", device,
		"duration", time.Since(start))
	return qt, nil
}

var errInt64SumOverflow = errors.New("int64 sum overflow")

func checkedAddNonNegInt64(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("unexpected negative number")
	}
	c := a + b
	if c < a {
		return 0, errInt64SumOverflow
	}
	return c, nil
}
