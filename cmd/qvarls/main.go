// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command qvarls lists the tensors of a GGUF container.
//
// Usage:
//
//	qvarls [flags] FILE
//
// Each output line reports name, quantization scheme, shape, offset
// and size in bytes of a tensor, sorted by name.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/nlpodyssey/qvarbuilder"
	"github.com/nlpodyssey/qvarbuilder/header"
	"github.com/nlpodyssey/qvarbuilder/quant"
	"k8s.io/klog/v2"
)

func main() {
	ctx := context.Background()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

type options struct {
	prefix   string
	filter   string
	device   string
	metadata bool
	mmap     bool
	verify   bool
	workers  int
}

// tensorEnv is the environment of -filter expressions.
type tensorEnv struct {
	Name     string
	DType    string
	Shape    []int
	Elements int
	Offset   int
	Bytes    int
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("qvarls", flag.ContinueOnError)
	klog.InitFlags(fs)

	var opt options
	fs.StringVar(&opt.prefix, "prefix", "", "only list tensors under this dot-separated path")
	fs.StringVar(&opt.filter, "filter", "", `only list tensors matching this expression, e.g. 'DType == "Q4_0" && Elements > 4096'`)
	fs.StringVar(&opt.device, "device", string(quant.CPU), "device tag of decoded tensors")
	fs.BoolVar(&opt.metadata, "metadata", false, "print header metadata")
	fs.BoolVar(&opt.mmap, "mmap", false, "memory-map the container")
	fs.BoolVar(&opt.verify, "verify", false, "read and decode every tensor")
	fs.IntVar(&opt.workers, "workers", 4, "concurrent decoders used by -verify")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: qvarls [flags] FILE")
	}
	path := fs.Arg(0)

	log := klog.FromContext(ctx)

	var filter *vm.Program
	if opt.filter != "" {
		var err error
		filter, err = expr.Compile(opt.filter, expr.Env(tensorEnv{}), expr.AsBool())
		if err != nil {
			return fmt.Errorf("compiling filter %q: %w", opt.filter, err)
		}
	}

	load := qvarbuilder.Load
	if opt.mmap {
		load = qvarbuilder.LoadMmap
	}
	store, err := load(path, quant.Device(opt.device))
	if err != nil {
		return fmt.Errorf("loading %q: %w", path, err)
	}
	defer store.Close()
	log.V(2).Info("loaded container", "path", path, "tensors", store.Len(), "mmap", opt.mmap)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	if opt.metadata {
		printMetadata(w, store.Metadata())
	}

	prefix := ""
	if opt.prefix != "" {
		prefix = store.Root().PushPrefix(strings.Split(opt.prefix, qvarbuilder.Separator)...).Name("")
	}

	tensors := store.Tensors()
	for _, name := range store.TensorNames() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		env, err := newTensorEnv(tensors[name])
		if err != nil {
			return err
		}
		if filter != nil {
			ok, err := expr.Run(filter, env)
			if err != nil {
				return fmt.Errorf("evaluating filter on %q: %w", name, err)
			}
			if !ok.(bool) {
				continue
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%d\t%d\n", env.Name, env.DType, env.Shape, env.Offset, env.Bytes)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	if opt.verify {
		if err := store.Verify(ctx, opt.workers); err != nil {
			return fmt.Errorf("verifying %q: %w", path, err)
		}
		fmt.Fprintf(out, "verified %d tensors\n", store.Len())
	}
	return nil
}

func newTensorEnv(t header.Tensor) (tensorEnv, error) {
	elements, err := t.Elements()
	if err != nil {
		return tensorEnv{}, fmt.Errorf("tensor %q: %w", t.Name, err)
	}
	size, err := t.Size()
	if err != nil {
		return tensorEnv{}, fmt.Errorf("tensor %q: %w", t.Name, err)
	}
	return tensorEnv{
		Name:     t.Name,
		DType:    t.DType.String(),
		Shape:    t.Shape,
		Elements: elements,
		Offset:   t.Offset,
		Bytes:    size,
	}, nil
}

// maxPrintedItems limits how many items of a metadata array are printed.
const maxPrintedItems = 8

func printMetadata(w io.Writer, md header.Metadata) {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := md[k]
		if items, ok := v.([]any); ok && len(items) > maxPrintedItems {
			v = fmt.Sprintf("%v... (%d items)", items[:maxPrintedItems], len(items))
		}
		fmt.Fprintf(w, "%s\t=\t%v\n", k, v)
	}
	fmt.Fprintln(w)
}
