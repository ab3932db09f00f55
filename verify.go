// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qvarbuilder

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Verify reads and decodes every tensor of the Store, using up to workers
// concurrent retrievals, and returns the first error encountered.
//
// A workers value lower than 1 is treated as 1.
func (s *Store) Verify(ctx context.Context, workers int) error {
	log := klog.FromContext(ctx)
	if workers < 1 {
		workers = 1
	}

	names := s.TensorNames()
	startedAt := time.Now()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for _, name := range names {
		name := name
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			_, err := s.get(name, nil, false, s.device)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	log.V(2).Info("verified tensors", "count", len(names), "workers", workers, "duration", time.Since(startedAt))
	return nil
}
