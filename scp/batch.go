// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Batch fits independent problems concurrently on at most limit goroutines
// (unbounded when limit ≤ 0), each with its own optimizer and workspace.
//
// A failed fit does not stop the batch: its Result has OK false and its error,
// wrapped with the problem index, is returned at the same index of errs. An
// invalid problem or a cancelled context stops the batch and is returned as
// err; cancellation is only observed before a fit starts.
func Batch(ctx context.Context, problems []*Problem, logger *Logger, limit int) (results []*Result, errs []error, err error) {
	results = make([]*Result, len(problems))
	errs = make([]error, len(problems))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, p := range problems {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			opt, err := p.New(logger)
			if err != nil {
				return fmt.Errorf("problem %d: %w", i, err)
			}
			if results[i], err = opt.Fit(opt.Init()); err != nil {
				errs[i] = fmt.Errorf("problem %d: %w", i, err)
			}
			return nil
		})
	}
	err = g.Wait()
	return
}
