// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"context"
	"errors"
	"testing"

	"github.com/curioloop/trajopt/qp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch(t *testing.T) {
	goals := []float64{1, -2, 0.5, 3}
	problems := make([]*Problem, len(goals))
	for i, g := range goals {
		problems[i] = integratorProblem(g, 6)
	}

	results, errs, err := Batch(context.Background(), problems, nil, 2)
	require.NoError(t, err)
	require.Len(t, results, len(goals))
	for _, e := range errs {
		assert.NoError(t, e)
	}

	seen := map[string]bool{}
	for i, res := range results {
		require.NotNil(t, res)
		assert.True(t, res.OK)
		assert.True(t, res.Feasible)
		assert.InDelta(t, 500.0/501*goals[i], res.X[5][0], 1e-5)
		assert.False(t, seen[res.RunID])
		seen[res.RunID] = true
	}
}

func TestBatchErrors(t *testing.T) {
	bad := integratorProblem(1, 6)
	bad.Stages = 0
	_, _, err := Batch(context.Background(), []*Problem{integratorProblem(1, 6), bad}, nil, 0)
	assert.ErrorIs(t, err, ErrInvalidProblem)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, errs, err := Batch(ctx, []*Problem{integratorProblem(1, 6)}, nil, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, results[0])
	assert.NoError(t, errs[0])

	// a failed fit is reported at its index without stopping the batch
	failing := integratorProblem(1, 6)
	failing.Backend = func(l qp.Layout) qp.Backend {
		return &stubBackend{layout: l, flag: qp.NoProgress}
	}
	problems := []*Problem{integratorProblem(1, 6), failing, integratorProblem(-1, 6)}

	results, errs, err = Batch(context.Background(), problems, nil, 0)
	require.NoError(t, err)
	require.Len(t, errs, len(problems))

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[2])
	assert.True(t, results[0].OK)
	assert.True(t, results[2].OK)

	require.Error(t, errs[1])
	assert.True(t, errors.Is(errs[1], ErrSolverFailure))
	assert.ErrorIs(t, errs[1], ErrAllScalesFailed)
	assert.Contains(t, errs[1].Error(), "problem 1")
	require.NotNil(t, results[1])
	assert.False(t, results[1].OK)
	assert.Equal(t, Failed, results[1].Status)
}
