// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"errors"
	"fmt"

	"github.com/curioloop/trajopt/qp"
)

var (
	// ErrSolverFailure is reported when the QP backend returns a non-optimal exit flag.
	ErrSolverFailure = errors.New("scp: qp solver failure")
	// ErrDivergedLinearization is reported when the convexified merit predicts a loss beyond tolerance.
	ErrDivergedLinearization = errors.New("scp: approximate merit got worse")
	// ErrAllScalesFailed is reported when every initial control scale failed.
	ErrAllScalesFailed = errors.New("scp: optimization failed for every initial scale")
	// ErrInvalidProblem is reported when a problem or trajectory is malformed.
	ErrInvalidProblem = errors.New("scp: invalid problem")
)

// SolveError records the QP exit flag of a failed subproblem.
type SolveError struct {
	Iter    int         // SQP iteration of the failed solve
	Flag    qp.ExitFlag // Exit flag returned by the backend
	Wrapped error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("%v at sqp iteration %d: %v", e.Wrapped, e.Iter, e.Flag)
}

func (e *SolveError) Unwrap() error {
	return e.Wrapped
}
