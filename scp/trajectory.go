// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import "fmt"

// Trajectory is a sequence of T states and T-1 controls.
type Trajectory struct {
	X [][]float64 // States 𝐱₀ … 𝐱ₜ₋₁
	U [][]float64 // Controls 𝐮₀ … 𝐮ₜ₋₂
}

func newTrajectory(T, n, m int) Trajectory {
	tr := Trajectory{X: make([][]float64, T), U: make([][]float64, T-1)}
	for t := range tr.X {
		tr.X[t] = make([]float64, n)
	}
	for t := range tr.U {
		tr.U[t] = make([]float64, m)
	}
	return tr
}

// Stages returns the number of states T.
func (tr *Trajectory) Stages() int { return len(tr.X) }

// Clone returns a deep copy of tr.
func (tr *Trajectory) Clone() Trajectory {
	c := Trajectory{X: make([][]float64, len(tr.X)), U: make([][]float64, len(tr.U))}
	for t, x := range tr.X {
		c.X[t] = append([]float64(nil), x...)
	}
	for t, u := range tr.U {
		c.U[t] = append([]float64(nil), u...)
	}
	return c
}

// copyFrom overwrites tr with src of identical shape.
func (tr *Trajectory) copyFrom(src *Trajectory) {
	for t := range tr.X {
		copy(tr.X[t], src.X[t])
	}
	for t := range tr.U {
		copy(tr.U[t], src.U[t])
	}
}

func (tr *Trajectory) check(T, n, m int) error {
	if len(tr.X) != T || len(tr.U) != T-1 {
		return fmt.Errorf("%w: trajectory has %d states and %d controls, want %d and %d",
			ErrInvalidProblem, len(tr.X), len(tr.U), T, T-1)
	}
	for t, x := range tr.X {
		if len(x) != n {
			return fmt.Errorf("%w: state %d has dimension %d, want %d", ErrInvalidProblem, t, len(x), n)
		}
	}
	for t, u := range tr.U {
		if len(u) != m {
			return fmt.Errorf("%w: control %d has dimension %d, want %d", ErrInvalidProblem, t, len(u), m)
		}
	}
	return nil
}
