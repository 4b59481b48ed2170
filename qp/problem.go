// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package qp defines the boundary of the multistage quadratic program solved at
// every trust-region iteration, and a reference interior-point backend for it.
//
// A problem with T stages reads
//
//	minimize   Σₜ ½ 𝐳ₜᵀ diag(𝐡ₜ) 𝐳ₜ + 𝐟ₜᵀ𝐳ₜ
//	subject to 𝐳₀[0:p] = 𝐩                        (pin)
//	           𝐳ₜ₊₁[0:rₜ] = 𝐂ₜ𝐳ₜ + 𝐞ₜ,  t < T-1     (coupling)
//	           𝐥ₜ ≤ 𝐳ₜ ≤ 𝐮ₜ
//
// The stage dimensions and the diagonal Hessians are fixed by a Layout at
// configuration time; costs, bounds and coupling data change on every call.
package qp

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidLayout is returned when a Layout is inconsistent.
var ErrInvalidLayout = errors.New("qp: invalid layout")

// Layout fixes the stage structure of a multistage QP.
type Layout struct {
	Dims    []int       // Number of variables of every stage (T entries)
	Rows    []int       // Number of coupling rows from stage t into stage t+1 (T-1 entries)
	Pin     int         // Number of leading stage-0 variables fixed by the pin
	Hessian [][]float64 // Diagonal Hessian of every stage, non-negative
}

// Stages returns the number of stages T.
func (l *Layout) Stages() int { return len(l.Dims) }

// Check verifies the layout is consistent.
func (l *Layout) Check() error {
	T := len(l.Dims)
	switch {
	case T == 0:
		return fmt.Errorf("%w: no stage", ErrInvalidLayout)
	case len(l.Rows) != T-1:
		return fmt.Errorf("%w: %d coupling blocks for %d stages", ErrInvalidLayout, len(l.Rows), T)
	case len(l.Hessian) != T:
		return fmt.Errorf("%w: %d hessians for %d stages", ErrInvalidLayout, len(l.Hessian), T)
	case l.Pin < 0 || l.Pin > l.Dims[0]:
		return fmt.Errorf("%w: pin size %d", ErrInvalidLayout, l.Pin)
	}
	for t, n := range l.Dims {
		if n <= 0 {
			return fmt.Errorf("%w: stage %d has %d variables", ErrInvalidLayout, t, n)
		}
		if len(l.Hessian[t]) != n {
			return fmt.Errorf("%w: stage %d hessian size %d", ErrInvalidLayout, t, len(l.Hessian[t]))
		}
		for _, h := range l.Hessian[t] {
			if !(h >= 0) || math.IsInf(h, 0) {
				return fmt.Errorf("%w: stage %d hessian entry %v", ErrInvalidLayout, t, h)
			}
		}
	}
	for t, r := range l.Rows {
		if r < 0 || r > l.Dims[t+1] {
			return fmt.Errorf("%w: stage %d couples %d rows into %d variables", ErrInvalidLayout, t, r, l.Dims[t+1])
		}
	}
	return nil
}

// NewProblem allocates the per-stage data arrays matching the layout.
func (l *Layout) NewProblem() *Problem {
	p := &Problem{
		Stages: make([]Stage, len(l.Dims)),
		Pin:    make([]float64, l.Pin),
	}
	for t, n := range l.Dims {
		s := &p.Stages[t]
		s.F = make([]float64, n)
		s.Lower = make([]float64, n)
		s.Upper = make([]float64, n)
		if t < len(l.Rows) {
			s.C = make([]float64, l.Rows[t]*n)
			s.E = make([]float64, l.Rows[t])
		}
	}
	return p
}

// Stage carries the data of one stage.
type Stage struct {
	F     []float64 // Linear cost
	Lower []float64 // Lower bounds, -Inf when absent
	Upper []float64 // Upper bounds, +Inf when absent
	// Coupling matrix 𝐂ₜ (rₜ × nₜ) in column-major order: C[c×rₜ + r] = 𝐂ₜ[r, c].
	// Empty on the terminal stage.
	C []float64
	E []float64 // Coupling constant 𝐞ₜ, empty on the terminal stage
}

// At returns 𝐂[r, c] of a stage with rows coupling rows.
func (s *Stage) At(rows, r, c int) float64 { return s.C[c*rows+r] }

// Set assigns 𝐂[r, c] of a stage with rows coupling rows.
func (s *Stage) Set(rows, r, c int, v float64) { s.C[c*rows+r] = v }

// Problem is the per-call data of a multistage QP.
type Problem struct {
	Stages []Stage
	Pin    []float64 // Value of the pinned stage-0 variables
}

// ExitFlag reports the outcome of a solve.
type ExitFlag int

const (
	// Optimal the solver converged within the desired accuracy.
	Optimal ExitFlag = 1
	// MaxIterReached the maximum number of iterations was reached.
	MaxIterReached ExitFlag = 0
	// NoProgress no progress in line search or factorization possible.
	NoProgress ExitFlag = -7
	// InvalidInput problem data does not match the layout or has empty bounds.
	InvalidInput ExitFlag = -100
)

func (f ExitFlag) String() string {
	switch f {
	case Optimal:
		return "optimal"
	case MaxIterReached:
		return "max iterations reached"
	case NoProgress:
		return "no progress"
	case InvalidInput:
		return "invalid input"
	default:
		return fmt.Sprintf("exit flag %d", int(f))
	}
}

// Info holds solver diagnostics.
type Info struct {
	Iter    int     // Number of iterations performed
	PObj    float64 // Primal objective
	DObj    float64 // Dual objective estimate
	ResEq   float64 // Infinity norm of the equality residual
	ResIneq float64 // Largest bound violation
	Gap     float64 // Duality gap
}

// Result is the read-only output of one call.
// Z is only meaningful when Flag is Optimal.
type Result struct {
	Flag ExitFlag
	Z    [][]float64 // Optimized stage vectors
	Info
}

// OK reports whether the solve was optimal.
func (r *Result) OK() bool { return r.Flag == Optimal }

// Backend is a multistage QP oracle bound to one Layout.
// A Backend is not safe for concurrent use; give each goroutine its own.
type Backend interface {
	Solve(p *Problem) *Result
}
