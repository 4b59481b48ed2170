// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"math"

	"github.com/curioloop/trajopt/dynamics"
	"github.com/curioloop/trajopt/qp"
)

// stageLayout returns the QP layout of a T-stage trajectory.
//
// A running stage t packs 𝐳ₜ = [𝐱ₜ; 𝐮ₜ; 𝐬⁺ₜ; 𝐬⁻ₜ] and is coupled to the next state by
//
//	𝐱ₜ₊₁ = 𝐀ₜ𝐱ₜ + 𝐁ₜ𝐮ₜ + 𝐜ₜ + 𝐬⁺ₜ - 𝐬⁻ₜ
//
// while the terminal stage holds 𝐱ₜ₋₁ alone. The first state is pinned.
// The Hessian carries the quadratic part of the Objective.
func stageLayout(T, n, m int, obj *Objective) qp.Layout {
	l := qp.Layout{
		Dims:    make([]int, T),
		Rows:    make([]int, T-1),
		Pin:     n,
		Hessian: make([][]float64, T),
	}
	for t := 0; t < T-1; t++ {
		l.Dims[t] = 3*n + m
		l.Rows[t] = n
		h := make([]float64, 3*n+m)
		for i := 0; i < n; i++ {
			h[i] = 2 * weight(obj.StateWeight, i)
		}
		for j := 0; j < m; j++ {
			h[n+j] = 2 * weight(obj.ControlWeight, j)
		}
		l.Hessian[t] = h
	}
	l.Dims[T-1] = n
	h := make([]float64, n)
	for i := range h {
		h[i] = 2 * weight(obj.TerminalWeight, i)
	}
	l.Hessian[T-1] = h
	return l
}

// subproblem owns the per-stage QP data of one workspace.
type subproblem struct {
	n, m, T  int
	opt      *Optimizer
	data     *qp.Problem
	lins     []dynamics.Linearization
	constant float64 // objective terms outside the QP
}

func newSubproblem(o *Optimizer) *subproblem {
	n, m, T := o.n, o.m, o.problem.Stages
	s := &subproblem{
		n: n, m: m, T: T,
		opt:  o,
		data: o.layout.NewProblem(),
		lins: make([]dynamics.Linearization, T-1),
	}

	// slack columns of the coupling never change
	for t := 0; t < T-1; t++ {
		st := &s.data.Stages[t]
		for i := 0; i < n; i++ {
			st.Set(n, i, n+m+i, 1)
			st.Set(n, i, 2*n+m+i, -1)
		}
	}

	// 𝐪ᶠ(𝐱 - 𝐠)² = 𝐪ᶠ𝐱² - 2𝐪ᶠ𝐠𝐱 + 𝐪ᶠ𝐠²
	final := &s.data.Stages[T-1]
	for i, g := range o.problem.Goal {
		w := weight(o.problem.Objective.TerminalWeight, i)
		final.F[i] = -2 * w * g
		s.constant += w * g * g
	}
	copy(s.data.Pin, o.problem.Start)
	return s
}

// linearize expands the dynamics around every stage of tr.
func (s *subproblem) linearize(tr *Trajectory) error {
	model := s.opt.problem.Model
	for t := range s.lins {
		if err := model.Linearize(tr.X[t], tr.U[t], &s.lins[t]); err != nil {
			return err
		}
	}
	return nil
}

// build fills the QP data around tr for the given trust widths and penalty.
func (s *subproblem) build(tr *Trajectory, trust *Trust, penalty float64) {
	n, m, T := s.n, s.m, s.T
	o := s.opt
	model := o.problem.Model

	for t := 0; t < T-1; t++ {
		st, lin := &s.data.Stages[t], &s.lins[t]
		x, u := tr.X[t], tr.U[t]

		for i := 0; i < n; i++ {
			st.F[i] = 0
			st.Lower[i], st.Upper[i] = box(x[i], trust.State[i], o.xMin[i], o.xMax[i])
		}
		for j := 0; j < m; j++ {
			st.F[n+j] = 0
			st.Lower[n+j], st.Upper[n+j] = box(u[j], trust.Control[j], o.uMin[j], o.uMax[j])
		}
		for k := n + m; k < 3*n+m; k++ {
			st.F[k] = penalty
			st.Lower[k], st.Upper[k] = 0, math.Inf(1)
		}

		for r := 0; r < n; r++ {
			for c := 0; c < n; c++ {
				st.Set(n, r, c, lin.A.At(r, c))
			}
			for c := 0; c < m; c++ {
				st.Set(n, r, n+c, lin.B.At(r, c))
			}
		}
		lin.Offset(x, u, st.E)
		// shift headings so that the residual at the current point is the wrapped one
		for i := 0; i < n; i++ {
			if model.IsAngle(i) {
				d := tr.X[t+1][i] - lin.H[i]
				st.E[i] += d - dynamics.AngleDiff(d)
			}
		}
	}

	final := &s.data.Stages[T-1]
	x := tr.X[T-1]
	for i := 0; i < n; i++ {
		lo, hi := box(x[i], trust.State[i], o.xMin[i], o.xMax[i])
		if tol := o.goalTol[i]; tol > 0 {
			g := o.problem.Goal[i]
			glo, ghi := math.Max(o.xMin[i], g-tol), math.Min(o.xMax[i], g+tol)
			if o.problem.Config.GoalClipToTrust {
				glo, ghi = intersect(glo, ghi, x[i]-trust.State[i], x[i]+trust.State[i])
			}
			lo, hi = glo, ghi
		}
		final.Lower[i], final.Upper[i] = lo, hi
	}
}

// extract copies the optimized stage vectors into dst, keeping the pinned start exact.
func (s *subproblem) extract(res *qp.Result, dst *Trajectory) {
	n, m := s.n, s.m
	for t, z := range res.Z[:s.T-1] {
		copy(dst.X[t], z[:n])
		copy(dst.U[t], z[n:n+m])
	}
	copy(dst.X[s.T-1], res.Z[s.T-1])
	copy(dst.X[0], s.opt.problem.Start)
}

// box returns [center-width, center+width] clipped to [lower, upper].
// When the two do not overlap the box collapses on the nearest global bound.
func box(center, width, lower, upper float64) (lo, hi float64) {
	lo, hi = math.Max(lower, center-width), math.Min(upper, center+width)
	if lo > hi {
		if center < lower {
			hi = lo
		} else {
			lo = hi
		}
	}
	return
}

// intersect returns [lo, hi] ∩ [tlo, thi]. Disjoint intervals collapse on
// the point of [tlo, thi] nearest to [lo, hi].
func intersect(lo, hi, tlo, thi float64) (float64, float64) {
	a, b := math.Max(lo, tlo), math.Min(hi, thi)
	if a <= b {
		return a, b
	}
	if thi < lo {
		return thi, thi
	}
	return tlo, tlo
}
