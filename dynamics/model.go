// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dynamics provides the discrete-time motion models optimized by package scp.
//
// A Model maps (state, control) to the next state and linearizes that map by
// central finite differences. Models hold no mutable state, so one value may be
// shared by optimizers running on different goroutines.
package dynamics

import (
	"errors"

	"github.com/curioloop/trajopt/numdiff"
	"gonum.org/v1/gonum/mat"
)

// DefaultStep is the absolute perturbation used for central differences.
const DefaultStep = 1e-4

// ErrDimension is returned when a state or control vector does not match the model.
var ErrDimension = errors.New("dynamics: dimension mismatch between vector and model")

// Model is a deterministic discrete-time transition 𝐱ₜ₊₁ = 𝒇(𝐱ₜ, 𝐮ₜ).
type Model interface {
	// StateDim returns the state dimension n.
	StateDim() int
	// ControlDim returns the control dimension m.
	ControlDim() int
	// Step stores 𝒇(x, u) into next. It must not retain or modify x and u.
	Step(x, u, next []float64)
	// Linearize fills lin with the Jacobians of 𝒇 at (x, u) and the value 𝒇(x, u).
	Linearize(x, u []float64, lin *Linearization) error
	// IsAngle reports whether state coordinate i is circular (heading).
	IsAngle(i int) bool
}

// Linearization is the first-order model 𝒇(𝐱, 𝐮) ≈ 𝐡 + 𝐀(𝐱 - 𝐱̄) + 𝐁(𝐮 - 𝐮̄).
type Linearization struct {
	A *mat.Dense // ∂𝒇/∂𝐱 (n × n)
	B *mat.Dense // ∂𝒇/∂𝐮 (n × m)
	H []float64  // 𝒇(𝐱̄, 𝐮̄)
}

// Reset shapes the receiver for a model with n states and m controls.
func (lin *Linearization) Reset(n, m int) {
	if lin.A == nil || lin.A.RawMatrix().Rows != n {
		lin.A = mat.NewDense(n, n, nil)
	} else {
		lin.A.Zero()
	}
	if lin.B == nil || lin.B.RawMatrix().Rows != n || lin.B.RawMatrix().Cols != m {
		lin.B = mat.NewDense(n, m, nil)
	} else {
		lin.B.Zero()
	}
	if len(lin.H) != n {
		lin.H = make([]float64, n)
	}
}

// Offset stores 𝐜 = 𝐡 - 𝐀𝐱̄ - 𝐁𝐮̄ into dst, so that 𝒇(𝐱, 𝐮) ≈ 𝐀𝐱 + 𝐁𝐮 + 𝐜.
func (lin *Linearization) Offset(x, u, dst []float64) {
	n, m := lin.B.Dims()
	if len(x) != n || len(u) != m || len(dst) != n {
		panic(ErrDimension)
	}
	c := mat.NewVecDense(n, dst)
	bu := mat.NewVecDense(n, nil)
	c.MulVec(lin.A, mat.NewVecDense(n, x))
	bu.MulVec(lin.B, mat.NewVecDense(m, u))
	c.AddVec(c, bu)
	c.SubVec(mat.NewVecDense(n, lin.H), c)
}

// Predict stores 𝐀𝐱 + 𝐁𝐮 + 𝐜 into dst, where 𝐜 is the Offset at (x̄, ū).
func (lin *Linearization) Predict(xBar, uBar, x, u, dst []float64) {
	n, m := lin.B.Dims()
	dx := make([]float64, n)
	du := make([]float64, m)
	for i := range dx {
		dx[i] = x[i] - xBar[i]
	}
	for i := range du {
		du[i] = u[i] - uBar[i]
	}
	p := mat.NewVecDense(n, dst)
	bu := mat.NewVecDense(n, nil)
	p.MulVec(lin.A, mat.NewVecDense(n, dx))
	bu.MulVec(lin.B, mat.NewVecDense(m, du))
	p.AddVec(p, bu)
	p.AddVec(p, mat.NewVecDense(n, lin.H))
}

// linearize differentiates m.Step over the stacked vector [x; u] with step h.
func linearize(m Model, h float64, x, u []float64, lin *Linearization) error {
	n, k := m.StateDim(), m.ControlDim()
	if len(x) != n || len(u) != k {
		return ErrDimension
	}
	if h <= 0 {
		h = DefaultStep
	}

	xu := make([]float64, n+k)
	copy(xu, x)
	copy(xu[n:], u)

	spec := numdiff.ApproxSpec{
		N: n + k, M: n,
		Method:  numdiff.Central,
		AbsStep: h,
		Object: func(v, y []float64) {
			m.Step(v[:n], v[n:], y)
		},
	}
	jac := make([]float64, n*(n+k))
	if err := spec.Diff(xu, jac); err != nil {
		return err
	}

	lin.Reset(n, k)
	for r := 0; r < n; r++ {
		row := jac[r*(n+k) : (r+1)*(n+k)]
		for c := 0; c < n; c++ {
			lin.A.Set(r, c, row[c])
		}
		for c := 0; c < k; c++ {
			lin.B.Set(r, c, row[n+c])
		}
	}
	spec.Value(lin.H)
	return nil
}

// Rollout forward-simulates m from x0 under controls u and returns len(u)+1 states.
func Rollout(m Model, x0 []float64, u [][]float64) ([][]float64, error) {
	if len(x0) != m.StateDim() {
		return nil, ErrDimension
	}
	x := make([][]float64, len(u)+1)
	x[0] = append([]float64(nil), x0...)
	for t, ut := range u {
		if len(ut) != m.ControlDim() {
			return nil, ErrDimension
		}
		x[t+1] = make([]float64, m.StateDim())
		m.Step(x[t], ut, x[t+1])
	}
	return x, nil
}
