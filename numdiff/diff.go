// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package numdiff estimates Jacobians of vector maps by finite differences.
package numdiff

import (
	"errors"
	"math"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central perturb each coordinate by ±h and divide the difference by 2h.
	Central
)

// ApproxSpec describes the Jacobian 𝐉 ∈ ℝᵐˣⁿ of a map 𝒚 = 𝒇(𝐱) : ℝⁿ → ℝᵐ to be estimated.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
type ApproxSpec struct {
	N, M int
	// Function of which to estimate the derivatives.
	// The argument x passed to this function is an n-vector.
	// The result is store in an m-vector y.
	// The function must not retain x or y.
	Object func(x, y []float64)
	// Finite difference method to use.
	Method Method
	// Relative step size used to compute absolute step size.
	// When both RelStep and AbsStep are zero the step is h = ε × sign(x₀) × max(1, |x₀|)
	// with ε = √𝚎𝚙𝚜 for Forward and ∛𝚎𝚙𝚜 for Central.
	RelStep float64
	// Absolute step size to use. It takes precedence over RelStep.
	// For Central method the sign of AbsStep is ignored.
	AbsStep float64
	approxCtx
}

type approxCtx struct {
	f0, f1, f2 []float64
	absStep    []float64
	done       bool
}

// Check the parameters and initialize approxCtx.
func (as *ApproxSpec) Check(x0, jac []float64) (err error) {

	switch {
	case as.N <= 0 || as.M <= 0:
		err = errors.New("numdiff: negative dimensions")
	case as.Method != Forward && as.Method != Central:
		err = errors.New("numdiff: unknown method")
	case as.Object == nil:
		err = errors.New("numdiff: object function is required")
	case as.N != len(x0):
		err = errors.New("numdiff: invalid x0 dimensions")
	case as.N*as.M != len(jac):
		err = errors.New("numdiff: invalid jacobian dimensions")
	}
	if err != nil {
		return
	}

	if len(as.f0) != as.M {
		as.f0 = make([]float64, as.M)
		as.f1 = make([]float64, as.M)
		as.f2 = make([]float64, as.M)
	}
	if len(as.absStep) != as.N {
		as.absStep = make([]float64, as.N)
	}
	as.done = false
	return
}

// Diff stores the row-major Jacobian in jac, so that jac[j×n+i] = ∂yⱼ/∂xᵢ.
// The entries of x0 are perturbed during evaluation and restored before returning.
func (as *ApproxSpec) Diff(x0, jac []float64) error {

	if err := as.Check(x0, jac); err != nil {
		return err
	}

	as.absoluteStep(x0)

	if as.Method == Central {
		as.approxCentral(x0, jac)
	} else {
		as.approxForward(x0, jac)
	}

	as.done = true
	return nil
}

// Value copies 𝒇(𝐱₀) evaluated by the last successful Diff into y.
func (as *ApproxSpec) Value(y []float64) {
	if !as.done {
		panic("numdiff: Value called before Diff")
	}
	copy(y, as.f0)
}

func (as *ApproxSpec) absoluteStep(x0 []float64) {
	h := as.absStep

	var eps float64
	switch as.Method {
	case Forward:
		eps = sqrtEps
	case Central:
		eps = cubeEps
	default:
		panic("unknown method")
	}

	abs, rel := as.AbsStep, as.RelStep
	for i, v := range x0 {
		s := abs
		if s == 0 && rel != 0 {
			s = math.Copysign(rel, v) * math.Abs(v)
		}
		if s == 0 || (v+s)-v == 0 {
			s = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
		}
		if as.Method == Central {
			s = math.Abs(s)
		}
		h[i] = s
	}
}

func (as *ApproxSpec) approxForward(x0, jac []float64) {

	f0, fx, h, n := as.f0, as.f1, as.absStep, as.N

	fun := as.Object
	fun(x0, f0)
	for i, s := range h {
		t := x0[i]
		x0[i] = t + s
		fun(x0, fx)
		d := 1.0 / (x0[i] - t)
		for j := range f0 {
			jac[j*n+i] = (fx[j] - f0[j]) * d
		}
		x0[i] = t
	}
}

func (as *ApproxSpec) approxCentral(x0, jac []float64) {

	f0, fl, fr, h, n := as.f0, as.f1, as.f2, as.absStep, as.N

	fun := as.Object
	fun(x0, f0)
	for i, s := range h {
		t := x0[i]
		xl, xr := t-s, t+s
		x0[i] = xl
		fun(x0, fl)
		x0[i] = xr
		fun(x0, fr)
		d := 1.0 / (xr - xl)
		for j := range f0 {
			jac[j*n+i] = (fr[j] - fl[j]) * d
		}
		x0[i] = t
	}
}
