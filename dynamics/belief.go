// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dynamics

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Estimator advances a Gaussian belief (mean, covariance) by one step under control u.
// Implementations are typically an EKF under the maximum-likelihood observation.
type Estimator interface {
	StateDim() int
	ControlDim() int
	Update(x []float64, sigma *mat.SymDense, u []float64) ([]float64, *mat.SymDense)
}

// Belief augments the estimator state with the principal square root 𝐒 of its covariance.
//
// The belief vector is [𝐱; vech(𝐒)] where vech stacks the lower triangle of
// the symmetric 𝐒 column by column, n + n(n+1)/2 entries in total.
type Belief struct {
	Estimator Estimator
	Angles    []int   // Mean coordinates that are headings
	FDStep    float64 // Finite-difference step, DefaultStep when zero
}

// NewBelief wraps e into a belief-space model.
func NewBelief(e Estimator, angles ...int) *Belief {
	return &Belief{Estimator: e, Angles: angles}
}

// PackedDim returns the belief dimension for an n-dimensional mean.
func PackedDim(n int) int { return n + n*(n+1)/2 }

func (b *Belief) StateDim() int   { return PackedDim(b.Estimator.StateDim()) }
func (b *Belief) ControlDim() int { return b.Estimator.ControlDim() }

func (b *Belief) IsAngle(i int) bool {
	for _, a := range b.Angles {
		if a == i {
			return true
		}
	}
	return false
}

// IsDiagonal reports whether packed coordinate i (i ≥ n) is a diagonal entry of 𝐒.
func IsDiagonal(n, i int) bool {
	idx := n
	for j := 0; j < n; j++ {
		if idx == i {
			return true
		}
		idx += n - j
	}
	return false
}

// TraceWeights returns packed-state weights w such that Σᵢ wᵢbᵢ² = α·tr(𝐒𝐒) = α·tr(Σ)
// for a belief b of an n-dimensional mean. Off-diagonal entries appear twice in 𝐒.
func TraceWeights(n int, alpha float64) []float64 {
	w := make([]float64, PackedDim(n))
	for i := n; i < len(w); i++ {
		if IsDiagonal(n, i) {
			w[i] = alpha
		} else {
			w[i] = 2 * alpha
		}
	}
	return w
}

// Pack writes the mean x and the lower triangle of the symmetric s into dst.
func Pack(x []float64, s mat.Symmetric, dst []float64) {
	n := len(x)
	if s.SymmetricDim() != n || len(dst) != PackedDim(n) {
		panic(ErrDimension)
	}
	copy(dst, x)
	idx := n
	for j := 0; j < n; j++ {
		for i := j; i < n; i++ {
			dst[idx] = 0.5 * (s.At(i, j) + s.At(j, i))
			idx++
		}
	}
}

// Unpack splits a belief vector of an n-dimensional mean into mean and square root.
func Unpack(n int, b []float64) ([]float64, *mat.SymDense) {
	if len(b) != PackedDim(n) {
		panic(ErrDimension)
	}
	x := append([]float64(nil), b[:n]...)
	s := mat.NewSymDense(n, nil)
	idx := n
	for j := 0; j < n; j++ {
		for i := j; i < n; i++ {
			s.SetSym(i, j, b[idx])
			idx++
		}
	}
	return x, s
}

// Step maps the belief through Σ = 𝐒𝐒, the estimator update, and back to the principal square root.
func (b *Belief) Step(x, u, next []float64) {
	n := b.Estimator.StateDim()
	mean, s := Unpack(n, x)

	sigma := mat.NewSymDense(n, nil)
	sigma.SymOuterK(1, s)

	mean, sigma = b.Estimator.Update(mean, sigma, u)
	Pack(mean, SqrtSym(sigma), next)
}

func (b *Belief) Linearize(x, u []float64, lin *Linearization) error {
	return linearize(b, b.FDStep, x, u, lin)
}

// SqrtSym returns the principal square root 𝐕√𝐃𝐕ᵀ of a symmetric positive semi-definite matrix.
// Negative eigenvalues caused by round-off are clamped to zero.
func SqrtSym(a mat.Symmetric) *mat.SymDense {
	n := a.SymmetricDim()
	var es mat.EigenSym
	if !es.Factorize(a, true) {
		panic("dynamics: eigen decomposition of covariance failed")
	}
	vals := es.Values(nil)
	var v mat.Dense
	es.VectorsTo(&v)

	w := mat.NewDense(n, n, nil)
	w.Apply(func(i, j int, x float64) float64 {
		return x * math.Sqrt(math.Max(vals[j], 0))
	}, &v)

	var r mat.Dense
	r.Mul(w, v.T())

	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(r.At(i, j)+r.At(j, i)))
		}
	}
	return s
}
