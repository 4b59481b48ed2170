// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qp

import (
	"math"

	"github.com/curioloop/trajopt/lsq"
	"gonum.org/v1/gonum/floats"
)

// DenseSettings controls the dense least-squares backend.
type DenseSettings struct {
	// Tikhonov weight given to variables with a zero Hessian entry, relative to
	// the magnitude of their linear cost.
	Reg float64 `json:"reg" yaml:"reg"`
	// Maximum number of NNLS iterations, 0 selects three times the number of bound rows.
	MaxIter int `json:"max_iter" yaml:"max_iter"`
}

// DefaultDenseSettings returns the settings used when a DenseSettings field is zero.
func DefaultDenseSettings() DenseSettings {
	return DenseSettings{Reg: 1e-6}
}

// DenseSolver stacks every stage into one least-squares problem with linear
// equality and inequality constraints and solves it by LSEI:
//
//	minimize   ½‖ 𝐃¹ᐟ²𝐳 + 𝐃⁻¹ᐟ²𝐟 ‖₂²
//	subject to 𝐆𝐳 = 𝐠   (pin and coupling rows)
//	           ±𝐳 ≥ ±𝐥, ±𝐮 (finite bounds)
//
// 𝐃 is the Hessian diagonal. A variable with a zero entry gets the weight
// Reg·max(1,|fⱼ|) around the centre of its box, which keeps 𝐃 invertible and
// vanishes as the box shrinks onto the current point.
//
// The inequality multipliers of the first solve fix the active bounds; they
// are then held as equalities in a second, equality-only solve that is exact up
// to round-off. The polished point is kept when it is feasible and its
// multipliers keep their sign.
type DenseSolver struct {
	structure *Solver
	settings  DenseSettings
}

// NewDense checks the layout and prepares a dense solver for it.
func (l Layout) NewDense(settings DenseSettings) (*DenseSolver, error) {
	s, err := l.New(Settings{})
	if err != nil {
		return nil, err
	}
	if !(settings.Reg > 0) {
		settings.Reg = DefaultDenseSettings().Reg
	}
	return &DenseSolver{structure: s, settings: settings}, nil
}

// Init allocates a workspace for the dense solver.
func (d *DenseSolver) Init() *DenseWorkspace {
	n := d.structure.n
	return &DenseWorkspace{
		solver: d,
		flat:   d.structure.Init(),
		diag:   make([]float64, n),
		lin:    make([]float64, n),
		x:      make([]float64, n),
		raw:    make([]float64, n),
	}
}

// boundRow is the row s·zⱼ ≥ rhs of a finite bound.
type boundRow struct {
	j         int
	sign, rhs float64
}

// DenseWorkspace holds the LSEI arrays of one solve. It implements Backend.
type DenseWorkspace struct {
	solver *DenseSolver
	flat   *Workspace // validated and flattened stage data

	diag, lin []float64 // regularized Hessian and shifted linear cost
	rows      []boundRow
	active    []boundRow

	c, d, e, f, g, h []float64
	x, raw, w        []float64
	jw               []int
}

// Solve runs LSEI on p.
func (dw *DenseWorkspace) Solve(p *Problem) *Result {
	s := dw.solver.structure
	fw := dw.flat
	res := &Result{Flag: InvalidInput}
	if !fw.load(p) {
		return res
	}

	reg := dw.solver.settings.Reg
	dw.rows = dw.rows[:0]
	for j := 0; j < s.n; j++ {
		lo, hi := fw.lb[j], fw.ub[j]
		center := 0.0
		switch {
		case fw.hasL[j] && fw.hasU[j]:
			center = 0.5 * (lo + hi)
		case fw.hasL[j]:
			center = lo
		case fw.hasU[j]:
			center = hi
		}
		dw.diag[j], dw.lin[j] = s.hess[j], fw.f[j]
		if dw.diag[j] == 0 {
			dw.diag[j] = reg * math.Max(1, math.Abs(fw.f[j]))
			dw.lin[j] -= dw.diag[j] * center
		}
		if fw.hasL[j] {
			dw.rows = append(dw.rows, boundRow{j, 1, lo})
		}
		if fw.hasU[j] {
			dw.rows = append(dw.rows, boundRow{j, -1, -hi})
		}
	}

	mode := dw.lsei(dw.rows, nil)
	if mode == lsq.HasSolution {
		dw.polish()
	}

	res.Iter = 1
	switch {
	case mode == lsq.NNLSExceedMaxIter:
		res.Flag = MaxIterReached
	case mode != lsq.HasSolution || floats.HasNaN(dw.x):
		res.Flag = NoProgress
	default:
		res.Flag = Optimal
	}

	// residuals and objective are measured on the unregularized problem
	copy(fw.z, dw.x)
	fw.residuals()
	fw.diagnose(&res.Info, 0)

	res.Z = make([][]float64, len(s.layout.Dims))
	for t := range res.Z {
		res.Z[t] = append([]float64(nil), dw.x[s.varOff[t]:s.varOff[t+1]]...)
	}
	return res
}

// lsei solves the stacked problem with ineq as inequality rows and eq appended
// to the equality rows. The multipliers are left in w: equalities first.
func (dw *DenseWorkspace) lsei(ineq, eq []boundRow) lsq.Mode {
	s := dw.solver.structure
	fw := dw.flat
	n, m := s.n, s.m
	mc, mg := m+len(eq), len(ineq)
	lc, lg := max(mc, 1), max(mg, 1)
	if mc > n {
		return lsq.BadArgument
	}

	dw.c = resize(dw.c, lc*n)
	dw.d = resize(dw.d, lc)
	dw.e = resize(dw.e, n*n)
	dw.f = resize(dw.f, n)
	dw.g = resize(dw.g, lg*n)
	dw.h = resize(dw.h, lg)
	nw, njw := lsq.LSEIWork(mc, n, mg, n)
	dw.w = resize(dw.w, nw)
	if cap(dw.jw) < njw {
		dw.jw = make([]int, njw)
	}
	dw.jw = dw.jw[:njw]

	for j := 0; j < n; j++ {
		for k := s.colPtr[j]; k < s.colPtr[j+1]; k++ {
			dw.c[s.rowIdx[k]+lc*j] = fw.val[k]
		}
	}
	copy(dw.d, fw.g)
	for i, r := range eq {
		dw.c[m+i+lc*r.j] = r.sign
		dw.d[m+i] = r.rhs
	}

	for j := 0; j < n; j++ {
		r := math.Sqrt(dw.diag[j])
		dw.e[j+n*j] = r
		dw.f[j] = -dw.lin[j] / r
	}
	for i, r := range ineq {
		dw.g[i+lg*r.j] = r.sign
		dw.h[i] = r.rhs
	}

	_, mode := lsq.LSEI(dw.c, dw.d, dw.e, dw.f, dw.g, dw.h,
		lc, mc, n, n, lg, mg, n, dw.x, dw.w, dw.jw, dw.solver.settings.MaxIter)
	return mode
}

// polish re-solves with the bounds of positive multiplier held as equalities.
func (dw *DenseWorkspace) polish() {
	const tol = 1e-9
	m := dw.solver.structure.m
	dw.active = dw.active[:0]
	for i, r := range dw.rows {
		if dw.w[m+i] > 0 {
			dw.active = append(dw.active, r)
		}
	}
	copy(dw.raw, dw.x)

	ok := dw.lsei(nil, dw.active) == lsq.HasSolution && !floats.HasNaN(dw.x)
	for _, r := range dw.rows {
		if !ok {
			break
		}
		ok = r.sign*dw.x[r.j]-r.rhs >= -tol*(1+math.Abs(r.rhs))
	}
	if ok && len(dw.active) > 0 {
		mu := dw.w[:m+len(dw.active)]
		scale := 1 + floats.Norm(mu, math.Inf(1))
		ok = floats.Min(mu[m:]) >= -tol*scale
	}
	if !ok {
		copy(dw.x, dw.raw)
	}
}

func resize(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}
	buf = buf[:n]
	zero(buf)
	return buf
}

func zero(buf []float64) {
	for i := range buf {
		buf[i] = 0
	}
}
