// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qp

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Settings controls the interior-point backend.
type Settings struct {
	MaxIter   int     `json:"max_iter" yaml:"max_iter"`     // Maximum number of iterations
	TolEq     float64 `json:"tol_eq" yaml:"tol_eq"`         // Relative tolerance on the equality and stationarity residuals
	TolGap    float64 `json:"tol_gap" yaml:"tol_gap"`       // Relative tolerance on the duality gap
	StepScale float64 `json:"step_scale" yaml:"step_scale"` // Fraction of the distance to the boundary taken per step
	MinStep   float64 `json:"min_step" yaml:"min_step"`     // Step length below which the solve reports NoProgress
}

// DefaultSettings returns the settings used when a Settings field is zero.
func DefaultSettings() Settings {
	return Settings{
		MaxIter:   100,
		TolEq:     1e-8,
		TolGap:    1e-8,
		StepScale: 0.995,
		MinStep:   1e-12,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.MaxIter <= 0 {
		s.MaxIter = d.MaxIter
	}
	if s.TolEq <= 0 {
		s.TolEq = d.TolEq
	}
	if s.TolGap <= 0 {
		s.TolGap = d.TolGap
	}
	if s.StepScale <= 0 || s.StepScale >= 1 {
		s.StepScale = d.StepScale
	}
	if s.MinStep <= 0 {
		s.MinStep = d.MinStep
	}
	return s
}

// primalReg keeps 𝚽 positive on free variables with a zero Hessian.
const primalReg = 1e-8

// Solver is a Mehrotra predictor-corrector interior-point method specialized
// to the stage structure of a Layout.
//
// Eliminating the primal step from the KKT system leaves the normal equations
// 𝐆𝚽⁻¹𝐆ᵀ Δ𝐲 = 𝐫 whose matrix is banded, since an equality row only touches
// two neighbouring stages. They are factorized by a banded Cholesky.
type Solver struct {
	layout   Layout
	settings Settings

	n, m   int   // number of variables and equality rows
	kd     int   // half-bandwidth of the normal equations
	varOff []int // first variable of every stage
	rowOff []int // first coupling row of every stage

	// equality matrix 𝐆 in compressed sparse column form
	colPtr []int
	rowIdx []int

	hess []float64
}

// New checks the layout and prepares a solver for it.
func (l Layout) New(settings Settings) (*Solver, error) {
	if err := l.Check(); err != nil {
		return nil, err
	}
	s := &Solver{layout: l, settings: settings.withDefaults()}

	T := len(l.Dims)
	s.varOff = make([]int, T+1)
	for t, d := range l.Dims {
		s.varOff[t+1] = s.varOff[t] + d
	}
	s.n = s.varOff[T]

	s.rowOff = make([]int, T)
	s.rowOff[0] = l.Pin
	for t := 1; t < T; t++ {
		s.rowOff[t] = s.rowOff[t-1] + l.Rows[t-1]
	}
	s.m = l.Pin
	for _, r := range l.Rows {
		s.m += r
	}

	s.hess = make([]float64, 0, s.n)
	for _, h := range l.Hessian {
		s.hess = append(s.hess, h...)
	}

	s.colPtr = make([]int, s.n+1)
	s.forEachEntry(nil, func(col, row int, _ float64) {
		s.rowIdx = append(s.rowIdx, row)
		s.colPtr[col+1]++
	})
	for j := 0; j < s.n; j++ {
		s.colPtr[j+1] += s.colPtr[j]
		if lo, hi := s.colPtr[j], s.colPtr[j+1]; hi > lo {
			if w := s.rowIdx[hi-1] - s.rowIdx[lo]; w > s.kd {
				s.kd = w
			}
		}
	}
	if s.m > 0 && s.kd > s.m-1 {
		s.kd = s.m - 1
	}
	return s, nil
}

// forEachEntry visits the entries of 𝐆 column by column with rows in ascending order.
// Values are taken from p, or reported as zero when p is nil.
func (s *Solver) forEachEntry(p *Problem, fn func(col, row int, v float64)) {
	l := &s.layout
	T := len(l.Dims)
	for t := 0; t < T; t++ {
		for c := 0; c < l.Dims[t]; c++ {
			col := s.varOff[t] + c
			if t == 0 && c < l.Pin {
				fn(col, c, 1)
			}
			if t > 0 && c < l.Rows[t-1] {
				fn(col, s.rowOff[t-1]+c, -1)
			}
			if t < T-1 {
				r := l.Rows[t]
				for k := 0; k < r; k++ {
					v := 0.0
					if p != nil {
						v = p.Stages[t].C[c*r+k]
					}
					fn(col, s.rowOff[t]+k, v)
				}
			}
		}
	}
}

// Init allocates a workspace for the solver.
func (s *Solver) Init() *Workspace {
	n, m, nnz := s.n, s.m, len(s.rowIdx)
	w := &Workspace{solver: s}
	w.val = make([]float64, nnz)
	w.f = make([]float64, n)
	w.lb = make([]float64, n)
	w.ub = make([]float64, n)
	w.g = make([]float64, m)

	w.z = make([]float64, n)
	w.y = make([]float64, m)
	w.ll = make([]float64, n)
	w.lu = make([]float64, n)
	w.sl = make([]float64, n)
	w.su = make([]float64, n)

	w.rd = make([]float64, n)
	w.rp = make([]float64, m)
	w.phi = make([]float64, n)
	w.rcl = make([]float64, n)
	w.rcu = make([]float64, n)
	w.rho = make([]float64, n)

	w.dz = make([]float64, n)
	w.dy = make([]float64, m)
	w.dll = make([]float64, n)
	w.dlu = make([]float64, n)
	w.az = make([]float64, n)
	w.all = make([]float64, n)
	w.alu = make([]float64, n)
	if m > 0 {
		w.band = make([]float64, m*(s.kd+1))
		w.rhs = mat.NewVecDense(m, nil)
		w.sol = mat.NewVecDense(m, nil)
	}
	return w
}

// Workspace holds the iterates of one solve and may be reused across calls
// with the same layout. It implements Backend.
type Workspace struct {
	solver *Solver

	val        []float64 // values of 𝐆
	f, lb, ub  []float64
	g          []float64 // right-hand side of 𝐆𝐳 = 𝐠
	z, y       []float64
	ll, lu     []float64 // bound multipliers
	sl, su     []float64 // bound slacks
	rd, rp     []float64 // stationarity and equality residuals
	phi        []float64
	rcl, rcu   []float64 // complementarity right-hand sides
	rho        []float64
	dz, dy     []float64
	dll, dlu   []float64
	az         []float64 // affine-scaling direction
	all, alu   []float64
	band       []float64
	rhs, sol   *mat.VecDense
	chol       mat.BandCholesky
	hasL, hasU []bool
}

// Solve runs the interior-point method on p.
func (w *Workspace) Solve(p *Problem) *Result {
	s := w.solver
	res := &Result{Flag: InvalidInput}
	if !w.load(p) {
		return res
	}
	set := s.settings
	n := s.n

	w.start()
	nb := 0
	for j := 0; j < n; j++ {
		if w.hasL[j] {
			nb++
		}
		if w.hasU[j] {
			nb++
		}
	}

	normF := floats.Norm(w.f, math.Inf(1))
	normG := 0.0
	if s.m > 0 {
		normG = floats.Norm(w.g, math.Inf(1))
	}

	for iter := 0; ; iter++ {
		w.slacks()
		w.residuals()
		mu := w.gap()
		if nb > 0 {
			mu /= float64(nb)
		}

		res.Iter = iter
		w.diagnose(&res.Info, mu*float64(nb))

		resD := floats.Norm(w.rd, math.Inf(1))
		if res.ResEq <= set.TolEq*(1+normG) && resD <= set.TolEq*(1+normF) &&
			res.Gap <= set.TolGap*(1+math.Abs(res.PObj)) {
			res.Flag = Optimal
			break
		}
		if iter >= set.MaxIter {
			res.Flag = MaxIterReached
			break
		}

		if !w.factorize() {
			res.Flag = NoProgress
			break
		}

		// predictor
		for j := 0; j < n; j++ {
			w.rcl[j], w.rcu[j] = 0, 0
			if w.hasL[j] {
				w.rcl[j] = w.sl[j] * w.ll[j]
			}
			if w.hasU[j] {
				w.rcu[j] = w.su[j] * w.lu[j]
			}
		}
		if !w.direction() {
			res.Flag = NoProgress
			break
		}
		ap, ad := w.maxStep()
		copy(w.az, w.dz)
		copy(w.all, w.dll)
		copy(w.alu, w.dlu)

		sigma := 0.0
		if nb > 0 && mu > 0 {
			muAff := 0.0
			for j := 0; j < n; j++ {
				if w.hasL[j] {
					muAff += (w.sl[j] + ap*w.dz[j]) * (w.ll[j] + ad*w.dll[j])
				}
				if w.hasU[j] {
					muAff += (w.su[j] - ap*w.dz[j]) * (w.lu[j] + ad*w.dlu[j])
				}
			}
			muAff /= float64(nb)
			sigma = math.Pow(muAff/mu, 3)
			if sigma > 1 {
				sigma = 1
			}
		}

		// corrector
		for j := 0; j < n; j++ {
			if w.hasL[j] {
				w.rcl[j] = w.sl[j]*w.ll[j] + w.az[j]*w.all[j] - sigma*mu
			}
			if w.hasU[j] {
				w.rcu[j] = w.su[j]*w.lu[j] - w.az[j]*w.alu[j] - sigma*mu
			}
		}
		if !w.direction() {
			res.Flag = NoProgress
			break
		}
		// primal and dual iterates take their own step lengths
		ap, ad = w.maxStep()
		ap, ad = math.Min(1, set.StepScale*ap), math.Min(1, set.StepScale*ad)
		if math.Min(ap, ad) < set.MinStep {
			res.Flag = NoProgress
			break
		}

		floats.AddScaled(w.z, ap, w.dz)
		floats.AddScaled(w.y, ad, w.dy)
		floats.AddScaled(w.ll, ad, w.dll)
		floats.AddScaled(w.lu, ad, w.dlu)
	}

	res.Z = make([][]float64, len(s.layout.Dims))
	for t := range res.Z {
		res.Z[t] = append([]float64(nil), w.z[s.varOff[t]:s.varOff[t+1]]...)
	}
	return res
}

// load flattens p into the workspace and reports whether it matches the layout.
func (w *Workspace) load(p *Problem) bool {
	s := w.solver
	l := &s.layout
	T := len(l.Dims)
	if p == nil || len(p.Stages) != T || len(p.Pin) != l.Pin {
		return false
	}
	if len(w.hasL) != s.n {
		w.hasL = make([]bool, s.n)
		w.hasU = make([]bool, s.n)
	}
	for t := 0; t < T; t++ {
		st, d := &p.Stages[t], l.Dims[t]
		if len(st.F) != d || len(st.Lower) != d || len(st.Upper) != d {
			return false
		}
		if t < T-1 && (len(st.C) != l.Rows[t]*d || len(st.E) != l.Rows[t]) {
			return false
		}
		off := s.varOff[t]
		for i := 0; i < d; i++ {
			lo, hi := st.Lower[i], st.Upper[i]
			if math.IsNaN(st.F[i]) || math.IsNaN(lo) || math.IsNaN(hi) || lo > hi ||
				math.IsInf(lo, 1) || math.IsInf(hi, -1) {
				return false
			}
			if lo == hi {
				// keep a strict interior around a fixed variable
				eps := 1e-9 * math.Max(1, math.Abs(lo))
				lo, hi = lo-eps, hi+eps
			}
			w.f[off+i], w.lb[off+i], w.ub[off+i] = st.F[i], lo, hi
			w.hasL[off+i] = !math.IsInf(lo, -1)
			w.hasU[off+i] = !math.IsInf(hi, 1)
		}
		if t < T-1 {
			for k, e := range st.E {
				if math.IsNaN(e) {
					return false
				}
				w.g[s.rowOff[t]+k] = -e
			}
		}
	}
	copy(w.g, p.Pin)

	k := 0
	bad := false
	s.forEachEntry(p, func(_, _ int, v float64) {
		bad = bad || math.IsNaN(v) || math.IsInf(v, 0)
		w.val[k] = v
		k++
	})
	return !bad
}

// start places the primal iterate inside the box and sizes the bound
// multipliers to the gradient 𝐇𝐳 + 𝐟 at that point, so that stationarity holds
// at 𝐲 = 0 wherever the bounds allow it.
func (w *Workspace) start() {
	s := w.solver
	for j := range w.z {
		switch {
		case w.hasL[j] && w.hasU[j]:
			w.z[j] = 0.5 * (w.lb[j] + w.ub[j])
		case w.hasL[j]:
			w.z[j] = w.lb[j] + 1
		case w.hasU[j]:
			w.z[j] = w.ub[j] - 1
		default:
			w.z[j] = 0
		}

		r := s.hess[j]*w.z[j] + w.f[j]
		w.ll[j], w.lu[j] = 0, 0
		switch {
		case w.hasL[j] && w.hasU[j]:
			w.ll[j], w.lu[j] = 1+math.Max(r, 0), 1+math.Max(-r, 0)
		case w.hasL[j]:
			w.ll[j] = math.Max(1, r)
		case w.hasU[j]:
			w.lu[j] = math.Max(1, -r)
		}
	}
	for i := range w.y {
		w.y[i] = 0
	}
}

func (w *Workspace) slacks() {
	for j, z := range w.z {
		w.sl[j], w.su[j] = 1, 1
		if w.hasL[j] {
			w.sl[j] = z - w.lb[j]
		}
		if w.hasU[j] {
			w.su[j] = w.ub[j] - z
		}
	}
}

// residuals computes 𝐫d = 𝐇𝐳 + 𝐟 + 𝐆ᵀ𝐲 - 𝛌l + 𝛌u and 𝐫p = 𝐆𝐳 - 𝐠.
func (w *Workspace) residuals() {
	s := w.solver
	for i := range w.rp {
		w.rp[i] = -w.g[i]
	}
	for j := 0; j < s.n; j++ {
		rd := s.hess[j]*w.z[j] + w.f[j] - w.ll[j] + w.lu[j]
		for k := s.colPtr[j]; k < s.colPtr[j+1]; k++ {
			r := s.rowIdx[k]
			rd += w.val[k] * w.y[r]
			w.rp[r] += w.val[k] * w.z[j]
		}
		w.rd[j] = rd
	}
}

func (w *Workspace) gap() float64 {
	sum := 0.0
	for j := range w.z {
		if w.hasL[j] {
			sum += w.sl[j] * w.ll[j]
		}
		if w.hasU[j] {
			sum += w.su[j] * w.lu[j]
		}
	}
	return sum
}

func (w *Workspace) diagnose(info *Info, gap float64) {
	s := w.solver
	pobj := 0.0
	viol := 0.0
	for j, z := range w.z {
		pobj += 0.5*s.hess[j]*z*z + w.f[j]*z
		if w.hasL[j] {
			viol = math.Max(viol, w.lb[j]-z)
		}
		if w.hasU[j] {
			viol = math.Max(viol, z-w.ub[j])
		}
	}
	info.PObj = pobj
	info.Gap = gap
	info.DObj = pobj - gap
	info.ResIneq = viol
	info.ResEq = 0
	if len(w.rp) > 0 {
		info.ResEq = floats.Norm(w.rp, math.Inf(1))
	}
}

// factorize forms 𝚽 and the banded normal matrix 𝐆𝚽⁻¹𝐆ᵀ, then factorizes it.
// A growing diagonal shift is tried when the matrix is numerically indefinite.
func (w *Workspace) factorize() bool {
	s := w.solver
	for j := 0; j < s.n; j++ {
		phi := s.hess[j] + primalReg
		if w.hasL[j] {
			phi += w.ll[j] / w.sl[j]
		}
		if w.hasU[j] {
			phi += w.lu[j] / w.su[j]
		}
		w.phi[j] = phi
	}
	if s.m == 0 {
		return true
	}

	for i := range w.band {
		w.band[i] = 0
	}
	ld := s.kd + 1
	for j := 0; j < s.n; j++ {
		inv := 1 / w.phi[j]
		lo, hi := s.colPtr[j], s.colPtr[j+1]
		for a := lo; a < hi; a++ {
			ra, va := s.rowIdx[a], w.val[a]*inv
			if va == 0 {
				continue
			}
			for b := a; b < hi; b++ {
				w.band[ra*ld+s.rowIdx[b]-ra] += va * w.val[b]
			}
		}
	}

	maxDiag := 0.0
	for i := 0; i < s.m; i++ {
		maxDiag = math.Max(maxDiag, w.band[i*ld])
	}
	shift := 0.0
	for try := 0; try < 8; try++ {
		if shift > 0 {
			for i := 0; i < s.m; i++ {
				w.band[i*ld] += shift
			}
		}
		sb := mat.NewSymBandDense(s.m, s.kd, w.band)
		if w.chol.Factorize(sb) {
			return true
		}
		if shift == 0 {
			shift = 1e-14 * math.Max(1, maxDiag)
		} else {
			shift *= 100
		}
	}
	return false
}

// direction solves the reduced KKT system for the complementarity terms in rcl and rcu.
func (w *Workspace) direction() bool {
	s := w.solver
	for j := 0; j < s.n; j++ {
		rho := -w.rd[j]
		if w.hasL[j] {
			rho -= w.rcl[j] / w.sl[j]
		}
		if w.hasU[j] {
			rho += w.rcu[j] / w.su[j]
		}
		w.rho[j] = rho
	}

	if s.m > 0 {
		rhs := w.rhs.RawVector().Data
		copy(rhs, w.rp)
		for j := 0; j < s.n; j++ {
			t := w.rho[j] / w.phi[j]
			for k := s.colPtr[j]; k < s.colPtr[j+1]; k++ {
				rhs[s.rowIdx[k]] += w.val[k] * t
			}
		}
		if err := w.chol.SolveVecTo(w.sol, w.rhs); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return false
			}
		}
		copy(w.dy, w.sol.RawVector().Data)
	}

	for j := 0; j < s.n; j++ {
		v := w.rho[j]
		for k := s.colPtr[j]; k < s.colPtr[j+1]; k++ {
			v -= w.val[k] * w.dy[s.rowIdx[k]]
		}
		dz := v / w.phi[j]
		w.dz[j] = dz
		w.dll[j], w.dlu[j] = 0, 0
		if w.hasL[j] {
			w.dll[j] = (-w.rcl[j] - w.ll[j]*dz) / w.sl[j]
		}
		if w.hasU[j] {
			w.dlu[j] = (-w.rcu[j] + w.lu[j]*dz) / w.su[j]
		}
	}
	return !floats.HasNaN(w.dz) && !floats.HasNaN(w.dy)
}

// maxStep returns the largest primal and dual steps in [0, 1] keeping
// slacks and multipliers non-negative.
func (w *Workspace) maxStep() (primal, dual float64) {
	primal, dual = 1, 1
	ratio := func(alpha *float64, v, d float64) {
		if d < 0 {
			*alpha = math.Min(*alpha, -v/d)
		}
	}
	for j, dz := range w.dz {
		if w.hasL[j] {
			ratio(&primal, w.sl[j], dz)
			ratio(&dual, w.ll[j], w.dll[j])
		}
		if w.hasU[j] {
			ratio(&primal, w.su[j], -dz)
			ratio(&dual, w.lu[j], w.dlu[j])
		}
	}
	return
}
