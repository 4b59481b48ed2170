// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsq

import "math"

// LSEI (Least-Squares with linear Equality & Inequality) solves
// 𝚖𝚒𝚗‖ 𝐄𝐱 - 𝐟 ‖₂ subject to 𝐂𝐱 = 𝐝 and 𝐆𝐱 ≥ 𝐡, where 𝐂 is mc × n with full row
// rank mc ≤ n, 𝐄 is me × n and 𝐆 is mg × n.
//
// An orthogonal 𝐊 triangularizes the equality block from the right,
//
//	⎡ 𝐂 ⎤ 𝐊 = ⎡ 𝐂߬₁  0  ⎤    𝐱 = 𝐊⎡ 𝐲₁ ⎤
//	⎥ 𝐄 ⎥     ⎥ 𝐄߬₁  𝐄߬₂ ⎥         ⎣ 𝐲₂ ⎦
//	⎣ 𝐆 ⎦     ⎣ 𝐆߬₁  𝐆߬₂ ⎦
//
// so that 𝐲₁ solves the triangular system 𝐂߬₁𝐲₁ = 𝐝 and 𝐲₂ solves the LSI problem
// 𝚖𝚒𝚗‖ 𝐄߬₂𝐲₂ - (𝐟 - 𝐄߬₁𝐲₁) ‖₂ subject to 𝐆߬₂𝐲₂ ≥ 𝐡 - 𝐆߬₁𝐲₁.
//
// The arrays are column-major with leading dimensions lc, le and lg, and are
// overwritten. On success the multipliers of the stationarity condition
// 𝐄ᵀ(𝐄𝐱 - 𝐟) = 𝐂ᵀ𝛍 + 𝐆ᵀ𝛌 are returned as 𝛍 = w[:mc] and 𝛌 = w[mc:mc+mg].
// LSEIWork gives the workspace sizes.
//
// Chapter 20, Algorithm 20.24 and Chapter 23, Section 6.
func LSEI(c, d, e, f, g, h []float64,
	lc, mc, le, me, lg, mg, n int,
	x []float64, w []float64, jw []int, maxIterLs int) (norm float64, mode Mode) {

	if n < 1 || mc > n {
		return math.NaN(), BadArgument
	}
	if n > len(x) || mc < 0 || mc > len(c) || mc > len(d) ||
		me < 0 || me > len(e) || me > len(f) ||
		mg < 0 || mg > len(g) || mg > len(h) {
		panic("bound check error")
	}

	l := n - mc
	// w = [ 𝛍 mc | LSI workspace | pivots of 𝐊 mc | 𝐄߬₂ me×l | 𝐟 - 𝐄߬₁𝐲₁ me | 𝐆߬₂ mg×l ]
	iw := mc
	ws := w[iw : iw+(l+1)*(mg+2)+2*mg]
	iw += len(ws)
	wp := w[iw : iw+mc]
	iw += len(wp)
	we := w[iw : iw+me*l]
	iw += len(we)
	wf := w[iw : iw+me]
	iw += len(wf)
	wg := w[iw : iw+mg*l]

	for i := 0; i < mc; i++ {
		j := min(i+1, lc-1)
		wp[i] = h1(i, i+1, n, c[i:], lc)
		h2(i, i+1, n, c[i:], lc, wp[i], c[j:], lc, 1, mc-i-1) // 𝐂𝐊
		h2(i, i+1, n, c[i:], lc, wp[i], e, le, 1, me)         // 𝐄𝐊
		h2(i, i+1, n, c[i:], lc, wp[i], g, lg, 1, mg)         // 𝐆𝐊
	}

	// 𝐂߬₁𝐲₁ = 𝐝
	for i := 0; i < mc; i++ {
		diag := c[i+lc*i]
		if math.Abs(diag) < eps {
			return math.NaN(), LSEISingularC
		}
		x[i] = (d[i] - ddot(i, c[i:], lc, x, 1)) / diag
	}

	dzero(ws[:mg])

	if mc < n {
		for i := 0; i < me; i++ {
			wf[i] = f[i] - ddot(mc, e[i:], le, x, 1)
		}
		for i := 0; i < me; i++ {
			dcopy(l, e[i+le*mc:], le, we[i:], me)
		}
		for i := 0; i < mg; i++ {
			dcopy(l, g[i+lg*mc:], lg, wg[i:], mg)
		}

		if mg > 0 {
			for i := 0; i < mg; i++ {
				h[i] -= ddot(mc, g[i:], lg, x, 1)
			}
			norm, mode = LSI(we, wf, wg, h, me, me, mg, mg, l, x[mc:n], ws, jw, maxIterLs)
			if mode != HasSolution {
				return math.NaN(), mode
			}
			if mc == 0 {
				// 𝛌 is already in w[:mg]
				return
			}
			t := dnrm2(mc, x, 1)
			norm = math.Sqrt(norm*norm + t*t)
		} else {
			var nrm [1]float64
			rank := HFTI(we, me, me, l, wf, max(le, n), 1, sqrtEps, nrm[:], w, w[l:], jw)
			norm = nrm[0]
			dcopy(l, wf, 1, x[mc:n], 1)
			if rank != l {
				return norm, HFTIRankDefect
			}
		}
	}

	// 𝐄ᵀ(𝐄𝐱 - 𝐟) - 𝐆ᵀ𝛌 in 𝐊 coordinates
	for i := 0; i < me; i++ {
		f[i] = ddot(n, e[i:], le, x, 1) - f[i]
	}
	for i := 0; i < mc; i++ {
		d[i] = ddot(me, e[i*le:], 1, f, 1) - ddot(mg, g[i*lg:], 1, ws[:mg], 1)
	}
	// 𝐱 = 𝐊𝐲
	for i := mc - 1; i >= 0; i-- {
		h2(i, i+1, n, c[i:], lc, wp[i], x, 1, 1, 1)
	}
	// 𝛍 = (𝐂߬₁ᵀ)⁻¹ d
	for i := mc - 1; i >= 0; i-- {
		j := min(i+1, lc-1)
		w[i] = (d[i] - ddot(mc-i-1, c[j+lc*i:], 1, w[j:], 1)) / c[i+lc*i]
	}
	return norm, HasSolution
}

// LSI (Least-Squares with linear Inequality) solves 𝚖𝚒𝚗‖ 𝐄𝐱 - 𝐟 ‖₂ subject to
// 𝐆𝐱 ≥ 𝐡, where 𝐄 is me × n with rank n and 𝐆 is mg × n.
//
// With 𝐐𝐄 = [𝐑 0]ᵀ and 𝐐𝐟 = [𝐟߫₁ 𝐟߫₂]ᵀ the substitution 𝐳 = 𝐑𝐱 - 𝐟߫₁ turns the
// problem into the LDP 𝚖𝚒𝚗‖ 𝐳 ‖₂ subject to 𝐆𝐑⁻¹𝐳 ≥ 𝐡 - 𝐆𝐑⁻¹𝐟߫₁, and the residual
// norm is (‖ 𝐳 ‖₂² + ‖ 𝐟߫₂ ‖₂²)¹ᐟ². w needs (n+1)×(mg+2)+2mg entries and jw needs mg;
// the multipliers of 𝐆𝐱 ≥ 𝐡 are returned in w[:mg].
//
// Chapter 23, Section 5.
func LSI(e, f, g, h []float64, le, me, lg, mg, n int,
	x []float64, w []float64, jw []int, maxIterLs int) (xnorm float64, mode Mode) {

	if n < 1 {
		return 0, BadArgument
	}

	for i := 0; i < n; i++ {
		j := min(i+1, n-1)
		t := h1(i, i+1, me, e[i*le:], 1)
		h2(i, i+1, me, e[i*le:], 1, t, e[j*le:], 1, le, n-i-1) // 𝐐𝐄 = 𝐑
		h2(i, i+1, me, e[i*le:], 1, t, f, 1, 1, 1)             // 𝐐𝐟
	}

	for j := 0; j < n; j++ {
		if diag := e[j+le*j]; math.Abs(diag) < eps || math.IsNaN(diag) {
			return math.NaN(), LSISingularE
		}
	}
	for i := 0; i < mg; i++ {
		for j := 0; j < n; j++ {
			g[i+lg*j] = (g[i+lg*j] - ddot(j, g[i:], lg, e[j*le:], 1)) / e[j+le*j] // 𝐆𝐑⁻¹
		}
		h[i] -= ddot(n, g[i:], lg, f, 1) // 𝐡 - 𝐆𝐑⁻¹𝐟߫₁
	}

	if xnorm, mode = LDP(mg, n, g, lg, h, x, w, jw, maxIterLs); mode != HasSolution {
		return
	}

	// 𝐱 = 𝐑⁻¹(𝐳 + 𝐟߫₁)
	daxpy(n, one, f, 1, x, 1)
	for i := n - 1; i >= 0; i-- {
		j := min(i+1, n-1)
		x[i] = (x[i] - ddot(n-i-1, e[i+le*j:], le, x[j:], 1)) / e[i+le*i]
	}
	if me > n {
		t := dnrm2(me-n, f[n:], 1)
		xnorm = math.Sqrt(xnorm*xnorm + t*t)
	}
	return
}
