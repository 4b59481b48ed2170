// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsq

import "math"

// LDP (Least Distance Programming) solves 𝚖𝚒𝚗‖ 𝐱 ‖₂ subject to 𝐆𝐱 ≥ 𝐡 for an
// m × n matrix 𝐆 of any rank.
//
// The problem is dual to the NNLS problem 𝚖𝚒𝚗‖ 𝐀𝐮 - 𝐛 ‖₂, 𝐮 ≥ 0, with the
// (n+1) × m matrix 𝐀 = [𝐆 : 𝐡]ᵀ and 𝐛 = [0ₙ : 1]. With the NNLS residual
// 𝐫 = 𝐀𝐮 - 𝐛, the constraints are compatible iff ‖ 𝐫 ‖₂ > 0, and then
//
//	𝐱 = 𝐆ᵀ𝐮 / (-𝐫ₙ₊₁)    𝛌 = 𝐮 / (-𝐫ₙ₊₁)
//
// where 𝛌 are the multipliers of 𝐆𝐱 ≥ 𝐡, returned in w[:m].
// w needs (n+1)×(m+2)+2m entries and jw needs m.
//
// Chapter 23, Algorithm 23.27.
func LDP(m, n int, g []float64, mdg int, h []float64, x []float64,
	w []float64, jw []int, maxIter int) (xnorm float64, mode Mode) {

	if n <= 0 {
		return math.NaN(), BadArgument
	}
	if m <= 0 {
		return 0, OK
	}
	if m > mdg || mdg*n > len(g) || m > len(h) || n > len(x) || (n+1)*(m+2)+2*m > len(w) || m > len(jw) {
		panic("bound check error")
	}

	// w = [ 𝐀 (n+1)×m | 𝐛 n+1 | 𝐳 n+1 | 𝐮 m | dual m ]
	iw := 0
	a := w[iw : iw+m*(n+1)]
	iw += len(a)
	b := w[iw : iw+(n+1)]
	iw += len(b)
	z := w[iw : iw+(n+1)]
	iw += len(z)
	u := w[iw : iw+m]
	iw += len(u)
	dv := w[iw : iw+m]

	for j := 0; j < m; j++ {
		dcopy(n, g[j:], mdg, a[j*(n+1):], 1)
		a[j*(n+1)+n] = h[j]
	}
	dzero(b[:n])
	b[n] = one

	var rnorm, fac float64
	rnorm, mode = NNLS(n+1, m, a, n+1, b, u, dv, z, jw, maxIter)
	if mode == HasSolution {
		if rnorm <= zero {
			mode = ConsIncompatible
		} else {
			fac = one - ddot(m, h, 1, u, 1) // -𝐫ₙ₊₁
			if math.IsNaN(fac) || fac < eps {
				mode = ConsIncompatible
			}
		}
	}
	if mode != HasSolution {
		return math.NaN(), mode
	}

	fac = one / fac
	for j := 0; j < n; j++ {
		x[j] = ddot(m, g[mdg*j:], 1, u, 1) * fac
	}
	for j := 0; j < m; j++ {
		w[j] = u[j] * fac
	}
	return dnrm2(n, x, 1), mode
}
