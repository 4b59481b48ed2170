// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsq

import "math"

// HFTI (Householder Forward Triangulation with column Interchanges) solves the
// least-squares problem 𝐀𝐗 ≅ 𝐁 for an m × n matrix 𝐀 of any rank and returns
// the pseudo-rank k used.
//
// 𝐀 is reduced to 𝐐𝐀𝐏 = [𝐑₁₁ 𝐑₁₂; 0 𝐑₂₂] with column pivoting 𝐏, and k is the
// number of diagonal entries of 𝐑 exceeding tau in magnitude. Dropping 𝐑₂₂, the
// k × n block is triangulated once more from the right, [𝐑₁₁ 𝐑₁₂]𝐊 = [𝐖 0], and
// the minimum-length solution is 𝐱 = 𝐏𝐊[𝐖⁻¹𝐜₁ 0]ᵀ.
//
// On return the first n rows of every column of 𝐁 hold the solution and
// norm[j] holds the residual norm of column j. h, g and ip are workspaces of
// length n, min(m,n) and min(m,n).
//
// Chapter 14, Algorithm 14.9.
func HFTI(a []float64, mda, m, n int, b []float64, mdb, nb int, tau float64,
	norm []float64, h, g []float64, ip []int) int {

	const factor = 0.001

	diag := min(m, n)
	if diag <= 0 {
		return 0
	}
	if n > len(h) || diag > len(h) || diag > len(ip) {
		panic("bound check error")
	}

	hmax := zero
	for j := 0; j < diag; j++ {
		// downdate the squared column lengths
		lmax := j
		if j > 0 {
			v := math.NaN()
			for l := j; l < n; l++ {
				t := a[(j-1)+mda*l]
				if h[l] -= t * t; !(h[l] <= v) {
					lmax, v = l, h[l]
				}
			}
		}
		// recompute them when cancellation makes the downdate unreliable
		if j == 0 || factor*h[lmax] < hmax*eps {
			v := math.NaN()
			for l := j; l < n; l++ {
				sm := zero
				for _, t := range a[j+mda*l : m+mda*l] {
					sm += t * t
				}
				if h[l] = sm; !(h[l] <= v) {
					lmax, v = l, h[l]
				}
			}
			hmax = h[lmax]
		}

		ip[j] = lmax
		if ip[j] != j {
			c1, c2 := a[mda*j:mda*j+m], a[mda*lmax:mda*lmax+m]
			for i := range c1 {
				c1[i], c2[i] = c2[i], c1[i]
			}
			h[lmax] = h[j]
		}

		i := min(j+1, n-1)
		h[j] = h1(j, j+1, m, a[mda*j:], 1)
		h2(j, j+1, m, a[mda*j:], 1, h[j], a[mda*i:], 1, mda, n-j-1) // 𝐐𝐀𝐏
		h2(j, j+1, m, a[mda*j:], 1, h[j], b, 1, mdb, nb)            // 𝐐𝐁
	}

	k := diag
	for j := 0; j < diag; j++ {
		if math.Abs(a[j+mda*j]) <= tau {
			k = j
			break
		}
	}
	if k > len(g) || nb > len(norm) {
		panic("bound check error")
	}

	for jb := 0; jb < nb; jb++ {
		sm := zero
		if k < m {
			for _, t := range b[mdb*jb+k : mdb*jb+m] {
				sm += t * t
			}
		}
		norm[jb] = math.Sqrt(sm)
	}

	if k == 0 {
		for jb := 0; jb < nb; jb++ {
			dzero(b[mdb*jb : mdb*jb+n])
		}
		return 0
	}

	if k < n {
		for i := k - 1; i >= 0; i-- {
			g[i] = h1(i, k, n, a[i:], mda)
			h2(i, k, n, a[i:], mda, g[i], a, mda, 1, i) // [𝐑₁₁ 𝐑₁₂]𝐊 = [𝐖 0]
		}
	}

	for jb := 0; jb < nb; jb++ {
		cb := b[mdb*jb:]
		if n > len(cb) {
			cb = cb[:n]
		}

		// 𝐖𝐲₁ = 𝐜₁
		for i := k - 1; i >= 0; i-- {
			sm := zero
			for j := i + 1; j < k; j++ {
				sm += a[i+mda*j] * cb[j]
			}
			cb[i] = (cb[i] - sm) / a[i+mda*i]
		}

		if k < n {
			dzero(cb[k:n])
			for i := 0; i < k; i++ {
				h2(i, k, n, a[i:], mda, g[i], cb, 1, mdb, 1)
			}
		}

		for j := diag - 1; j >= 0; j-- {
			if l := ip[j]; l != j {
				cb[l], cb[j] = cb[j], cb[l]
			}
		}
	}
	return k
}
