// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsq

import "math"

// NNLS (Non-Negative Least-Squares) solves 𝚖𝚒𝚗‖ 𝐀𝐱 - 𝐛 ‖₂ subject to 𝐱 ≥ 0 with
// the active-set method, for an m × n column-major matrix 𝐀.
//
// The indices are split into a passive set ℙ, whose variables are free, and
// an active set ℤ, whose variables are held at zero. The dual vector
// 𝐰 = 𝐀ᵀ(𝐛 - 𝐀𝐱) is optimal when 𝐰ⱼ = 0 on ℙ and 𝐰ⱼ ≤ 0 on ℤ. Each outer step
// frees the index of ℤ with the largest positive 𝐰ⱼ and solves the
// unconstrained problem on the columns of ℙ through an updated QR factorization
// 𝐐𝐀ℙ = [𝐑 0]ᵀ. When that solution has a non-positive entry, the iterate moves
// toward it until the first variable hits zero, and that variable returns to ℤ.
//
// On return 𝐀 and 𝐛 hold 𝐐𝐀 and 𝐐𝐛, x the solution and w the dual vector.
// z (m) and index (n) are workspaces. maxIter ≤ 0 selects 3n.
//
// Chapter 23, Algorithm 23.10.
func NNLS(m, n int, a []float64, mda int, b []float64, x []float64, w []float64,
	z []float64, index []int, maxIter int) (float64, Mode) {

	const factor = 0.01

	if m <= 0 || n <= 0 || mda < m ||
		len(a) < mda*n || len(b) < m || len(x) < n || len(w) < n || len(z) < m || len(index) < n {
		return math.NaN(), BadArgument
	}
	if maxIter <= 0 {
		maxIter = 3 * n
	}

	// ℙ = index[:np] and ℤ = index[z1:], with z1 == np
	np, z1 := 0, 0
	index = index[:n]
	for i := range index {
		index[i] = i
	}
	dzero(x[:n])

	iter := 0
	term := func() (rnorm float64, mode Mode) {
		if np < m {
			rnorm = dnrm2(m-np, b[np:], 1)
		} else {
			dzero(w[:n])
		}
		if iter > maxIter {
			mode = NNLSExceedMaxIter
		} else {
			mode = HasSolution
		}
		return
	}

	for {
		if z1 >= n || np >= m {
			return term()
		}

		// dual vector on ℤ
		for _, j := range index[z1:] {
			w[j] = ddot(m-np, a[np+mda*j:], 1, b[np:], 1)
		}

		for {
			wmax, izmax := zero, 0
			for i, j := range index[z1:] {
				if w[j] > wmax {
					wmax, izmax = w[j], z1+i
				}
			}
			// Kuhn-Tucker conditions hold
			if wmax <= zero {
				return term()
			}

			iz := izmax
			j := index[iz]
			aj := a[mda*j : mda*j+m : mda*j+m]

			// tentatively triangularize column j
			asave := aj[np]
			up := h1(np, np+1, m, aj, 1)

			accept := false
			unorm := dnrm2(np, aj, 1)
			if math.Abs(aj[np])*factor >= unorm*eps {
				copy(z[:m], b[:m])
				h2(np, np+1, m, aj, 1, up, z, 1, 1, 1)
				accept = z[np]/aj[np] > zero
			}
			if !accept {
				aj[np] = asave
				w[j] = zero
				continue
			}

			copy(b[:m], z[:m])

			// move j from ℤ to ℙ
			index[iz] = index[z1]
			index[z1] = j
			z1++
			np++

			for _, jj := range index[z1:] {
				h2(np-1, np, m, aj, 1, up, a[jj*mda:], 1, mda, 1)
			}
			if np < m {
				dzero(aj[np:m])
			}
			w[j] = zero
			break
		}

		// The inner loop runs until every variable of ℙ is positive.
		for {
			// 𝐑𝐳 = 𝐐𝐛 by back substitution
			for ip, jj := np-1, -1; ip >= 0; ip-- {
				if jj >= 0 {
					daxpy(ip+1, -z[ip+1], a[jj*mda:], 1, z, 1)
				}
				jj = index[ip]
				z[ip] /= a[ip+jj*mda]
			}

			if iter++; iter > maxIter {
				return term()
			}

			alpha, jj := two, -1
			for ip, l := range index[:np] {
				if z[ip] <= zero {
					if t := -x[l] / (z[ip] - x[l]); alpha > t {
						alpha, jj = t, ip
					}
				}
			}

			if jj < 0 {
				for ip, idx := range index[:np] {
					x[idx] = z[ip]
				}
				break
			}

			// 𝐱 + α(𝐳 - 𝐱)
			for ip, l := range index[:np] {
				x[l] += alpha * (z[ip] - x[l])
			}

			// Return index[jj] to ℤ, then any other passive variable that
			// round-off left non-positive.
			for jj >= 0 {
				i := index[jj]
				x[i] = zero
				for j := jj + 1; j < np; j++ {
					ii := index[j]
					ci := a[ii*mda:]
					index[j-1] = ii
					var cc, ss float64
					cc, ss, ci[j-1] = g1(ci[j-1], ci[j])
					ci[j] = zero
					for l := 0; l < n; l++ {
						if l != ii {
							cl := a[l*mda : l*mda+j+1 : l*mda+j+1]
							cl[j-1], cl[j] = g2(cc, ss, cl[j-1], cl[j])
						}
					}
					b[j-1], b[j] = g2(cc, ss, b[j-1], b[j])
				}
				np--
				z1--
				index[z1] = i

				jj = -1
				for ip, idx := range index[:np] {
					if x[idx] <= zero {
						jj = ip
						break
					}
				}
			}

			copy(z[:m], b[:m])
		}
	}
}
