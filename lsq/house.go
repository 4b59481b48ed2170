// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsq

import "math"

// h1 constructs the Householder transformation 𝐐 = 𝐈ₘ - b⁻¹𝐮𝐮ᵀ with b = s𝐮ₚ that
// maps the m-vector 𝐯 to 𝐲 with 𝐲ᵢ = 0 for l ≤ i < m.
//
// p is the pivot index and must satisfy 0 ≤ p < l. When l ≥ m the call is an identity.
// On return 𝐯 holds 𝐮 except its pivot, which is returned as up while 𝐯ₚ holds s.
// ive is the storage increment between elements of 𝐯.
//
// Chapter 10.
func h1(p, l, m int, v []float64, ive int) (up float64) {
	if p < 0 || p >= l || l >= m {
		return
	}

	lp := uint(p * ive)
	l1 := uint(l * ive)
	lm := uint((m - 1) * ive)
	lv := uint(len(v))
	if ive <= 0 || lp >= lv || l1 >= lv || lm >= lv {
		panic("bound check error")
	}

	maxV := math.Abs(v[lp])
	for j := l1; j <= lm; j += uint(ive) {
		maxV = math.Max(math.Abs(v[j]), maxV)
	}
	if maxV <= zero {
		return
	}

	// (vₚ² + ∑vᵢ²)¹ᐟ² on the normalized vector
	invV := one / maxV
	sumV := math.Pow(v[lp]*invV, 2)
	for j := l1; j <= lm; j += uint(ive) {
		sumV += math.Pow(v[j]*invV, 2)
	}

	s := maxV * math.Sqrt(sumV)
	if v[lp] > zero {
		s = -s
	}

	up = v[lp] - s
	v[lp] = s
	return
}

// h2 applies the transformation built by h1 to ncv vectors stored in c:
// 𝐜 ← 𝐜 + b⁻¹(𝐮ᵀ𝐜)𝐮.
//
// ice is the increment between elements of one vector, icv the increment between vectors.
func h2(p, l, m int, u []float64, iue int, up float64, c []float64, ice, icv, ncv int) {
	if p < 0 || p >= l || l >= m || ncv <= 0 {
		return
	}

	b := u[p*iue] * up
	if b >= zero {
		return
	}
	b = one / b

	base := uint(ice * p)
	incr := uint(ice * (l - p))
	l1 := uint(l * iue)
	lm := uint((m - 1) * iue)
	lu, lc := uint(len(u)), uint(len(c))
	ln := base + uint(icv)*(uint(ncv)-1)
	if iue <= 0 || l1 >= lu || lm >= lu || base >= lc || ln >= lc {
		panic("bound check error")
	}

	for j := base; j <= ln; j += uint(icv) {
		c1, cm := j+incr, (j+incr)+uint(m-l-1)*uint(ice)
		if c1 >= lc || cm >= lc {
			panic("bound check error")
		}
		sm := c[j] * up
		for iu, ic := l1, c1; iu <= lm && ic <= cm; iu, ic = iu+uint(iue), ic+uint(ice) {
			sm += c[ic] * u[iu]
		}
		if sm == zero {
			continue
		}
		sm *= b
		c[j] += sm * up
		for iu, ic := l1, c1; iu <= lm && ic <= cm; iu, ic = iu+uint(iue), ic+uint(ice) {
			c[ic] += sm * u[iu]
		}
	}
}

// g1 computes the Givens rotation that maps (a, b) to (σ, 0).
//
//	⎡ c s⎤⎡a⎤ = ⎡σ⎤
//	⎣-s c⎦⎣b⎦   ⎣0⎦
func g1(a, b float64) (c, s, sig float64) {
	if xa, xb := math.Abs(a), math.Abs(b); xa > xb {
		xr := b / a
		yr := math.Sqrt(1 + xr*xr)
		c = math.Copysign(1/yr, a)
		s = c * xr
		sig = xa * yr
	} else if xb > 0 {
		xr := a / b
		yr := math.Sqrt(1 + xr*xr)
		s = math.Copysign(1/yr, b)
		c = s * xr
		sig = xb * yr
	} else {
		s = 1
	}
	return
}

// g2 applies the rotation computed by g1 to (x, y).
func g2(c, s float64, x, y float64) (xr, yr float64) {
	return c*x + s*y, -s*x + c*y
}
