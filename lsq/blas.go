// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsq

import "gonum.org/v1/gonum/blas/blas64"

// The level-1 helpers keep the strided calling convention of the kernels and
// forward to gonum. A non-positive length is a no-op.

func vec(n int, x []float64, inc int) blas64.Vector {
	return blas64.Vector{N: n, Data: x, Inc: inc}
}

// daxpy computes 𝐲 += α𝐱.
func daxpy(n int, da float64, dx []float64, incx int, dy []float64, incy int) {
	if n <= 0 || da == 0.0 {
		return
	}
	blas64.Axpy(da, vec(n, dx, incx), vec(n, dy, incy))
}

// ddot computes 𝐱ᵀ𝐲.
func ddot(n int, dx []float64, incx int, dy []float64, incy int) float64 {
	if n <= 0 {
		return 0.0
	}
	return blas64.Dot(vec(n, dx, incx), vec(n, dy, incy))
}

// dcopy copies 𝐱 into 𝐲.
func dcopy(n int, dx []float64, incx int, dy []float64, incy int) {
	if n <= 0 {
		return
	}
	blas64.Copy(vec(n, dx, incx), vec(n, dy, incy))
}

// dnrm2 computes ‖ 𝐱 ‖₂.
func dnrm2(n int, x []float64, incx int) float64 {
	if n < 1 || incx < 1 {
		return zero
	}
	return blas64.Nrm2(vec(n, x, incx))
}

func dzero(dx []float64) {
	for i := range dx {
		dx[i] = zero
	}
}
