// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lsq implements the Lawson and Hanson least-squares kernels used by
// the dense backend of the stage QP:
//
//	NNLS   𝚖𝚒𝚗‖ 𝐀𝐱 - 𝐛 ‖₂  s.t. 𝐱 ≥ 0
//	LDP    𝚖𝚒𝚗‖ 𝐱 ‖₂       s.t. 𝐆𝐱 ≥ 𝐡
//	LSI    𝚖𝚒𝚗‖ 𝐄𝐱 - 𝐟 ‖₂  s.t. 𝐆𝐱 ≥ 𝐡
//	LSEI   𝚖𝚒𝚗‖ 𝐄𝐱 - 𝐟 ‖₂  s.t. 𝐂𝐱 = 𝐝, 𝐆𝐱 ≥ 𝐡
//	HFTI   𝚖𝚒𝚗‖ 𝐀𝐗 - 𝐁 ‖₂  (rank deficient, minimum length)
//
// All matrices are column-major with an explicit leading dimension, and the
// routines work in place on caller-provided storage.
//
// C.L. Lawson, R.J. Hanson, 'Solving least squares problems' Prentice Hall, 1974. (revised 1995 edition)
package lsq

import (
	"fmt"
	"math"
)

const (
	zero = 0.0
	one  = 1.0
	two  = 2.0
	eps  = float64(7)/3 - float64(4)/3 - 1.
)

var sqrtEps = math.Sqrt(eps) // square root of machine precision

// Mode reports the outcome of a kernel.
type Mode int

const (
	// OK nothing to solve.
	OK Mode = iota
	// HasSolution problem solved successfully.
	HasSolution
	// BadArgument input dimension unacceptable.
	BadArgument
	// NNLSExceedMaxIter more than max iterations for solving NNLS
	NNLSExceedMaxIter
	// ConsIncompatible inequality constraints incompatible
	ConsIncompatible
	// LSISingularE matrix E is not of full rank in LSI
	LSISingularE
	// LSEISingularC matrix C is not of full rank in LSEI
	LSEISingularC
	// HFTIRankDefect rank-deficient equality constraint in HFTI
	HFTIRankDefect
)

func (m Mode) String() string {
	switch m {
	case OK:
		return "ok"
	case HasSolution:
		return "has solution"
	case BadArgument:
		return "bad argument"
	case NNLSExceedMaxIter:
		return "nnls exceeds max iterations"
	case ConsIncompatible:
		return "inequality constraints incompatible"
	case LSISingularE:
		return "singular E in LSI"
	case LSEISingularC:
		return "singular C in LSEI"
	case HFTIRankDefect:
		return "rank defect in HFTI"
	default:
		return fmt.Sprintf("mode %d", int(m))
	}
}

// LSEIWork returns the sizes of the float and integer workspaces LSEI needs.
func LSEIWork(mc, me, mg, n int) (w, jw int) {
	l := n - mc
	w = 2*mc + me + (me+mg)*l + (l+1)*(mg+2) + 2*mg
	jw = max(mg, min(me, l))
	return
}
