// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dynamics

import "math"

// WrapAngle maps a into [0, 2π).
func WrapAngle(a float64) float64 {
	w := a - 2*math.Pi*math.Floor(a/(2*math.Pi))
	if w >= 2*math.Pi {
		w = 0
	}
	return w
}

// AngleDiff wraps a difference of headings into (-π, π].
func AngleDiff(a float64) float64 {
	w := WrapAngle(a)
	if w > math.Pi {
		w -= 2 * math.Pi
	}
	return w
}

// Residual stores next - f(x, u) into r, with circular coordinates wrapped by AngleDiff.
func Residual(m Model, x, u, next, r []float64) {
	m.Step(x, u, r)
	for i := range r {
		r[i] = next[i] - r[i]
		if m.IsAngle(i) {
			r[i] = AngleDiff(r[i])
		}
	}
}
