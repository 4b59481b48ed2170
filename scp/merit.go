// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"math"

	"github.com/curioloop/trajopt/dynamics"
)

// Objective weighs the quadratic cost of a trajectory against a goal 𝐠:
//
//	Σₜ₌₀ᵀ⁻² ( Σᵢ 𝐪ᵢ𝐱ₜᵢ² + Σⱼ 𝐫ⱼ𝐮ₜⱼ² ) + Σᵢ 𝐪ᶠᵢ(𝐱ₜ₋₁ᵢ - 𝐠ᵢ)²
//
// All weights are non-negative, so the cost never is.
type Objective struct {
	StateWeight    []float64 // Running state weights 𝐪, nil for none
	ControlWeight  []float64 // Control effort weights 𝐫, nil for none
	TerminalWeight []float64 // Goal deviation weights 𝐪ᶠ, nil for none
}

func weight(w []float64, i int) float64 {
	if w == nil {
		return 0
	}
	return w[i]
}

// evaluator computes cost, violation and merit of trajectories.
type evaluator struct {
	model dynamics.Model
	obj   Objective
	goal  []float64
}

// Cost returns the quadratic cost of tr, ignoring the dynamics.
func (e *evaluator) Cost(tr *Trajectory) float64 {
	T := len(tr.X)
	cost := 0.0
	for t := 0; t < T-1; t++ {
		for i, x := range tr.X[t] {
			cost += weight(e.obj.StateWeight, i) * x * x
		}
		for j, u := range tr.U[t] {
			cost += weight(e.obj.ControlWeight, j) * u * u
		}
	}
	for i, x := range tr.X[T-1] {
		d := x - e.goal[i]
		cost += weight(e.obj.TerminalWeight, i) * d * d
	}
	return cost
}

// Violation returns the total absolute dynamics residual Σₜ‖𝐱ₜ₊₁ - 𝒇(𝐱ₜ, 𝐮ₜ)‖₁.
// Heading residuals are measured along the circle.
func (e *evaluator) Violation(tr *Trajectory) float64 {
	n := e.model.StateDim()
	r := make([]float64, n)
	viol := 0.0
	for t := 0; t+1 < len(tr.X); t++ {
		dynamics.Residual(e.model, tr.X[t], tr.U[t], tr.X[t+1], r)
		for _, v := range r {
			viol += math.Abs(v)
		}
	}
	return viol
}

// Merit returns Cost(tr) + penalty·Violation(tr).
func (e *evaluator) Merit(tr *Trajectory, penalty float64) float64 {
	return e.Cost(tr) + penalty*e.Violation(tr)
}
