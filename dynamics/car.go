// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dynamics

import "math"

// Car state and control coordinates.
const (
	CarX = iota
	CarY
	CarHeading
)

const (
	CarVelocity = iota
	CarSteer
)

// Car is a kinematic car with front-wheel steering:
//
//	x' = x + v·Δt·cos(θ+φ)
//	y' = y + v·Δt·sin(θ+φ)
//	θ' = θ + v·Δt·sin(φ)/L
type Car struct {
	DT        float64 // Integration step Δt
	Wheelbase float64 // Axle distance L
	FDStep    float64 // Finite-difference step, DefaultStep when zero
}

// NewCar returns a car model with the given time step and wheelbase.
func NewCar(dt, wheelbase float64) *Car {
	return &Car{DT: dt, Wheelbase: wheelbase}
}

func (c *Car) StateDim() int   { return 3 }
func (c *Car) ControlDim() int { return 2 }

func (c *Car) IsAngle(i int) bool { return i == CarHeading }

func (c *Car) Step(x, u, next []float64) {
	v, phi := u[CarVelocity], u[CarSteer]
	d := v * c.DT
	th := x[CarHeading]
	next[CarX] = x[CarX] + d*math.Cos(th+phi)
	next[CarY] = x[CarY] + d*math.Sin(th+phi)
	next[CarHeading] = th + d*math.Sin(phi)/c.Wheelbase
}

func (c *Car) Linearize(x, u []float64, lin *Linearization) error {
	return linearize(c, c.FDStep, x, u, lin)
}

// CruiseControl returns the constant control that covers the straight-line
// distance from start to goal in stages-1 steps with zero steering.
func (c *Car) CruiseControl(start, goal []float64, stages int) []float64 {
	u := make([]float64, 2)
	if stages < 2 || c.DT <= 0 {
		return u
	}
	dist := math.Hypot(goal[CarX]-start[CarX], goal[CarY]-start[CarY])
	u[CarVelocity] = dist / (float64(stages-1) * c.DT)
	return u
}
