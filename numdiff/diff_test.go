// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package numdiff

import (
	"math"
	"reflect"
	"testing"
)

func objV2(x, y []float64) {
	y[0] = x[0] * math.Sin(x[1])
	y[1] = x[1] * math.Cos(x[0])
	y[2] = math.Pow(x[0], 3) * math.Pow(x[1], -0.5)
}

func jacV2(x []float64) []float64 {
	return []float64{
		math.Sin(x[1]), x[0] * math.Cos(x[1]),
		-x[1] * math.Sin(x[0]), math.Cos(x[0]),
		3 * math.Pow(x[0], 2) * math.Pow(x[1], -0.5), -0.5 * math.Pow(x[0], 3) * math.Pow(x[1], -1.5),
	}
}

func objZero(x, y []float64) {
	y[0] = x[0] * x[1]
	y[1] = math.Cos(x[0] * x[1])
}

func jacZero(x []float64) []float64 {
	return []float64{
		x[1], x[0],
		-x[1] * math.Sin(x[0]*x[1]), -x[0] * math.Sin(x[0]*x[1]),
	}
}

// unicycle step with a fixed time delta, the shape of map linearized by the dynamics package
func objCar(x, y []float64) {
	const dt, l = 0.5, 4.0
	px, py, th, v, phi := x[0], x[1], x[2], x[3], x[4]
	y[0] = px + v*dt*math.Cos(th+phi)
	y[1] = py + v*dt*math.Sin(th+phi)
	y[2] = th + v*dt*math.Sin(phi)/l
}

func jacCar(x []float64) []float64 {
	const dt, l = 0.5, 4.0
	th, v, phi := x[2], x[3], x[4]
	c, s := math.Cos(th+phi), math.Sin(th+phi)
	return []float64{
		1, 0, -v * dt * s, dt * c, -v * dt * s,
		0, 1, v * dt * c, dt * s, v * dt * c,
		0, 0, 1, dt * math.Sin(phi) / l, v * dt * math.Cos(phi) / l,
	}
}

func TestComputeAbsStp(t *testing.T) {

	x0 := []float64{1e-5, 0, 1, 1e5}
	dummy := make([]float64, 4)

	// auto select relative step
	for method, relStep := range map[Method]float64{
		Forward: sqrtEps,
		Central: cubeEps,
	} {

		expected := []float64{
			relStep,
			relStep * 1,
			relStep * 1,
			relStep * math.Abs(x0[3]),
		}

		as := ApproxSpec{N: 4, M: 1, Method: method, Object: objZero}
		_ = as.Check(x0, dummy)

		as.absoluteStep(x0)
		if !relativeEqual(as.absStep, expected, 1e-12) {
			t.Fatal("unexpected abs step")
		}

		negX0 := make([]float64, len(x0))
		for i, v := range x0 {
			negX0[i] = -v
			if method == Forward {
				expected[i] = math.Copysign(expected[i], -v)
			}
		}

		as.absoluteStep(negX0)
		if !relativeEqual(as.absStep, expected, 1e-12) {
			t.Fatal("unexpected abs step")
		}
	}

	// user-specified relative step
	for _, relStep := range []float64{0.1, 1, 10, 100} {

		expected := []float64{
			relStep * x0[0],
			sqrtEps,
			relStep * x0[2],
			relStep * x0[3],
		}

		as := ApproxSpec{N: 4, M: 1, Method: Forward, RelStep: relStep, Object: objZero}
		_ = as.Check(x0, dummy)

		as.absoluteStep(x0)
		if !relativeEqual(as.absStep, expected, 1e-12) {
			t.Fatal("unexpected abs step")
		}
	}

	// absolute step wins over relative step
	as := ApproxSpec{N: 4, M: 1, Method: Central, RelStep: 0.5, AbsStep: -1e-4, Object: objZero}
	_ = as.Check(x0, dummy)
	as.absoluteStep(x0)
	if !relativeEqual(as.absStep, []float64{1e-4, 1e-4, 1e-4, 1e-4}, 1e-12) {
		t.Fatal("unexpected abs step")
	}
}

// Case Sources : https://github.com/scipy/scipy/blob/main/scipy/optimize/tests/test__numdiff.py (test_absolute_step_sign)
func TestAbsStpSign(t *testing.T) {

	obj := func(x, y []float64) {
		y[0] = -math.Abs(x[0]+1) + math.Abs(x[1]+1)
	}

	x0 := []float64{-1, -1}
	grad := []float64{0, 0}

	as := ApproxSpec{N: 2, M: 1, Method: Forward, Object: obj, AbsStep: 1e-8}
	if err := as.Diff(x0, grad); err != nil {
		t.Fatal("abs sign failed", err)
	}
	if !relativeEqual(grad, []float64{-1.0, 1.0}, 1e-7) {
		t.Fatal("unexpected abs sign")
	}

	as = ApproxSpec{N: 2, M: 1, Method: Forward, Object: obj, AbsStep: -1e-8}
	if err := as.Diff(x0, grad); err != nil {
		t.Fatal("abs sign failed", err)
	}
	if !relativeEqual(grad, []float64{1.0, -1.0}, 1e-7) {
		t.Fatal("unexpected abs sign")
	}
}

func TestVector(t *testing.T) {

	x0 := []float64{-100.0, 0.2}
	obj := objV2
	jac1 := jacV2(x0)
	jac2 := make([]float64, 6)
	jac3 := make([]float64, 6)

	as := ApproxSpec{N: 2, M: 3, Method: Forward, Object: obj}
	if err := as.Diff(x0, jac2); err != nil {
		t.Fatal("approx vector failed", err)
	}
	as = ApproxSpec{N: 2, M: 3, Method: Central, Object: obj}
	if err := as.Diff(x0, jac3); err != nil {
		t.Fatal("approx vector failed", err)
	}
	if !relativeEqual(jac1, jac2, 1e-5) {
		t.Fatal("unexpected approx vector result")
	}
	if !relativeEqual(jac1, jac3, 1e-6) {
		t.Fatal("unexpected approx vector result")
	}

	as = ApproxSpec{N: 2, M: 3, Method: Forward, Object: obj, RelStep: 1e-4}
	if err := as.Diff(x0, jac2); err != nil {
		t.Fatal("approx vector failed", err)
	}
	as = ApproxSpec{N: 2, M: 3, Method: Central, Object: obj, RelStep: 1e-4}
	if err := as.Diff(x0, jac3); err != nil {
		t.Fatal("approx vector failed", err)
	}
	if !relativeEqual(jac1, jac2, 1e-2) {
		t.Fatal("unexpected approx vector result")
	}
	if !relativeEqual(jac1, jac3, 1e-4) {
		t.Fatal("unexpected approx vector result")
	}

}

func TestCentralFixedStep(t *testing.T) {

	x0 := []float64{60, 20, 2.47, 1.2, 0.1}
	want := jacCar(x0)
	jac := make([]float64, 15)
	y := make([]float64, 3)
	f := make([]float64, 3)

	as := ApproxSpec{N: 5, M: 3, Method: Central, Object: objCar, AbsStep: 1e-4}
	if err := as.Diff(x0, jac); err != nil {
		t.Fatal("approx car failed", err)
	}

	for k, v := range jac {
		if math.Abs(v-want[k]) > 1e-7 {
			t.Fatalf("unexpected derivative at %d: %v != %v", k, v, want[k])
		}
	}

	as.Value(y)
	objCar(x0, f)
	if !relativeEqual(y, f, 0) {
		t.Fatal("value at x0 not retained")
	}
	if !relativeEqual(x0, []float64{60, 20, 2.47, 1.2, 0.1}, 0) {
		t.Fatal("x0 not restored")
	}
}

func TestCheck(t *testing.T) {

	x0 := []float64{1, 2}
	for name, as := range map[string]ApproxSpec{
		"dims":   {N: 0, M: 1, Object: objZero},
		"method": {N: 2, M: 2, Method: Method(7), Object: objZero},
		"object": {N: 2, M: 2},
		"x0":     {N: 3, M: 2, Object: objZero},
	} {
		jac := make([]float64, max(as.N, 1)*as.M)
		if err := as.Check(x0, jac); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	as := ApproxSpec{N: 2, M: 2, Object: objZero}
	if err := as.Check(x0, make([]float64, 3)); err == nil {
		t.Fatal("jacobian size not checked")
	}
}

func TestAccuracy(t *testing.T) {

	checkDerivative := func(
		n, m int, x0 []float64,
		fun func(x, y []float64),
		jac func(x []float64) []float64) float64 {

		jacTest := jac(x0)
		jacDiff := make([]float64, n*m)

		approx := ApproxSpec{N: n, M: m, Method: Central, Object: fun}
		if err := approx.Diff(x0, jacDiff); err != nil {
			panic(err)
		}

		maxErr := 0.0
		for i := 0; i < n*m; i++ {
			absErr := math.Abs(jacTest[i] - jacDiff[i])
			absErr /= math.Max(1, math.Abs(jacDiff[i]))
			if absErr > maxErr {
				maxErr = absErr
			}
		}
		return maxErr
	}

	x0 := []float64{-10.0, 10}
	acc := checkDerivative(2, 3, x0, objV2, jacV2)
	if acc > 1e-9 {
		t.Fatal("approx accuracy not enough")
	}

	x0 = []float64{0, 0}
	acc = checkDerivative(2, 2, x0, objZero, jacZero)
	if acc > 0 {
		t.Fatal("approx accuracy not enough")
	}

}

func relativeEqual[T float64 | []float64](a, b T, tol float64) bool {
	equalWithinRel := func(a, b float64) bool {
		if a == b {
			return true
		}
		delta := math.Abs(a - b)
		return delta/math.Max(math.Abs(a), math.Abs(b)) <= tol
	}
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Float64:
		return equalWithinRel(any(a).(float64), any(b).(float64))
	case reflect.Slice:
		a, b := any(a).([]float64), any(b).([]float64)
		if len(a) != len(b) {
			return false
		}
		for i, a := range a {
			if !equalWithinRel(a, b[i]) {
				return false
			}
		}
		return true
	default:
		panic("unknown type")
	}
}
