// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dynamics

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// lightDark is a planar point with position observations whose noise grows with
// the distance from a light source placed on the line x = light.
type lightDark struct {
	dt, light float64
}

func (l lightDark) StateDim() int   { return 2 }
func (l lightDark) ControlDim() int { return 2 }

func (l lightDark) Update(x []float64, sigma *mat.SymDense, u []float64) ([]float64, *mat.SymDense) {
	next := []float64{x[0] + u[0]*l.dt, x[1] + u[1]*l.dt}

	p := mat.NewSymDense(2, nil)
	p.AddSym(sigma, mat.NewSymDense(2, []float64{0.01 * l.dt, 0, 0, 0.01 * l.dt}))

	r := 0.5*(next[0]-l.light)*(next[0]-l.light) + 1e-3
	var inn mat.Dense
	inn.Add(p, mat.NewDiagDense(2, []float64{r, r}))
	var innInv mat.Dense
	if err := innInv.Inverse(&inn); err != nil {
		panic(err)
	}
	var k, kp mat.Dense
	k.Mul(p, &innInv)
	kp.Mul(&k, p)

	post := mat.NewSymDense(2, nil)
	for i := 0; i < 2; i++ {
		for j := i; j < 2; j++ {
			v := p.At(i, j) - 0.5*(kp.At(i, j)+kp.At(j, i))
			post.SetSym(i, j, v)
		}
	}
	return next, post
}

func carJacobian(c *Car, x, u []float64) (a, b []float64) {
	th, v, phi := x[CarHeading], u[CarVelocity], u[CarSteer]
	cs, sn := math.Cos(th+phi), math.Sin(th+phi)
	a = []float64{
		1, 0, -v * c.DT * sn,
		0, 1, v * c.DT * cs,
		0, 0, 1,
	}
	b = []float64{
		c.DT * cs, -v * c.DT * sn,
		c.DT * sn, v * c.DT * cs,
		c.DT * math.Sin(phi) / c.Wheelbase, v * c.DT * math.Cos(phi) / c.Wheelbase,
	}
	return
}

func TestCarStep(t *testing.T) {
	c := NewCar(0.5, 4)
	next := make([]float64, 3)

	c.Step([]float64{0, 0, 0}, []float64{2, 0}, next)
	assert.InDeltaSlice(t, []float64{1, 0, 0}, next, 1e-12)

	c.Step([]float64{1, 1, math.Pi / 2}, []float64{2, math.Pi / 6}, next)
	assert.InDelta(t, 1+math.Cos(2*math.Pi/3), next[CarX], 1e-12)
	assert.InDelta(t, 1+math.Sin(2*math.Pi/3), next[CarY], 1e-12)
	assert.InDelta(t, math.Pi/2+0.5/4, next[CarHeading], 1e-12)

	assert.True(t, c.IsAngle(CarHeading))
	assert.False(t, c.IsAngle(CarX))
}

func TestCarLinearize(t *testing.T) {
	c := NewCar(0.5, 4)
	x := []float64{60, 20, 2.47}
	u := []float64{1.3, -0.2}

	var lin Linearization
	require.NoError(t, c.Linearize(x, u, &lin))

	a, b := carJacobian(c, x, u)
	opt := cmpopts.EquateApprox(0, 1e-7)
	assert.True(t, cmp.Equal(a, lin.A.RawMatrix().Data, opt), "A: %v", lin.A.RawMatrix().Data)
	assert.True(t, cmp.Equal(b, lin.B.RawMatrix().Data, opt), "B: %v", lin.B.RawMatrix().Data)

	h := make([]float64, 3)
	c.Step(x, u, h)
	assert.Equal(t, h, lin.H)

	// the affine model reproduces f at the expansion point
	p := make([]float64, 3)
	lin.Predict(x, u, x, u, p)
	assert.InDeltaSlice(t, h, p, 1e-12)

	// and A·x + B·u + c agrees with Predict elsewhere
	off := make([]float64, 3)
	lin.Offset(x, u, off)
	x2 := []float64{60.3, 19.8, 2.5}
	u2 := []float64{1.1, 0.05}
	lin.Predict(x, u, x2, u2, p)
	var ax, bu mat.VecDense
	ax.MulVec(lin.A, mat.NewVecDense(3, x2))
	bu.MulVec(lin.B, mat.NewVecDense(2, u2))
	for i := range p {
		assert.InDelta(t, p[i], ax.AtVec(i)+bu.AtVec(i)+off[i], 1e-9)
	}

	assert.ErrorIs(t, c.Linearize(x[:2], u, &lin), ErrDimension)
}

func TestLinearizeReusesStorage(t *testing.T) {
	c := NewCar(0.5, 4)
	var lin Linearization
	require.NoError(t, c.Linearize([]float64{0, 0, 0}, []float64{1, 0}, &lin))
	a := lin.A
	require.NoError(t, c.Linearize([]float64{1, 2, 0.3}, []float64{2, 0.1}, &lin))
	assert.Same(t, a, lin.A)
}

func TestAngleDiff(t *testing.T) {
	const eps = 1e-3
	assert.InDelta(t, -eps, AngleDiff(2*math.Pi-eps), 1e-12)
	assert.InDelta(t, eps, AngleDiff(eps-2*math.Pi), 1e-12)
	assert.InDelta(t, math.Pi, AngleDiff(math.Pi), 1e-12)
	assert.InDelta(t, math.Pi, AngleDiff(-math.Pi), 1e-12)
	assert.InDelta(t, 0.5, AngleDiff(0.5+4*math.Pi), 1e-12)

	w := WrapAngle(-1e-18)
	assert.True(t, w >= 0 && w < 2*math.Pi)
}

func TestResidualWrapsHeading(t *testing.T) {
	c := NewCar(0.5, 4)
	x := []float64{0, 0, 0.2}
	u := []float64{1, 0.1}
	next := make([]float64, 3)
	c.Step(x, u, next)
	next[CarX] += 0.25
	next[CarHeading] += 2*math.Pi - 0.01

	r := make([]float64, 3)
	Residual(c, x, u, next, r)
	assert.InDelta(t, 0.25, r[CarX], 1e-12)
	assert.InDelta(t, 0, r[CarY], 1e-12)
	assert.InDelta(t, -0.01, r[CarHeading], 1e-9)
}

func TestRollout(t *testing.T) {
	c := NewCar(0.5, 4)
	u := [][]float64{{2, 0}, {2, 0}, {2, 0}}
	x, err := Rollout(c, []float64{0, 0, 0}, u)
	require.NoError(t, err)
	require.Len(t, x, 4)
	assert.InDelta(t, 3, x[3][CarX], 1e-12)

	_, err = Rollout(c, []float64{0, 0}, u)
	assert.ErrorIs(t, err, ErrDimension)
	_, err = Rollout(c, []float64{0, 0, 0}, [][]float64{{1}})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestCruiseControl(t *testing.T) {
	c := NewCar(0.5, 4)
	u := c.CruiseControl([]float64{60, 20, 2.47}, []float64{0, 20, 0}, 101)
	assert.InDelta(t, 60/(100*0.5), u[CarVelocity], 1e-12)
	assert.Zero(t, u[CarSteer])
	assert.Equal(t, []float64{0, 0}, c.CruiseControl([]float64{0, 0, 0}, []float64{1, 1, 0}, 1))
}

func TestPackUnpack(t *testing.T) {
	s := mat.NewSymDense(3, []float64{
		1, 2, 3,
		2, 4, 5,
		3, 5, 6,
	})
	b := make([]float64, PackedDim(3))
	Pack([]float64{7, 8, 9}, s, b)
	assert.Equal(t, []float64{7, 8, 9, 1, 2, 3, 4, 5, 6}, b)

	x, s2 := Unpack(3, b)
	assert.Equal(t, []float64{7, 8, 9}, x)
	assert.True(t, mat.Equal(s, s2))

	var diag []int
	for i := 3; i < len(b); i++ {
		if IsDiagonal(3, i) {
			diag = append(diag, i)
		}
	}
	assert.Equal(t, []int{3, 6, 8}, diag)
}

func TestSqrtSym(t *testing.T) {
	a := mat.NewSymDense(2, []float64{4, 1, 1, 3})
	s := SqrtSym(a)
	var ss mat.Dense
	ss.Mul(s, s)
	assert.True(t, mat.EqualApprox(a, &ss, 1e-12))

	// a round-off negative eigenvalue is clamped
	z := SqrtSym(mat.NewSymDense(2, []float64{1, 1, 1, 1 - 1e-17}))
	assert.False(t, math.IsNaN(z.At(0, 0)))
}

func TestBeliefStep(t *testing.T) {
	est := lightDark{dt: 1, light: 5}
	m := NewBelief(est)
	require.Equal(t, 5, m.StateDim())
	require.Equal(t, 2, m.ControlDim())

	b0 := make([]float64, 5)
	Pack([]float64{0, 0}, mat.NewSymDense(2, []float64{1, 0, 0, 1}), b0)

	u := []float64{1, 0.5}
	b1 := make([]float64, 5)
	m.Step(b0, u, b1)

	x, sig := est.Update([]float64{0, 0}, mat.NewSymDense(2, []float64{1, 0, 0, 1}), u)
	assert.InDeltaSlice(t, x, b1[:2], 1e-12)

	_, s1 := Unpack(2, b1)
	var cov mat.Dense
	cov.Mul(s1, s1)
	assert.True(t, mat.EqualApprox(sig, &cov, 1e-10))

	var lin Linearization
	require.NoError(t, m.Linearize(b0, u, &lin))
	r, c := lin.A.Dims()
	assert.Equal(t, 5, r)
	assert.Equal(t, 5, c)
	// mean propagation is linear in the control
	assert.InDelta(t, 1, lin.B.At(0, 0), 1e-8)
	assert.InDelta(t, 0, lin.B.At(0, 1), 1e-8)
}

func TestTraceWeights(t *testing.T) {
	s := mat.NewSymDense(2, []float64{2, 0.5, 0.5, 1})
	b := make([]float64, PackedDim(2))
	Pack([]float64{3, 4}, s, b)

	w := TraceWeights(2, 0.7)
	assert.Equal(t, []float64{0, 0, 0.7, 1.4, 0.7}, w)

	sum := 0.0
	for i, v := range b {
		sum += w[i] * v * v
	}
	var sigma mat.Dense
	sigma.Mul(s, s)
	assert.InDelta(t, 0.7*mat.Trace(&sigma), sum, 1e-12)
}
