// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"math"
	"testing"

	"github.com/curioloop/trajopt/qp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedBackend always proposes cand and reports the model merit chosen by
// model from the current and candidate merits. It records the control trust
// width of every solve.
type scriptedBackend struct {
	w       *Workspace
	cand    Trajectory
	penalty float64
	model   func(merit, candMerit float64) float64
	widths  []float64
}

func (s *scriptedBackend) Solve(*qp.Problem) *qp.Result {
	w := s.w
	s.widths = append(s.widths, w.trust.Control[0])

	dims := w.opt.layout.Dims
	res := &qp.Result{Flag: qp.Optimal, Z: make([][]float64, len(dims))}
	for t, d := range dims {
		res.Z[t] = make([]float64, d)
		copy(res.Z[t], s.cand.X[t])
		if t < len(s.cand.U) {
			copy(res.Z[t][len(s.cand.X[t]):], s.cand.U[t])
		}
	}
	merit := w.opt.Merit(&w.traj, s.penalty)
	res.PObj = s.model(merit, w.opt.Merit(&s.cand, s.penalty)) - w.sub.constant
	return res
}

// scripted returns a workspace on the 3-stage integrator at rest, whose QP
// backend always proposes the consistent trajectory driven by u.
func scripted(t *testing.T, u float64, model func(merit, candMerit float64) float64) (*Workspace, *scriptedBackend) {
	p := integratorProblem(1, 3)
	p.Config.MinApproxImprove = 0
	o, err := p.New(nil)
	require.NoError(t, err)
	w := o.Init()
	w.begin(o)

	sb := &scriptedBackend{
		w:       w,
		cand:    Trajectory{X: [][]float64{{0}, {u}, {2 * u}}, U: [][]float64{{u}, {u}}},
		penalty: p.Config.InitialPenaltyCoeff,
		model:   model,
	}
	w.backend = sb
	return w, sb
}

func TestImproveAcceptExpandsTrust(t *testing.T) {
	// the model predicts the exact improvement, so the ratio is 1
	w, sb := scripted(t, 0.5, func(_, candMerit float64) float64 { return candMerit })
	cfg := &w.opt.problem.Config
	before := w.trust.Control[0]

	out, err := w.improve(sb.penalty)
	require.NoError(t, err)
	assert.Equal(t, stepAccepted, out)
	assert.Equal(t, []float64{before}, sb.widths)
	assert.Equal(t, before*cfg.TrustExpandRatio, w.trust.Control[0])
	assert.Equal(t, cfg.StateTrust[0]*cfg.TrustExpandRatio, w.trust.State[0])
	assert.Equal(t, sb.cand.U, w.traj.U)
	assert.Equal(t, sb.cand.X, w.traj.X)
}

func TestImproveShrinkUntilTrustCollapses(t *testing.T) {
	// a step away from the goal that the model claims improves by 10
	w, sb := scripted(t, -1, func(merit, _ float64) float64 { return merit - 10 })
	cfg := &w.opt.problem.Config
	rest := w.traj.Clone()

	out, err := w.improve(sb.penalty)
	require.NoError(t, err)
	assert.Equal(t, stepConverged, out)

	require.Greater(t, len(sb.widths), 1)
	assert.Equal(t, cfg.ControlTrust[0], sb.widths[0])
	for i := 1; i < len(sb.widths); i++ {
		assert.Equal(t, sb.widths[i-1]*cfg.TrustShrinkRatio, sb.widths[i])
		assert.GreaterOrEqual(t, sb.widths[i], cfg.MinTrustBoxSize)
	}
	assert.Equal(t, sb.widths[len(sb.widths)-1]*cfg.TrustShrinkRatio, w.trust.Control[0])
	assert.True(t, w.trust.Below(cfg.MinTrustBoxSize))
	assert.Equal(t, len(sb.widths), w.sum.NumQP)

	// every candidate was rejected
	assert.Equal(t, rest, w.traj)
}

func TestImproveNonPositiveApprox(t *testing.T) {
	for _, excess := range []float64{0, 0.5} {
		// model merit at or slightly above the current merit
		w, sb := scripted(t, 0.5, func(merit, _ float64) float64 { return merit + excess })
		cfg := &w.opt.problem.Config
		require.Less(t, excess, cfg.ApproxFailTolerance)

		status, err := w.minimize(sb.penalty)
		require.NoError(t, err, "excess %g", excess)
		assert.Equal(t, Converged, status)
		assert.Equal(t, 1, w.sum.NumSQP)
		assert.Equal(t, 1, w.sum.NumQP)
		assert.Equal(t, sb.cand.U, w.traj.U, "candidate is kept")
		assert.Equal(t, cfg.ControlTrust, w.trust.Control)
	}

	// beyond the tolerance the linearization is declared diverged
	w, sb := scripted(t, 0.5, func(merit, _ float64) float64 { return merit + 2 })
	rest := w.traj.Clone()
	_, err := w.minimize(sb.penalty)
	assert.ErrorIs(t, err, ErrDivergedLinearization)
	assert.Equal(t, rest, w.traj)
}

func TestViolationAtToleranceIsFeasible(t *testing.T) {
	w, sb := scripted(t, 0.5, func(merit, _ float64) float64 { return merit })
	// x₂ stays at 0.5 instead of 1, a violation of exactly 0.5
	sb.cand.X[2][0] = 0.5
	cfg := &w.opt.problem.Config
	cfg.CntTolerance = 0.5

	status, err := w.penalize()
	require.NoError(t, err)
	assert.Equal(t, Converged, status)
	assert.Zero(t, w.sum.PenaltyIncreases)
	assert.Equal(t, cfg.InitialPenaltyCoeff, w.sum.Penalty)

	res := w.result(status)
	assert.Equal(t, 0.5, res.Violation)
	assert.True(t, res.Feasible)

	// just below the violation the penalty is escalated
	w, sb = scripted(t, 0.5, func(merit, _ float64) float64 { return merit })
	sb.cand.X[2][0] = 0.5
	cfg = &w.opt.problem.Config
	cfg.CntTolerance = math.Nextafter(0.5, 0)

	_, err = w.penalize()
	require.NoError(t, err)
	assert.Equal(t, cfg.MaxPenaltyCoeffIncreases, w.sum.PenaltyIncreases)
	assert.False(t, w.result(Converged).Feasible)
}
