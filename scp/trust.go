// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Trust holds the half-widths of the box that bounds a QP step around the current trajectory.
type Trust struct {
	State   []float64 // Half-width per state coordinate
	Control []float64 // Half-width per control coordinate
}

func (tr *Trust) reset(cfg *Config) {
	tr.State = append(tr.State[:0], cfg.StateTrust...)
	tr.Control = append(tr.Control[:0], cfg.ControlTrust...)
}

// Scale multiplies every width by ratio.
func (tr *Trust) Scale(ratio float64) {
	floats.Scale(ratio, tr.State)
	floats.Scale(ratio, tr.Control)
}

// Below reports whether every width is smaller than size.
func (tr *Trust) Below(size float64) bool {
	return slices.Max(tr.State) < size && slices.Max(tr.Control) < size
}

func (tr *Trust) String() string {
	return fmt.Sprintf("state %.4g control %.4g", tr.State, tr.Control)
}

type outcome int

const (
	stepAccepted outcome = iota
	stepConverged
)

// minimize runs SQP iterations at a fixed penalty until convergence,
// failure or MaxSQPIterations.
func (w *Workspace) minimize(penalty float64) (Status, error) {
	cfg := &w.opt.problem.Config
	w.trust.reset(cfg)
	for iter := 0; iter < cfg.MaxSQPIterations; iter++ {
		w.sum.NumSQP++
		out, err := w.improve(penalty)
		if err != nil {
			return Failed, err
		}
		if out == stepConverged {
			return Converged, nil
		}
	}
	if w.log.enable(LogIter) {
		w.log.log("sqp iterations exhausted at penalty %g\n", penalty)
	}
	return Exhausted, nil
}

// improve linearizes around the current trajectory and solves QPs under
// shrinking trust widths until a step is accepted or the loop converges.
func (w *Workspace) improve(penalty float64) (outcome, error) {
	cfg := &w.opt.problem.Config
	if err := w.sub.linearize(&w.traj); err != nil {
		return stepConverged, err
	}
	merit := w.opt.Merit(&w.traj, penalty)

	for {
		model, err := w.solve(penalty)
		if err != nil {
			return stepConverged, err
		}
		newMerit := w.opt.Merit(&w.cand, penalty)
		approx := merit - model
		exact := merit - newMerit

		if w.log.enable(LogTrace) {
			w.log.log("merit %.6g model %.6g new %.6g approx %.4g exact %.4g trust %v\n",
				merit, model, newMerit, approx, exact, &w.trust)
		}

		switch {
		case approx < -cfg.ApproxFailTolerance:
			return stepConverged, fmt.Errorf("%w: approximate improvement %g", ErrDivergedLinearization, approx)

		case approx <= 0 || approx < cfg.MinApproxImprove:
			w.traj.copyFrom(&w.cand)
			if w.log.enable(LogIter) {
				w.log.log("sqp %3d converged: merit %.6g approx improvement %.4g\n", w.sum.NumSQP, newMerit, approx)
			}
			return stepConverged, nil

		case exact < 0 || exact/approx < cfg.ImproveRatioThreshold:
			w.trust.Scale(cfg.TrustShrinkRatio)
			if w.trust.Below(cfg.MinTrustBoxSize) {
				if w.log.enable(LogIter) {
					w.log.log("sqp %3d converged: trust region below %g\n", w.sum.NumSQP, cfg.MinTrustBoxSize)
				}
				return stepConverged, nil
			}

		default:
			w.trust.Scale(cfg.TrustExpandRatio)
			w.traj.copyFrom(&w.cand)
			if w.log.enable(LogIter) {
				w.log.log("sqp %3d accepted: merit %.6g ratio %.4g\n", w.sum.NumSQP, newMerit, exact/approx)
			}
			if w.trust.Below(cfg.MinTrustBoxSize) {
				return stepConverged, nil
			}
			return stepAccepted, nil
		}
	}
}

// solve builds and solves the QP around the current trajectory, stores the
// candidate and returns its model merit.
func (w *Workspace) solve(penalty float64) (float64, error) {
	w.sub.build(&w.traj, &w.trust, penalty)
	res := w.backend.Solve(w.sub.data)
	w.sum.NumQP++
	if w.log.enable(LogTrace) {
		w.log.log("qp %v: iter %d pobj %.6g res_eq %.2e gap %.2e\n", res.Flag, res.Iter, res.PObj, res.ResEq, res.Gap)
	}
	if !res.OK() {
		return 0, &SolveError{Iter: w.sum.NumSQP, Flag: res.Flag, Wrapped: ErrSolverFailure}
	}
	w.sub.extract(res, &w.cand)
	return res.PObj + w.sub.constant, nil
}

// ApproxImprove linearizes around tr and returns the merit improvement predicted
// by one QP solve under the initial trust widths. It leaves no trace in later fits.
func (w *Workspace) ApproxImprove(tr Trajectory, penalty float64) (float64, error) {
	o := w.opt
	if err := tr.check(o.problem.Stages, o.n, o.m); err != nil {
		return 0, err
	}
	w.traj.copyFrom(&tr)
	copy(w.traj.X[0], o.problem.Start)
	w.trust.reset(&o.problem.Config)
	if err := w.sub.linearize(&w.traj); err != nil {
		return 0, err
	}
	model, err := w.solve(penalty)
	if err != nil {
		return 0, err
	}
	return o.Merit(&w.traj, penalty) - model, nil
}
