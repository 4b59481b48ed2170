// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

// penalize runs the penalty loop from the current trajectory: the merit is
// minimized, and while the dynamics violation exceeds CntTolerance the penalty
// is multiplied and the trust region reset, at most MaxPenaltyCoeffIncreases times.
//
// An infeasible trajectory left after the last increase is not an error;
// the caller decides what to do with it.
func (w *Workspace) penalize() (Status, error) {
	cfg := &w.opt.problem.Config
	penalty := cfg.InitialPenaltyCoeff
	w.sum.PenaltyIncreases = 0

	for {
		w.sum.Penalty = penalty
		status, err := w.minimize(penalty)
		if err != nil {
			return Failed, err
		}

		viol := w.opt.Violation(&w.traj)
		if w.log.enable(LogIter) {
			w.log.log("penalty %g: %v, constraint violation %.6g\n", penalty, status, viol)
		}
		if viol <= cfg.CntTolerance || w.sum.PenaltyIncreases >= cfg.MaxPenaltyCoeffIncreases {
			return status, nil
		}

		penalty *= cfg.PenaltyCoeffIncreaseRatio
		w.sum.PenaltyIncreases++
	}
}
