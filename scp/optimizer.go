// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scp optimizes state and control trajectories of a discrete-time model
// by sequential convex programming.
//
// The nonlinear dynamics are replaced by an L1 exact penalty: every iteration
// linearizes the model around the current trajectory and solves a multistage
// QP in which each dynamics residual is split into non-negative slacks
// weighted by the penalty coefficient. Steps are confined to a trust region
// adapted by the ratio of actual to predicted merit improvement, and the
// penalty is escalated until the trajectory is dynamically feasible.
package scp

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/curioloop/trajopt/dynamics"
	"github.com/curioloop/trajopt/qp"
	"github.com/google/uuid"
)

// Bound represents the bounds for a state or control coordinate.
type Bound struct {
	Lower, Upper float64
}

// GuessPolicy returns the T-1 initial controls for a problem, before scaling.
type GuessPolicy func(start, goal []float64, stages int) [][]float64

// ConstantGuess repeats u at every stage.
func ConstantGuess(u []float64) GuessPolicy {
	return func(_, _ []float64, stages int) [][]float64 {
		g := make([][]float64, stages-1)
		for t := range g {
			g[t] = slices.Clone(u)
		}
		return g
	}
}

// CruiseGuess drives the car at the constant speed covering the straight-line
// distance to the goal, without steering.
func CruiseGuess(car *dynamics.Car) GuessPolicy {
	return func(start, goal []float64, stages int) [][]float64 {
		return ConstantGuess(car.CruiseControl(start, goal, stages))(start, goal, stages)
	}
}

// Problem specifies a trajectory optimization problem.
type Problem struct {
	Model     dynamics.Model
	Objective Objective
	Start     []float64 // Initial state, pinned at every linearization
	Goal      []float64 // Terminal target of the objective
	// Optional half-widths of the terminal goal box; zero leaves a coordinate
	// to the trust region.
	GoalTolerance []float64
	StateBounds   []Bound // Optional global state bounds
	ControlBounds []Bound // Optional global control bounds
	Stages        int     // Number of states T
	Config        Config
	Guess         GuessPolicy // Initial controls, zero when nil
	// Optional QP backend factory, called once per workspace.
	// Config.QPBackend selects a built-in backend when nil.
	Backend func(qp.Layout) qp.Backend
}

// New creates a new optimizer for given problem.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {
	if p.Model == nil {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidProblem)
	}
	n, m := p.Model.StateDim(), p.Model.ControlDim()
	cfg := p.Config.Clone()
	obj := p.Objective

	lenOK := func(s []float64, k int) bool { return s == nil || len(s) == k }
	nonNeg := func(s []float64) bool {
		for _, v := range s {
			if !(v >= 0) || math.IsInf(v, 1) {
				return false
			}
		}
		return true
	}

	switch {
	case n <= 0 || m <= 0:
		err = fmt.Errorf("model dimensions must greater than 0, got %d and %d", n, m)
	case p.Stages < 2:
		err = fmt.Errorf("stage number must not less than 2, got %d", p.Stages)
	case len(p.Start) != n:
		err = fmt.Errorf("start size must equal to %d", n)
	case len(p.Goal) != n:
		err = fmt.Errorf("goal size must equal to %d", n)
	case !lenOK(p.GoalTolerance, n) || !nonNeg(p.GoalTolerance):
		err = errors.New("goal tolerance must hold one non-negative entry per state")
	case p.StateBounds != nil && len(p.StateBounds) != n:
		err = fmt.Errorf("state bounds size must equal to %d", n)
	case p.ControlBounds != nil && len(p.ControlBounds) != m:
		err = fmt.Errorf("control bounds size must equal to %d", m)
	case !lenOK(obj.StateWeight, n) || !lenOK(obj.ControlWeight, m) || !lenOK(obj.TerminalWeight, n):
		err = errors.New("objective weights size mismatch model dimensions")
	case !nonNeg(obj.StateWeight) || !nonNeg(obj.ControlWeight) || !nonNeg(obj.TerminalWeight):
		err = errors.New("objective weights must not less than 0")
	case len(cfg.StateTrust) != n:
		err = fmt.Errorf("state trust size must equal to %d", n)
	case len(cfg.ControlTrust) != m:
		err = fmt.Errorf("control trust size must equal to %d", m)
	}
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProblem, err)
	}

	o := &Optimizer{
		evaluator: evaluator{model: p.Model, obj: obj, goal: slices.Clone(p.Goal)},
		n:         n,
		m:         m,
		logger:    newLogger(logger),
	}
	o.problem = *p
	o.problem.Config = cfg
	o.problem.Start = slices.Clone(p.Start)
	o.problem.Goal = o.goal

	o.goalTol = make([]float64, n)
	copy(o.goalTol, p.GoalTolerance)
	if o.xMin, o.xMax, err = splitBounds(p.StateBounds, n); err == nil {
		o.uMin, o.uMax, err = splitBounds(p.ControlBounds, m)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProblem, err)
	}

	o.layout = stageLayout(p.Stages, n, m, &obj)
	if o.newBackend, err = o.backendFactory(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProblem, err)
	}
	return o, nil
}

// backendFactory binds the QP backend once so that workspaces only allocate.
func (o *Optimizer) backendFactory() (func() qp.Backend, error) {
	if f := o.problem.Backend; f != nil {
		return func() qp.Backend { return f(o.layout) }, nil
	}
	cfg := &o.problem.Config
	if cfg.QPBackend == BackendLSEI {
		s, err := o.layout.NewDense(cfg.Dense)
		if err != nil {
			return nil, err
		}
		return func() qp.Backend { return s.Init() }, nil
	}
	s, err := o.layout.New(cfg.Solver)
	if err != nil {
		return nil, err
	}
	return func() qp.Backend { return s.Init() }, nil
}

func splitBounds(bounds []Bound, k int) (lo, hi []float64, err error) {
	lo, hi = make([]float64, k), make([]float64, k)
	for i := range lo {
		lo[i], hi[i] = math.Inf(-1), math.Inf(1)
		if bounds == nil {
			continue
		}
		b := bounds[i]
		if math.IsNaN(b.Lower) || math.IsNaN(b.Upper) || b.Lower > b.Upper {
			return nil, nil, fmt.Errorf("bound range at %d has no feasible solution", i)
		}
		lo[i], hi[i] = b.Lower, b.Upper
	}
	return
}

// Optimizer implements the penalty SCP method.
// It is immutable after New and may be shared by goroutines that own distinct workspaces.
type Optimizer struct {
	evaluator
	problem Problem
	n, m    int
	logger  Logger

	xMin, xMax, uMin, uMax []float64
	goalTol                []float64

	layout     qp.Layout
	newBackend func() qp.Backend
}

// Layout returns the QP layout shared by every subproblem.
func (o *Optimizer) Layout() qp.Layout { return o.layout }

// Workspace contains the state of one fit: trajectory, candidate, trust region,
// subproblem data and its own QP backend.
type Workspace struct {
	opt        *Optimizer
	backend    qp.Backend
	sub        *subproblem
	traj, cand Trajectory
	trust      Trust
	log        runLog
	sum        Summary
}

// Init allocates a workspace for the optimizer.
func (o *Optimizer) Init() *Workspace {
	w := &Workspace{opt: o, sub: newSubproblem(o), backend: o.newBackend()}
	T := o.problem.Stages
	w.traj = newTrajectory(T, o.n, o.m)
	w.cand = newTrajectory(T, o.n, o.m)
	w.trust.reset(&o.problem.Config)
	w.log.Logger = o.logger
	return w
}

// Status reports how the last penalty iteration ended.
type Status int

const (
	// Converged the SQP loop converged on improvement or trust-region size.
	Converged Status = iota
	// Exhausted the SQP loop reached MaxSQPIterations.
	Exhausted
	// Failed a QP solve failed or the linearization diverged.
	Failed
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case Exhausted:
		return "exhausted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status %d", int(s))
	}
}

// Result contains the final result of the optimization process.
type Result struct {
	OK         bool    // Whether a trajectory was produced.
	Feasible   bool    // Whether its dynamics violation is within CntTolerance.
	Cost       float64 // Cost of the trajectory, without penalty.
	Violation  float64 // Total absolute dynamics violation.
	Trajectory         // Optimized trajectory.
	Summary            // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status           Status  // Outcome of the last penalty iteration.
	RunID            string  // Identifier prefixed to every log line of the fit.
	Scale            float64 // Initial control scale that succeeded.
	Penalty          float64 // Final penalty coefficient.
	PenaltyIncreases int     // Number of penalty multiplications.
	NumSQP           int     // Number of linearizations.
	NumQP            int     // Number of QP solves.
}

func (w *Workspace) begin(o *Optimizer) {
	if w.opt != o {
		panic("scp: workspace was not initialized by this optimizer")
	}
	w.sum = Summary{RunID: uuid.NewString()}
	w.log.run = w.sum.RunID
}

// Fit rolls the model out from each scaled initial guess in turn and runs the
// penalty loop until one of them does not fail.
func (o *Optimizer) Fit(w *Workspace) (*Result, error) {
	w.begin(o)
	p := &o.problem

	var guess [][]float64
	if p.Guess != nil {
		guess = p.Guess(p.Start, p.Goal, p.Stages)
	} else {
		guess = ConstantGuess(make([]float64, o.m))(p.Start, p.Goal, p.Stages)
	}
	if len(guess) != p.Stages-1 {
		return w.fail(fmt.Errorf("%w: guess has %d controls, want %d", ErrInvalidProblem, len(guess), p.Stages-1))
	}

	var errs []error
	for _, scale := range p.Config.Scales {
		u := make([][]float64, len(guess))
		for t, g := range guess {
			if len(g) != o.m {
				return w.fail(fmt.Errorf("%w: guess control %d has dimension %d", ErrInvalidProblem, t, len(g)))
			}
			u[t] = slices.Clone(g)
			for j := range u[t] {
				u[t][j] *= scale
			}
		}
		x, err := dynamics.Rollout(p.Model, p.Start, u)
		if err != nil {
			return w.fail(fmt.Errorf("%w: %w", ErrInvalidProblem, err))
		}
		w.traj.copyFrom(&Trajectory{X: x, U: u})

		if w.log.enable(LogIter) {
			w.log.log("initial scale %g\n", scale)
		}
		w.sum.Scale = scale
		status, err := w.penalize()
		if err == nil {
			return w.result(status), nil
		}
		if w.log.enable(LogLast) {
			w.log.log("scale %g failed: %v\n", scale, err)
		}
		errs = append(errs, fmt.Errorf("scale %g: %w", scale, err))
	}
	return w.fail(fmt.Errorf("%w: %w", ErrAllScalesFailed, errors.Join(errs...)))
}

// FitFrom runs the penalty loop from a given trajectory. Its first state is
// replaced by the problem start.
func (o *Optimizer) FitFrom(init Trajectory, w *Workspace) (*Result, error) {
	w.begin(o)
	if err := init.check(o.problem.Stages, o.n, o.m); err != nil {
		return w.fail(err)
	}
	w.traj.copyFrom(&init)
	copy(w.traj.X[0], o.problem.Start)
	w.sum.Scale = 1

	status, err := w.penalize()
	if err != nil {
		return w.fail(err)
	}
	return w.result(status), nil
}

func (w *Workspace) result(status Status) *Result {
	o := w.opt
	w.sum.Status = status
	res := &Result{
		OK:         true,
		Cost:       o.Cost(&w.traj),
		Violation:  o.Violation(&w.traj),
		Trajectory: w.traj.Clone(),
		Summary:    w.sum,
	}
	res.Feasible = res.Violation <= o.problem.Config.CntTolerance
	if w.log.enable(LogLast) {
		w.log.log("%v: cost %.6g violation %.4g feasible %t penalty %g sqp %d qp %d\n",
			status, res.Cost, res.Violation, res.Feasible, res.Penalty, res.NumSQP, res.NumQP)
	}
	return res
}

func (w *Workspace) fail(err error) (*Result, error) {
	w.sum.Status = Failed
	if w.log.enable(LogLast) {
		w.log.log("failed: %v\n", err)
	}
	return &Result{Summary: w.sum}, err
}
