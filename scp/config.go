// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/curioloop/trajopt/qp"
	"gopkg.in/yaml.v3"
)

// Config holds the constants of the penalty and trust-region loops.
type Config struct {
	// A step is accepted when exact/approx merit improvement reaches this ratio.
	ImproveRatioThreshold float64 `json:"improve_ratio_threshold" yaml:"improve_ratio_threshold"`
	// The SQP loop converges when the approximate improvement falls below this value.
	MinApproxImprove float64 `json:"min_approx_improve" yaml:"min_approx_improve"`
	// The SQP loop converges when every trust width falls below this value.
	MinTrustBoxSize float64 `json:"min_trust_box_size" yaml:"min_trust_box_size"`
	// Factor applied to the trust widths after a rejected step: 0 < 𝚜𝚑𝚛𝚒𝚗𝚔 < 1
	TrustShrinkRatio float64 `json:"trust_shrink_ratio" yaml:"trust_shrink_ratio"`
	// Factor applied to the trust widths after an accepted step: 𝚎𝚡𝚙𝚊𝚗𝚍 > 1
	TrustExpandRatio float64 `json:"trust_expand_ratio" yaml:"trust_expand_ratio"`
	// A trajectory is feasible when its total absolute dynamics violation does not exceed this value.
	CntTolerance float64 `json:"cnt_tolerance" yaml:"cnt_tolerance"`
	// Factor applied to the penalty coefficient of an infeasible trajectory.
	PenaltyCoeffIncreaseRatio float64 `json:"penalty_coeff_increase_ratio" yaml:"penalty_coeff_increase_ratio"`
	InitialPenaltyCoeff       float64 `json:"initial_penalty_coeff" yaml:"initial_penalty_coeff"`
	MaxPenaltyCoeffIncreases  int     `json:"max_penalty_coeff_increases" yaml:"max_penalty_coeff_increases"`
	MaxSQPIterations          int     `json:"max_sqp_iterations" yaml:"max_sqp_iterations"`
	// The approximate improvement may be negative by this amount before the linearization
	// is declared diverged.
	ApproxFailTolerance float64 `json:"approx_fail_tolerance" yaml:"approx_fail_tolerance"`

	StateTrust   []float64 `json:"state_trust" yaml:"state_trust"`     // Initial half-width per state coordinate
	ControlTrust []float64 `json:"control_trust" yaml:"control_trust"` // Initial half-width per control coordinate

	// Scale factors applied in turn to the initial control guess, strictly decreasing.
	Scales []float64 `json:"scales" yaml:"scales"`
	// Intersect the terminal goal box with the trust box.
	GoalClipToTrust bool `json:"goal_clip_to_trust" yaml:"goal_clip_to_trust"`

	// QP backend of the subproblems: "ipm" (default when empty) or "lsei".
	// Ignored when Problem.Backend is set.
	QPBackend string           `json:"qp_backend" yaml:"qp_backend"`
	Solver    qp.Settings      `json:"solver" yaml:"solver"` // Settings of the interior-point backend
	Dense     qp.DenseSettings `json:"dense" yaml:"dense"`   // Settings of the LSEI backend
}

// QP backends selectable by Config.QPBackend.
const (
	BackendIPM  = "ipm"
	BackendLSEI = "lsei"
)

// SmoothingConfig returns the constants tuned for kinematic car smoothing.
// Trust widths are laid out as (x, y, heading) and (velocity, steering).
func SmoothingConfig() Config {
	return Config{
		ImproveRatioThreshold:     0.1,
		MinApproxImprove:          1e-2,
		MinTrustBoxSize:           1e-2,
		TrustShrinkRatio:          0.5,
		TrustExpandRatio:          2,
		CntTolerance:              1e-2,
		PenaltyCoeffIncreaseRatio: 10,
		InitialPenaltyCoeff:       20,
		MaxPenaltyCoeffIncreases:  2,
		MaxSQPIterations:          50,
		ApproxFailTolerance:       1,
		StateTrust:                []float64{1, 1, math.Pi / 6},
		ControlTrust:              []float64{1, math.Pi / 8},
		Scales:                    []float64{.5, .25, .05, .01},
	}
}

// BeliefConfig returns the constants tuned for belief-space planning
// with nx belief coordinates and nu controls.
func BeliefConfig(nx, nu int) Config {
	return Config{
		ImproveRatioThreshold:     0.1,
		MinApproxImprove:          1e-4,
		MinTrustBoxSize:           1e-3,
		TrustShrinkRatio:          0.1,
		TrustExpandRatio:          1.5,
		CntTolerance:              1e-4,
		PenaltyCoeffIncreaseRatio: 10,
		InitialPenaltyCoeff:       10,
		MaxPenaltyCoeffIncreases:  2,
		MaxSQPIterations:          50,
		ApproxFailTolerance:       1e-5,
		StateTrust:                fill(nx, 1),
		ControlTrust:              fill(nu, 1),
		Scales:                    []float64{1},
		GoalClipToTrust:           true,
	}
}

func fill(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	c.StateTrust = slices.Clone(c.StateTrust)
	c.ControlTrust = slices.Clone(c.ControlTrust)
	c.Scales = slices.Clone(c.Scales)
	return c
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() (err error) {
	nonNeg := func(v float64) bool { return v >= 0 && !math.IsInf(v, 1) }
	switch {
	case !nonNeg(c.ImproveRatioThreshold):
		err = fmt.Errorf("improve_ratio_threshold must not less than 0, got %v", c.ImproveRatioThreshold)
	case !nonNeg(c.MinApproxImprove):
		err = fmt.Errorf("min_approx_improve must not less than 0, got %v", c.MinApproxImprove)
	case !nonNeg(c.MinTrustBoxSize):
		err = fmt.Errorf("min_trust_box_size must not less than 0, got %v", c.MinTrustBoxSize)
	case !(c.TrustShrinkRatio > 0 && c.TrustShrinkRatio < 1):
		err = fmt.Errorf("trust_shrink_ratio must be in (0, 1), got %v", c.TrustShrinkRatio)
	case !(c.TrustExpandRatio > 1) || math.IsInf(c.TrustExpandRatio, 1):
		err = fmt.Errorf("trust_expand_ratio must greater than 1, got %v", c.TrustExpandRatio)
	case !nonNeg(c.CntTolerance):
		err = fmt.Errorf("cnt_tolerance must not less than 0, got %v", c.CntTolerance)
	case !(c.PenaltyCoeffIncreaseRatio > 1) || math.IsInf(c.PenaltyCoeffIncreaseRatio, 1):
		err = fmt.Errorf("penalty_coeff_increase_ratio must greater than 1, got %v", c.PenaltyCoeffIncreaseRatio)
	case !(c.InitialPenaltyCoeff > 0) || math.IsInf(c.InitialPenaltyCoeff, 1):
		err = fmt.Errorf("initial_penalty_coeff must greater than 0, got %v", c.InitialPenaltyCoeff)
	case c.MaxPenaltyCoeffIncreases < 0:
		err = fmt.Errorf("max_penalty_coeff_increases must not less than 0, got %d", c.MaxPenaltyCoeffIncreases)
	case c.MaxSQPIterations <= 0:
		err = fmt.Errorf("max_sqp_iterations must greater than 0, got %d", c.MaxSQPIterations)
	case !nonNeg(c.ApproxFailTolerance):
		err = fmt.Errorf("approx_fail_tolerance must not less than 0, got %v", c.ApproxFailTolerance)
	case len(c.Scales) == 0:
		err = errors.New("at least one initial scale is required")
	case c.QPBackend != "" && c.QPBackend != BackendIPM && c.QPBackend != BackendLSEI:
		err = fmt.Errorf("qp_backend must be %q or %q, got %q", BackendIPM, BackendLSEI, c.QPBackend)
	case c.Dense.Reg < 0 || math.IsNaN(c.Dense.Reg) || math.IsInf(c.Dense.Reg, 1):
		err = fmt.Errorf("dense.reg must not less than 0, got %v", c.Dense.Reg)
	}
	if err != nil {
		return
	}

	for k, w := range c.StateTrust {
		if !(w > 0) || math.IsInf(w, 1) {
			return fmt.Errorf("state_trust at %d must greater than 0, got %v", k, w)
		}
	}
	for k, w := range c.ControlTrust {
		if !(w > 0) || math.IsInf(w, 1) {
			return fmt.Errorf("control_trust at %d must greater than 0, got %v", k, w)
		}
	}
	for k, s := range c.Scales {
		if !(s > 0) || math.IsInf(s, 1) {
			return fmt.Errorf("scale at %d must greater than 0, got %v", k, s)
		}
		if k > 0 && s >= c.Scales[k-1] {
			return fmt.Errorf("scales must be strictly decreasing, got %v after %v", s, c.Scales[k-1])
		}
	}
	return nil
}

const maxConfigSize = 1 << 20

// LoadConfig overlays the settings found in a JSON or YAML file on base.
// Fields omitted from the file keep the value of base.
func LoadConfig(path string, base Config) (Config, error) {
	cfg := base.Clone()

	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return cfg, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return cfg, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&cfg)
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err = dec.Decode(&cfg); errors.Is(err, io.EOF) {
			err = nil
		}
	}
	if err != nil {
		return base.Clone(), fmt.Errorf("failed to parse config %s: %w", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return base.Clone(), fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
