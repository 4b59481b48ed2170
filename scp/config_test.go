// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/curioloop/trajopt/qp"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresetsAreValid(t *testing.T) {
	cfg := SmoothingConfig()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, math.Pi/6, cfg.StateTrust[2], 1e-15)

	cfg = BeliefConfig(9, 2)
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.StateTrust, 9)
	assert.Len(t, cfg.ControlTrust, 2)
	assert.True(t, cfg.GoalClipToTrust)
}

func TestConfigValidate(t *testing.T) {
	for name, mutate := range map[string]func(c *Config){
		"shrink":    func(c *Config) { c.TrustShrinkRatio = 1.5 },
		"expand":    func(c *Config) { c.TrustExpandRatio = 1 },
		"increase":  func(c *Config) { c.PenaltyCoeffIncreaseRatio = 0.5 },
		"penalty":   func(c *Config) { c.InitialPenaltyCoeff = 0 },
		"tolerance": func(c *Config) { c.CntTolerance = -1 },
		"nan":       func(c *Config) { c.MinApproxImprove = math.NaN() },
		"sqp":       func(c *Config) { c.MaxSQPIterations = 0 },
		"increases": func(c *Config) { c.MaxPenaltyCoeffIncreases = -1 },
		"width":     func(c *Config) { c.ControlTrust[1] = 0 },
		"scales":    func(c *Config) { c.Scales = []float64{.5, .5} },
		"no scale":  func(c *Config) { c.Scales = nil },
		"backend":   func(c *Config) { c.QPBackend = "osqp" },
		"reg":       func(c *Config) { c.Dense.Reg = -1 },
	} {
		cfg := SmoothingConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	write := func(name, data string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
		return path
	}
	base := SmoothingConfig()

	cfg, err := LoadConfig(write("partial.json", `{"initial_penalty_coeff": 50, "scales": [1, 0.1], "solver": {"max_iter": 40}}`), base)
	require.NoError(t, err)
	want := base.Clone()
	want.InitialPenaltyCoeff = 50
	want.Scales = []float64{1, 0.1}
	want.Solver.MaxIter = 40
	assert.True(t, cmp.Equal(want, cfg, cmpopts.EquateApprox(0, 1e-15)), cmp.Diff(want, cfg))

	cfg, err = LoadConfig(write("belief.yaml", "trust_shrink_ratio: 0.1\ngoal_clip_to_trust: true\nstate_trust: [2, 2, 2]\n"), base)
	require.NoError(t, err)
	assert.Equal(t, 0.1, cfg.TrustShrinkRatio)
	assert.True(t, cfg.GoalClipToTrust)
	assert.Equal(t, []float64{2, 2, 2}, cfg.StateTrust)
	assert.Equal(t, base.ControlTrust, cfg.ControlTrust)

	cfg, err = LoadConfig(write("lsei.yaml", `qp_backend: lsei
dense:
  reg: 1.0e-8
  max_iter: 500
`), base)
	require.NoError(t, err)
	assert.Equal(t, BackendLSEI, cfg.QPBackend)
	assert.Equal(t, qp.DenseSettings{Reg: 1e-8, MaxIter: 500}, cfg.Dense)

	_, err = LoadConfig(write("backend.json", `{"qp_backend": "simplex"}`), base)
	assert.ErrorContains(t, err, "qp_backend")

	// the base is left untouched
	assert.Equal(t, SmoothingConfig().StateTrust, base.StateTrust)

	cfg, err = LoadConfig(write("empty.yml", ""), base)
	require.NoError(t, err)
	assert.Equal(t, base, cfg)

	_, err = LoadConfig(write("config.toml", "x = 1"), base)
	assert.ErrorContains(t, err, "extension")

	_, err = LoadConfig(write("unknown.json", `{"trust_ratio": 2}`), base)
	assert.ErrorContains(t, err, "failed to parse")

	_, err = LoadConfig(write("invalid.yaml", "trust_expand_ratio: 0.5\n"), base)
	assert.ErrorContains(t, err, "invalid configuration")

	_, err = LoadConfig(filepath.Join(dir, "missing.json"), base)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
