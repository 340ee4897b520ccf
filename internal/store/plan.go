// SPDX-License-Identifier: MPL-2.0

package store

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/appbundle/appbundle/internal/model"
)

// ErrInvalidPlan is returned for plans that fail validation.
var ErrInvalidPlan = errors.New("invalid plan")

// Plan is a not-yet-executed description of how to produce one output.
type Plan struct {
	Name    string            `toml:"name"`
	System  string            `toml:"system"`
	Builder string            `toml:"builder"`
	Env     map[string]string `toml:"env,omitempty"`
	// InputPlans are plans whose outputs must be built first.
	InputPlans []model.StorePath `toml:"input_plans,omitempty"`
	// InputSrcs are valid store paths made available to the builder.
	InputSrcs []model.StorePath `toml:"input_srcs,omitempty"`
	// Output is filled in by AddPlan.
	Output model.StorePath `toml:"output"`
}

// reservedEnv names variables the builder environment sets itself.
var reservedEnv = []string{"out", "TMPDIR", "system"}

// hash returns the content hash of the plan, ignoring Output.
func (p *Plan) hash() string {
	parts := []string{"plan", p.Name, p.System, p.Builder}
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		parts = append(parts, "env:"+k+"="+p.Env[k])
	}
	for _, ip := range model.SortedPaths(p.InputPlans) {
		parts = append(parts, "plan:"+string(ip))
	}
	for _, src := range model.SortedPaths(p.InputSrcs) {
		parts = append(parts, "src:"+string(src))
	}
	return hashParts(parts...)
}

func (p *Plan) validate() error {
	if !ValidName(p.Name) {
		return fmt.Errorf("%w: %w %q", ErrInvalidPlan, ErrInvalidName, p.Name)
	}
	if strings.TrimSpace(p.Builder) == "" {
		return fmt.Errorf("%w: %s has an empty builder", ErrInvalidPlan, p.Name)
	}
	if p.System == "" {
		return fmt.Errorf("%w: %s has no system", ErrInvalidPlan, p.Name)
	}
	for _, k := range reservedEnv {
		if _, ok := p.Env[k]; ok {
			return fmt.Errorf("%w: %s sets reserved variable %q", ErrInvalidPlan, p.Name, k)
		}
	}
	return nil
}

// AddPlan validates p, writes it to the store, and returns the plan path and
// the output path it will produce. Adding an identical plan again returns
// the same paths.
func (s *Store) AddPlan(p Plan) (plan, out model.StorePath, err error) {
	lk, err := s.lock.acquire(false)
	if err != nil {
		return "", "", err
	}
	defer lk.Release()

	if err := p.validate(); err != nil {
		return "", "", err
	}
	p.InputPlans = model.SortedPaths(p.InputPlans)
	p.InputSrcs = model.SortedPaths(p.InputSrcs)
	for _, ip := range p.InputPlans {
		if !ip.IsPlan() || !s.IsValidPath(ip) {
			return "", "", fmt.Errorf("%w: input plan %s is not valid", ErrInvalidPlan, ip)
		}
	}
	for _, src := range p.InputSrcs {
		if !s.IsValidPath(src) {
			return "", "", fmt.Errorf("%w: input %s is not valid", ErrInvalidPlan, src)
		}
	}

	h := p.hash()
	plan = s.makePath(h, p.Name+model.PlanExt)
	out = s.makePath(hashParts("output", h, p.Name), p.Name)
	p.Output = out

	if s.IsValidPath(plan) {
		return plan, out, nil
	}

	data, err := toml.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := writeFileAtomic(string(plan), data, 0o444); err != nil {
		return "", "", fmt.Errorf("failed to write plan: %w", err)
	}
	refs := append(slices.Clone(p.InputPlans), p.InputSrcs...)
	if err := s.registerValidPath(PathInfo{Path: plan, References: refs}); err != nil {
		return "", "", err
	}
	return plan, out, nil
}

// ReadPlan loads a plan from the store.
func (s *Store) ReadPlan(plan model.StorePath) (*Plan, error) {
	if !plan.IsPlan() {
		return nil, fmt.Errorf("%w: %s is not a plan", ErrInvalidPlan, plan)
	}
	if !s.IsValidPath(plan) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPath, plan)
	}
	data, err := os.ReadFile(string(plan))
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	var p Plan
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("corrupt plan %s: %w", plan, err)
	}
	return &p, nil
}
