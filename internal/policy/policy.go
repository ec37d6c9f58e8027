// Package policy maps a confidence score and an intelligence mode to a decision.
package policy

import (
	"fmt"
	"sort"

	"github.com/Veraticus/ruleflow/internal/common"
	"github.com/Veraticus/ruleflow/internal/model"
)

// NeverAuto is an auto threshold no confidence can reach.
const NeverAuto = 101

// Thresholds bound a mode's decision bands.
type Thresholds struct {
	AutoThreshold int `mapstructure:"auto_threshold" json:"auto_threshold"`
	AskFloor      int `mapstructure:"ask_floor" json:"ask_floor"`
}

// Decide applies the thresholds to a confidence.
func (t Thresholds) Decide(confidence int) model.Decision {
	switch {
	case confidence >= t.AutoThreshold:
		return model.DecisionAutoApply
	case confidence >= t.AskFloor:
		return model.DecisionAskUser
	default:
		return model.DecisionSkip
	}
}

// Table binds every mode to its thresholds.
type Table map[model.Mode]Thresholds

// DefaultTable returns the built-in mode table.
func DefaultTable() Table {
	return Table{
		model.ModeConservative: {AutoThreshold: NeverAuto, AskFloor: 0},
		model.ModeBalanced:     {AutoThreshold: 90, AskFloor: 70},
		model.ModePermissive:   {AutoThreshold: 80, AskFloor: 50},
	}
}

// WithOverrides returns a copy of t with the given modes replaced.
func (t Table) WithOverrides(overrides map[model.Mode]Thresholds) Table {
	out := make(Table, len(t))
	for m, th := range t {
		out[m] = th
	}
	for m, th := range overrides {
		out[m] = th
	}
	return out
}

// Validate checks that every known mode is present and its bands are ordered.
func (t Table) Validate() error {
	for _, mode := range []model.Mode{model.ModeConservative, model.ModeBalanced, model.ModePermissive} {
		if _, ok := t[mode]; !ok {
			return fmt.Errorf("mode %s has no thresholds: %w", mode, common.ErrInvalidConfig)
		}
	}

	modes := make([]string, 0, len(t))
	for m := range t {
		modes = append(modes, string(m))
	}
	sort.Strings(modes)

	for _, name := range modes {
		th := t[model.Mode(name)]
		if th.AutoThreshold < 0 || th.AutoThreshold > NeverAuto {
			return fmt.Errorf("mode %s: auto_threshold %d outside [0,%d]: %w", name, th.AutoThreshold, NeverAuto, common.ErrInvalidConfig)
		}
		if th.AskFloor < 0 || th.AskFloor > 100 {
			return fmt.Errorf("mode %s: ask_floor %d outside [0,100]: %w", name, th.AskFloor, common.ErrInvalidConfig)
		}
		if th.AskFloor > th.AutoThreshold {
			return fmt.Errorf("mode %s: ask_floor %d above auto_threshold %d: %w", name, th.AskFloor, th.AutoThreshold, common.ErrInvalidConfig)
		}
	}
	return nil
}

// Thresholds returns the thresholds for mode.
func (t Table) Thresholds(mode model.Mode) (Thresholds, error) {
	th, ok := t[mode]
	if !ok {
		return Thresholds{}, fmt.Errorf("unknown mode %q: %w", mode, common.ErrInvalidConfig)
	}
	return th, nil
}

// Decide maps a confidence to a decision under mode. Unknown modes never
// auto-apply.
func (t Table) Decide(confidence int, mode model.Mode) model.Decision {
	th, ok := t[mode]
	if !ok {
		th = t[model.ModeConservative]
		if th == (Thresholds{}) {
			th = Thresholds{AutoThreshold: NeverAuto}
		}
	}
	return th.Decide(model.ClampConfidence(confidence))
}

// Decide uses the built-in table.
func Decide(confidence int, mode model.Mode) model.Decision {
	return defaultTable.Decide(confidence, mode)
}

var defaultTable = DefaultTable()

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (model.Mode, error) {
	return model.ParseMode(s)
}
