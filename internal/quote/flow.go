package quote

import (
	"fmt"
	"net/url"
	"strings"
)

// Stage identifies one step of the quote wizard.
type Stage string

const (
	StageDentalChart        Stage = "dental-chart"
	StageTreatmentSelection Stage = "treatment-selection"
	StageTreatments         Stage = "treatments"
	StagePromoOffer         Stage = "promo-offer"
	StagePromoCode          Stage = "promo-code"
	StagePatientInfo        Stage = "patient-info"
	StageReview             Stage = "review"
	StageConfirmation       Stage = "confirmation"
)

// StepParam is the URL query key carrying the current stage.
const StepParam = "step"

// Flow variants.
const (
	VariantStandard = "standard"
	VariantCharted  = "charted"
)

// StandardStages is the canonical wizard ordering.
func StandardStages() []Stage {
	return []Stage{StageTreatmentSelection, StagePromoOffer, StagePatientInfo, StageReview, StageConfirmation}
}

// ChartedStages starts from a dental chart before treatment picking.
func ChartedStages() []Stage {
	return []Stage{StageDentalChart, StageTreatments, StagePromoCode, StagePatientInfo, StageReview, StageConfirmation}
}

// StagesForVariant maps a variant name to its stages. Unknown names get
// the standard ordering.
func StagesForVariant(variant string) []Stage {
	if strings.EqualFold(strings.TrimSpace(variant), VariantCharted) {
		return ChartedStages()
	}
	return StandardStages()
}

// IsSelectionStage reports whether leaving s requires a non-empty selection.
func IsSelectionStage(s Stage) bool {
	return s == StageTreatmentSelection || s == StageTreatments
}

// Guard returns nil when its stage may be left going forward.
type Guard func() error

// Flow walks a fixed, linear list of stages. Movement is clamped at both
// ends and forward movement is gated by per-stage guards.
type Flow struct {
	stages []Stage
	index  int
	guards map[Stage]Guard
}

// NewFlow builds a flow positioned at the first stage.
func NewFlow(stages []Stage) (*Flow, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("%w: flow needs at least one stage", ErrUnknownStage)
	}
	seen := make(map[Stage]struct{}, len(stages))
	for _, st := range stages {
		if _, dup := seen[st]; dup || st == "" {
			return nil, fmt.Errorf("%w: duplicate or empty stage %q", ErrUnknownStage, st)
		}
		seen[st] = struct{}{}
	}
	return &Flow{
		stages: append([]Stage(nil), stages...),
		guards: make(map[Stage]Guard),
	}, nil
}

// SetGuard installs the exit guard for stage.
func (f *Flow) SetGuard(stage Stage, guard Guard) {
	f.guards[stage] = guard
}

// Current returns the active stage.
func (f *Flow) Current() Stage { return f.stages[f.index] }

// Index returns the zero-based position of the active stage.
func (f *Flow) Index() int { return f.index }

// Stages returns a copy of the ordering.
func (f *Flow) Stages() []Stage { return append([]Stage(nil), f.stages...) }

// IsFirst reports whether the flow is at its first stage.
func (f *Flow) IsFirst() bool { return f.index == 0 }

// IsLast reports whether the flow is at its last stage.
func (f *Flow) IsLast() bool { return f.index == len(f.stages)-1 }

// Next advances one stage if the current stage's guard passes. At the last
// stage it is a no-op.
func (f *Flow) Next() (Stage, error) {
	if f.IsLast() {
		return f.Current(), nil
	}
	if err := f.check(f.index); err != nil {
		return f.Current(), err
	}
	f.moveTo(f.index + 1)
	return f.Current(), nil
}

// Previous steps back one stage. At the first stage it is a no-op.
func (f *Flow) Previous() Stage {
	if !f.IsFirst() {
		f.moveTo(f.index - 1)
	}
	return f.Current()
}

// Reset returns to the first stage.
func (f *Flow) Reset() {
	f.moveTo(0)
}

// Restore moves to the stage named by param. Stages before the target are
// checked in order and the flow stops at the first one whose guard fails,
// so a stale link cannot skip required input. An empty param is a no-op.
func (f *Flow) Restore(param string) (Stage, error) {
	param = strings.TrimSpace(param)
	if param == "" {
		return f.Current(), nil
	}
	target := f.position(Stage(param))
	if target < 0 {
		return f.Current(), fmt.Errorf("%w: %q", ErrUnknownStage, param)
	}
	for i := 0; i < target; i++ {
		if err := f.check(i); err != nil {
			f.moveTo(i)
			return f.Current(), err
		}
	}
	f.moveTo(target)
	return f.Current(), nil
}

// Param returns the value to store under StepParam.
func (f *Flow) Param() string { return string(f.Current()) }

// Encode writes the current stage into values.
func (f *Flow) Encode(values url.Values) {
	values.Set(StepParam, f.Param())
}

func (f *Flow) check(index int) error {
	stage := f.stages[index]
	guard, ok := f.guards[stage]
	if !ok || guard == nil {
		return nil
	}
	if err := guard(); err != nil {
		return &GuardError{Stage: stage, Err: err}
	}
	return nil
}

func (f *Flow) position(stage Stage) int {
	for i, st := range f.stages {
		if st == stage {
			return i
		}
	}
	return -1
}

func (f *Flow) moveTo(index int) {
	f.index = index
}
