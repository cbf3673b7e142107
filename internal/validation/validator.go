package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/Subhanamir19/faccely-sub002/internal/generation"
)

// New returns a validator with the struct-level rules for request payloads
// registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// score keys must name known metrics and focus must not repeat one.
	v.RegisterStructValidation(routineStructValidation, RoutineRequest{})

	return v
}

func routineStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(RoutineRequest)

	known := make(map[string]bool, len(generation.Metrics))
	for _, m := range generation.Metrics {
		known[m] = true
	}
	for k := range req.Scores {
		if !known[k] {
			sl.ReportError(req.Scores, "scores", "Scores", "known_metric", k)
		}
	}

	seen := make(map[string]bool, len(req.Focus))
	for _, f := range req.Focus {
		if seen[f] {
			sl.ReportError(req.Focus, "focus", "Focus", "unique_focus", f)
			return
		}
		seen[f] = true
	}
}
