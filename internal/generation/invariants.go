package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/Subhanamir19/faccely-sub002/internal/aws"
)

func checkAnalyze(r *AnalyzeResult) error {
	lo, hi := 100, 0
	for _, v := range r.Scores.values() {
		if *v < lo {
			lo = *v
		}
		if *v > hi {
			hi = *v
		}
	}
	if *r.Overall < lo || *r.Overall > hi {
		return fmt.Errorf("overall %d outside metric range %d-%d", *r.Overall, lo, hi)
	}
	return nil
}

// checkRoutine enforces counts, day order, per-day uniqueness, exclusive
// groups and the activity vocabulary. It never modifies the plan.
func (p *Pipeline) checkRoutine(ctx context.Context) func(*RoutinePlan) error {
	return func(plan *RoutinePlan) error {
		if len(plan.Days) != p.opts.RoutineDays {
			return fmt.Errorf("expected %d days, got %d", p.opts.RoutineDays, len(plan.Days))
		}

		var unknown []string
		for i, day := range plan.Days {
			if day.Day != i+1 {
				return fmt.Errorf("day %d is numbered %d", i+1, day.Day)
			}
			if len(day.Tasks) != p.opts.TasksPerDay {
				return fmt.Errorf("day %d: expected %d tasks, got %d", day.Day, p.opts.TasksPerDay, len(day.Tasks))
			}

			seen := make(map[string]bool, len(day.Tasks))
			groups := make(map[string]string)
			for _, task := range day.Tasks {
				if seen[task.Activity] {
					return fmt.Errorf("day %d: activity %q repeated", day.Day, task.Activity)
				}
				seen[task.Activity] = true

				if !p.catalog.Has(task.Activity) {
					unknown = append(unknown, task.Activity)
					continue
				}
				for _, g := range p.catalog.Groups(task.Activity) {
					if other, ok := groups[g]; ok {
						return fmt.Errorf("day %d: %q and %q are mutually exclusive", day.Day, other, task.Activity)
					}
					groups[g] = task.Activity
				}
			}
		}

		if len(unknown) == 0 {
			return nil
		}
		if p.opts.StrictVocabulary {
			return fmt.Errorf("activities outside the catalog: %s", strings.Join(unknown, ", "))
		}
		p.logger.Warn().Str("activities", strings.Join(unknown, ",")).Msg("routine uses activities outside the catalog")
		p.metrics.Incr(ctx, aws.MetricVocabularyViolation, map[string]string{"Mode": "lenient"})
		return nil
	}
}
