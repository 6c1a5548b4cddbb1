package rules

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/ladder/internal/domain"
)

// Strategy selects which earlier rewards a reward's thresholds are compared against.
type Strategy string

const (
	// StrategyAdjacent compares each reward against its immediate predecessor.
	StrategyAdjacent Strategy = "adjacent"

	// StrategyCumulative compares each reward against the highest threshold
	// of every earlier reward.
	StrategyCumulative Strategy = "cumulative"
)

// ParseStrategy converts a configuration value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyAdjacent, StrategyCumulative:
		return Strategy(s), nil
	case "":
		return StrategyCumulative, nil
	default:
		return "", fmt.Errorf("unsupported validation strategy %q", s)
	}
}

// ValidationErrors maps reward IDs to their sequence violations.
type ValidationErrors map[string][]string

// ValidateSequence checks every reward after the first against its immediate
// predecessor (sorted by Order). Only rewards with at least one error are
// present in the result.
func ValidateSequence(rewards []domain.Reward) ValidationErrors {
	return SequenceValidator{Strategy: StrategyAdjacent}.Validate(rewards)
}

// MinimumFor returns the lowest value a condition of type t may take on the
// reward rewardID: 1 for the first reward (or an unknown one), otherwise one
// more than the highest value of t on any earlier reward.
func MinimumFor(rewards []domain.Reward, rewardID string, t domain.ConditionType) int {
	return SequenceValidator{Strategy: StrategyCumulative}.MinimumFor(rewards, rewardID, t)
}

// SequenceValidator applies one Strategy to both the blocking validation and
// the live minimum hint so the two never disagree.
type SequenceValidator struct {
	Strategy Strategy
}

// NewSequenceValidator creates a validator for the given strategy.
func NewSequenceValidator(strategy Strategy) SequenceValidator {
	if strategy == "" {
		strategy = StrategyCumulative
	}
	return SequenceValidator{Strategy: strategy}
}

// floor is the threshold a condition type must exceed at some position.
type floor struct {
	value int
	set   bool
}

// Validate returns the sequence violations for rewards. It never mutates its
// input and yields the same result for the same input.
func (v SequenceValidator) Validate(rewards []domain.Reward) ValidationErrors {
	errs := make(ValidationErrors)
	sorted := sortByOrder(rewards)

	for i := 1; i < len(sorted); i++ {
		current := sorted[i]
		var rewardErrors []string

		for _, t := range domain.ConditionTypes {
			prev := v.floorAt(sorted, i, t)
			if !prev.set {
				continue
			}
			minimum := prev.value + 1

			cond, ok := current.Condition(t)
			if !ok {
				rewardErrors = append(rewardErrors, fmt.Sprintf(
					"Must include %s condition with at least %d (previous reward required %d)",
					t.Label(), minimum, prev.value))
				continue
			}
			if cond.Value < minimum {
				rewardErrors = append(rewardErrors, fmt.Sprintf(
					"%s must be at least %d (previous reward had %d)",
					t.Label(), minimum, prev.value))
			}
		}

		if len(rewardErrors) > 0 {
			errs[current.ID] = rewardErrors
		}
	}

	return errs
}

// MinimumFor returns the live input floor for a condition of type t on rewardID.
func (v SequenceValidator) MinimumFor(rewards []domain.Reward, rewardID string, t domain.ConditionType) int {
	sorted := sortByOrder(rewards)

	index := -1
	for i, r := range sorted {
		if r.ID == rewardID {
			index = i
			break
		}
	}
	if index <= 0 {
		return 1
	}

	prev := v.floorAt(sorted, index, t)
	if !prev.set || prev.value <= 0 {
		return 1
	}
	return prev.value + 1
}

// floorAt returns the threshold of type t that sorted[i] must exceed.
func (v SequenceValidator) floorAt(sorted []domain.Reward, i int, t domain.ConditionType) floor {
	if v.Strategy == StrategyAdjacent {
		if c, ok := sorted[i-1].Condition(t); ok {
			return floor{value: c.Value, set: true}
		}
		return floor{}
	}

	var f floor
	for _, r := range sorted[:i] {
		if c, ok := r.Condition(t); ok && (!f.set || c.Value > f.value) {
			f = floor{value: c.Value, set: true}
		}
	}
	return f
}

// sortByOrder returns a copy of rewards sorted by Order; ties keep input order.
func sortByOrder(rewards []domain.Reward) []domain.Reward {
	sorted := make([]domain.Reward, len(rewards))
	copy(sorted, rewards)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Order < sorted[b].Order
	})
	return sorted
}
