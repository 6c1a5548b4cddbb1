// Package builder implements the program editing session and the save and
// delete operations on top of the document store.
package builder

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/opensource-finance/ladder/internal/domain"
	"github.com/opensource-finance/ladder/internal/rules"
	"github.com/opensource-finance/ladder/internal/templates"
)

// Session owns one program while it is being edited. Every mutation
// recomputes the sequence errors before returning.
//
// A Session is not safe for concurrent use.
type Session struct {
	program   domain.Program
	validator rules.SequenceValidator
	errs      rules.ValidationErrors
	persisted bool
}

// NewSession starts a new, unsaved program.
func NewSession(strategy rules.Strategy) *Session {
	s := &Session{
		program:   domain.NewProgram(),
		validator: rules.NewSequenceValidator(strategy),
	}
	s.revalidate()
	return s
}

// EditSession starts a session over an existing program. Saving it updates
// the stored document in place.
func EditSession(p domain.Program, strategy rules.Strategy) *Session {
	p = p.Clone()
	p.Normalize()
	s := &Session{
		program:   p,
		validator: rules.NewSequenceValidator(strategy),
		persisted: p.ID != "",
	}
	s.revalidate()
	return s
}

// Program returns a copy of the program being edited.
func (s *Session) Program() domain.Program {
	return s.program.Clone()
}

// IsNew reports whether the program has never been saved.
func (s *Session) IsNew() bool {
	return !s.persisted
}

// Strategy returns the sequence strategy in use.
func (s *Session) Strategy() rules.Strategy {
	return s.validator.Strategy
}

// Errors returns the current sequence errors keyed by reward ID.
func (s *Session) Errors() rules.ValidationErrors {
	out := make(rules.ValidationErrors, len(s.errs))
	for id, msgs := range s.errs {
		out[id] = append([]string(nil), msgs...)
	}
	return out
}

// Valid reports whether the reward sequence has no errors.
func (s *Session) Valid() bool {
	return len(s.errs) == 0
}

// MinimumFor returns the live floor for a condition of type t on rewardID.
func (s *Session) MinimumFor(rewardID string, t domain.ConditionType) int {
	return s.validator.MinimumFor(s.program.Rewards, rewardID, t)
}

func (s *Session) revalidate() {
	s.errs = s.validator.Validate(s.program.Rewards)
}

// SetName sets the program name.
func (s *Session) SetName(name string) {
	s.program.Name = name
}

// SetDescription sets the program description.
func (s *Session) SetDescription(description string) {
	s.program.Description = description
}

// SetPIN sets the program PIN.
func (s *Session) SetPIN(pin string) {
	s.program.PIN = pin
}

// ApplyTemplate replaces name, description, PIN and rewards with the template's.
func (s *Session) ApplyTemplate(tpl templates.Template) {
	applied := templates.ApplyTemplate(tpl)
	s.program.Name = applied.Name
	s.program.Description = applied.Description
	s.program.PIN = applied.PIN
	s.program.Rewards = applied.Rewards
	s.revalidate()
}

// AddReward appends a default 10% discount reward with no conditions and
// returns its ID.
func (s *Session) AddReward() string {
	n := len(s.program.Rewards)
	r := domain.NewReward(
		"reward-"+uuid.New().String(),
		fmt.Sprintf("Reward %d", n+1),
		n,
		domain.Discount{Value: 10, DiscountType: domain.DiscountPercentage},
	)
	s.program.Rewards = append(s.program.Rewards, r)
	s.revalidate()
	return r.ID
}

// RemoveReward deletes a reward. Orders of the remaining rewards are kept.
func (s *Session) RemoveReward(rewardID string) error {
	for i, r := range s.program.Rewards {
		if r.ID == rewardID {
			s.program.Rewards = append(s.program.Rewards[:i], s.program.Rewards[i+1:]...)
			s.revalidate()
			return nil
		}
	}
	return fmt.Errorf("%w: reward %s", ErrUnknownReward, rewardID)
}

// UpdateReward replaces a reward wholesale. The reward ID is kept.
func (s *Session) UpdateReward(rewardID string, updated domain.Reward) error {
	r := s.program.Reward(rewardID)
	if r == nil {
		return fmt.Errorf("%w: reward %s", ErrUnknownReward, rewardID)
	}
	updated = updated.Clone()
	updated.ID = rewardID
	updated.Normalize()
	*r = updated
	s.revalidate()
	return nil
}

// AddCondition appends a transaction_count=1 condition to a reward and
// returns its ID.
func (s *Session) AddCondition(rewardID string) (string, error) {
	r := s.program.Reward(rewardID)
	if r == nil {
		return "", fmt.Errorf("%w: reward %s", ErrUnknownReward, rewardID)
	}
	c := domain.Condition{
		ID:    "condition-" + uuid.New().String(),
		Type:  domain.ConditionTransactionCount,
		Value: 1,
	}
	r.Conditions = append(r.Conditions, c)
	s.revalidate()
	return c.ID, nil
}

// RemoveCondition deletes a condition from a reward.
func (s *Session) RemoveCondition(rewardID, conditionID string) error {
	r := s.program.Reward(rewardID)
	if r == nil {
		return fmt.Errorf("%w: reward %s", ErrUnknownReward, rewardID)
	}
	for i, c := range r.Conditions {
		if c.ID == conditionID {
			r.Conditions = append(r.Conditions[:i], r.Conditions[i+1:]...)
			s.revalidate()
			return nil
		}
	}
	return fmt.Errorf("%w: condition %s", ErrUnknownCondition, conditionID)
}

// SetConditionType changes the metric a condition thresholds on.
func (s *Session) SetConditionType(rewardID, conditionID string, t domain.ConditionType) error {
	if !t.Valid() {
		return fmt.Errorf("unknown condition type %q", t)
	}
	c, err := s.condition(rewardID, conditionID)
	if err != nil {
		return err
	}
	c.Type = t
	s.revalidate()
	return nil
}

// SetConditionValue sets a condition's threshold. Values below the live
// minimum are raised to it; clamped reports whether that happened.
func (s *Session) SetConditionValue(rewardID, conditionID string, value int) (clamped bool, err error) {
	c, err := s.condition(rewardID, conditionID)
	if err != nil {
		return false, err
	}
	if floor := s.MinimumFor(rewardID, c.Type); value < floor {
		value = floor
		clamped = true
	}
	c.Value = value
	s.revalidate()
	return clamped, nil
}

func (s *Session) condition(rewardID, conditionID string) (*domain.Condition, error) {
	r := s.program.Reward(rewardID)
	if r == nil {
		return nil, fmt.Errorf("%w: reward %s", ErrUnknownReward, rewardID)
	}
	for i := range r.Conditions {
		if r.Conditions[i].ID == conditionID {
			return &r.Conditions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: condition %s", ErrUnknownCondition, conditionID)
}

// markSaved records the ID the program was stored under.
func (s *Session) markSaved(programID string) {
	s.program.ID = programID
	s.persisted = true
}
