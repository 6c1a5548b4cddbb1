package builder

import (
	"errors"
	"testing"

	"github.com/opensource-finance/ladder/internal/domain"
	"github.com/opensource-finance/ladder/internal/rules"
	"github.com/opensource-finance/ladder/internal/templates"
)

func TestNewSession(t *testing.T) {
	s := NewSession(rules.StrategyCumulative)

	if !s.IsNew() {
		t.Error("expected a new session")
	}
	p := s.Program()
	if p.Name != domain.DefaultProgramName {
		t.Errorf("expected placeholder name, got %q", p.Name)
	}
	if p.Rewards == nil || len(p.Rewards) != 0 {
		t.Errorf("expected empty non-nil rewards, got %v", p.Rewards)
	}
	if !s.Valid() {
		t.Errorf("expected no sequence errors, got %v", s.Errors())
	}
}

func TestAddReward(t *testing.T) {
	s := NewSession(rules.StrategyCumulative)

	first := s.AddReward()
	second := s.AddReward()
	if first == second {
		t.Fatal("reward IDs must be unique")
	}

	p := s.Program()
	if len(p.Rewards) != 2 {
		t.Fatalf("expected 2 rewards, got %d", len(p.Rewards))
	}

	r := p.Rewards[1]
	if r.Name != "Reward 2" || r.Order != 1 {
		t.Errorf("unexpected defaults: name=%q order=%d", r.Name, r.Order)
	}
	d, ok := r.Payout.(domain.Discount)
	if !ok || d.Value != 10 || d.DiscountType != domain.DiscountPercentage {
		t.Errorf("expected 10%% discount payout, got %#v", r.Payout)
	}
	if len(r.Conditions) != 0 {
		t.Errorf("expected no conditions, got %v", r.Conditions)
	}
	if !s.Valid() {
		t.Errorf("rewards without conditions should be valid, got %v", s.Errors())
	}
}

func TestSessionRevalidates(t *testing.T) {
	s := NewSession(rules.StrategyCumulative)
	first := s.AddReward()
	second := s.AddReward()

	if _, err := s.AddCondition(first); err != nil {
		t.Fatalf("AddCondition failed: %v", err)
	}
	errs := s.Errors()
	if len(errs[second]) != 1 {
		t.Fatalf("expected an error on %s, got %v", second, errs)
	}
	want := "Must include Transactions condition with at least 2 (previous reward required 1)"
	if errs[second][0] != want {
		t.Errorf("got %q, want %q", errs[second][0], want)
	}

	condID, err := s.AddCondition(second)
	if err != nil {
		t.Fatalf("AddCondition failed: %v", err)
	}
	if s.Valid() {
		t.Error("tx=1 after tx=1 must not be valid")
	}

	clamped, err := s.SetConditionValue(second, condID, 1)
	if err != nil {
		t.Fatalf("SetConditionValue failed: %v", err)
	}
	if !clamped {
		t.Error("expected the value to be clamped")
	}
	if !s.Valid() {
		t.Errorf("expected a valid sequence after clamping, got %v", s.Errors())
	}
	c, _ := s.Program().Rewards[1].Condition(domain.ConditionTransactionCount)
	if c.Value != 2 {
		t.Errorf("expected clamped value 2, got %d", c.Value)
	}

	t.Run("ChangingTypeRevalidates", func(t *testing.T) {
		if err := s.SetConditionType(second, condID, domain.ConditionSpendAmount); err != nil {
			t.Fatalf("SetConditionType failed: %v", err)
		}
		if s.Valid() {
			t.Error("second reward lost its transaction condition")
		}
		if err := s.SetConditionType(second, condID, domain.ConditionTransactionCount); err != nil {
			t.Fatalf("SetConditionType failed: %v", err)
		}
		if !s.Valid() {
			t.Errorf("expected valid sequence, got %v", s.Errors())
		}
	})

	t.Run("RemovingRewardRevalidates", func(t *testing.T) {
		if _, err := s.SetConditionValue(second, condID, 2); err != nil {
			t.Fatal(err)
		}
		third := s.AddReward()
		if s.Valid() {
			t.Fatal("third reward has no conditions")
		}
		if err := s.RemoveReward(third); err != nil {
			t.Fatalf("RemoveReward failed: %v", err)
		}
		if !s.Valid() {
			t.Errorf("expected valid sequence, got %v", s.Errors())
		}
	})
}

func TestSetConditionValueAboveFloor(t *testing.T) {
	s := NewSession(rules.StrategyCumulative)
	r := s.AddReward()
	c, _ := s.AddCondition(r)

	clamped, err := s.SetConditionValue(r, c, 7)
	if err != nil {
		t.Fatal(err)
	}
	if clamped {
		t.Error("7 is above the floor and must not be clamped")
	}

	clamped, _ = s.SetConditionValue(r, c, 0)
	if !clamped {
		t.Error("0 is below the floor of 1")
	}
}

func TestSessionUnknownIDs(t *testing.T) {
	s := NewSession(rules.StrategyAdjacent)
	r := s.AddReward()

	if err := s.RemoveReward("missing"); !errors.Is(err, ErrUnknownReward) {
		t.Errorf("expected ErrUnknownReward, got %v", err)
	}
	if _, err := s.AddCondition("missing"); !errors.Is(err, ErrUnknownReward) {
		t.Errorf("expected ErrUnknownReward, got %v", err)
	}
	if err := s.RemoveCondition(r, "missing"); !errors.Is(err, ErrUnknownCondition) {
		t.Errorf("expected ErrUnknownCondition, got %v", err)
	}
	if _, err := s.SetConditionValue(r, "missing", 3); !errors.Is(err, ErrUnknownCondition) {
		t.Errorf("expected ErrUnknownCondition, got %v", err)
	}
	if err := s.SetConditionType(r, "missing", "stamps"); err == nil {
		t.Error("expected error for unknown condition type")
	}
}

func TestUpdateRewardKeepsID(t *testing.T) {
	s := NewSession(rules.StrategyCumulative)
	id := s.AddReward()

	updated := domain.NewReward("other", "Free Coffee", 0, domain.FreeItem{ItemName: "Coffee"})
	updated.Conditions = nil
	if err := s.UpdateReward(id, updated); err != nil {
		t.Fatalf("UpdateReward failed: %v", err)
	}

	r := s.Program().Rewards[0]
	if r.ID != id {
		t.Errorf("expected ID %s to be kept, got %s", id, r.ID)
	}
	if r.Kind() != domain.RewardFreeItem || r.Conditions == nil {
		t.Errorf("unexpected reward %+v", r)
	}
}

func TestSessionApplyTemplate(t *testing.T) {
	tpl, ok := templates.Lookup("cafe")
	if !ok {
		t.Fatal("cafe template missing")
	}

	s := NewSession(rules.StrategyCumulative)
	s.AddReward()
	s.ApplyTemplate(tpl)

	p := s.Program()
	if p.Name != "Coffee Loyalty Program" || p.PIN != "2468" {
		t.Errorf("template not applied: %+v", p)
	}
	if len(p.Rewards) != 3 {
		t.Errorf("expected template rewards to replace existing ones, got %d", len(p.Rewards))
	}
	if !s.Valid() {
		t.Errorf("template should validate, got %v", s.Errors())
	}
}

func TestEditSession(t *testing.T) {
	tpl, _ := templates.Lookup("retail")
	p := templates.ApplyTemplate(tpl)
	p.ID = "program_1"

	s := EditSession(p, rules.StrategyAdjacent)
	if s.IsNew() {
		t.Error("a session over a stored program is not new")
	}
	if s.Strategy() != rules.StrategyAdjacent {
		t.Errorf("unexpected strategy %s", s.Strategy())
	}

	s.SetName("changed")
	if p.Name == "changed" {
		t.Error("session must not alias the caller's program")
	}
}

func TestMinimumForFollowsStrategy(t *testing.T) {
	rewards := []domain.Reward{
		domain.NewReward("a", "A", 0, domain.FreeItem{ItemName: "x"}),
		domain.NewReward("b", "B", 1, domain.FreeItem{ItemName: "x"}),
		domain.NewReward("c", "C", 2, domain.FreeItem{ItemName: "x"}),
	}
	rewards[0].Conditions = []domain.Condition{{ID: "a1", Type: domain.ConditionSpendAmount, Value: 100}}
	rewards[1].Conditions = []domain.Condition{{ID: "b1", Type: domain.ConditionVisitCount, Value: 3}}

	p := domain.NewProgram()
	p.Rewards = rewards

	if got := EditSession(p, rules.StrategyCumulative).MinimumFor("c", domain.ConditionSpendAmount); got != 101 {
		t.Errorf("cumulative floor = %d, want 101", got)
	}
	if got := EditSession(p, rules.StrategyAdjacent).MinimumFor("c", domain.ConditionSpendAmount); got != 1 {
		t.Errorf("adjacent floor = %d, want 1", got)
	}
}
