// Package domain defines the core types and collaborator interfaces for Ladder.
package domain

import "fmt"

// DefaultProgramName is the placeholder name a new program starts with.
// A program still carrying it cannot be saved.
const DefaultProgramName = "My Custom Program"

// MaxDescriptionLength bounds Program.Description.
const MaxDescriptionLength = 38

// Program statuses.
const (
	ProgramStatusActive = "active"
)

// Program is a merchant-owned sequence of rewards unlocked progressively by
// customer behavior. It is the authoring model, independent of persistence.
type Program struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PIN         string   `json:"pin"`
	Rewards     []Reward `json:"rewards"`
	Status      string   `json:"status,omitempty"`
}

// NewProgram returns an empty program carrying the placeholder name.
func NewProgram() Program {
	return Program{
		Name:    DefaultProgramName,
		Rewards: []Reward{},
		Status:  ProgramStatusActive,
	}
}

// Normalize guarantees the structural shape of the program: rewards,
// conditions and limitations are never nil.
func (p *Program) Normalize() {
	if p.Rewards == nil {
		p.Rewards = []Reward{}
	}
	for i := range p.Rewards {
		p.Rewards[i].Normalize()
	}
	if p.Status == "" {
		p.Status = ProgramStatusActive
	}
}

// Reward returns a pointer to the reward with the given ID, or nil.
func (p *Program) Reward(id string) *Reward {
	for i := range p.Rewards {
		if p.Rewards[i].ID == id {
			return &p.Rewards[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the program.
func (p Program) Clone() Program {
	out := p
	out.Rewards = make([]Reward, len(p.Rewards))
	for i, r := range p.Rewards {
		out.Rewards[i] = r.Clone()
	}
	return out
}

// Reward is one tier of a Program.
type Reward struct {
	ID          string
	Name        string
	Description string
	// Order is the 0-based position in the sequence. Only relative order matters.
	Order       int
	PointsCost  int
	Conditions  []Condition
	Limitations []Limitation
	Payout      Payout
}

// NewReward returns a reward with non-nil condition and limitation slices.
func NewReward(id, name string, order int, payout Payout) Reward {
	return Reward{
		ID:          id,
		Name:        name,
		Order:       order,
		Conditions:  []Condition{},
		Limitations: []Limitation{},
		Payout:      payout,
	}
}

// Normalize replaces nil slices with empty ones.
func (r *Reward) Normalize() {
	if r.Conditions == nil {
		r.Conditions = []Condition{}
	}
	if r.Limitations == nil {
		r.Limitations = []Limitation{}
	}
}

// Kind returns the reward type discriminator.
func (r Reward) Kind() RewardType {
	if r.Payout == nil {
		return ""
	}
	return r.Payout.Kind()
}

// Condition returns the first condition of type t, if any.
func (r Reward) Condition(t ConditionType) (Condition, bool) {
	for _, c := range r.Conditions {
		if c.Type == t {
			return c, true
		}
	}
	return Condition{}, false
}

// Clone returns a deep copy of the reward.
func (r Reward) Clone() Reward {
	out := r
	out.Conditions = append([]Condition{}, r.Conditions...)
	out.Limitations = make([]Limitation, len(r.Limitations))
	for i, l := range r.Limitations {
		if l.Value != nil {
			v := *l.Value
			l.Value = &v
		}
		out.Limitations[i] = l
	}
	return out
}

// RewardType discriminates the Payout variants.
type RewardType string

const (
	RewardDiscount RewardType = "discount"
	RewardFreeItem RewardType = "free_item"
	RewardBuyXGetY RewardType = "buy_x_get_y"
	RewardVoucher  RewardType = "voucher"
)

// Payout is the type-specific part of a Reward. Exactly one of Discount,
// FreeItem, BuyXGetY or Voucher.
type Payout interface {
	Kind() RewardType
}

// DiscountType is the unit of a discount.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountDollar     DiscountType = "dollar"
	DiscountFree       DiscountType = "free"
)

// Discount takes Value off a purchase, as a percentage or dollar amount.
type Discount struct {
	Value        float64
	DiscountType DiscountType
}

func (Discount) Kind() RewardType { return RewardDiscount }

// FreeItem gives away a named item.
type FreeItem struct {
	ItemName string
}

func (FreeItem) Kind() RewardType { return RewardFreeItem }

// BuyXGetY gives GetQuantity of GetItemName when BuyQuantity of BuyItemName
// are bought. GetDiscountValue is meaningful only when GetDiscountType is not
// DiscountFree.
type BuyXGetY struct {
	BuyQuantity      int
	GetQuantity      int
	BuyItemName      string
	GetItemName      string
	GetDiscountType  DiscountType
	GetDiscountValue float64
}

func (BuyXGetY) Kind() RewardType { return RewardBuyXGetY }

// Voucher grants a fixed store credit.
type Voucher struct {
	Amount float64
}

func (Voucher) Kind() RewardType { return RewardVoucher }

// ConditionType is the metric a condition thresholds on.
type ConditionType string

const (
	ConditionTransactionCount ConditionType = "transaction_count"
	ConditionSpendAmount      ConditionType = "spend_amount"
	ConditionVisitCount       ConditionType = "visit_count"
)

// ConditionTypes lists every condition type in validation order.
var ConditionTypes = []ConditionType{
	ConditionTransactionCount,
	ConditionSpendAmount,
	ConditionVisitCount,
}

// Label returns the user-facing name of the condition type.
func (t ConditionType) Label() string {
	switch t {
	case ConditionTransactionCount:
		return "Transactions"
	case ConditionSpendAmount:
		return "Spend Amount"
	case ConditionVisitCount:
		return "Visits"
	default:
		return string(t)
	}
}

// Valid reports whether t is a known condition type.
func (t ConditionType) Valid() bool {
	switch t {
	case ConditionTransactionCount, ConditionSpendAmount, ConditionVisitCount:
		return true
	}
	return false
}

// Condition is an eligibility threshold on a reward.
type Condition struct {
	ID    string        `json:"id"`
	Type  ConditionType `json:"type"`
	Value int           `json:"value"`
}

// Description is derived from the type and value.
func (c Condition) Description() string {
	switch c.Type {
	case ConditionTransactionCount:
		return fmt.Sprintf("After %d %s", c.Value, plural(c.Value, "transaction", "transactions"))
	case ConditionSpendAmount:
		return fmt.Sprintf("After spending $%d", c.Value)
	case ConditionVisitCount:
		return fmt.Sprintf("After %d %s", c.Value, plural(c.Value, "visit", "visits"))
	default:
		return ""
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// LimitationType is a usage-frequency constraint authored on a reward.
type LimitationType string

const (
	LimitOneTime LimitationType = "one_time"
	LimitDaily   LimitationType = "daily"
	LimitWeekly  LimitationType = "weekly"
	LimitMonthly LimitationType = "monthly"
)

// Limitation is the authoring-time usage constraint. The persisted form is
// always one use per customer regardless of what is authored here.
type Limitation struct {
	ID          string         `json:"id"`
	Type        LimitationType `json:"type"`
	Value       *int           `json:"value,omitempty"`
	Description string         `json:"description"`
}
