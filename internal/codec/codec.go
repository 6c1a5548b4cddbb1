// Package codec maps the authoring Program to and from the persisted
// program document.
package codec

import (
	"strconv"
	"time"

	"github.com/opensource-finance/ladder/internal/domain"
)

// Metadata is the program-level data supplied by the persistence side.
type Metadata struct {
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ToPersisted converts a program to its stored document. Only the fields the
// reward type uses are set; limitations are always one use per customer.
// Stored programs are always active whatever status the caller set.
func ToPersisted(p domain.Program, meta Metadata) domain.PersistedProgram {
	rewards := make([]domain.PersistedReward, 0, len(p.Rewards))
	for _, r := range p.Rewards {
		rewards = append(rewards, RewardToPersisted(r))
	}

	return domain.PersistedProgram{
		Name:         p.Name,
		Description:  p.Description,
		PIN:          p.PIN,
		Type:         domain.PersistedProgramType,
		Status:       domain.ProgramStatusActive,
		Rewards:      rewards,
		CreatedAt:    meta.CreatedAt,
		UpdatedAt:    meta.UpdatedAt,
		CreatedBy:    meta.CreatedBy,
		TotalRewards: len(rewards),
	}
}

// RewardToPersisted converts one reward.
func RewardToPersisted(r domain.Reward) domain.PersistedReward {
	out := domain.PersistedReward{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Type:        r.Kind(),
		Order:       r.Order,
		PointsCost:  max(r.PointsCost, 0),
		Conditions:  make([]domain.PersistedCondition, 0, len(r.Conditions)),
		Limitations: []domain.PersistedLimitation{customerLimit()},
	}

	switch v := r.Payout.(type) {
	case domain.Discount:
		out.Value = ptr(v.Value)
		if v.DiscountType != "" {
			out.DiscountType = ptr(v.DiscountType)
		}
	case domain.FreeItem:
		out.FreeItemName = ptr(v.ItemName)
	case domain.BuyXGetY:
		out.BuyQuantity = ptr(v.BuyQuantity)
		out.GetQuantity = ptr(v.GetQuantity)
		out.BuyItemName = ptr(v.BuyItemName)
		out.GetItemName = ptr(v.GetItemName)
		getType := v.GetDiscountType
		if getType == "" {
			getType = domain.DiscountFree
		}
		out.GetDiscountType = ptr(getType)
		if getType != domain.DiscountFree {
			out.GetDiscountValue = ptr(v.GetDiscountValue)
		}
	case domain.Voucher:
		out.VoucherAmount = ptr(v.Amount)
	}

	for _, c := range r.Conditions {
		if pc, ok := conditionToPersisted(c); ok {
			out.Conditions = append(out.Conditions, pc)
		}
	}

	return out
}

func conditionToPersisted(c domain.Condition) (domain.PersistedCondition, bool) {
	switch c.Type {
	case domain.ConditionTransactionCount, domain.ConditionVisitCount:
		return domain.PersistedCondition{Type: domain.PersistedVisitNumber, Number: ptr(c.Value)}, true
	case domain.ConditionSpendAmount:
		return domain.PersistedCondition{Type: domain.PersistedMinimumSpend, Amount: ptr(c.Value)}, true
	default:
		return domain.PersistedCondition{}, false
	}
}

func customerLimit() domain.PersistedLimitation {
	return domain.PersistedLimitation{Type: domain.PersistedCustomerLimit, Value: 1}
}

// FromPersisted converts a stored document back to a program with the given ID.
//
// The mapping is lossy: visitNumber conditions always decode to
// transaction_count since the stored form does not say whether they were
// authored as transactions or visits. Condition IDs are regenerated as
// "<rewardID>-condition-<index>" and limitations decode to a single one_time
// limitation.
func FromPersisted(id string, doc domain.PersistedProgram) domain.Program {
	p := domain.Program{
		ID:          id,
		Name:        doc.Name,
		Description: doc.Description,
		PIN:         doc.PIN,
		Status:      doc.Status,
		Rewards:     make([]domain.Reward, 0, len(doc.Rewards)),
	}
	for _, pr := range doc.Rewards {
		p.Rewards = append(p.Rewards, RewardFromPersisted(pr))
	}
	p.Normalize()
	return p
}

// RewardFromPersisted converts one stored reward.
func RewardFromPersisted(pr domain.PersistedReward) domain.Reward {
	r := domain.NewReward(pr.ID, pr.Name, pr.Order, payoutFromPersisted(pr))
	r.Description = pr.Description
	r.PointsCost = pr.PointsCost

	for i, pc := range pr.Conditions {
		c, ok := conditionFromPersisted(pc)
		if !ok {
			continue
		}
		c.ID = pr.ID + "-condition-" + strconv.Itoa(i)
		r.Conditions = append(r.Conditions, c)
	}

	if len(pr.Limitations) > 0 {
		r.Limitations = append(r.Limitations, domain.Limitation{
			ID:          pr.ID + "-limitation-0",
			Type:        domain.LimitOneTime,
			Description: "Once per customer",
		})
	}
	return r
}

func conditionFromPersisted(pc domain.PersistedCondition) (domain.Condition, bool) {
	switch pc.Type {
	case domain.PersistedVisitNumber:
		return domain.Condition{Type: domain.ConditionTransactionCount, Value: deref(pc.Number)}, true
	case domain.PersistedMinimumSpend:
		return domain.Condition{Type: domain.ConditionSpendAmount, Value: deref(pc.Amount)}, true
	default:
		return domain.Condition{}, false
	}
}

func payoutFromPersisted(pr domain.PersistedReward) domain.Payout {
	switch pr.Type {
	case domain.RewardFreeItem:
		return domain.FreeItem{ItemName: deref(pr.FreeItemName)}
	case domain.RewardBuyXGetY:
		b := domain.BuyXGetY{
			BuyQuantity:     deref(pr.BuyQuantity),
			GetQuantity:     deref(pr.GetQuantity),
			BuyItemName:     deref(pr.BuyItemName),
			GetItemName:     deref(pr.GetItemName),
			GetDiscountType: deref(pr.GetDiscountType),
		}
		if b.GetDiscountType == "" {
			b.GetDiscountType = domain.DiscountFree
		}
		if b.GetDiscountType != domain.DiscountFree {
			b.GetDiscountValue = deref(pr.GetDiscountValue)
		}
		return b
	case domain.RewardVoucher:
		return domain.Voucher{Amount: deref(pr.VoucherAmount)}
	default:
		d := domain.Discount{Value: deref(pr.Value), DiscountType: deref(pr.DiscountType)}
		if d.DiscountType == "" {
			d.DiscountType = domain.DiscountPercentage
		}
		return d
	}
}

func ptr[T any](v T) *T { return &v }

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
