package domain

import (
	"encoding/json"
	"fmt"
)

// rewardJSON is the flat authoring shape used by the dashboard. Type-specific
// fields are present only for the matching reward type.
type rewardJSON struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Description      string       `json:"description"`
	Type             RewardType   `json:"type"`
	Order            int          `json:"order"`
	Value            *float64     `json:"value,omitempty"`
	DiscountType     DiscountType `json:"discountType,omitempty"`
	FreeItemName     string       `json:"freeItemName,omitempty"`
	BuyQuantity      *int         `json:"buyQuantity,omitempty"`
	GetQuantity      *int         `json:"getQuantity,omitempty"`
	BuyItemName      string       `json:"buyItemName,omitempty"`
	GetItemName      string       `json:"getItemName,omitempty"`
	GetDiscountType  DiscountType `json:"getDiscountType,omitempty"`
	GetDiscountValue *float64     `json:"getDiscountValue,omitempty"`
	VoucherAmount    *float64     `json:"voucherAmount,omitempty"`
	PointsCost       int          `json:"pointsCost"`
	Conditions       []Condition  `json:"conditions"`
	Limitations      []Limitation `json:"limitations"`
}

// MarshalJSON flattens the payout variant into the authoring shape.
func (r Reward) MarshalJSON() ([]byte, error) {
	out := rewardJSON{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Type:        r.Kind(),
		Order:       r.Order,
		PointsCost:  r.PointsCost,
		Conditions:  r.Conditions,
		Limitations: r.Limitations,
	}
	if out.Conditions == nil {
		out.Conditions = []Condition{}
	}
	if out.Limitations == nil {
		out.Limitations = []Limitation{}
	}

	switch p := r.Payout.(type) {
	case Discount:
		out.Value = &p.Value
		out.DiscountType = p.DiscountType
	case FreeItem:
		out.FreeItemName = p.ItemName
	case BuyXGetY:
		out.BuyQuantity = &p.BuyQuantity
		out.GetQuantity = &p.GetQuantity
		out.BuyItemName = p.BuyItemName
		out.GetItemName = p.GetItemName
		out.GetDiscountType = p.GetDiscountType
		if p.GetDiscountType != DiscountFree {
			out.GetDiscountValue = &p.GetDiscountValue
		}
	case Voucher:
		out.VoucherAmount = &p.Amount
	}

	return json.Marshal(out)
}

// UnmarshalJSON builds the payout variant from the flat authoring shape.
func (r *Reward) UnmarshalJSON(data []byte) error {
	var in rewardJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	payout, err := in.payout()
	if err != nil {
		return err
	}

	*r = Reward{
		ID:          in.ID,
		Name:        in.Name,
		Description: in.Description,
		Order:       in.Order,
		PointsCost:  in.PointsCost,
		Conditions:  in.Conditions,
		Limitations: in.Limitations,
		Payout:      payout,
	}
	r.Normalize()
	return nil
}

func (in rewardJSON) payout() (Payout, error) {
	switch in.Type {
	case RewardDiscount:
		d := Discount{DiscountType: in.DiscountType}
		if in.Value != nil {
			d.Value = *in.Value
		}
		if d.DiscountType == "" {
			d.DiscountType = DiscountPercentage
		}
		return d, nil
	case RewardFreeItem:
		return FreeItem{ItemName: in.FreeItemName}, nil
	case RewardBuyXGetY:
		b := BuyXGetY{
			BuyQuantity:     1,
			GetQuantity:     1,
			BuyItemName:     in.BuyItemName,
			GetItemName:     in.GetItemName,
			GetDiscountType: in.GetDiscountType,
		}
		if in.BuyQuantity != nil {
			b.BuyQuantity = *in.BuyQuantity
		}
		if in.GetQuantity != nil {
			b.GetQuantity = *in.GetQuantity
		}
		if b.GetDiscountType == "" {
			b.GetDiscountType = DiscountFree
		}
		if b.GetDiscountType != DiscountFree && in.GetDiscountValue != nil {
			b.GetDiscountValue = *in.GetDiscountValue
		}
		return b, nil
	case RewardVoucher:
		v := Voucher{}
		if in.VoucherAmount != nil {
			v.Amount = *in.VoucherAmount
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown reward type %q", in.Type)
	}
}

// MarshalJSON adds the derived description.
func (c Condition) MarshalJSON() ([]byte, error) {
	type plain Condition
	return json.Marshal(struct {
		plain
		Description string `json:"description"`
	}{plain: plain(c), Description: c.Description()})
}
