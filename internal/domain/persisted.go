package domain

import "time"

// Persisted condition and limitation type names.
const (
	PersistedVisitNumber   = "visitNumber"
	PersistedMinimumSpend  = "minimumSpend"
	PersistedCustomerLimit = "customerLimit"
	PersistedProgramType   = "manual"
)

// PersistedProgram is the stored program document, keyed by
// (merchantID, programID). Field names and optionality are a wire contract
// shared with the other readers of the document store.
type PersistedProgram struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	PIN          string            `json:"pin"`
	Type         string            `json:"type"`
	Status       string            `json:"status"`
	Rewards      []PersistedReward `json:"rewards"`
	CreatedAt    time.Time         `json:"createdAt,omitzero"`
	UpdatedAt    time.Time         `json:"updatedAt,omitzero"`
	CreatedBy    string            `json:"createdBy,omitempty"`
	TotalRewards int               `json:"totalRewards"`
}

// PersistedReward is one reward inside a PersistedProgram. Type-specific
// fields are nil unless the reward type uses them.
type PersistedReward struct {
	ID               string                `json:"id"`
	Name             string                `json:"name"`
	Description      string                `json:"description"`
	Type             RewardType            `json:"type"`
	Order            int                   `json:"order"`
	Value            *float64              `json:"value,omitempty"`
	DiscountType     *DiscountType         `json:"discountType,omitempty"`
	FreeItemName     *string               `json:"freeItemName,omitempty"`
	BuyQuantity      *int                  `json:"buyQuantity,omitempty"`
	GetQuantity      *int                  `json:"getQuantity,omitempty"`
	BuyItemName      *string               `json:"buyItemName,omitempty"`
	GetItemName      *string               `json:"getItemName,omitempty"`
	GetDiscountType  *DiscountType         `json:"getDiscountType,omitempty"`
	GetDiscountValue *float64              `json:"getDiscountValue,omitempty"`
	VoucherAmount    *float64              `json:"voucherAmount,omitempty"`
	PointsCost       int                   `json:"pointsCost"`
	Conditions       []PersistedCondition  `json:"conditions"`
	Limitations      []PersistedLimitation `json:"limitations"`
}

// PersistedCondition is either {type: visitNumber, number} or
// {type: minimumSpend, amount}.
type PersistedCondition struct {
	Type   string `json:"type"`
	Number *int   `json:"number,omitempty"`
	Amount *int   `json:"amount,omitempty"`
}

// PersistedLimitation is always {type: customerLimit, value: 1} on write.
type PersistedLimitation struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

// ProgramRecord is a stored document together with its key.
type ProgramRecord struct {
	MerchantID string           `json:"merchantId"`
	ProgramID  string           `json:"programId"`
	Document   PersistedProgram `json:"document"`
}
