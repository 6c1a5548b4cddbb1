// Package templates holds the preset loyalty programs a merchant can start from.
package templates

import (
	"sort"

	"github.com/opensource-finance/ladder/internal/domain"
)

// Industry groups templates for display.
type Industry string

const (
	IndustryFood          Industry = "food"
	IndustryEntertainment Industry = "entertainment"
	IndustryRetail        Industry = "retail"
)

// Template is a preset, pre-validated program.
type Template struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Industry    Industry        `json:"industry"`
	ProgramName string          `json:"programName"`
	PIN         string          `json:"pin"`
	Rewards     []domain.Reward `json:"rewards"`
}

var catalog = []Template{
	{
		ID:          "cafe",
		Name:        "Coffee Shop",
		Description: "Perfect for cafes",
		Industry:    IndustryFood,
		ProgramName: "Coffee Loyalty Program",
		PIN:         "2468",
		Rewards: []domain.Reward{
			reward("reward-1", "10% Off First Purchase", "Welcome discount for new customers", 0,
				domain.Discount{Value: 10, DiscountType: domain.DiscountPercentage},
				cond("c1", domain.ConditionTransactionCount, 1)),
			reward("reward-2", "Free Coffee", "Complimentary regular coffee", 1,
				domain.FreeItem{ItemName: "Regular Coffee"},
				cond("c2", domain.ConditionTransactionCount, 5)),
			reward("reward-3", "Buy 2 Get 1 Free Pastry", "Buy two pastries, get one free", 2,
				domain.BuyXGetY{
					BuyQuantity:     2,
					GetQuantity:     1,
					BuyItemName:     "Pastry",
					GetItemName:     "Pastry",
					GetDiscountType: domain.DiscountFree,
				},
				cond("c3", domain.ConditionTransactionCount, 10)),
		},
	},
	{
		ID:          "restaurant",
		Name:        "Restaurant",
		Description: "For dining establishments",
		Industry:    IndustryFood,
		ProgramName: "Diner Rewards Program",
		PIN:         "3579",
		Rewards: []domain.Reward{
			reward("reward-1", "Free Appetizer", "Complimentary starter", 0,
				domain.FreeItem{ItemName: "Appetizer"},
				cond("c1", domain.ConditionSpendAmount, 75)),
		},
	},
	{
		ID:          "pub",
		Name:        "Pub & Bar",
		Description: "Great for pubs and bars",
		Industry:    IndustryEntertainment,
		ProgramName: "Pub Loyalty Program",
		PIN:         "1357",
		Rewards: []domain.Reward{
			reward("reward-1", "15% Off Food", "Discount on all food items", 0,
				domain.Discount{Value: 15, DiscountType: domain.DiscountPercentage},
				cond("c1", domain.ConditionSpendAmount, 50)),
			reward("reward-2", "Free Appetiser", "Complimentary starter", 1,
				domain.FreeItem{ItemName: "House Appetiser"},
				cond("c2", domain.ConditionSpendAmount, 51),
				cond("c3", domain.ConditionVisitCount, 8)),
		},
	},
	{
		ID:          "retail",
		Name:        "Retail Store",
		Description: "Ideal for retail stores",
		Industry:    IndustryRetail,
		ProgramName: "VIP Customer Program",
		PIN:         "9876",
		Rewards: []domain.Reward{
			reward("reward-1", "$5 Off Purchase", "Dollar discount on any purchase", 0,
				domain.Discount{Value: 5, DiscountType: domain.DiscountDollar},
				cond("c1", domain.ConditionTransactionCount, 3)),
			reward("reward-2", "20% Off Next Purchase", "Percentage discount", 1,
				domain.Discount{Value: 20, DiscountType: domain.DiscountPercentage},
				cond("c2", domain.ConditionTransactionCount, 4),
				cond("c3", domain.ConditionSpendAmount, 100)),
		},
	},
	{
		ID:          "boutique",
		Name:        "Boutique",
		Description: "For fashion & specialty stores",
		Industry:    IndustryRetail,
		ProgramName: "Style Rewards",
		PIN:         "4680",
		Rewards: []domain.Reward{
			reward("reward-1", "25% Off", "Premium discount", 0,
				domain.Discount{Value: 25, DiscountType: domain.DiscountPercentage},
				cond("c1", domain.ConditionSpendAmount, 150)),
		},
	},
}

func reward(id, name, description string, order int, payout domain.Payout, conds ...domain.Condition) domain.Reward {
	r := domain.NewReward(id, name, order, payout)
	r.Description = description
	r.Conditions = append(r.Conditions, conds...)
	return r
}

func cond(id string, t domain.ConditionType, v int) domain.Condition {
	return domain.Condition{ID: id, Type: t, Value: v}
}

// All returns every template in catalog order.
func All() []Template {
	out := make([]Template, len(catalog))
	for i, t := range catalog {
		out[i] = t.clone()
	}
	return out
}

// Industries returns the industries that have at least one template, sorted.
func Industries() []Industry {
	seen := make(map[Industry]bool)
	var out []Industry
	for _, t := range catalog {
		if !seen[t.Industry] {
			seen[t.Industry] = true
			out = append(out, t.Industry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ByIndustry returns the templates for one industry in catalog order.
func ByIndustry(industry Industry) []Template {
	var out []Template
	for _, t := range catalog {
		if t.Industry == industry {
			out = append(out, t.clone())
		}
	}
	return out
}

// Lookup returns the template with the given ID.
func Lookup(id string) (Template, bool) {
	for _, t := range catalog {
		if t.ID == id {
			return t.clone(), true
		}
	}
	return Template{}, false
}

// ApplyTemplate builds a program from tpl. Name, description, PIN and rewards
// are replaced wholesale; the caller re-runs sequence validation afterward.
func ApplyTemplate(tpl Template) domain.Program {
	p := domain.NewProgram()
	p.Name = tpl.ProgramName
	p.Description = tpl.Description
	p.PIN = tpl.PIN
	p.Rewards = tpl.clone().Rewards
	return p
}

func (t Template) clone() Template {
	out := t
	out.Rewards = make([]domain.Reward, len(t.Rewards))
	for i, r := range t.Rewards {
		out.Rewards[i] = r.Clone()
	}
	return out
}
