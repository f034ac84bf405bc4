package billing

import "github.com/proclinks/server/model"

// Plan describes one subscription tier.
type Plan struct {
	Type       string `json:"type"`
	MaxLinks   int    `json:"max_links"`
	PriceCents int64  `json:"price_cents"` // monthly, 0 for FREE
}

// Tier limits. Prices come from configuration; these are the fallbacks.
var plans = []Plan{
	{Type: model.PlanFree, MaxLinks: 3, PriceCents: 0},
	{Type: model.PlanBronze, MaxLinks: 5, PriceCents: 299},
	{Type: model.PlanSilver, MaxLinks: 10, PriceCents: 599},
	{Type: model.PlanGold, MaxLinks: 50, PriceCents: 999},
}

// Plans returns all tiers in ascending order.
func Plans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

// PlanByType looks up a tier by its type name.
func PlanByType(planType string) (Plan, bool) {
	for _, p := range plans {
		if p.Type == planType {
			return p, true
		}
	}
	return Plan{}, false
}

// MaxLinksFor returns the link limit for a user's current plan. A plan that
// is not ACTIVE falls back to the FREE limit.
func MaxLinksFor(u *model.User) int {
	if u.PlanStatus != model.PlanStatusActive {
		return plans[0].MaxLinks
	}
	if p, ok := PlanByType(u.PlanType); ok {
		return p.MaxLinks
	}
	return plans[0].MaxLinks
}
