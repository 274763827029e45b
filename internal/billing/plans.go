// AngelaMos | 2026
// plans.go

package billing

import (
	"fmt"
	"sort"

	"github.com/carterperez-dev/voiceagent-billing/internal/config"
	"github.com/carterperez-dev/voiceagent-billing/internal/core"
)

type Plan struct {
	Key       string
	Name      string
	PriceID   string
	ProductID string
	Amount    int64
	Currency  string
	Interval  string
}

// Catalog is the fixed set of sellable plans, keyed by plan type.
type Catalog struct {
	byKey   map[string]Plan
	byPrice map[string]Plan
}

func NewCatalog(plans map[string]config.PlanConfig) *Catalog {
	c := &Catalog{
		byKey:   make(map[string]Plan, len(plans)),
		byPrice: make(map[string]Plan, len(plans)),
	}

	for key, p := range plans {
		plan := Plan{
			Key:       key,
			Name:      p.Name,
			PriceID:   p.PriceID,
			ProductID: p.ProductID,
			Amount:    p.Amount,
			Currency:  p.Currency,
			Interval:  p.Interval,
		}
		if plan.Name == "" {
			plan.Name = key
		}
		if plan.Currency == "" {
			plan.Currency = "usd"
		}
		if plan.Interval == "" {
			plan.Interval = "month"
		}

		c.byKey[key] = plan
		c.byPrice[plan.PriceID] = plan
	}

	return c
}

func (c *Catalog) Get(key string) (Plan, bool) {
	p, ok := c.byKey[key]
	return p, ok
}

// Resolve maps a price id (and optionally its product id) from a checkout
// request to a plan.
func (c *Catalog) Resolve(priceID, productID string) (Plan, error) {
	p, ok := c.byPrice[priceID]
	if !ok || priceID == "" {
		return Plan{}, fmt.Errorf("unknown price %q: %w", priceID, core.ErrInvalidInput)
	}

	if productID != "" && p.ProductID != "" && productID != p.ProductID {
		return Plan{}, fmt.Errorf(
			"product %q does not sell price %q: %w",
			productID,
			priceID,
			core.ErrInvalidInput,
		)
	}

	return p, nil
}

func (c *Catalog) List() []Plan {
	plans := make([]Plan, 0, len(c.byKey))
	for _, p := range c.byKey {
		plans = append(plans, p)
	}

	sort.Slice(plans, func(i, j int) bool {
		if plans[i].Amount != plans[j].Amount {
			return plans[i].Amount < plans[j].Amount
		}
		return plans[i].Key < plans[j].Key
	})

	return plans
}
