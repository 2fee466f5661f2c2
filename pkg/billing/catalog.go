package billing

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PlanPricing holds the processor price ids for a paid plan.
type PlanPricing struct {
	Monthly string `yaml:"monthly"`
	Annual  string `yaml:"annual"`
}

// PlanSpec describes one plan: its processor prices, resource limits and
// trial length.
type PlanSpec struct {
	Prices    PlanPricing        `yaml:"prices"`
	Limits    map[Resource]int64 `yaml:"limits"`
	TrialDays int                `yaml:"trial_days"`
}

// Catalog is the static plan table: price resolution in both directions and
// the per-plan limits consulted by the usage enforcer.
type Catalog struct {
	Plans map[Plan]PlanSpec `yaml:"plans"`
}

// DefaultCatalog returns the compiled-in catalog with sandbox price ids.
// Production deployments override it with LoadCatalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Plans: map[Plan]PlanSpec{
			PlanFree: {
				Limits: map[Resource]int64{
					ResourceStudyPlans:     3,
					ResourceTasks:          50,
					ResourceFlashcardDecks: 2,
					ResourceTeams:          0,
					ResourceAISuggestions:  10,
				},
			},
			PlanPro: {
				Prices: PlanPricing{
					Monthly: "price_pro_monthly_sandbox",
					Annual:  "price_pro_annual_sandbox",
				},
				Limits: map[Resource]int64{
					ResourceStudyPlans:     50,
					ResourceTasks:          Unlimited,
					ResourceFlashcardDecks: Unlimited,
					ResourceTeams:          1,
					ResourceAISuggestions:  200,
				},
				TrialDays: 14,
			},
			PlanTeam: {
				Prices: PlanPricing{
					Monthly: "price_team_monthly_sandbox",
					Annual:  "price_team_annual_sandbox",
				},
				Limits: map[Resource]int64{
					ResourceStudyPlans:     Unlimited,
					ResourceTasks:          Unlimited,
					ResourceFlashcardDecks: Unlimited,
					ResourceTeams:          Unlimited,
					ResourceAISuggestions:  Unlimited,
				},
				TrialDays: 14,
			},
		},
	}
}

// LoadCatalog reads a catalog from a YAML file and validates it.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate ensures the catalog is internally consistent. Misconfiguration
// must fail startup, not surface as wrong entitlements at runtime.
func (c *Catalog) Validate() error {
	if len(c.Plans) == 0 {
		return errors.Join(ErrInvalidCatalog, errors.New("no plans defined"))
	}
	if _, ok := c.Plans[PlanFree]; !ok {
		return errors.Join(ErrInvalidCatalog, errors.New("free plan is required"))
	}

	seen := make(map[string]Plan)
	for plan, spec := range c.Plans {
		if !plan.Valid() {
			return errors.Join(ErrInvalidCatalog, fmt.Errorf("unknown plan %q", plan))
		}
		if len(spec.Limits) == 0 {
			return errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %q has no limits table", plan))
		}
		for res, limit := range spec.Limits {
			if limit < Unlimited {
				return errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %q resource %q has invalid limit %d", plan, res, limit))
			}
		}
		if spec.TrialDays < 0 {
			return errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %q has negative trial days", plan))
		}

		if !plan.Paid() {
			continue
		}
		if spec.Prices.Monthly == "" || spec.Prices.Annual == "" {
			return errors.Join(ErrInvalidCatalog, fmt.Errorf("paid plan %q is missing price ids", plan))
		}
		for _, priceID := range []string{spec.Prices.Monthly, spec.Prices.Annual} {
			if other, dup := seen[priceID]; dup {
				return errors.Join(ErrInvalidCatalog, fmt.Errorf("price id %q used by both %q and %q", priceID, other, plan))
			}
			seen[priceID] = plan
		}
	}

	return nil
}

// PriceID resolves the processor price id for a paid plan and interval.
func (c *Catalog) PriceID(plan Plan, interval Interval) (string, error) {
	spec, ok := c.Plans[plan]
	if !ok || !plan.Paid() {
		return "", fmt.Errorf("%w: plan %q is not purchasable", ErrValidation, plan)
	}

	switch interval {
	case IntervalMonthly:
		return spec.Prices.Monthly, nil
	case IntervalAnnual:
		return spec.Prices.Annual, nil
	default:
		return "", fmt.Errorf("%w: unknown interval %q", ErrValidation, interval)
	}
}

// PlanForPrice resolves a processor price id back to its plan.
func (c *Catalog) PlanForPrice(priceID string) (Plan, bool) {
	if priceID == "" {
		return "", false
	}
	for plan, spec := range c.Plans {
		if spec.Prices.Monthly == priceID || spec.Prices.Annual == priceID {
			return plan, true
		}
	}
	return "", false
}

// Limit returns the resource ceiling for a plan.
func (c *Catalog) Limit(plan Plan, res Resource) (int64, bool) {
	spec, ok := c.Plans[plan]
	if !ok {
		return 0, false
	}
	limit, ok := spec.Limits[res]
	return limit, ok
}

// TrialDays returns the trial length for a plan, 0 when no trial applies.
func (c *Catalog) TrialDays(plan Plan) int {
	return c.Plans[plan].TrialDays
}
