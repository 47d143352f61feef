// Package subscription resolves the plan a user is on and the token ceiling
// that plan grants.
package subscription

import (
	"fmt"
	"os"

	"github.com/ashureev/chatdesk/internal/domain"
	"gopkg.in/yaml.v3"
)

var standardFeatures = []string{
	"Advanced chat interface",
	"Priority response time",
	"Unlimited chats",
	"Email support",
	"Custom API key support",
	"History export",
}

// DefaultPlans is the built-in catalog used when no plans file is configured.
func DefaultPlans() []domain.Plan {
	withLimit := func(limit string) []string {
		return append([]string{limit + " tokens per month"}, standardFeatures...)
	}
	return []domain.Plan{
		{
			ID:          domain.FreePlanID,
			Name:        "Free",
			Description: "Perfect for trying out our services",
			Interval:    "monthly",
			TokenLimit:  domain.DefaultFreeTierTokens,
			Features:    withLimit("10,000"),
		},
		{
			ID:          "basic",
			Name:        "Basic",
			Description: "Great for regular users",
			Price:       10,
			Interval:    "monthly",
			TokenLimit:  100000,
			Highlighted: true,
			Features:    withLimit("100,000"),
		},
		{
			ID:          "pro",
			Name:        "Pro",
			Description: "For power users and teams",
			Price:       29,
			Interval:    "monthly",
			TokenLimit:  500000,
			Features:    withLimit("500,000"),
		},
	}
}

// Catalog is an ordered, immutable set of plans.
type Catalog struct {
	plans []domain.Plan
	byID  map[string]domain.Plan
}

// NewCatalog validates plans and indexes them by ID.
func NewCatalog(plans []domain.Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("plan catalog is empty")
	}
	c := &Catalog{byID: make(map[string]domain.Plan, len(plans))}
	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan %q has no id", p.Name)
		}
		if p.TokenLimit <= 0 {
			return nil, fmt.Errorf("plan %s: token_limit must be > 0", p.ID)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan id %s", p.ID)
		}
		c.byID[p.ID] = p
		c.plans = append(c.plans, p)
	}
	if _, ok := c.byID[domain.FreePlanID]; !ok {
		return nil, fmt.Errorf("plan catalog must define the %q plan", domain.FreePlanID)
	}
	return c, nil
}

type catalogFile struct {
	Plans []domain.Plan `yaml:"plans"`
}

// LoadCatalog reads a YAML plans file. An empty path yields the built-in plans.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(DefaultPlans())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plans file %s: %w", path, err)
	}
	return NewCatalog(f.Plans)
}

// Plans returns the catalog in display order.
func (c *Catalog) Plans() []domain.Plan {
	out := make([]domain.Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Plan looks up a plan by ID.
func (c *Catalog) Plan(id string) (domain.Plan, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// FreeTokens is the ceiling granted when no subscription applies.
func (c *Catalog) FreeTokens() int64 {
	return c.byID[domain.FreePlanID].TokenLimit
}
