package ledger

import (
	"fmt"
	"strings"

	"github.com/referral-ledger/internal/config"
	"github.com/shopspring/decimal"
)

// Plan is an investment plan with a monthly return rate
type Plan struct {
	Name       string          `json:"name"`
	ReturnRate decimal.Decimal `json:"returnRate"`
}

// PlanTable is an ordered plan list. The first plan is the fallback for unknown names.
type PlanTable struct {
	plans []Plan
}

// DefaultPlans is the built-in plan table
var DefaultPlans = []Plan{
	{Name: "Conservador", ReturnRate: decimal.RequireFromString("0.10")},
	{Name: "Moderado", ReturnRate: decimal.RequireFromString("0.15")},
	{Name: "Arrojado", ReturnRate: decimal.RequireFromString("0.20")},
}

// NewPlanTable builds a table; it needs at least one plan to have a fallback
func NewPlanTable(plans []Plan) (*PlanTable, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("plan table needs at least one plan")
	}
	cp := make([]Plan, len(plans))
	copy(cp, plans)
	return &PlanTable{plans: cp}, nil
}

// DefaultPlanTable returns the built-in table
func DefaultPlanTable() *PlanTable {
	pt, _ := NewPlanTable(DefaultPlans)
	return pt
}

// PlanTableFromConfig converts configured plans into a table
func PlanTableFromConfig(cfg []config.PlanConfig) (*PlanTable, error) {
	plans := make([]Plan, 0, len(cfg))
	for _, p := range cfg {
		plans = append(plans, Plan{Name: p.Name, ReturnRate: p.ReturnRate})
	}
	return NewPlanTable(plans)
}

// Lookup finds a plan by case-insensitive name
func (pt *PlanTable) Lookup(name string) (Plan, bool) {
	for _, p := range pt.plans {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, true
		}
	}
	return Plan{}, false
}

// Resolve is Lookup with the fallback applied
func (pt *PlanTable) Resolve(name string) Plan {
	if p, ok := pt.Lookup(name); ok {
		return p
	}
	return pt.plans[0]
}

// Default returns the fallback plan
func (pt *PlanTable) Default() Plan {
	return pt.plans[0]
}

// Plans returns a copy of the table in declared order
func (pt *PlanTable) Plans() []Plan {
	cp := make([]Plan, len(pt.plans))
	copy(cp, pt.plans)
	return cp
}

// MonthlyProfit is balance times the plan's return rate, unrounded
func (pt *PlanTable) MonthlyProfit(balance decimal.Decimal, planName string) decimal.Decimal {
	return balance.Mul(pt.Resolve(planName).ReturnRate)
}
