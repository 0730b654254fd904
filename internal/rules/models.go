// Package rules persists the routing table and serves it as live snapshots:
// a Postgres repository for CRUD, a reload service that polls for changes,
// and an HTTP API for operators.
package rules

import (
	"time"

	"relay/pkg/routing"
)

// RoutingRule is the stored form of one routing rule. Position orders rules
// within the table; evaluation order is the only priority signal.
type RoutingRule struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Field       string      `json:"field,omitempty"`
	Operator    string      `json:"operator,omitempty"`
	Value       interface{} `json:"value,omitempty"`
	Expression  string      `json:"expression,omitempty"`
	Destination string      `json:"destination"`
	StopOnMatch bool        `json:"stop_on_match"`
	Position    int         `json:"position"`
	Enabled     bool        `json:"enabled"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ToRule converts the stored form into the evaluation form.
func (r *RoutingRule) ToRule() routing.Rule {
	rule := routing.Rule{
		Name:        r.Name,
		Destination: r.Destination,
		StopOnMatch: r.StopOnMatch,
	}
	if r.Field != "" || r.Operator != "" || r.Expression != "" {
		rule.Condition = &routing.Condition{
			Field:      r.Field,
			Operator:   r.Operator,
			Value:      r.Value,
			Expression: r.Expression,
		}
	}
	return rule
}

// Validate checks the stored rule the same way the router validates a
// snapshot, so a rule that persists cleanly also evaluates cleanly.
func (r *RoutingRule) Validate() error {
	cfg := routing.Config{Rules: []routing.Rule{r.ToRule()}}
	return cfg.Validate()
}
