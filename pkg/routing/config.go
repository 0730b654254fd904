// Package routing computes the set of delivery destinations for a message by
// evaluating an ordered rule list.
package routing

import (
	"fmt"
	"regexp"
)

// Operators a condition may dispatch on.
const (
	OpEqual          = "=="
	OpNotEqual       = "!="
	OpGreater        = ">"
	OpLess           = "<"
	OpGreaterOrEqual = ">="
	OpLessOrEqual    = "<="
	OpIn             = "in"
	OpNotIn          = "not_in"
	OpContains       = "contains"
	OpMatches        = "matches"
)

var validOperators = map[string]bool{
	OpEqual: true, OpNotEqual: true,
	OpGreater: true, OpLess: true,
	OpGreaterOrEqual: true, OpLessOrEqual: true,
	OpIn: true, OpNotIn: true,
	OpContains: true, OpMatches: true,
}

// Condition matches a message field against a value. Field is a dot-separated
// path into the message document; an empty condition matches every message.
// Expression optionally carries a CEL expression evaluated instead of the
// field comparison.
type Condition struct {
	Field      string      `json:"field,omitempty" mapstructure:"field"`
	Operator   string      `json:"operator,omitempty" mapstructure:"operator"`
	Value      interface{} `json:"value,omitempty" mapstructure:"value"`
	Expression string      `json:"expression,omitempty" mapstructure:"expression"`
}

// IsEmpty reports whether the condition constrains nothing.
func (c *Condition) IsEmpty() bool {
	return c == nil || (c.Field == "" && c.Operator == "" && c.Expression == "")
}

// Rule binds a condition to a destination. Rule order is the only priority
// signal.
type Rule struct {
	Name        string     `json:"name" mapstructure:"name"`
	Condition   *Condition `json:"condition,omitempty" mapstructure:"condition"`
	Destination string     `json:"destination" mapstructure:"destination"`
	StopOnMatch bool       `json:"stop_on_match,omitempty" mapstructure:"stop_on_match"`
}

// Config is one immutable snapshot of the routing table. The reload service
// swaps whole snapshots; rules inside a snapshot are never mutated.
type Config struct {
	Rules              []Rule                 `json:"rules" mapstructure:"rules"`
	DefaultDestination string                 `json:"default_destination,omitempty" mapstructure:"default_destination"`
	QueueConfig        map[string]interface{} `json:"queue_config,omitempty" mapstructure:"queue_config"`
}

// Validate rejects configs that could not be evaluated at all.
func (c *Config) Validate() error {
	for i, rule := range c.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if rule.Destination == "" {
			return fmt.Errorf("rule %q: destination is required", rule.Name)
		}
		if err := rule.Condition.validate(); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
	}
	return nil
}

func (c *Condition) validate() error {
	if c.IsEmpty() {
		return nil
	}
	if c.Expression != "" {
		return nil
	}
	if c.Field == "" {
		return fmt.Errorf("condition field is required")
	}
	if !validOperators[c.Operator] {
		return fmt.Errorf("unknown operator %q", c.Operator)
	}
	if c.Operator == OpMatches {
		pattern, ok := c.Value.(string)
		if !ok {
			return fmt.Errorf("matches operator requires a string pattern")
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}
	return nil
}
