package routing

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"relay/internal/logger"
	"relay/pkg/cel"
	"relay/pkg/delivery"
	"relay/pkg/fieldpath"
	"relay/pkg/metrics"
	"relay/pkg/models"
	"relay/pkg/processing"
)

// ConfigProvider returns the current routing snapshot. The rules reload
// service implements it; tests hand in a static snapshot.
type ConfigProvider interface {
	RoutingConfig() Config
}

// StaticConfig is a ConfigProvider over a fixed snapshot.
type StaticConfig Config

func (s StaticConfig) RoutingConfig() Config { return Config(s) }

// Gateway evaluates the routing table against each message and attaches one
// output handler per distinct matched destination. It is itself a processor,
// so deployments that do nothing but fan messages out run it directly as
// their business logic.
type Gateway struct {
	processing.Base

	provider  ConfigProvider
	factory   delivery.HandlerFactory
	evaluator *cel.Evaluator
	log       logger.Logger
}

func NewGateway(provider ConfigProvider, factory delivery.HandlerFactory, evaluator *cel.Evaluator, log logger.Logger) *Gateway {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Gateway{
		Base:      processing.Base{Name: "gateway-router", Version: "1.0.0"},
		provider:  provider,
		factory:   factory,
		evaluator: evaluator,
		log:       log,
	}
}

// Process routes one message. Zero matched destinations with no default is a
// deliberate drop, not an error.
func (g *Gateway) Process(ctx context.Context, msg *models.Message, _ *processing.Services) (*models.ProcessingResult, error) {
	cfg := g.provider.RoutingConfig()
	result := models.NewSuccessResult()

	doc := messageDocument(msg)

	evaluated := make([]string, 0, len(cfg.Rules))
	matched := make([]string, 0)
	destinations := make([]string, 0)
	seen := make(map[string]bool)

	for _, rule := range cfg.Rules {
		evaluated = append(evaluated, rule.Name)

		ok := g.ruleMatches(ctx, rule, msg, doc)
		if !ok {
			metrics.RoutingRuleMatchesTotal.WithLabelValues(rule.Name, "no_match").Inc()
			continue
		}
		metrics.RoutingRuleMatchesTotal.WithLabelValues(rule.Name, "match").Inc()
		matched = append(matched, rule.Name)

		// first-writer-wins: later rules never override an attached
		// destination
		if !seen[rule.Destination] {
			seen[rule.Destination] = true
			destinations = append(destinations, rule.Destination)
			result.AttachHandler(g.factory.ForDestination(rule.Destination))
		}

		if rule.StopOnMatch {
			break
		}
	}

	if len(matched) == 0 && cfg.DefaultDestination != "" {
		destinations = append(destinations, cfg.DefaultDestination)
		result.AttachHandler(g.factory.ForDestination(cfg.DefaultDestination))
	}

	g.log.DebugwCtx(ctx, "message routed",
		"message_type", msg.Type,
		"matched_rules", matched,
		"destinations", destinations)

	result.SetMetadata("routing", map[string]interface{}{
		"evaluated_rules": evaluated,
		"matched_rules":   matched,
		"destinations":    destinations,
	})

	return result, nil
}

// ruleMatches evaluates one rule's condition. Every evaluation failure is
// logged and degrades to no-match so a malformed rule cannot abort the
// routing pass.
func (g *Gateway) ruleMatches(ctx context.Context, rule Rule, msg *models.Message, doc map[string]interface{}) bool {
	cond := rule.Condition
	if cond.IsEmpty() {
		return true
	}

	if cond.Expression != "" {
		if g.evaluator == nil {
			g.log.WarnwCtx(ctx, "rule carries an expression but no evaluator is configured", "rule", rule.Name)
			return false
		}
		ok, err := g.evaluator.EvaluateMatch(ctx, cond.Expression, msg)
		if err != nil {
			g.log.DebugwCtx(ctx, "rule expression evaluation failed", "rule", rule.Name, "error", err)
			return false
		}
		return ok
	}

	value, found := fieldpath.Resolve(doc, cond.Field)
	ok, err := compare(cond.Operator, value, found, cond.Value)
	if err != nil {
		g.log.DebugwCtx(ctx, "rule condition evaluation failed",
			"rule", rule.Name, "field", cond.Field, "operator", cond.Operator, "error", err)
		return false
	}
	return ok
}

// messageDocument exposes the message as the map the dot-path resolver walks.
func messageDocument(msg *models.Message) map[string]interface{} {
	return map[string]interface{}{
		"id":             msg.ID,
		"correlation_id": msg.CorrelationID,
		"type":           msg.Type,
		"entity": map[string]interface{}{
			"id":             msg.Entity.ID,
			"external_id":    msg.Entity.ExternalID,
			"canonical_type": msg.Entity.CanonicalType,
			"source":         msg.Entity.Source,
			"tenant_id":      msg.Entity.TenantID,
			"version":        msg.Entity.Version,
		},
		"payload":      msg.Payload,
		"metadata":     msg.Metadata,
		"routing_info": msg.RoutingInfo,
	}
}

func compare(operator string, value interface{}, found bool, expected interface{}) (bool, error) {
	switch operator {
	case OpEqual:
		return found && looseEqual(value, expected), nil
	case OpNotEqual:
		return !found || !looseEqual(value, expected), nil
	case OpGreater, OpLess, OpGreaterOrEqual, OpLessOrEqual:
		if !found {
			return false, nil
		}
		return compareOrdered(operator, value, expected)
	case OpIn:
		if !found {
			return false, nil
		}
		return inList(value, expected)
	case OpNotIn:
		if !found {
			return true, nil
		}
		ok, err := inList(value, expected)
		return !ok, err
	case OpContains:
		if !found {
			return false, nil
		}
		return contains(value, expected)
	case OpMatches:
		if !found {
			return false, nil
		}
		pattern, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("matches operator requires a string pattern, got %T", expected)
		}
		return regexp.MatchString(pattern, stringify(value))
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

// looseEqual compares across the numeric representations JSON decoding
// produces, so a rule value of 5 matches a payload value of 5.0.
func looseEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	if _, bok := toFloat(b); bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func compareOrdered(operator string, value, expected interface{}) (bool, error) {
	vf, vok := toFloat(value)
	ef, eok := toFloat(expected)
	if vok && eok {
		switch operator {
		case OpGreater:
			return vf > ef, nil
		case OpLess:
			return vf < ef, nil
		case OpGreaterOrEqual:
			return vf >= ef, nil
		case OpLessOrEqual:
			return vf <= ef, nil
		}
	}

	vs, vok := value.(string)
	es, eok := expected.(string)
	if vok && eok {
		switch operator {
		case OpGreater:
			return vs > es, nil
		case OpLess:
			return vs < es, nil
		case OpGreaterOrEqual:
			return vs >= es, nil
		case OpLessOrEqual:
			return vs <= es, nil
		}
	}

	return false, fmt.Errorf("cannot order %T against %T", value, expected)
}

func inList(value, expected interface{}) (bool, error) {
	list, ok := expected.([]interface{})
	if !ok {
		return false, fmt.Errorf("in operator requires a list, got %T", expected)
	}
	for _, item := range list {
		if looseEqual(value, item) {
			return true, nil
		}
	}
	return false, nil
}

func contains(value, expected interface{}) (bool, error) {
	switch v := value.(type) {
	case string:
		return strings.Contains(v, stringify(expected)), nil
	case []interface{}:
		for _, item := range v {
			if looseEqual(item, expected) {
				return true, nil
			}
		}
		return false, nil
	case map[string]interface{}:
		key, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("contains over a map requires a string key, got %T", expected)
		}
		_, present := v[key]
		return present, nil
	default:
		return false, fmt.Errorf("contains is not defined for %T", value)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
