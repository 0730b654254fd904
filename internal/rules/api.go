package rules

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"relay/internal/logger"
	"relay/pkg/cel"
	"relay/pkg/errors"
)

// CreateRuleRequest is the write shape for a routing rule. Either a
// field/operator/value triple or an expression must be present; an empty
// condition is a match-everything rule and must be stated explicitly through
// the match_all flag so it cannot happen by accident.
type CreateRuleRequest struct {
	Name        string      `json:"name" binding:"required"`
	Field       string      `json:"field"`
	Operator    string      `json:"operator"`
	Value       interface{} `json:"value"`
	Expression  string      `json:"expression"`
	Destination string      `json:"destination" binding:"required"`
	StopOnMatch bool        `json:"stop_on_match"`
	Position    int         `json:"position"`
	Enabled     *bool       `json:"enabled"`
	MatchAll    bool        `json:"match_all"`
}

// API exposes CRUD over stored routing rules plus an explicit reload trigger.
type API struct {
	repo      Repository
	service   *Service
	evaluator *cel.Evaluator
	log       logger.Logger
}

func NewAPI(repo Repository, service *Service, evaluator *cel.Evaluator, log logger.Logger) *API {
	if log == nil {
		log = logger.NopLogger()
	}
	return &API{
		repo:      repo,
		service:   service,
		evaluator: evaluator,
		log:       log,
	}
}

func (a *API) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		rules := v1.Group("/rules/routing")
		{
			rules.GET("", a.ListRules)
			rules.POST("", a.CreateRule)
			rules.GET("/:id", a.GetRule)
			rules.PUT("/:id", a.UpdateRule)
			rules.DELETE("/:id", a.DeleteRule)
		}
		v1.POST("/rules/reload", a.ReloadRules)
	}
}

func (a *API) handleError(c *gin.Context, err error) {
	a.log.ErrorwCtx(c.Request.Context(), "request error",
		"error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (a *API) ListRules(c *gin.Context) {
	stored, err := a.repo.List(c.Request.Context())
	if err != nil {
		a.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (a *API) GetRule(c *gin.Context) {
	rule, err := a.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (a *API) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := a.buildRule(&req)
	if err != nil {
		a.handleError(c, err)
		return
	}

	if err := a.repo.Create(c.Request.Context(), rule); err != nil {
		a.handleError(c, err)
		return
	}

	a.reloadAfterWrite(c)
	c.JSON(http.StatusCreated, rule)
}

func (a *API) UpdateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := a.buildRule(&req)
	if err != nil {
		a.handleError(c, err)
		return
	}
	rule.ID = c.Param("id")

	if err := a.repo.Update(c.Request.Context(), rule); err != nil {
		a.handleError(c, err)
		return
	}

	a.reloadAfterWrite(c)
	c.JSON(http.StatusOK, rule)
}

func (a *API) DeleteRule(c *gin.Context) {
	if err := a.repo.Delete(c.Request.Context(), c.Param("id")); err != nil {
		a.handleError(c, err)
		return
	}

	a.reloadAfterWrite(c)
	c.Status(http.StatusNoContent)
}

func (a *API) ReloadRules(c *gin.Context) {
	if a.service == nil {
		c.JSON(http.StatusOK, gin.H{"status": "no reload service configured"})
		return
	}
	if err := a.service.Reload(c.Request.Context(), true); err != nil {
		a.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "reloaded",
		"rules_count": len(a.service.RoutingConfig().Rules),
	})
}

func (a *API) buildRule(req *CreateRuleRequest) (*RoutingRule, error) {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule := &RoutingRule{
		Name:        req.Name,
		Field:       req.Field,
		Operator:    req.Operator,
		Value:       req.Value,
		Expression:  req.Expression,
		Destination: req.Destination,
		StopOnMatch: req.StopOnMatch,
		Position:    req.Position,
		Enabled:     enabled,
	}

	hasCondition := rule.Field != "" || rule.Operator != "" || rule.Expression != ""
	if !hasCondition && !req.MatchAll {
		return nil, errors.ErrValidation.
			WithDetail("message", "rule needs a condition or an explicit match_all flag")
	}

	if err := rule.Validate(); err != nil {
		return nil, errors.ErrValidation.WithCause(err).WithDetail("message", err.Error())
	}

	if rule.Expression != "" && a.evaluator != nil {
		if err := a.evaluator.ValidateMatchExpression(rule.Expression); err != nil {
			return nil, errors.ErrValidation.WithCause(err).WithDetail("message", err.Error())
		}
	}

	return rule, nil
}

// reloadAfterWrite refreshes the live snapshot so a successful write is
// visible without waiting for the next poll. Reload failures are logged, not
// surfaced: the write itself succeeded.
func (a *API) reloadAfterWrite(c *gin.Context) {
	if a.service == nil {
		return
	}
	if err := a.service.Reload(c.Request.Context(), true); err != nil {
		a.log.WarnwCtx(c.Request.Context(), "rules reload after write failed", "error", err)
	}
}
