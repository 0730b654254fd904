package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/config"
	"relay/pkg/routing"
)

type fakeRepository struct {
	rules []RoutingRule
	err   error
}

func (f *fakeRepository) GetActiveRules(_ context.Context) ([]RoutingRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	var active []RoutingRule
	for _, r := range f.rules {
		if r.Enabled {
			active = append(active, r)
		}
	}
	return active, nil
}

func (f *fakeRepository) List(_ context.Context) ([]RoutingRule, error) {
	return f.rules, f.err
}

func (f *fakeRepository) Get(_ context.Context, id string) (*RoutingRule, error) {
	for i := range f.rules {
		if f.rules[i].ID == id {
			return &f.rules[i], nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeRepository) Create(_ context.Context, rule *RoutingRule) error {
	if f.err != nil {
		return f.err
	}
	f.rules = append(f.rules, *rule)
	return nil
}

func (f *fakeRepository) Update(_ context.Context, _ *RoutingRule) error { return f.err }
func (f *fakeRepository) Delete(_ context.Context, _ string) error       { return f.err }

func TestServiceReloadSwapsSnapshot(t *testing.T) {
	repo := &fakeRepository{rules: []RoutingRule{
		{ID: "1", Name: "orders", Field: "type", Operator: routing.OpEqual, Value: "order.created",
			Destination: "orders-out", Enabled: true, Position: 1},
		{ID: "2", Name: "disabled", Field: "type", Operator: routing.OpEqual, Value: "x",
			Destination: "never", Enabled: false, Position: 2},
	}}
	svc := NewService(repo, config.RoutingConfig{DefaultDestination: "catch-all"}, nil)

	// before the first reload only the static defaults are live
	assert.Empty(t, svc.RoutingConfig().Rules)
	assert.Equal(t, "catch-all", svc.RoutingConfig().DefaultDestination)

	require.NoError(t, svc.Reload(context.Background(), true))

	snapshot := svc.RoutingConfig()
	require.Len(t, snapshot.Rules, 1, "disabled rules stay out of the snapshot")
	assert.Equal(t, "orders", snapshot.Rules[0].Name)
	assert.Equal(t, "catch-all", snapshot.DefaultDestination)
}

func TestServiceReloadKeepsSnapshotOnError(t *testing.T) {
	repo := &fakeRepository{rules: []RoutingRule{
		{ID: "1", Name: "orders", Field: "type", Operator: routing.OpEqual, Value: "order.created",
			Destination: "orders-out", Enabled: true},
	}}
	svc := NewService(repo, config.RoutingConfig{}, nil)
	require.NoError(t, svc.Reload(context.Background(), true))

	repo.err = errors.New("connection refused")
	assert.Error(t, svc.Reload(context.Background(), true))
	assert.Len(t, svc.RoutingConfig().Rules, 1, "previous snapshot must stay live")
}

func TestServiceReloadDiscardsInvalidSnapshot(t *testing.T) {
	repo := &fakeRepository{rules: []RoutingRule{
		{ID: "1", Name: "broken", Field: "type", Operator: "between", Value: 1,
			Destination: "somewhere", Enabled: true},
	}}
	svc := NewService(repo, config.RoutingConfig{}, nil)

	assert.Error(t, svc.Reload(context.Background(), true))
	assert.Empty(t, svc.RoutingConfig().Rules)
}

func newTestAPI(repo Repository, svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewAPI(repo, svc, nil, nil).RegisterRoutes(router)
	return router
}

func TestAPICreateRule(t *testing.T) {
	repo := &fakeRepository{}
	router := newTestAPI(repo, nil)

	body, _ := json.Marshal(map[string]interface{}{
		"name":        "large-orders",
		"field":       "payload.amount",
		"operator":    ">",
		"value":       1000,
		"destination": "review-queue",
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules/routing", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, repo.rules, 1)
	assert.Equal(t, "large-orders", repo.rules[0].Name)
	assert.True(t, repo.rules[0].Enabled, "enabled defaults to true")
	assert.NotEmpty(t, repo.rules[0].ID)
}

func TestAPICreateRuleRejectsAccidentalMatchAll(t *testing.T) {
	router := newTestAPI(&fakeRepository{}, nil)

	body, _ := json.Marshal(map[string]interface{}{
		"name":        "oops",
		"destination": "firehose",
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules/routing", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPICreateRuleRejectsUnknownOperator(t *testing.T) {
	router := newTestAPI(&fakeRepository{}, nil)

	body, _ := json.Marshal(map[string]interface{}{
		"name":        "bad-op",
		"field":       "type",
		"operator":    "between",
		"value":       1,
		"destination": "q",
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules/routing", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPIReloadEndpoint(t *testing.T) {
	repo := &fakeRepository{rules: []RoutingRule{
		{ID: "1", Name: "orders", Field: "type", Operator: routing.OpEqual, Value: "order.created",
			Destination: "orders-out", Enabled: true},
	}}
	svc := NewService(repo, config.RoutingConfig{}, nil)
	router := newTestAPI(repo, svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules/reload", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, svc.RoutingConfig().Rules, 1)
}
