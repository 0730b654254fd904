package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/transport"
	"relay/pkg/models"
)

type sentRecord struct {
	destination string
	body        []byte
	headers     map[string]string
}

// fakeTransport pops one error per Send call from sendErrs, then succeeds.
type fakeTransport struct {
	sendErrs  []error
	ensureErr error
	sent      []sentRecord
	ensured   []string
}

func (f *fakeTransport) Send(_ context.Context, destination string, body []byte, headers map[string]string) (string, error) {
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	f.sent = append(f.sent, sentRecord{destination: destination, body: body, headers: headers})
	return "fake-id", nil
}

func (f *fakeTransport) EnsureExists(_ context.Context, destination string) error {
	f.ensured = append(f.ensured, destination)
	return f.ensureErr
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) Publish(ctx context.Context, destination, destinationType string, msg transport.BusMessage) (string, error) {
	return f.Send(ctx, destination, msg.Body, msg.Properties)
}

func (f *fakeTransport) EnsureExistsTyped(ctx context.Context, destination, _ string) error {
	return f.EnsureExists(ctx, destination)
}

func factoryFor(f *fakeTransport) transport.Factory {
	return func() (transport.Transport, error) { return f, nil }
}

func busFactoryFor(f *fakeTransport) BusFactory {
	return func() (BusTransport, error) { return f, nil }
}

func testMessage() *models.Message {
	msg := models.NewMessage("order.created", models.EntityRef{
		ID:            "ent-1",
		ExternalID:    "ext-1",
		CanonicalType: "order",
		Source:        "shop",
		TenantID:      "tenant-1",
		Version:       2,
	}, map[string]interface{}{"amount": 42.5})
	return msg
}

func TestEnvelopeWireShape(t *testing.T) {
	msg := testMessage()
	result := models.NewSuccessResult()
	result.EntitiesCreated = []string{"ent-1"}
	result.Processor = models.ProcessorInfo{Name: "order-processor", Version: "1.2.0"}

	env := NewEnvelope(msg, result, RoutingMetadata{
		SourceHandler:   HandlerNameQueue,
		TargetQueue:     "orders-out",
		DestinationType: transport.DestinationTypeQueue,
	})
	body, err := env.Marshal()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))

	meta := decoded["message_metadata"].(map[string]interface{})
	assert.Equal(t, msg.ID, meta["message_id"])
	assert.Equal(t, msg.CorrelationID, meta["correlation_id"])
	assert.Equal(t, "order.created", meta["message_type"])
	assert.Equal(t, float64(3), meta["max_retries"])

	entity := decoded["entity_reference"].(map[string]interface{})
	assert.Equal(t, "ext-1", entity["external_id"])
	assert.Equal(t, "tenant-1", entity["tenant_id"])
	assert.Equal(t, float64(2), entity["version"])

	payload := decoded["payload"].(map[string]interface{})
	assert.Equal(t, 42.5, payload["amount"])

	pr := decoded["processing_result"].(map[string]interface{})
	assert.Equal(t, "success", pr["status"])
	assert.Equal(t, true, pr["success"])
	assert.Equal(t, "order-processor", pr["processor_info"].(map[string]interface{})["name"])

	routing := decoded["routing_metadata"].(map[string]interface{})
	assert.Equal(t, "queue", routing["source_handler"])
	assert.Equal(t, "orders-out", routing["target_queue"])
	assert.Equal(t, "queue", routing["destination_type"])
	_, hasBusTarget := routing["target_destination"]
	assert.False(t, hasBusTarget)
}

func TestQueueHandlerSuccess(t *testing.T) {
	ft := &fakeTransport{}
	h := NewQueueHandler("orders-out", nil, factoryFor(ft), nil)

	res, err := h.Handle(context.Background(), testMessage(), models.NewSuccessResult())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.HandlerStatusSuccess, res.Status)
	assert.Equal(t, "fake-id", res.Metadata["transport_message_id"])
	require.Len(t, ft.sent, 1)
	assert.Equal(t, "orders-out", ft.sent[0].destination)
}

func TestQueueHandlerMissingQueueWithoutAutoCreate(t *testing.T) {
	ft := &fakeTransport{sendErrs: []error{transport.ErrDestinationNotFound}}
	h := NewQueueHandler("orders-out", nil, factoryFor(ft), nil)

	res, err := h.Handle(context.Background(), testMessage(), models.NewSuccessResult())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.HandlerStatusFailed, res.Status)
	assert.Equal(t, "QUEUE_NOT_FOUND", res.ErrorCode)
	assert.False(t, res.CanRetry)
	assert.Empty(t, ft.ensured)
}

func TestQueueHandlerAutoCreateThenRetry(t *testing.T) {
	ft := &fakeTransport{sendErrs: []error{transport.ErrDestinationNotFound}}
	h := NewQueueHandler("orders-out", map[string]interface{}{"auto_create": true}, factoryFor(ft), nil)

	res, err := h.Handle(context.Background(), testMessage(), models.NewSuccessResult())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"orders-out"}, ft.ensured)
	require.Len(t, ft.sent, 1)
}

func TestQueueHandlerSendFailureIsRetryable(t *testing.T) {
	ft := &fakeTransport{sendErrs: []error{errors.New("broker hiccup")}}
	h := NewQueueHandler("orders-out", nil, factoryFor(ft), nil)

	res, err := h.Handle(context.Background(), testMessage(), models.NewSuccessResult())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.HandlerStatusRetryableError, res.Status)
	assert.Equal(t, "QUEUE_SEND_FAILED", res.ErrorCode)
	assert.True(t, res.CanRetry)
	assert.Equal(t, 2, res.RetryAfter)
}

func TestQueueHandlerClientCreationFailure(t *testing.T) {
	h := NewQueueHandler("orders-out", nil, func() (transport.Transport, error) {
		return nil, errors.New("no brokers configured")
	}, nil)

	res, err := h.Handle(context.Background(), testMessage(), models.NewSuccessResult())
	require.NoError(t, err)
	assert.Equal(t, "QUEUE_CLIENT_CREATION_FAILED", res.ErrorCode)
	assert.False(t, res.CanRetry)
}

func TestQueueHandlerValidateConfiguration(t *testing.T) {
	ft := &fakeTransport{}
	cases := []struct {
		name        string
		destination string
		valid       bool
	}{
		{"simple", "orders", true},
		{"with dashes", "orders-out-v2", true},
		{"single char", "q", true},
		{"empty", "", false},
		{"uppercase", "Orders", false},
		{"leading dash", "-orders", false},
		{"trailing dash", "orders-", false},
		{"underscore", "orders_out", false},
		{"too long", strings.Repeat("a", 250), false},
		{"at limit", strings.Repeat("a", 249), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewQueueHandler(tc.destination, nil, factoryFor(ft), nil)
			assert.Equal(t, tc.valid, h.ValidateConfiguration())
		})
	}

	h := NewQueueHandler("orders", nil, nil, nil)
	assert.False(t, h.ValidateConfiguration(), "nil factory must fail validation")
}

func TestBusHandlerServiceUnavailableBacksOffHarder(t *testing.T) {
	ft := &fakeTransport{sendErrs: []error{transport.ErrServiceUnavailable}}
	h := NewBusHandler("billing/invoices", nil, busFactoryFor(ft), nil)

	res, err := h.Handle(context.Background(), testMessage(), models.NewSuccessResult())
	require.NoError(t, err)
	assert.Equal(t, "BUS_SERVICE_ERROR", res.ErrorCode)
	assert.True(t, res.CanRetry)
	assert.GreaterOrEqual(t, res.RetryAfter, 5)
	assert.LessOrEqual(t, res.RetryAfter, 6)
}

func TestBusHandlerSendFailure(t *testing.T) {
	ft := &fakeTransport{sendErrs: []error{errors.New("channel closed")}}
	h := NewBusHandler("billing/invoices", nil, busFactoryFor(ft), nil)

	res, err := h.Handle(context.Background(), testMessage(), models.NewSuccessResult())
	require.NoError(t, err)
	assert.Equal(t, "BUS_SEND_FAILED", res.ErrorCode)
	assert.True(t, res.CanRetry)
	assert.Equal(t, 2, res.RetryAfter)
}

func TestBusHandlerMissingDestination(t *testing.T) {
	ft := &fakeTransport{sendErrs: []error{transport.ErrDestinationNotFound}}
	h := NewBusHandler("billing/invoices", nil, busFactoryFor(ft), nil)

	res, err := h.Handle(context.Background(), testMessage(), models.NewSuccessResult())
	require.NoError(t, err)
	assert.Equal(t, "BUS_DESTINATION_NOT_FOUND", res.ErrorCode)
	assert.False(t, res.CanRetry)
}

func TestBusHandlerEnvelopeUsesTargetDestination(t *testing.T) {
	ft := &fakeTransport{}
	h := NewBusHandler("billing/invoices", map[string]interface{}{
		"destination_type": "topic",
		"session_id":       "tenant-1",
	}, busFactoryFor(ft), nil)

	res, err := h.Handle(context.Background(), testMessage(), models.NewSuccessResult())
	require.NoError(t, err)
	require.True(t, res.Success)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(ft.sent[0].body, &decoded))
	routing := decoded["routing_metadata"].(map[string]interface{})
	assert.Equal(t, "billing/invoices", routing["target_destination"])
	assert.Equal(t, "topic", routing["destination_type"])
	_, hasQueueTarget := routing["target_queue"]
	assert.False(t, hasQueueTarget)
}

func TestBusHandlerValidateConfiguration(t *testing.T) {
	ft := &fakeTransport{}
	cases := []struct {
		name        string
		destination string
		valid       bool
	}{
		{"flat", "invoices", true},
		{"path", "billing/invoices/v2", true},
		{"dots and underscores", "billing.invoices_v2", true},
		{"empty", "", false},
		{"leading slash", "/invoices", false},
		{"trailing slash", "invoices/", false},
		{"doubled slash", "billing//invoices", false},
		{"illegal char", "billing invoices", false},
		{"too long", strings.Repeat("a", 261), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewBusHandler(tc.destination, nil, busFactoryFor(ft), nil)
			assert.Equal(t, tc.valid, h.ValidateConfiguration())
		})
	}

	h := NewBusHandler("invoices", map[string]interface{}{"destination_type": "stream"}, busFactoryFor(ft), nil)
	assert.False(t, h.ValidateConfiguration(), "unknown destination type must fail validation")
}

func TestNoOpHandler(t *testing.T) {
	h := NewNoOpHandler("message filtered out", map[string]interface{}{"rule": "drop-test-tenants"}, nil)

	res, err := h.Handle(context.Background(), testMessage(), models.NewSuccessResult())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.HandlerStatusSuccess, res.Status)
	assert.Equal(t, "message filtered out", res.Metadata["reason"])
	assert.Equal(t, "drop-test-tenants", res.Metadata["rule"])
	assert.False(t, h.SupportsRetry())
	assert.True(t, h.ValidateConfiguration())
}

func TestDeliveryErrorRetryDelay(t *testing.T) {
	err := NewDeliveryError("boom").AsRetryable(2)

	// attempt 0 with a 2s base always lands on exactly 2 after clamping and
	// truncation
	assert.Equal(t, 2, err.CalculateRetryDelay(0, 0))

	// later attempts grow but never fall below the base
	for attempt := 1; attempt <= 5; attempt++ {
		assert.GreaterOrEqual(t, err.CalculateRetryDelay(attempt, 0), 2)
	}

	// an explicit base override wins over the error's own hint
	overridden := NewDeliveryError("boom").AsRetryable(2).CalculateRetryDelay(0, 10*time.Second)
	assert.GreaterOrEqual(t, overridden, 10)
	assert.LessOrEqual(t, overridden, 12)
}
