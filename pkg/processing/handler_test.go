package processing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/config"
	"relay/internal/transport"
	"relay/pkg/models"
)

type fakeProcessor struct {
	Base
	validate  bool
	result    *models.ProcessingResult
	err       error
	panicWith interface{}
	retryable bool
	calls     int
}

func (p *fakeProcessor) ValidateMessage(_ context.Context, _ *models.Message) bool {
	return p.validate
}

func (p *fakeProcessor) Process(_ context.Context, _ *models.Message, _ *Services) (*models.ProcessingResult, error) {
	p.calls++
	if p.panicWith != nil {
		panic(p.panicWith)
	}
	return p.result, p.err
}

func (p *fakeProcessor) CanRetry(_ error) bool {
	return p.retryable
}

type recordedSend struct {
	destination string
	body        []byte
}

type fakeTransport struct {
	sends []recordedSend
	err   error
}

func (f *fakeTransport) Send(_ context.Context, destination string, body []byte, _ map[string]string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sends = append(f.sends, recordedSend{destination: destination, body: body})
	return "sent", nil
}

func (f *fakeTransport) EnsureExists(_ context.Context, _ string) error { return nil }
func (f *fakeTransport) Close() error                                   { return nil }

type fakeOutputHandler struct {
	name        string
	valid       bool
	result      *models.OutputHandlerResult
	err         error
	invocations int
}

func (f *fakeOutputHandler) Handle(_ context.Context, _ *models.Message, _ *models.ProcessingResult) (*models.OutputHandlerResult, error) {
	f.invocations++
	return f.result, f.err
}

func (f *fakeOutputHandler) ValidateConfiguration() bool { return f.valid }
func (f *fakeOutputHandler) SupportsRetry() bool         { return false }
func (f *fakeOutputHandler) HandlerInfo() models.HandlerInfo {
	return models.HandlerInfo{Name: f.name, Destination: "dest-" + f.name}
}

func newHandler(p Processor, ft *fakeTransport, cfg config.ProcessingConfig) *Handler {
	var factory transport.Factory
	if ft != nil {
		factory = func() (transport.Transport, error) { return ft, nil }
	}
	return NewHandler(p, nil, cfg, factory, nil)
}

func validMessage() *models.Message {
	return models.NewMessage("order.created", models.EntityRef{
		ExternalID: "ext-42",
		TenantID:   "tenant-1",
	}, map[string]interface{}{"amount": 10.0})
}

func TestExecuteMissingTenant(t *testing.T) {
	p := &fakeProcessor{validate: true, result: models.NewSuccessResult()}
	ft := &fakeTransport{}
	h := newHandler(p, ft, config.ProcessingConfig{DeadLetterDestination: "dead-letter"})

	msg := validMessage()
	msg.Entity.TenantID = ""

	result, err := h.Execute(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, "MISSING_TENANT_ID", result.ErrorCode)
	assert.False(t, result.CanRetry)
	assert.Zero(t, p.calls, "business logic must not run without a tenant")
	assert.Empty(t, ft.sends, "configuration errors are not dead lettered")
}

func TestExecuteValidationFailure(t *testing.T) {
	p := &fakeProcessor{validate: false}
	ft := &fakeTransport{}
	h := newHandler(p, ft, config.ProcessingConfig{DeadLetterDestination: "dead-letter"})

	result, err := h.Execute(context.Background(), validMessage())
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, "INVALID_MESSAGE", result.ErrorCode)
	assert.Empty(t, result.OutputMessages)
	assert.Zero(t, p.calls, "validation failure must short-circuit business logic")
	assert.Empty(t, ft.sends)
}

func TestExecuteNonRetryableFailureIsDeadLettered(t *testing.T) {
	p := &fakeProcessor{validate: true, err: errors.New("unmapped product code")}
	ft := &fakeTransport{}
	h := newHandler(p, ft, config.ProcessingConfig{DeadLetterDestination: "dead-letter"})

	msg := validMessage()
	result, err := h.Execute(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeadLettered, result.Status)
	assert.Equal(t, "UNEXPECTED_ERROR", result.ErrorCode)

	require.Len(t, ft.sends, 1, "exactly one dead letter envelope")
	assert.Equal(t, "dead-letter", ft.sends[0].destination)

	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(ft.sends[0].body, &env))
	original := env["original_message"].(map[string]interface{})
	assert.Equal(t, msg.ID, original["message_id"])
	assert.Equal(t, "ext-42", original["external_id"])
	failure := env["failure_info"].(map[string]interface{})
	assert.Equal(t, "UNEXPECTED_ERROR", failure["error_code"])
	assert.Equal(t, "unmapped product code", failure["error_message"])
}

func TestExecuteRetryableFailureIsNotDeadLettered(t *testing.T) {
	p := &fakeProcessor{validate: true, err: errors.New("store timeout"), retryable: true}
	ft := &fakeTransport{}
	h := newHandler(p, ft, config.ProcessingConfig{DeadLetterDestination: "dead-letter"})

	result, err := h.Execute(context.Background(), validMessage())
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.True(t, result.CanRetry)
	assert.Empty(t, ft.sends)
}

func TestExecutePanicIsClassified(t *testing.T) {
	p := &fakeProcessor{validate: true, panicWith: "nil map write"}
	ft := &fakeTransport{}
	h := newHandler(p, ft, config.ProcessingConfig{DeadLetterDestination: "dead-letter"})

	result, err := h.Execute(context.Background(), validMessage())
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeadLettered, result.Status)
	assert.Equal(t, "UNEXPECTED_ERROR", result.ErrorCode)
	require.Len(t, ft.sends, 1)
}

func TestExecuteRunsAllOutputHandlers(t *testing.T) {
	first := &fakeOutputHandler{name: "first", valid: true,
		result: models.NewHandlerSuccess("first", "dest-first")}
	failing := &fakeOutputHandler{name: "failing", valid: true,
		result: models.NewHandlerFailure("failing", "dest-failing", "QUEUE_SEND_FAILED", "boom", true, 2)}
	last := &fakeOutputHandler{name: "last", valid: true,
		result: models.NewHandlerSuccess("last", "dest-last")}

	processResult := models.NewSuccessResult()
	processResult.AttachHandler(first)
	processResult.AttachHandler(failing)
	processResult.AttachHandler(last)

	p := &fakeProcessor{validate: true, result: processResult}
	h := newHandler(p, &fakeTransport{}, config.ProcessingConfig{})

	msg := validMessage()
	result, err := h.Execute(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, result.Status,
		"delivery failures do not change the processing outcome")
	assert.Equal(t, 1, first.invocations)
	assert.Equal(t, 1, failing.invocations)
	assert.Equal(t, 1, last.invocations, "a failed handler must not abort the rest")
	assert.NotNil(t, msg.ProcessedAt)

	tally := result.Metadata["output_handlers"].(map[string]interface{})
	assert.Equal(t, 3, tally["total"])
	assert.Equal(t, 2, tally["succeeded"])
	assert.Equal(t, 1, tally["failed"])
}

func TestExecuteStrictDeliveryDowngradesToPartial(t *testing.T) {
	failing := &fakeOutputHandler{name: "failing", valid: true,
		result: models.NewHandlerFailure("failing", "dest-failing", "QUEUE_SEND_FAILED", "boom", true, 2)}

	processResult := models.NewSuccessResult()
	processResult.AttachHandler(failing)

	p := &fakeProcessor{validate: true, result: processResult}
	h := newHandler(p, &fakeTransport{}, config.ProcessingConfig{StrictDelivery: true})

	result, err := h.Execute(context.Background(), validMessage())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, result.Status)
}

func TestExecuteInvalidHandlerConfiguration(t *testing.T) {
	invalid := &fakeOutputHandler{name: "invalid", valid: false}
	healthy := &fakeOutputHandler{name: "healthy", valid: true,
		result: models.NewHandlerSuccess("healthy", "dest-healthy")}

	processResult := models.NewSuccessResult()
	processResult.AttachHandler(invalid)
	processResult.AttachHandler(healthy)

	p := &fakeProcessor{validate: true, result: processResult}
	h := newHandler(p, &fakeTransport{}, config.ProcessingConfig{})

	result, err := h.Execute(context.Background(), validMessage())
	require.NoError(t, err)

	assert.Zero(t, invalid.invocations, "invalid configuration must not reach Handle")
	assert.Equal(t, 1, healthy.invocations)

	tally := result.Metadata["output_handlers"].(map[string]interface{})
	results := tally["results"].([]*models.OutputHandlerResult)
	require.Len(t, results, 2)
	assert.Equal(t, "INVALID_CONFIGURATION", results[0].ErrorCode)
	assert.False(t, results[0].CanRetry)
}

func TestExecuteEmitsOutputMessages(t *testing.T) {
	processResult := models.NewSuccessResult()
	processResult.AddOutputMessage(models.NewMessage("order.enriched", models.EntityRef{TenantID: "tenant-1"}, nil))
	processResult.AddOutputMessage(models.NewMessage("order.enriched", models.EntityRef{TenantID: "tenant-1"}, nil))

	p := &fakeProcessor{validate: true, result: processResult}
	ft := &fakeTransport{}
	h := newHandler(p, ft, config.ProcessingConfig{OutputDestination: "outbound"})

	result, err := h.Execute(context.Background(), validMessage())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Metadata["output_messages_emitted"])
	require.Len(t, ft.sends, 2)
	assert.Equal(t, "outbound", ft.sends[0].destination)
}

func TestExecuteNilResultFromProcessor(t *testing.T) {
	p := &fakeProcessor{validate: true}
	h := newHandler(p, &fakeTransport{}, config.ProcessingConfig{})

	result, err := h.Execute(context.Background(), validMessage())
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.True(t, result.Success)
}
