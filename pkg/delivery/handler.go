package delivery

import (
	"sort"
	"time"

	"relay/internal/logger"
	"relay/pkg/models"
)

// baseHandler holds the state every concrete output handler shares.
type baseHandler struct {
	name        string
	destination string
	config      map[string]interface{}
	log         logger.Logger
}

func newBaseHandler(name, destination string, config map[string]interface{}, log logger.Logger) baseHandler {
	if log == nil {
		log = logger.NopLogger()
	}
	return baseHandler{
		name:        name,
		destination: destination,
		config:      config,
		log:         log,
	}
}

func (b *baseHandler) handlerInfo(supportsRetry bool) models.HandlerInfo {
	return models.HandlerInfo{
		Name:          b.name,
		Destination:   b.destination,
		ConfigKeys:    b.configKeys(),
		SupportsRetry: supportsRetry,
	}
}

func (b *baseHandler) configKeys() []string {
	if len(b.config) == 0 {
		return nil
	}
	keys := make([]string, 0, len(b.config))
	for k := range b.config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *baseHandler) configString(key string) string {
	if v, ok := b.config[key].(string); ok {
		return v
	}
	return ""
}

func (b *baseHandler) configBool(key string) bool {
	if v, ok := b.config[key].(bool); ok {
		return v
	}
	return false
}

func (b *baseHandler) configInt(key string) int {
	switch v := b.config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (b *baseHandler) configMap(key string) map[string]interface{} {
	if v, ok := b.config[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// finalize stamps duration on a completed handler result.
func finalize(res *models.OutputHandlerResult, start time.Time) *models.OutputHandlerResult {
	res.Duration = time.Since(start)
	return res
}
