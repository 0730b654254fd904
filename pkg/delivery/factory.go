package delivery

import (
	"relay/internal/logger"
	"relay/internal/transport"
	"relay/pkg/models"
)

// HandlerFactory creates an output handler for a routing destination. The
// router only knows destination names; the factory decides which transport
// backs them.
type HandlerFactory interface {
	ForDestination(destination string) models.OutputHandler
}

// QueueHandlerFactory creates queue-backed handlers sharing one transport
// factory and one destination-independent config.
type QueueHandlerFactory struct {
	transportFactory transport.Factory
	config           map[string]interface{}
	log              logger.Logger
}

func NewQueueHandlerFactory(tf transport.Factory, config map[string]interface{}, log logger.Logger) *QueueHandlerFactory {
	return &QueueHandlerFactory{
		transportFactory: tf,
		config:           config,
		log:              log,
	}
}

func (f *QueueHandlerFactory) ForDestination(destination string) models.OutputHandler {
	return NewQueueHandler(destination, f.config, f.transportFactory, f.log)
}

// BusHandlerFactory creates bus-backed handlers sharing one bus factory.
type BusHandlerFactory struct {
	busFactory BusFactory
	config     map[string]interface{}
	log        logger.Logger
}

func NewBusHandlerFactory(bf BusFactory, config map[string]interface{}, log logger.Logger) *BusHandlerFactory {
	return &BusHandlerFactory{
		busFactory: bf,
		config:     config,
		log:        log,
	}
}

func (f *BusHandlerFactory) ForDestination(destination string) models.OutputHandler {
	return NewBusHandler(destination, f.config, f.busFactory, f.log)
}
