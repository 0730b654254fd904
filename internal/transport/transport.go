package transport

import (
	"context"
	"errors"
)

// Classification sentinels. Implementations wrap the underlying client error
// with one of these so the delivery layer can classify without knowing the
// concrete transport.
var (
	ErrDestinationNotFound = errors.New("destination not found")
	ErrServiceUnavailable  = errors.New("transport service unavailable")
)

// Transport is a producer-side connection to a message broker. Send publishes
// body to the named destination and returns the transport-assigned message
// id. Implementations are destination- and payload-agnostic.
type Transport interface {
	Send(ctx context.Context, destination string, body []byte, headers map[string]string) (string, error)
	EnsureExists(ctx context.Context, destination string) error
	Close() error
}

// Factory defers transport construction so delivery handlers can create and
// cache a client lazily on first use.
type Factory func() (Transport, error)
