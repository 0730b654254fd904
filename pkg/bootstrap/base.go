package bootstrap

import (
	"context"
	"fmt"

	"relay/internal/config"
	"relay/internal/logger"
	"relay/internal/transport"
)

// Base carries the pieces every service shares: configuration, logging and
// the outbound transport factory. Services embed it and layer their own
// state on top.
type Base struct {
	Config  *config.Config
	Logger  logger.Logger
	Factory transport.Factory

	transports []transport.Transport
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitTransport verifies broker connectivity once and installs a factory
// that hands out tracked clients, so Shutdown can close whatever delivery
// handlers created along the way.
func (b *Base) InitTransport() error {
	probe, err := transport.New(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}
	if err := probe.Close(); err != nil {
		b.Logger.Warnw("failed to close transport probe", "error", err)
	}

	b.Factory = func() (transport.Transport, error) {
		tr, err := transport.New(b.Config.Broker, b.Logger)
		if err != nil {
			return nil, err
		}
		b.transports = append(b.transports, tr)
		return tr, nil
	}
	return nil
}

func (b *Base) ShutdownTransports() []error {
	var errs []error
	for _, tr := range b.transports {
		if err := tr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("transport close error: %w", err))
		}
	}
	b.transports = nil
	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownTransports()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
