package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/discovery"
)

// ServiceRegistration wraps a Registrar registration plus the background
// health-check ticker keeping it alive, mirroring the teacher's
// gateway/registry.go shape.
type ServiceRegistration struct {
	registrar   discovery.Registrar
	instanceID  string
	serviceName string
	stopChan    chan struct{}
}

// RegisterService registers instanceID/serviceName at addr and starts a
// ticker refreshing the Consul TTL check until Deregister is called.
func RegisterService(ctx context.Context, registrar discovery.Registrar, instanceID, serviceName, addr string, logger *slog.Logger) (*ServiceRegistration, error) {
	if err := registrar.Register(ctx, instanceID, serviceName, addr); err != nil {
		return nil, err
	}

	sr := &ServiceRegistration{
		registrar:   registrar,
		instanceID:  instanceID,
		serviceName: serviceName,
		stopChan:    make(chan struct{}),
	}
	go sr.startHealthCheck(logger)
	return sr, nil
}

func (sr *ServiceRegistration) startHealthCheck(logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sr.stopChan:
			return
		case <-ticker.C:
			if err := sr.registrar.HealthCheck(sr.instanceID, sr.serviceName); err != nil && logger != nil {
				logger.Warn("health check failed", slog.Any("error", err))
			}
		}
	}
}

// Deregister stops the health-check ticker and removes the registration.
func (sr *ServiceRegistration) Deregister(ctx context.Context) error {
	close(sr.stopChan)
	return sr.registrar.Deregister(ctx, sr.instanceID, sr.serviceName)
}
