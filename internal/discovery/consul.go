package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	consul "github.com/hashicorp/consul/api"
)

// ConsulRegistrar registers the plant instance with a Consul agent: a
// service entry plus a TTL health check the caller refreshes via
// HealthCheck, the same shape the teacher's discovery/consul.Registry uses.
type ConsulRegistrar struct {
	client *consul.Client
}

// NewConsulRegistrar dials a Consul agent at addr.
func NewConsulRegistrar(addr string) (*ConsulRegistrar, error) {
	config := consul.DefaultConfig()
	config.Address = addr

	client, err := consul.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("discovery: new consul client: %w", err)
	}
	return &ConsulRegistrar{client: client}, nil
}

func (r *ConsulRegistrar) Register(ctx context.Context, instanceID, serviceName, hostPort string) error {
	host, portStr, ok := strings.Cut(hostPort, ":")
	if !ok {
		return fmt.Errorf("discovery: invalid hostPort %q", hostPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("discovery: invalid port in %q: %w", hostPort, err)
	}

	return r.client.Agent().ServiceRegister(&consul.AgentServiceRegistration{
		ID:      instanceID,
		Name:    serviceName,
		Address: host,
		Port:    port,
		Check: &consul.AgentServiceCheck{
			CheckID:                        instanceID,
			TTL:                            "15s",
			DeregisterCriticalServiceAfter: "1m",
		},
	})
}

func (r *ConsulRegistrar) Deregister(ctx context.Context, instanceID, serviceName string) error {
	return r.client.Agent().ServiceDeregister(instanceID)
}

func (r *ConsulRegistrar) HealthCheck(instanceID, serviceName string) error {
	return r.client.Agent().UpdateTTL(instanceID, "plant is processing", consul.HealthPassing)
}

var _ Registrar = (*ConsulRegistrar)(nil)
