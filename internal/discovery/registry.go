// Package discovery registers this plant instance for operational
// visibility only: spec.md's Non-goals explicitly exclude horizontal
// sharding/placement of device actors, so nothing here is consulted to
// route work — it exists purely so operators can see which instances are
// alive and healthy.
package discovery

import "context"

// Registrar is the service-registry contract a plant instance uses to make
// itself visible and to report liveness.
type Registrar interface {
	Register(ctx context.Context, instanceID, serviceName, hostPort string) error
	Deregister(ctx context.Context, instanceID, serviceName string) error
	HealthCheck(instanceID, serviceName string) error
}
