// Package updater implements the DataUpdater actor of spec.md §4.2: one
// instance per {realm, device_id}, driving the critical data-handling path,
// introspection diffing, property pruning and volatile triggers.
package updater

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/queries"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/telemetry"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/tracker"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/triggers"
)

// DeviceTriggersLifespan is spec.md §4.2.1's DEVICE_TRIGGERS_LIFESPAN: the
// refresh period for the device-level and any-device compiled triggers.
const DeviceTriggersLifespan = 10 * time.Minute

// VMQPlugin is the downstream broker-publish/disconnect RPC spec.md treats
// as an external collaborator (§1 "Out of scope"): publishing a value
// straight to a device's own MQTT topic and force-disconnecting it to
// trigger a clean session. Only the signature is in scope here — the
// plugin's own wire protocol is not reproduced.
type VMQPlugin interface {
	Publish(ctx context.Context, topic string, payload []byte, qos int) error
	Disconnect(ctx context.Context, client string, clean bool) error
}

// Actor holds one device's entire in-memory state: the message tracker
// gating ordered processing, the bounded interface/path caches, the
// compiled trigger table and the realm-scoped collaborators it calls into.
type Actor struct {
	Key model.Key

	mu sync.Mutex

	connected          bool
	lastSeenMessage    time.Time
	totalReceivedMsgs  int64
	totalReceivedBytes int64
	pendingEmptyCache  bool
	volatileTriggers   []model.VolatileTrigger
	lastTriggerRefresh time.Time

	interfaces *interfaceCache
	paths      *pathsCache
	dispatch   *triggers.DispatchTable

	tracker  *tracker.Tracker
	store    *queries.Store
	ifaceDB  *queries.InterfaceCache // may be nil: Redis is an optional front for Store
	handler  *triggers.Handler
	vmq      VMQPlugin
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	realmTTL int // realm's datastream_maximum_storage_retention, in seconds; 0 means no expiry
}

// NewActor constructs a device actor and registers it as its tracker's data
// updater caller. done should close when the actor's goroutine exits, so
// the tracker can run crash-recovery requeue.
func NewActor(key model.Key, store *queries.Store, ifaceDB *queries.InterfaceCache, handler *triggers.Handler, vmq VMQPlugin, acknowledger tracker.Acknowledger, metrics *telemetry.Metrics, logger *slog.Logger, realmTTLSeconds int, done <-chan struct{}) *Actor {
	a := &Actor{
		Key:        key,
		interfaces: newInterfaceCache(),
		paths:      newPathsCache(),
		dispatch:   triggers.NewDispatchTable(),
		tracker:    tracker.New(acknowledger, logger),
		store:      store,
		ifaceDB:    ifaceDB,
		handler:    handler,
		vmq:        vmq,
		logger:     logger,
		metrics:    metrics,
		realmTTL:   realmTTLSeconds,
	}
	<-a.tracker.RegisterDataUpdater(done)
	if metrics != nil {
		metrics.ActiveDeviceActors.Inc()
	}
	return a
}

// Tracker exposes the actor's MessageTracker so the owning AMQPDataConsumer
// worker can call TrackDelivery for this device's deliveries.
func (a *Actor) Tracker() *tracker.Tracker { return a.tracker }

// runTimeBasedActions is step (1) of spec.md §4.2: expire stale interface
// cache entries and, every DeviceTriggersLifespan, refresh the device-level
// and any-device compiled triggers from the DB. Called at the top of every
// message handled.
func (a *Actor) runTimeBasedActions(ctx context.Context, now time.Time) {
	a.mu.Lock()
	ids := make(map[string][16]byte)
	for _, e := range a.interfaces.byExpiry {
		if e.expiresAt.After(now) {
			break
		}
		if row, ok := a.interfaces.byName[e.name]; ok {
			ids[e.name] = row.InterfaceID
		}
	}
	expired := a.interfaces.expireStale(now)
	needsRefresh := now.Sub(a.lastTriggerRefresh) >= DeviceTriggersLifespan
	a.mu.Unlock()

	for _, name := range expired {
		a.dispatch.ForgetInterface(ids[name])
	}

	if !needsRefresh {
		return
	}
	a.refreshDeviceTriggers(ctx)

	a.mu.Lock()
	a.lastTriggerRefresh = now
	a.mu.Unlock()
}

func interfaceIDOf(a *Actor, name string) [16]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if row, ok := a.interfaces.get(name); ok {
		return row.InterfaceID
	}
	return [16]byte{}
}

func (a *Actor) refreshDeviceTriggers(ctx context.Context) {
	deviceRows, err := a.store.ListSimpleTriggers(ctx, a.Key.DeviceID, queries.ObjectDevice)
	if err != nil {
		a.logError(err, "refresh device triggers")
		return
	}
	anyDeviceRows, err := a.store.ListSimpleTriggers(ctx, [16]byte{}, queries.ObjectAnyDevice)
	if err != nil {
		a.logError(err, "refresh any-device triggers")
		return
	}
	for _, row := range append(deviceRows, anyDeviceRows...) {
		if dt, ok := decodeDeviceTrigger(row); ok {
			a.dispatch.InstallDeviceTrigger(dt)
		}
	}
}

func (a *Actor) logError(err error, where string) {
	if a.logger != nil {
		a.logger.Error(where, slog.String("realm", a.Key.Realm), slog.String("device_id", a.Key.DeviceID.String()), slog.Any("error", err))
	}
}

// Registry tracks the live actors of one plant process, keyed by
// {realm, device_id} — the in-process analogue of the teacher's service
// discovery registry, scoped to a single instance's in-memory device set.
type Registry struct {
	mu     sync.Mutex
	actors map[model.Key]*Actor
}

// NewRegistry creates an empty actor registry.
func NewRegistry() *Registry {
	return &Registry{actors: make(map[model.Key]*Actor)}
}

// GetOrCreate returns the live actor for key, constructing one via factory
// on first contact.
func (r *Registry) GetOrCreate(key model.Key, factory func() *Actor) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actors[key]; ok {
		return a
	}
	a := factory()
	r.actors[key] = a
	return a
}

// Remove drops an actor from the registry, e.g. after its tracker crashes
// permanently or the device is decommissioned.
func (r *Registry) Remove(key model.Key, metrics *telemetry.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actors[key]; ok {
		delete(r.actors, key)
		if metrics != nil {
			metrics.ActiveDeviceActors.Dec()
		}
	}
}

// parseRemoteIP parses an x_astarte_remote_ip header, falling back to
// 0.0.0.0 on failure — spec.md §4.2.2's handle_connection fallback.
func parseRemoteIP(s string) net.IP {
	if ip := net.ParseIP(s); ip != nil {
		return ip
	}
	return net.IPv4zero
}
