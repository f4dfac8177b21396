package updater

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/payloads"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/queries"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/triggers"
)

// Table names for the three storage_type branches of spec.md §4.2.3 step
// 11; the actual table used is the interface's declared Storage column, but
// these are the well-known defaults the teacher-style schema creates when
// an interface doesn't override Storage.
const (
	defaultIndividualPropertiesTable = "individual_properties"
	defaultIndividualDatastreamTable = "individual_datastream"
	defaultObjectDatastreamTable     = "generic_object_datastream"
)

// HandleData runs the 13-step critical path of spec.md §4.2.3 for one
// incoming data message.
func (a *Actor) HandleData(ctx context.Context, interfaceName, path string, payload []byte, messageID model.MessageID, ts int64) error {
	a.runTimeBasedActions(ctx, time.Now())

	if !a.tracker.CanProcessMessage(ctx, messageID) {
		return nil
	}

	if err := a.handleDataInner(ctx, interfaceName, path, payload, ts); err != nil {
		a.logError(err, "handle data")
		_ = a.tracker.Discard(messageID)
		return err
	}

	msgBytes := int64(len(payload) + len(interfaceName) + len(path))
	a.mu.Lock()
	a.lastSeenMessage = time.Now()
	a.totalReceivedMsgs++
	a.totalReceivedBytes += msgBytes
	a.mu.Unlock()

	if err := a.tracker.AckDelivery(messageID); err != nil {
		a.logError(err, "ack data message")
	}
	if err := a.store.UpdateCounters(ctx, a.Key.DeviceID, 1, msgBytes); err != nil {
		a.logError(err, "update counters")
	}
	return nil
}

// step 1: path validation
func validatePath(path string) error {
	if strings.Contains(path, "//") {
		return model.Discard(model.ErrInvalidPath, fmt.Errorf("path %q contains an empty segment", path))
	}
	return nil
}

func (a *Actor) handleDataInner(ctx context.Context, interfaceName, path string, payload []byte, ts int64) error {
	if err := validatePath(path); err != nil {
		return err
	}

	row, err := a.resolveInterface(ctx, interfaceName)
	if err != nil {
		return err
	}

	if row.Ownership == model.OwnershipServer {
		a.requestCleanSession(ctx)
		return model.Discard(model.ErrCannotWriteOnServerOwnedInterface, fmt.Errorf("interface %s is server-owned", interfaceName))
	}

	resolved := row.Automaton.ResolvePath(path)
	if !resolved.Matched {
		return model.Discard(model.ErrMappingNotFound, fmt.Errorf("no endpoint matches path %q", path))
	}

	var endpointID [16]byte
	var mapping *model.Mapping
	if resolved.Guessed {
		depth := len(strings.Split(strings.Trim(path, "/"), "/"))
		for _, id := range resolved.GuessedIDs {
			for i := range row.Mappings {
				if row.Mappings[i].EndpointID == id && segmentDepth(row.Mappings[i].Endpoint) != depth+1 {
					return model.Discard(model.ErrGuessedEndpoints, fmt.Errorf("guessed endpoint depth mismatch for path %q", path))
				}
			}
		}
		endpointID = row.InterfaceID // object mapping's synthetic endpoint id
	} else {
		endpointID = resolved.EndpointID
		for i := range row.Mappings {
			if row.Mappings[i].EndpointID == endpointID {
				mapping = &row.Mappings[i]
				break
			}
		}
		if mapping == nil {
			return model.Discard(model.ErrMappingNotFound, fmt.Errorf("endpoint not found for path %q", path))
		}
	}

	decoded, err := payloads.DecodeValue(payload)
	if err != nil {
		return err
	}
	var value any
	if decoded != nil {
		value = decoded.Value
	}

	if err := a.checkValueShape(row, mapping, resolved.Guessed, value); err != nil {
		return err
	}

	a.emitIncomingData(ctx, row.InterfaceID, endpointID, interfaceName, path, payload)

	if resolved.Guessed {
		return a.handleObjectValue(ctx, row, path, value, ts)
	}
	return a.handleIndividualValue(ctx, row, mapping, endpointID, path, value, ts)
}

func segmentDepth(template string) int {
	return len(strings.Split(strings.Trim(template, "/"), "/"))
}

// step 2: interface resolution / cache miss
func (a *Actor) resolveInterface(ctx context.Context, interfaceName string) (*queries.InterfaceRow, error) {
	a.mu.Lock()
	row, cached := a.interfaces.get(interfaceName)
	a.mu.Unlock()
	if cached {
		if a.metrics != nil {
			a.metrics.InterfaceCacheHits.Inc()
		}
		return row, nil
	}
	if a.metrics != nil {
		a.metrics.InterfaceCacheMisses.Inc()
	}

	device, err := a.store.GetDevice(ctx, a.Key.DeviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, model.Fatal(model.ErrDatabaseError, fmt.Errorf("device %s not found", a.Key.DeviceID))
	}
	major, declared := device.Introspection[interfaceName]
	if !declared {
		return nil, model.Discard(model.ErrInterfaceLoadingFailed, fmt.Errorf("interface %s not in device introspection", interfaceName))
	}

	loaded, err := a.loadInterfaceRow(ctx, interfaceName, major)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	a.mu.Lock()
	a.interfaces.put(interfaceName, loaded, now)
	a.mu.Unlock()

	a.installInterfaceTriggers(ctx, loaded.InterfaceID)
	return loaded, nil
}

// loadInterfaceRow consults the Redis read-through cache first, falling
// through to the authoritative Store on a miss.
func (a *Actor) loadInterfaceRow(ctx context.Context, name string, major int) (*queries.InterfaceRow, error) {
	if a.ifaceDB != nil {
		if cached, err := a.ifaceDB.Get(ctx, name, major); err == nil && cached != nil {
			return cached, nil
		}
	}
	row, err := a.store.LoadInterface(ctx, name, major)
	if err != nil {
		return nil, err
	}
	if a.ifaceDB != nil {
		_ = a.ifaceDB.Set(ctx, row)
	}
	return row, nil
}

func (a *Actor) installInterfaceTriggers(ctx context.Context, interfaceID [16]byte) {
	rows, err := a.store.ListSimpleTriggers(ctx, interfaceID, queries.ObjectInterface)
	if err != nil {
		a.logError(err, "load interface triggers")
		return
	}
	for _, row := range rows {
		if dt, ok := decodeDataTrigger(row); ok {
			a.dispatch.InstallDataTrigger(dt)
		}
	}
}

// step 6: type check
func (a *Actor) checkValueShape(row *queries.InterfaceRow, mapping *model.Mapping, guessed bool, value any) error {
	if !guessed {
		return payloads.CheckValueType(value, mapping.ValueType)
	}
	if value == nil {
		return nil
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return model.Discard(model.ErrUnexpectedValueType, fmt.Errorf("object-aggregate value must be a map"))
	}
	lastSegments := make(map[string]*model.Mapping, len(row.Mappings))
	for i := range row.Mappings {
		segs := strings.Split(strings.Trim(row.Mappings[i].Endpoint, "/"), "/")
		lastSegments[segs[len(segs)-1]] = &row.Mappings[i]
	}
	for key, v := range obj {
		m, known := lastSegments[key]
		if !known {
			return model.Discard(model.ErrUnexpectedObjectKey, fmt.Errorf("unknown object key %q", key))
		}
		if err := payloads.CheckValueType(v, m.ValueType); err != nil {
			return err
		}
	}
	return nil
}

// step 7: incoming_data triggers at three precedence levels
func (a *Actor) emitIncomingData(ctx context.Context, interfaceID, endpointID [16]byte, interfaceName, path string, payload []byte) {
	all := a.dispatch.LookupDataTriggers(model.TriggerIncomingData, interfaceID, endpointID)
	targets := collectTargets(all)
	if len(targets) == 0 {
		return
	}
	a.publish(ctx, targets, triggers.EventIncomingData, triggers.IncomingDataPayload(interfaceName, path, payload))
}

func collectTargets(dts []*model.DataTrigger) []model.TriggerTarget {
	var out []model.TriggerTarget
	for _, dt := range dts {
		out = append(out, dt.Targets...)
	}
	return out
}

// publish dispatches a data-path event, which per spec.md §4.3 carries the
// firing trigger's id headers.
func (a *Actor) publish(ctx context.Context, targets []model.TriggerTarget, kind triggers.EventKind, payload []byte) {
	a.publishWithTriggerIDs(ctx, targets, kind, payload, true)
}

// publishLifecycle dispatches a device/introspection lifecycle event, which
// does not carry trigger-id headers.
func (a *Actor) publishLifecycle(ctx context.Context, targets []model.TriggerTarget, kind triggers.EventKind, payload []byte) {
	a.publishWithTriggerIDs(ctx, targets, kind, payload, false)
}

func (a *Actor) publishWithTriggerIDs(ctx context.Context, targets []model.TriggerTarget, kind triggers.EventKind, payload []byte, withTriggerIDs bool) {
	if len(targets) == 0 {
		return
	}
	err := a.handler.Dispatch(ctx, targets, a.Key.Realm, a.Key.DeviceID.String(), kind, triggers.NowMillis(), payload, withTriggerIDs)
	if err != nil {
		a.logError(err, "dispatch trigger")
	}
	if a.metrics != nil {
		a.metrics.TriggersDispatched.WithLabelValues(a.Key.Realm, kind.String()).Add(float64(len(targets)))
	}
}

// handleIndividualValue covers both individual-properties and
// individual-datastream storage types.
func (a *Actor) handleIndividualValue(ctx context.Context, row *queries.InterfaceRow, mapping *model.Mapping, endpointID [16]byte, path string, value any, ts int64) error {
	consistency := queries.DataConsistency(row.Type, mapping.Reliability, mapping.Retention)

	var previous any
	if row.StorageType == model.StorageIndividualProperties {
		props, err := a.store.FetchProperties(ctx, tableOrDefault(row.Storage, defaultIndividualPropertiesTable), a.Key.DeviceID, row.InterfaceID)
		if err != nil {
			return err
		}
		for _, p := range props {
			if p.Path == path {
				previous = p.Value
				break
			}
		}
	}

	a.emitPreChange(ctx, row.Name, path, previous, value)

	if row.Type == model.InterfaceTypeDatastream {
		if value == nil {
			if a.logger != nil {
				a.logger.Warn("discarding datastream message with nil value", slog.String("path", path))
			}
			return model.Discard(model.ErrUnexpectedValueType, fmt.Errorf("datastream value must not be nil"))
		}
		if err := a.ensurePathFresh(ctx, row, path, ts); err != nil {
			return err
		}
		receptionTS := model.DecimicroNow()
		table := tableOrDefault(row.Storage, defaultIndividualDatastreamTable)
		if err := a.store.InsertIndividualDatastream(ctx, consistency, table, a.Key.DeviceID, row.InterfaceID, endpointID, path,
			ts, receptionTS/10_000, receptionTS%10_000, value, a.datastreamTTLSeconds()); err != nil {
			return err
		}
	} else {
		table := tableOrDefault(row.Storage, defaultIndividualPropertiesTable)
		if err := a.store.UpsertProperty(ctx, table, a.Key.DeviceID, row.InterfaceID, endpointID, path, ts/10_000, value, mapping.AllowUnset); err != nil {
			return err
		}
	}

	a.emitPostChange(ctx, row.Name, path, previous, value)

	a.mu.Lock()
	a.paths.put(row.Name, path, time.Now(), a.realmTTL)
	a.mu.Unlock()
	return nil
}

func (a *Actor) handleObjectValue(ctx context.Context, row *queries.InterfaceRow, path string, value any, ts int64) error {
	consistency := queries.DataConsistency(row.Type, model.ReliabilityGuaranteed, model.RetentionStored)
	obj, _ := value.(map[string]any)

	columns := make(map[string]any, len(obj))
	for k, v := range obj {
		columns[endpointToColumn(k)] = v
	}

	var explicitTS *int64
	for i := range row.Mappings {
		if row.Mappings[i].ExplicitTimestamp {
			explicitTS = &ts
			break
		}
	}

	receptionTS := model.DecimicroNow()
	table := tableOrDefault(row.Storage, defaultObjectDatastreamTable)
	return a.store.InsertObjectDatastream(ctx, consistency, table, a.Key.DeviceID, path, receptionTS/10_000, receptionTS%10_000, columns, explicitTS)
}

// endpointToColumn mirrors CQLUtils.endpoint_to_db_column_name: lowercase
// the endpoint's last segment, replacing any remaining camelCase with
// underscores the way the Cassandra schema generator does.
func endpointToColumn(lastSegment string) string {
	var b strings.Builder
	for i, r := range lastSegment {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func tableOrDefault(storage, def string) string {
	if storage != "" {
		return storage
	}
	return def
}

// step 10: path insert freshness check and TTL computation
func (a *Actor) ensurePathFresh(ctx context.Context, row *queries.InterfaceRow, path string, valueTimestamp int64) error {
	a.mu.Lock()
	fresh := a.paths.fresh(row.Name, path, time.Now())
	a.mu.Unlock()
	if fresh {
		return nil
	}

	ttl, found, err := a.store.PathTTLSeconds(ctx, a.Key.DeviceID, row.InterfaceID, path)
	if err != nil {
		return err
	}
	if found {
		expiry := time.Now().Add(time.Duration(ttl) * time.Second)
		stillValid := time.Now().Add(time.Duration(a.realmTTL)*time.Second + time.Hour).Before(expiry)
		if stillValid {
			return nil
		}
	}

	pathConsistency := queries.PathConsistency(model.ReliabilityGuaranteed)
	return a.store.InsertPath(ctx, pathConsistency, a.Key.DeviceID, row.InterfaceID, path, valueTimestamp, a.pathTTLSeconds())
}

func (a *Actor) datastreamTTLSeconds() int {
	if a.realmTTL <= 0 {
		return 0
	}
	return a.realmTTL
}

// pathTTLSeconds implements spec.md §4.2.3 step 10's TTL formula:
// 2*realm_ttl + realm_ttl/2, or 0 (no expiry) when realm_ttl is unset.
func (a *Actor) pathTTLSeconds() int {
	if a.realmTTL <= 0 {
		return 0
	}
	return 2*a.realmTTL + a.realmTTL/2
}

func (a *Actor) emitPreChange(ctx context.Context, interfaceName, path string, previous, next any) {
	if equalValues(previous, next) {
		return
	}
	targets := a.changeTargets(model.TriggerValueChange, interfaceName, path)
	a.publish(ctx, targets, triggers.EventValueChange, triggers.ValueChangePayload(interfaceName, path, encodeOrNil(previous), encodeOrNil(next)))
}

func (a *Actor) emitPostChange(ctx context.Context, interfaceName, path string, previous, next any) {
	switch {
	case previous == nil && next != nil:
		targets := a.changeTargets(model.TriggerPathCreated, interfaceName, path)
		a.publish(ctx, targets, triggers.EventPathCreated, triggers.PathCreatedPayload(interfaceName, path, encodeOrNil(next)))
	case previous != nil && next == nil:
		targets := a.changeTargets(model.TriggerPathRemoved, interfaceName, path)
		a.publish(ctx, targets, triggers.EventPathRemoved, triggers.PathRemovedPayload(interfaceName, path))
	}
	if !equalValues(previous, next) {
		targets := a.changeTargets(model.TriggerValueChangeApplied, interfaceName, path)
		a.publish(ctx, targets, triggers.EventValueChangeApplied, triggers.ValueChangeAppliedPayload(interfaceName, path, encodeOrNil(previous), encodeOrNil(next)))
	}
}

func (a *Actor) changeTargets(triggerType model.DataTriggerType, interfaceName, path string) []model.TriggerTarget {
	a.mu.Lock()
	row, ok := a.interfaces.get(interfaceName)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	pathTokens := strings.Split(strings.Trim(path, "/"), "/")

	candidates := a.dispatch.LookupDataTriggers(triggerType, row.InterfaceID, [16]byte{})

	var matching []*model.DataTrigger
	for _, dt := range candidates {
		if len(dt.MatchPathTokens) == 0 || triggers.PathMatches(dt.MatchPathTokens, pathTokens) {
			matching = append(matching, dt)
		}
	}
	return collectTargets(matching)
}

func equalValues(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b) && (a == nil) == (b == nil)
}

func encodeOrNil(v any) []byte {
	if v == nil {
		return nil
	}
	return []byte(fmt.Sprint(v))
}

func (a *Actor) requestCleanSession(ctx context.Context) {
	if err := a.store.SetPendingEmptyCache(ctx, a.Key.DeviceID, true); err != nil {
		a.logError(err, "request clean session")
	}
	a.mu.Lock()
	a.pendingEmptyCache = true
	a.mu.Unlock()

	if a.vmq != nil {
		client := a.Key.Realm + "/" + a.Key.DeviceID.String()
		if err := a.vmq.Disconnect(ctx, client, true); err != nil {
			a.logError(err, "disconnect for clean session")
		}
	}
}
