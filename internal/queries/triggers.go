package queries

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// ObjectType distinguishes what a simple_triggers row is attached to:
// a specific device, any device in the realm, or an interface (data
// triggers keyed by interface_id, per spec.md §4.2.3 step 2's "populate
// triggers for object interface_id with type :interface").
type ObjectType int

const (
	ObjectDevice ObjectType = iota
	ObjectAnyDevice
	ObjectInterface
)

// SimpleTriggerRow is the raw simple_triggers row; internal/updater compiles
// it into a model.DataTrigger/DeviceTrigger/IntrospectionTrigger, since only
// the updater knows which trigger family TriggerCondition decodes to.
type SimpleTriggerRow struct {
	ObjectID         [16]byte
	ObjectType       ObjectType
	SimpleTriggerID  uuid.UUID
	ParentTriggerID  uuid.UUID
	TriggerCondition []byte // opaque, schema-defined encoding of the trigger's match condition
	RoutingKey       string
	StaticHeaders    map[string]string
}

// ListSimpleTriggers fetches every trigger row attached to (objectID,
// objectType) — a device, the realm's any_device bucket, or an interface.
func (s *Store) ListSimpleTriggers(ctx context.Context, objectID [16]byte, objectType ObjectType) ([]SimpleTriggerRow, error) {
	iter := s.session.Query(
		`SELECT simple_trigger_id, parent_trigger_id, trigger_condition, routing_key, static_headers
		   FROM simple_triggers WHERE object_id = ? AND object_type = ?`,
		objectID[:], int(objectType),
	).WithContext(ctx).Consistency(gocql.Quorum).Iter()

	var out []SimpleTriggerRow
	for {
		var row SimpleTriggerRow
		var simpleID, parentID []byte
		if !iter.Scan(&simpleID, &parentID, &row.TriggerCondition, &row.RoutingKey, &row.StaticHeaders) {
			break
		}
		row.ObjectID = objectID
		row.ObjectType = objectType
		if id, err := uuid.FromBytes(simpleID); err == nil {
			row.SimpleTriggerID = id
		}
		if id, err := uuid.FromBytes(parentID); err == nil {
			row.ParentTriggerID = id
		}
		out = append(out, row)
	}
	if err := iter.Close(); err != nil {
		return nil, model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: list simple triggers: %w", err))
	}
	return out, nil
}

// ToTriggerTarget builds the model.TriggerTarget a compiled trigger carries,
// flattening the row's static_headers map into the ordered Header slice the
// TriggersHandler expects.
func (r SimpleTriggerRow) ToTriggerTarget() model.TriggerTarget {
	headers := make([]model.Header, 0, len(r.StaticHeaders))
	for k, v := range r.StaticHeaders {
		headers = append(headers, model.Header{Key: k, Value: v})
	}
	return model.TriggerTarget{
		Kind:            model.TargetAMQP,
		SimpleTriggerID: r.SimpleTriggerID,
		ParentTriggerID: r.ParentTriggerID,
		RoutingKey:      r.RoutingKey,
		StaticHeaders:   headers,
	}
}
