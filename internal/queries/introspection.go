package queries

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/payloads"
)

// UpdateIntrospection persists a device's current {name: major} and
// {name: minor} maps, per spec.md §4.2.4's maintenance work.
func (s *Store) UpdateIntrospection(ctx context.Context, deviceID model.DeviceID, majors, minors map[string]int) error {
	err := s.session.Query(
		`UPDATE devices SET introspection = ?, introspection_minor = ? WHERE device_id = ?`,
		majors, minors, deviceID[:],
	).WithContext(ctx).Consistency(gocql.Quorum).Exec()
	if err != nil {
		return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: update introspection: %w", err))
	}
	return nil
}

// MergeOldIntrospection folds removed {name: major} entries into the
// devices.old_introspection bag, keyed "name@major" -> minor, and drops the
// given "name@major" keys of re-added interfaces — the "merge removed
// entries ... remove re-added entries" step of spec.md §4.2.4.
func (s *Store) MergeOldIntrospection(ctx context.Context, deviceID model.DeviceID, removed map[string]payloads.InterfaceVersion, readdedKeys []string) error {
	for name, v := range removed {
		key := fmt.Sprintf("%s@%d", name, v.Major)
		err := s.session.Query(
			`UPDATE devices SET old_introspection = old_introspection + ? WHERE device_id = ?`,
			map[string]int{key: v.Minor}, deviceID[:],
		).WithContext(ctx).Consistency(gocql.Quorum).Exec()
		if err != nil {
			return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: merge old introspection: %w", err))
		}
	}
	for _, key := range readdedKeys {
		err := s.session.Query(
			`DELETE old_introspection[?] FROM devices WHERE device_id = ?`, key, deviceID[:],
		).WithContext(ctx).Consistency(gocql.Quorum).Exec()
		if err != nil {
			return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: prune old introspection: %w", err))
		}
	}
	return nil
}

// InterfaceRow is the logical schema row for one (name, major_version).
type InterfaceRow struct {
	model.InterfaceDescriptor
	Mappings []model.Mapping
}

// LoadInterface fetches an interface's descriptor and compiled mappings by
// name and major version — the cache-miss path of spec.md §4.2.3 step 2.
func (s *Store) LoadInterface(ctx context.Context, name string, major int) (*InterfaceRow, error) {
	var row InterfaceRow
	var ifaceID, typ, agg, own, storageType []byte
	var storage string

	err := s.session.Query(
		`SELECT interface_id, minor_version, interface_type, aggregation, ownership, storage, storage_type
		   FROM interfaces WHERE name = ? AND major_version = ?`, name, major,
	).WithContext(ctx).Consistency(gocql.Quorum).Scan(&ifaceID, &row.MinorVersion, &typ, &agg, &own, &storage, &storageType)
	if err == gocql.ErrNotFound {
		return nil, model.Discard(model.ErrInterfaceLoadingFailed, fmt.Errorf("queries: interface %s/%d not found", name, major))
	}
	if err != nil {
		return nil, model.Fatal(model.ErrInterfaceLoadingFailed, fmt.Errorf("queries: load interface: %w", err))
	}

	row.Name = name
	row.MajorVersion = major
	row.Storage = storage
	copy(row.InterfaceID[:], ifaceID)

	mappings, err := s.loadMappings(ctx, row.InterfaceID)
	if err != nil {
		return nil, err
	}
	row.Mappings = mappings
	row.Automaton = model.NewEndpointsAutomaton(mappings)
	return &row, nil
}

func (s *Store) loadMappings(ctx context.Context, interfaceID [16]byte) ([]model.Mapping, error) {
	iter := s.session.Query(
		`SELECT endpoint_id, endpoint, value_type, reliability, retention, allow_unset, explicit_timestamp
		   FROM endpoints WHERE interface_id = ?`, interfaceID[:],
	).WithContext(ctx).Consistency(gocql.Quorum).Iter()

	var mappings []model.Mapping
	for {
		var m model.Mapping
		var endpointID []byte
		var valueType, reliability, retention int
		if !iter.Scan(&endpointID, &m.Endpoint, &valueType, &reliability, &retention, &m.AllowUnset, &m.ExplicitTimestamp) {
			break
		}
		copy(m.EndpointID[:], endpointID)
		m.InterfaceID = interfaceID
		m.ValueType = model.ValueType(valueType)
		m.Reliability = model.Reliability(reliability)
		m.Retention = model.Retention(retention)
		mappings = append(mappings, m)
	}
	if err := iter.Close(); err != nil {
		return nil, model.Fatal(model.ErrInterfaceLoadingFailed, fmt.Errorf("queries: load mappings: %w", err))
	}
	return mappings, nil
}
