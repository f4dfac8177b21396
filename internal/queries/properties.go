package queries

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// PropertyRow is one stored individual-properties value, keyed by endpoint
// path within an interface.
type PropertyRow struct {
	Path  string
	Value any
}

// UpsertProperty implements the individual-properties branch of spec.md
// §4.2.3 step 11: insert when value is non-nil, delete when value is nil
// and the mapping allows unset.
func (s *Store) UpsertProperty(ctx context.Context, table string, deviceID model.DeviceID, interfaceID, endpointID [16]byte, path string, receptionTS int64, value any, allowUnset bool) error {
	if value == nil {
		if !allowUnset {
			return nil
		}
		return s.DeleteProperty(ctx, table, deviceID, interfaceID, endpointID, path)
	}

	stmt := fmt.Sprintf(
		`INSERT INTO %s (device_id, interface_id, endpoint_id, path, reception_timestamp, value)
		   VALUES (?, ?, ?, ?, ?, ?)`, table)
	err := s.session.Query(stmt, deviceID[:], interfaceID[:], endpointID[:], path, receptionTS, value).
		WithContext(ctx).Consistency(gocql.Quorum).Exec()
	if err != nil {
		return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: upsert property: %w", err))
	}
	return nil
}

// DeleteProperty removes one property row.
func (s *Store) DeleteProperty(ctx context.Context, table string, deviceID model.DeviceID, interfaceID, endpointID [16]byte, path string) error {
	stmt := fmt.Sprintf(
		`DELETE FROM %s WHERE device_id = ? AND interface_id = ? AND endpoint_id = ? AND path = ?`, table)
	err := s.session.Query(stmt, deviceID[:], interfaceID[:], endpointID[:], path).
		WithContext(ctx).Consistency(gocql.Quorum).Exec()
	if err != nil {
		return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: delete property: %w", err))
	}
	return nil
}

// FetchProperties lists every stored path for (deviceID, interfaceID) on the
// given properties table — used both by the /producer/properties pruning
// pass and the /emptyCache resend.
func (s *Store) FetchProperties(ctx context.Context, table string, deviceID model.DeviceID, interfaceID [16]byte) ([]PropertyRow, error) {
	stmt := fmt.Sprintf(`SELECT path, value FROM %s WHERE device_id = ? AND interface_id = ?`, table)
	iter := s.session.Query(stmt, deviceID[:], interfaceID[:]).WithContext(ctx).Consistency(gocql.Quorum).Iter()

	var out []PropertyRow
	for {
		var row PropertyRow
		if !iter.Scan(&row.Path, &row.Value) {
			break
		}
		out = append(out, row)
	}
	if err := iter.Close(); err != nil {
		return nil, model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: fetch properties: %w", err))
	}
	return out, nil
}
