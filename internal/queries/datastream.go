package queries

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// InsertIndividualDatastream implements the multi_interface_individual_datastream_dbtable
// branch of spec.md §4.2.3 step 11: value_timestamp, reception_timestamp (ms)
// and reception_timestamp_submillis (the sub-millisecond decimicro
// remainder) alongside the value, under the realm's TTL.
func (s *Store) InsertIndividualDatastream(ctx context.Context, consistency gocql.Consistency, table string, deviceID model.DeviceID, interfaceID, endpointID [16]byte, path string, valueTimestamp, receptionTS, receptionSubmillis int64, value any, ttlSeconds int) error {
	stmt := fmt.Sprintf(
		`INSERT INTO %s (device_id, interface_id, endpoint_id, path, value_timestamp, reception_timestamp,
		                  reception_timestamp_submillis, value) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table)
	if ttlSeconds > 0 {
		stmt += " USING TTL ?"
	}

	args := []any{deviceID[:], interfaceID[:], endpointID[:], path, valueTimestamp, receptionTS, receptionSubmillis, value}
	if ttlSeconds > 0 {
		args = append(args, ttlSeconds)
	}

	err := s.session.Query(stmt, args...).WithContext(ctx).Consistency(consistency).Exec()
	if err != nil {
		return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: insert individual datastream: %w", err))
	}
	return nil
}

// InsertObjectDatastream implements the one_object_datastream_dbtable
// branch: columns is the already-resolved endpoint-name -> db-column-name
// mapping (unknown object keys are the caller's responsibility to have
// skipped, per spec.md §4.2.3 step 11).
func (s *Store) InsertObjectDatastream(ctx context.Context, consistency gocql.Consistency, table string, deviceID model.DeviceID, path string, receptionTS, receptionSubmillis int64, columns map[string]any, explicitTimestamp *int64) error {
	cols := []string{"device_id", "path", "reception_timestamp", "reception_timestamp_submillis"}
	vals := []any{deviceID[:], path, receptionTS, receptionSubmillis}

	if explicitTimestamp != nil {
		cols = append(cols, "value_timestamp")
		vals = append(vals, *explicitTimestamp)
	}
	for col, val := range columns {
		cols = append(cols, col)
		vals = append(vals, val)
	}

	placeholders := make([]string, len(vals))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table, joinComma(cols), joinComma(placeholders))
	if err := s.session.Query(stmt, vals...).WithContext(ctx).Consistency(consistency).Exec(); err != nil {
		return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: insert object datastream: %w", err))
	}
	return nil
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
