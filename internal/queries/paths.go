package queries

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// PathTTLSeconds fetches the CQL TTL remaining on a path's datetime_value
// column in individual_properties, the freshness check spec.md §4.2.3 step
// 10 runs before deciding whether a path row needs reinserting. A missing
// row reports ttl=0, found=false.
func (s *Store) PathTTLSeconds(ctx context.Context, deviceID model.DeviceID, interfaceID [16]byte, path string) (ttl int, found bool, err error) {
	q := s.session.Query(
		`SELECT TTL(datetime_value) FROM individual_properties WHERE device_id = ? AND interface_id = ? AND path = ?`,
		deviceID[:], interfaceID[:], path,
	).WithContext(ctx).Consistency(gocql.Quorum)

	scanErr := q.Scan(&ttl)
	if scanErr == gocql.ErrNotFound {
		return 0, false, nil
	}
	if scanErr != nil {
		return 0, false, model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: path ttl: %w", scanErr))
	}
	return ttl, true, nil
}

// InsertPath writes a path-registry row with datetime_value = valueTimestamp
// and, when ttlSeconds > 0, a TTL of 2*realm_ttl + realm_ttl/2 (the caller
// computes that; ttlSeconds<=0 means "no expiry", per the Open Question
// decision in SPEC_FULL.md §5).
func (s *Store) InsertPath(ctx context.Context, consistency gocql.Consistency, deviceID model.DeviceID, interfaceID [16]byte, path string, valueTimestamp int64, ttlSeconds int) error {
	stmt := `INSERT INTO individual_properties (device_id, interface_id, path, datetime_value) VALUES (?, ?, ?, ?)`
	args := []any{deviceID[:], interfaceID[:], path, valueTimestamp}
	if ttlSeconds > 0 {
		stmt += " USING TTL ?"
		args = append(args, ttlSeconds)
	}

	if err := s.session.Query(stmt, args...).WithContext(ctx).Consistency(consistency).Exec(); err != nil {
		return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: insert path: %w", err))
	}
	return nil
}

// DeletePath removes a path-registry row — used when /producer/properties
// pruning or endpoint removal takes a path out of the device's live set.
func (s *Store) DeletePath(ctx context.Context, consistency gocql.Consistency, deviceID model.DeviceID, interfaceID [16]byte, path string) error {
	err := s.session.Query(
		`DELETE FROM individual_properties WHERE device_id = ? AND interface_id = ? AND path = ?`,
		deviceID[:], interfaceID[:], path,
	).WithContext(ctx).Consistency(consistency).Exec()
	if err != nil {
		return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: delete path: %w", err))
	}
	return nil
}
