package queries

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gocql/gocql"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// DeviceRow is the logical shape of a realm's devices row, per spec.md §6's
// "Persistent state (logical)" list.
type DeviceRow struct {
	Connected            bool
	LastConnection       time.Time
	LastDisconnection    time.Time
	LastSeenIP           net.IP
	TotalReceivedMsgs    int64
	TotalReceivedBytes   int64
	Introspection        map[string]int
	IntrospectionMinor   map[string]int
	OldIntrospection     map[string]int // "name@major" -> minor, the removed-interfaces bag
	PendingEmptyCache    bool
}

// Store wraps a Session with the logical operations the data updater calls.
// It runs every query against the keyspace its Session is bound to.
type Store struct {
	session Session
}

// NewStore wraps an already-connected, keyspace-bound Session.
func NewStore(session Session) *Store {
	return &Store{session: session}
}

// GetDevice loads a device's row. gocql.ErrNotFound is translated into a nil
// row, mirroring the teacher's sql.ErrNoRows handling convention.
func (s *Store) GetDevice(ctx context.Context, deviceID model.DeviceID) (*DeviceRow, error) {
	var row DeviceRow
	var lastIP string
	q := s.session.Query(
		`SELECT connected, last_connection, last_disconnection, last_seen_ip, total_received_msgs,
		        total_received_bytes, introspection, introspection_minor, old_introspection, pending_empty_cache
		   FROM devices WHERE device_id = ?`, deviceID[:],
	).WithContext(ctx)

	err := q.Scan(&row.Connected, &row.LastConnection, &row.LastDisconnection, &lastIP,
		&row.TotalReceivedMsgs, &row.TotalReceivedBytes, &row.Introspection, &row.IntrospectionMinor,
		&row.OldIntrospection, &row.PendingEmptyCache)
	if err == gocql.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: get device: %w", err))
	}
	row.LastSeenIP = net.ParseIP(lastIP)
	return &row, nil
}

// SetDeviceConnected records a connection event.
func (s *Store) SetDeviceConnected(ctx context.Context, deviceID model.DeviceID, ts time.Time, ip net.IP) error {
	err := s.session.Query(
		`UPDATE devices SET connected = true, last_connection = ?, last_seen_ip = ? WHERE device_id = ?`,
		ts, ip.String(), deviceID[:],
	).WithContext(ctx).Consistency(gocql.Quorum).Exec()
	if err != nil {
		return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: set device connected: %w", err))
	}
	return nil
}

// SetDeviceDisconnected records a disconnection event along with the
// cumulative counters accrued since the last disconnection.
func (s *Store) SetDeviceDisconnected(ctx context.Context, deviceID model.DeviceID, ts time.Time, totalMsgs, totalBytes int64) error {
	err := s.session.Query(
		`UPDATE devices SET connected = false, last_disconnection = ?, total_received_msgs = ?, total_received_bytes = ?
		   WHERE device_id = ?`,
		ts, totalMsgs, totalBytes, deviceID[:],
	).WithContext(ctx).Consistency(gocql.Quorum).Exec()
	if err != nil {
		return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: set device disconnected: %w", err))
	}
	return nil
}

// SetPendingEmptyCache flips the clean-session flag the error-handling
// policy (spec.md §7) sets before asking a device to reconnect cleanly.
func (s *Store) SetPendingEmptyCache(ctx context.Context, deviceID model.DeviceID, pending bool) error {
	err := s.session.Query(
		`UPDATE devices SET pending_empty_cache = ? WHERE device_id = ?`, pending, deviceID[:],
	).WithContext(ctx).Consistency(gocql.Quorum).Exec()
	if err != nil {
		return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: set pending empty cache: %w", err))
	}
	return nil
}

// UpdateCounters increments the running received-message/byte counters.
func (s *Store) UpdateCounters(ctx context.Context, deviceID model.DeviceID, msgs, bytes int64) error {
	err := s.session.Query(
		`UPDATE devices SET total_received_msgs = total_received_msgs + ?, total_received_bytes = total_received_bytes + ?
		   WHERE device_id = ?`,
		msgs, bytes, deviceID[:],
	).WithContext(ctx).Consistency(gocql.One).Exec()
	if err != nil {
		return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: update counters: %w", err))
	}
	return nil
}

// RegisterDeviceByInterface adds deviceID to the devices-by-interface
// registry for (name, major == 0), spec.md §4.2.4's maintenance work.
func (s *Store) RegisterDeviceByInterface(ctx context.Context, interfaceName string, deviceID model.DeviceID) error {
	err := s.session.Query(
		`INSERT INTO kv_store (group, key, value) VALUES (?, ?, ?)`,
		"devices-by-interface-"+interfaceName+"-v0", deviceID.String(), []byte{1},
	).WithContext(ctx).Consistency(gocql.Quorum).Exec()
	if err != nil {
		return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: register device by interface: %w", err))
	}
	return nil
}

// UnregisterDeviceByInterface removes deviceID from that same registry.
func (s *Store) UnregisterDeviceByInterface(ctx context.Context, interfaceName string, deviceID model.DeviceID) error {
	err := s.session.Query(
		`DELETE FROM kv_store WHERE group = ? AND key = ?`,
		"devices-by-interface-"+interfaceName+"-v0", deviceID.String(),
	).WithContext(ctx).Consistency(gocql.Quorum).Exec()
	if err != nil {
		return model.Fatal(model.ErrDatabaseError, fmt.Errorf("queries: unregister device by interface: %w", err))
	}
	return nil
}
