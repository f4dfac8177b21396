// Package model holds the shared data types of the data updater plant: the
// per-device actor state, the interface/mapping schema cache, compiled
// triggers, and the broker delivery bookkeeping types.
package model

import (
	"encoding/base64"
	"time"
)

// DeviceID is the 16 raw bytes Astarte uses to identify a device. Its
// external form is base64-url without padding.
type DeviceID [16]byte

// String renders the device id in its external base64-url-without-padding
// form.
func (id DeviceID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseDeviceID parses the external base64-url-without-padding form back
// into a DeviceID.
func ParseDeviceID(s string) (DeviceID, error) {
	var id DeviceID
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, ErrInvalidDeviceID
	}
	copy(id[:], b)
	return id, nil
}

// Key identifies a device actor: every in-flight message, trigger table and
// cache is scoped to one (realm, device_id) pair.
type Key struct {
	Realm    string
	DeviceID DeviceID
}

func (k Key) String() string {
	return k.Realm + "/" + k.DeviceID.String()
}

// DecimicroNow returns the current time in decimicroseconds since the Unix
// epoch (10^-7 s ticks), the internal time unit used throughout the actor.
func DecimicroNow() int64 {
	return DecimicroFromTime(time.Now())
}

// DecimicroFromTime converts a time.Time to decimicroseconds since epoch.
func DecimicroFromTime(t time.Time) int64 {
	return t.UnixNano() / 100
}

// DecimicroFromMillis converts AMQP-meta milliseconds to decimicroseconds.
func DecimicroFromMillis(ms int64) int64 {
	return ms * 10_000
}

// MillisFromDecimicro converts decimicroseconds to milliseconds, the only
// place the internal time unit is allowed to leave the process.
func MillisFromDecimicro(dms int64) int64 {
	return dms / 10_000
}
