package updater

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/consumer"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/queries"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/tracker"
)

type noopAcknowledger struct{}

func (noopAcknowledger) Ack(uint64) error     { return nil }
func (noopAcknowledger) Discard(uint64) error { return nil }
func (noopAcknowledger) Requeue(uint64) error { return nil }

func TestInterfaceCache_ExpireStale(t *testing.T) {
	c := newInterfaceCache()
	now := time.Now()
	c.put("org.example.Foo", &queries.InterfaceRow{}, now.Add(-InterfaceLifespan-time.Second))
	c.put("org.example.Bar", &queries.InterfaceRow{}, now)

	expired := c.expireStale(now)
	assert.Equal(t, []string{"org.example.Foo"}, expired)

	_, stillCached := c.get("org.example.Bar")
	assert.True(t, stillCached)
	_, gone := c.get("org.example.Foo")
	assert.False(t, gone)
}

func TestPathsCache_ForeverWhenNoRealmTTL(t *testing.T) {
	p := newPathsCache()
	now := time.Now()
	p.put("org.example.Foo", "/bar", now, 0)
	assert.True(t, p.fresh("org.example.Foo", "/bar", now.Add(365*24*time.Hour)))
}

func TestPathsCache_ExpiresWithRealmTTL(t *testing.T) {
	p := newPathsCache()
	now := time.Now()
	p.put("org.example.Foo", "/bar", now, 10)
	assert.True(t, p.fresh("org.example.Foo", "/bar", now.Add(5*time.Second)))
	assert.False(t, p.fresh("org.example.Foo", "/bar", now.Add(20*time.Second)))
}

func TestSegmentDepthAndEndpointToColumn(t *testing.T) {
	assert.Equal(t, 2, segmentDepth("/rooms/%{room}"))
	assert.Equal(t, "room_temperature", endpointToColumn("roomTemperature"))
}

func TestEqualValues(t *testing.T) {
	assert.True(t, equalValues(nil, nil))
	assert.False(t, equalValues(nil, 1))
	assert.True(t, equalValues(1.0, 1.0))
}

func TestDecodeDataTrigger_RoundTrip(t *testing.T) {
	cond := dataTriggerCondition{
		Type:            model.TriggerValueChange,
		MatchPathTokens: []string{"rooms", ""},
		MatchOperator:   model.MatchGreaterThan,
		KnownValue:      21.5,
	}
	raw, err := json.Marshal(cond)
	require.NoError(t, err)

	row := queries.SimpleTriggerRow{TriggerCondition: raw, RoutingKey: "events"}
	dt, ok := decodeDataTrigger(row)
	require.True(t, ok)
	assert.Equal(t, model.TriggerValueChange, dt.Type)
	assert.Equal(t, []string{"rooms", ""}, dt.MatchPathTokens)
	assert.Len(t, dt.Targets, 1)
}

func TestDecodeDeviceTrigger_RejectsOutOfRangeType(t *testing.T) {
	raw, _ := json.Marshal(lifecycleTriggerCondition{Type: 99})
	row := queries.SimpleTriggerRow{TriggerCondition: raw}
	_, ok := decodeDeviceTrigger(row)
	assert.False(t, ok)
}

func TestService_Dispatch_RejectsInvalidDeviceID(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, nil, nil, 0, func(consumer.Message) tracker.Acknowledger { return noopAcknowledger{} })
	err := svc.Dispatch(context.Background(), consumer.Message{Realm: "test", DeviceID: "not-base64!!"})
	assert.Error(t, err)
}
