package triggers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

func TestPathMatches_Wildcard(t *testing.T) {
	assert.True(t, PathMatches([]string{"rooms", "", "temp"}, []string{"rooms", "kitchen", "temp"}))
	assert.False(t, PathMatches([]string{"rooms", "", "temp"}, []string{"rooms", "kitchen", "humidity"}))
	assert.False(t, PathMatches([]string{"rooms", ""}, []string{"rooms", "kitchen", "temp"}), "wildcard segment is single-level, not a subtree glob")
}

func TestValueMatches_Operators(t *testing.T) {
	assert.True(t, ValueMatches(model.MatchAlways, 1, "anything"))
	assert.True(t, ValueMatches(model.MatchEqual, 42, 42))
	assert.False(t, ValueMatches(model.MatchEqual, 42, 43))
	assert.True(t, ValueMatches(model.MatchNotEqual, 42, 43))
	assert.True(t, ValueMatches(model.MatchGreaterThan, 10.0, 20.0))
	assert.False(t, ValueMatches(model.MatchGreaterThan, 10.0, 5.0))
	assert.True(t, ValueMatches(model.MatchLessOrEqual, 10.0, 10.0))
}

func TestDispatchTable_MergeByCongruence(t *testing.T) {
	table := NewDispatchTable()

	ifaceID := [16]byte{1}
	epID := [16]byte{2}
	target1 := model.TriggerTarget{SimpleTriggerID: uuid.New(), RoutingKey: "r1"}
	target2 := model.TriggerTarget{SimpleTriggerID: uuid.New(), RoutingKey: "r2"}

	t1 := &model.DataTrigger{Type: model.TriggerIncomingData, InterfaceID: ifaceID, EndpointID: epID, MatchOperator: model.MatchAlways, Targets: []model.TriggerTarget{target1}}
	t2 := &model.DataTrigger{Type: model.TriggerIncomingData, InterfaceID: ifaceID, EndpointID: epID, MatchOperator: model.MatchAlways, Targets: []model.TriggerTarget{target2}}

	table.InstallDataTrigger(t1)
	table.InstallDataTrigger(t2)

	found := table.LookupDataTriggers(model.TriggerIncomingData, ifaceID, epID)
	require.Len(t, found, 1, "congruent triggers must merge into a single row")
	assert.Len(t, found[0].Targets, 2)
}

func TestDispatchTable_PrecedenceLevels(t *testing.T) {
	table := NewDispatchTable()
	ifaceID := [16]byte{1}
	epID := [16]byte{2}

	anyAny := &model.DataTrigger{Type: model.TriggerIncomingData, AnyInterfaceWildcard: true, AnyEndpointWildcard: true, Targets: []model.TriggerTarget{{SimpleTriggerID: uuid.New()}}}
	ifaceAny := &model.DataTrigger{Type: model.TriggerIncomingData, InterfaceID: ifaceID, AnyEndpointWildcard: true, Targets: []model.TriggerTarget{{SimpleTriggerID: uuid.New()}}}
	specific := &model.DataTrigger{Type: model.TriggerIncomingData, InterfaceID: ifaceID, EndpointID: epID, Targets: []model.TriggerTarget{{SimpleTriggerID: uuid.New()}}}

	table.InstallDataTrigger(anyAny)
	table.InstallDataTrigger(ifaceAny)
	table.InstallDataTrigger(specific)

	found := table.LookupDataTriggers(model.TriggerIncomingData, ifaceID, epID)
	require.Len(t, found, 3)
	assert.Same(t, anyAny, found[0])
	assert.Same(t, ifaceAny, found[1])
	assert.Same(t, specific, found[2])
}

func TestDispatchTable_RemoveByTarget(t *testing.T) {
	table := NewDispatchTable()
	simple, parent := uuid.New(), uuid.New()
	trig := &model.DataTrigger{Type: model.TriggerIncomingData, Targets: []model.TriggerTarget{{SimpleTriggerID: simple, ParentTriggerID: parent}}}
	table.InstallDataTrigger(trig)

	require.Len(t, table.LookupDataTriggers(model.TriggerIncomingData, [16]byte{}, [16]byte{}), 1)

	table.RemoveByTarget(simple, parent)
	assert.Empty(t, table.LookupDataTriggers(model.TriggerIncomingData, [16]byte{}, [16]byte{}))
}

func TestSimpleEvent_EncodeDecodeRoundTrip(t *testing.T) {
	event := SimpleEvent{
		Realm:     "test",
		DeviceID:  "abc123",
		Kind:      EventIncomingData,
		Timestamp: 1234567,
		Payload:   IncomingDataPayload("com.example.Foo", "/a/b", []byte{0x01, 0x02}),
	}

	decoded, err := DecodeSimpleEvent(event.Encode())
	require.NoError(t, err)
	assert.Equal(t, event.Realm, decoded.Realm)
	assert.Equal(t, event.DeviceID, decoded.DeviceID)
	assert.Equal(t, event.Kind, decoded.Kind)
	assert.Equal(t, event.Timestamp, decoded.Timestamp)
	assert.Equal(t, event.Payload, decoded.Payload)
}

type fakePublisher struct {
	published []publishedMessage
}

type publishedMessage struct {
	exchange, routingKey string
	headers              map[string]string
	body                 []byte
}

func (f *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, headers map[string]string, body []byte) error {
	f.published = append(f.published, publishedMessage{exchange, routingKey, headers, body})
	return nil
}

func TestHandler_DispatchPublishesPerTarget(t *testing.T) {
	pub := &fakePublisher{}
	h := New(pub, "astarte_events")

	targets := []model.TriggerTarget{
		{SimpleTriggerID: uuid.New(), ParentTriggerID: uuid.New(), RoutingKey: "rk1", StaticHeaders: []model.Header{{Key: "custom", Value: "v1"}}},
		{SimpleTriggerID: uuid.New(), ParentTriggerID: uuid.New(), RoutingKey: "rk2"},
	}

	err := h.Dispatch(context.Background(), targets, "realm1", "device1", EventDeviceConnected, 1000, DeviceConnectedPayload("10.0.0.1"), false)
	require.NoError(t, err)
	require.Len(t, pub.published, 2)

	assert.Equal(t, "rk1", pub.published[0].routingKey)
	assert.Equal(t, "v1", pub.published[0].headers["custom"])
	assert.Equal(t, "realm1", pub.published[0].headers["x_astarte_realm"])
	assert.Equal(t, "device_connected", pub.published[0].headers["x_astarte_event_type"])
	_, hasTriggerID := pub.published[0].headers["x_astarte_simple_trigger_id"]
	assert.False(t, hasTriggerID, "trigger-id headers are only for data-path events")
}

func TestHandler_DispatchIncludesTriggerIDsForDataEvents(t *testing.T) {
	pub := &fakePublisher{}
	h := New(pub, "astarte_events")
	target := model.TriggerTarget{SimpleTriggerID: uuid.New(), ParentTriggerID: uuid.New(), RoutingKey: "rk"}

	err := h.Dispatch(context.Background(), []model.TriggerTarget{target}, "realm1", "device1", EventIncomingData, 1000, nil, true)
	require.NoError(t, err)
	require.Len(t, pub.published, 1)
	assert.Equal(t, target.SimpleTriggerID.String(), pub.published[0].headers["x_astarte_simple_trigger_id"])
}
