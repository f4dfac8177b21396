package consumer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	received []Message
	err      error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, msg Message) error {
	d.received = append(d.received, msg)
	return d.err
}

func TestMissingHeaders_DataRequiresInterfaceAndPath(t *testing.T) {
	headers := map[string]string{
		"x_astarte_realm":     "test",
		"x_astarte_device_id": "abc",
	}
	missing := missingHeaders(MsgData, headers)
	assert.ElementsMatch(t, []string{"x_astarte_interface", "x_astarte_path"}, missing)
}

func TestMissingHeaders_ConnectionRequiresRemoteIP(t *testing.T) {
	headers := map[string]string{
		"x_astarte_realm":     "test",
		"x_astarte_device_id": "abc",
	}
	missing := missingHeaders(MsgConnection, headers)
	assert.Equal(t, []string{"x_astarte_remote_ip"}, missing)
}

func TestMissingHeaders_CompleteSetHasNoneMissing(t *testing.T) {
	headers := map[string]string{
		"x_astarte_realm":      "test",
		"x_astarte_device_id":  "abc",
		"x_astarte_control_path": "/producer/properties",
	}
	missing := missingHeaders(MsgControl, headers)
	assert.Empty(t, missing)
}

func TestDispatcher_ReceivesRoutedFields(t *testing.T) {
	d := &fakeDispatcher{}
	msg := Message{
		Realm:     "test",
		DeviceID:  "abc",
		Type:      MsgData,
		Interface: "org.example.Foo",
		Path:      "/bar",
	}
	require.NoError(t, d.Dispatch(context.Background(), msg))
	require.Len(t, d.received, 1)
	assert.Equal(t, "org.example.Foo", d.received[0].Interface)
}
