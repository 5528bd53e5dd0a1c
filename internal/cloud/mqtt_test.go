package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/lbridge/internal/codec"
	"github.com/srg/lbridge/internal/property"
	"github.com/srg/lbridge/internal/testutils"
)

func TestMQTTSinkPush(t *testing.T) {
	client := testutils.NewFakeMQTTClient()
	logger, _ := logtest.NewNullLogger()
	sink := NewMQTTSink(client, MQTTOptions{Prefix: "home"}, logger)

	dp := NewDatapoint("dev-1", change("TARGET_TEMP", codec.Int(codec.KindInt16, 635), property.Local))
	require.NoError(t, sink.Push(context.Background(), dp))

	published := client.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "home/dev-1/datapoints/00:grillrt:TARGET_TEMP", published[0].Topic)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(published[0].Payload, &body))
	assert.Equal(t, "00:grillrt:TARGET_TEMP", body["property"])
	assert.Equal(t, float64(635), body["value"])
	assert.Equal(t, true, body["known"])
	assert.Equal(t, dp.ID, body["id"])
}

func TestMQTTSinkPushErrors(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	dp := NewDatapoint("dev-1", change("TEMP", codec.Int(codec.KindInt16, 1), property.Local))

	t.Run("broker error", func(t *testing.T) {
		client := testutils.NewFakeMQTTClient()
		boom := errors.New("not connected")
		client.Token = testutils.CompletedToken(boom)
		err := NewMQTTSink(client, MQTTOptions{}, logger).Push(context.Background(), dp)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("ack timeout", func(t *testing.T) {
		client := testutils.NewFakeMQTTClient()
		client.Token = testutils.PendingToken()
		err := NewMQTTSink(client, MQTTOptions{PublishTimeout: 20 * time.Millisecond}, logger).Push(context.Background(), dp)
		assert.ErrorIs(t, err, ErrPublishTimeout)
	})

	t.Run("cancelled", func(t *testing.T) {
		client := testutils.NewFakeMQTTClient()
		client.Token = testutils.PendingToken()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewMQTTSink(client, MQTTOptions{}, logger).Push(ctx, dp)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMQTTSinkSubscribeWrites(t *testing.T) {
	client := testutils.NewFakeMQTTClient()
	logger, hook := logtest.NewNullLogger()
	sink := NewMQTTSink(client, MQTTOptions{}, logger)

	var got []WriteRequest
	unsubscribe, err := sink.SubscribeWrites(context.Background(), "dev-1", func(w WriteRequest) {
		got = append(got, w)
	})
	require.NoError(t, err)

	const filter = "lbridge/dev-1/set/+"
	client.Deliver(filter, "lbridge/dev-1/set/00:grillrt:TARGET_TEMP", `{"value": 63.5}`)
	client.Deliver(filter, "lbridge/dev-1/set/00:grillrt:COOKING", `{"value": true}`)
	client.Deliver(filter, "lbridge/dev-1/set/00:grillrt:MEAT", `{"value": "beef"}`)
	client.Deliver(filter, "lbridge/dev-1/set/bogus", `{"value": 1}`)
	client.Deliver(filter, "lbridge/dev-1/set/00:grillrt:MEAT", `not json`)

	require.Len(t, got, 3)
	assert.Equal(t, property.MustName(0, "grillrt", "TARGET_TEMP"), got[0].Name)
	assert.Equal(t, "dev-1", got[0].DeviceID)

	texts := make([]string, 0, len(got))
	for _, w := range got {
		s, err := w.Text()
		require.NoError(t, err)
		texts = append(texts, s)
	}
	assert.Equal(t, []string{"63.5", "true", "beef"}, texts)

	var warnings int
	for _, e := range hook.AllEntries() {
		if e.Level.String() == "warning" {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)

	require.NoError(t, unsubscribe())
	assert.Equal(t, []string{filter}, client.Unsubscribed())
}

func TestWriteRequestTextRejectsObjects(t *testing.T) {
	w := WriteRequest{Name: property.MustName(0, "grillrt", "MEAT"), Value: json.RawMessage(`{"a":1}`)}
	_, err := w.Text()
	assert.Error(t, err)
}
