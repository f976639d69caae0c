package amqp

import (
	"testing"
	"time"

	"github.com/Azure/go-amqp-transport/internal/buffer"
	"github.com/stretchr/testify/require"
)

func TestMessageMarshalUnmarshalRoundTrip(t *testing.T) {
	ttl := 5 * time.Second
	msg := &Message{
		Header: &MessageHeader{Durable: true, Priority: 9, TTL: ttl},
		Annotations: Annotations{
			"x-opt-enqueued-time": "2026-07-30T00:00:00Z",
		},
		Properties: &MessageProperties{
			MessageID:     "msg-1",
			CorrelationID: "corr-1",
			ReplyTo:       "replies",
			ContentType:   "application/json",
		},
		ApplicationProperties: map[string]any{
			"operation": "put-token",
			"count":     int32(7),
		},
		BodyType: BodyTypeData,
		Data:     [][]byte{[]byte(`{"hello":"world"}`)},
	}

	var wr buffer.Buffer
	require.NoError(t, msg.Marshal(&wr))

	var got Message
	buf := buffer.New(append([]byte(nil), wr.Bytes()...))
	require.NoError(t, got.Unmarshal(buf))

	require.NotNil(t, got.Header)
	require.True(t, got.Header.Durable)
	require.EqualValues(t, 9, got.Header.Priority)
	require.Equal(t, ttl, got.Header.TTL)

	require.NotNil(t, got.Properties)
	require.Equal(t, "msg-1", got.Properties.MessageID)
	require.Equal(t, "corr-1", got.Properties.CorrelationID)
	require.Equal(t, "replies", got.Properties.ReplyTo)

	require.Equal(t, "put-token", got.ApplicationProperties["operation"])
	require.EqualValues(t, 7, got.ApplicationProperties["count"])

	require.Equal(t, BodyTypeData, got.BodyType)
	require.Len(t, got.Data, 1)
	require.JSONEq(t, `{"hello":"world"}`, string(got.Data[0]))
}

func TestMessageValueBody(t *testing.T) {
	msg := &Message{BodyType: BodyTypeValue, Value: "partition-ids"}

	var wr buffer.Buffer
	require.NoError(t, msg.Marshal(&wr))

	var got Message
	buf := buffer.New(append([]byte(nil), wr.Bytes()...))
	require.NoError(t, got.Unmarshal(buf))

	require.Equal(t, BodyTypeValue, got.BodyType)
	require.Equal(t, "partition-ids", got.Value)
}

func TestSetApplicationPropertyRejectsCompositeValues(t *testing.T) {
	msg := &Message{}
	err := msg.SetApplicationProperty("bad", map[string]any{"nested": true})
	require.Error(t, err)

	require.NoError(t, msg.SetApplicationProperty("good", "ok"))
	require.Equal(t, "ok", msg.ApplicationProperties["good"])
}
