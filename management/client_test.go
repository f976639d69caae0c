package management

import (
	"context"
	"testing"
	"time"

	amqp "github.com/Azure/go-amqp-transport"
	"github.com/Azure/go-amqp-transport/internal/buffer"
	"github.com/Azure/go-amqp-transport/internal/encoding"
	"github.com/Azure/go-amqp-transport/internal/frames"
	"github.com/Azure/go-amqp-transport/internal/mocks"
	"github.com/stretchr/testify/require"
)

const (
	receiverPeerHandle = uint32(8000)
	senderPeerHandle   = uint32(8001)
)

func encodeMessage(t *testing.T, msg *amqp.Message) []byte {
	t.Helper()
	var wr buffer.Buffer
	require.NoError(t, msg.Marshal(&wr))
	return append([]byte(nil), wr.Bytes()...)
}

func dialWithManagementPeer(t *testing.T, respond func(req *amqp.Message) *amqp.Message) *amqp.Connection {
	t.Helper()

	tp := mocks.NewTransport(func(fr frames.Frame) []frames.Frame {
		if fr.Body == nil && fr.Type == frames.TypeAMQP {
			return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformOpen{
				ContainerID: "peer", MaxFrameSize: 65536, ChannelMax: 65535,
			}}}
		}
		if _, ok := fr.Body.(*frames.PerformBegin); ok {
			remote := uint16(0)
			return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformBegin{
				RemoteChannel: &remote, IncomingWindow: 100, OutgoingWindow: 100, HandleMax: 10,
			}}}
		}
		if a, ok := fr.Body.(*frames.PerformAttach); ok {
			if a.Role == amqp.RoleReceiver {
				return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformAttach{
					Name: a.Name, Handle: receiverPeerHandle, Role: amqp.RoleSender, Source: a.Source,
				}}}
			}
			// the peer replies as receiver and grants link-credit so requests
			// can be sent.
			handle, credit, deliveryCount := senderPeerHandle, uint32(100), uint32(0)
			return []frames.Frame{
				{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformAttach{
					Name: a.Name, Handle: senderPeerHandle, Role: amqp.RoleReceiver, Target: a.Target,
				}},
				{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformFlow{
					IncomingWindow: 100, OutgoingWindow: 100,
					Handle: &handle, DeliveryCount: &deliveryCount, LinkCredit: &credit,
				}},
			}
		}
		if tr, ok := fr.Body.(*frames.PerformTransfer); ok {
			var req amqp.Message
			require.NoError(t, req.Unmarshal(buffer.New(append([]byte(nil), fr.Payload...))))

			deliveryID := uint32(0)
			if tr.DeliveryID != nil {
				deliveryID = *tr.DeliveryID
			}
			respMsg := respond(&req)
			respDeliveryID := deliveryID + 100

			return []frames.Frame{
				{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformDisposition{
					Role: amqp.RoleReceiver, First: deliveryID, Settled: true, State: &encoding.StateAccepted{},
				}},
				{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformTransfer{
					Handle: receiverPeerHandle, DeliveryID: &respDeliveryID, DeliveryTag: []byte("r"), Settled: true,
				}, Payload: encodeMessage(t, respMsg)},
			}
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := amqp.Dial(ctx, tp, amqp.ConnContainerID("client"))
	require.NoError(t, err)
	return conn
}

func TestExecuteOperationSucceeds(t *testing.T) {
	conn := dialWithManagementPeer(t, func(req *amqp.Message) *amqp.Message {
		require.Equal(t, "get-partition-ids", req.ApplicationProperties["operation"])
		return &amqp.Message{
			Properties: &amqp.MessageProperties{CorrelationID: req.Properties.MessageID},
			ApplicationProperties: map[string]any{
				"statusCode":        int32(200),
				"statusDescription": "OK",
			},
			Value: "0,1",
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := conn.NewSession(ctx)
	require.NoError(t, err)

	client := NewClient(sess)
	require.NoError(t, client.Open(ctx))

	resp, err := client.ExecuteOperation(ctx, "get-partition-ids", "com.microsoft:eventhub", "hub1", nil)
	require.NoError(t, err)
	require.EqualValues(t, 200, resp.StatusCode)
	require.Equal(t, "0,1", resp.Message.Value)
}

func TestExecuteOperationFailureStatus(t *testing.T) {
	conn := dialWithManagementPeer(t, func(req *amqp.Message) *amqp.Message {
		return &amqp.Message{
			Properties: &amqp.MessageProperties{CorrelationID: req.Properties.MessageID},
			ApplicationProperties: map[string]any{
				"statusCode":        int32(404),
				"statusDescription": "not found",
			},
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := conn.NewSession(ctx)
	require.NoError(t, err)

	client := NewClient(sess)
	require.NoError(t, client.Open(ctx))

	_, err = client.ExecuteOperation(ctx, "get-partition-ids", "", "hub1", nil)
	require.Error(t, err)
}
