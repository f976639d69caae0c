package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/Azure/go-amqp-transport/internal/buffer"
	"github.com/Azure/go-amqp-transport/internal/frames"
	"github.com/stretchr/testify/require"
)

func attachTestReceiver(t *testing.T, onDisposition func(*frames.PerformDisposition)) (*Connection, *Receiver) {
	t.Helper()

	var attachedHandle uint32
	conn := dialTestConnection(t, func(fr frames.Frame) []frames.Frame {
		if a, ok := fr.Body.(*frames.PerformAttach); ok {
			attachedHandle = a.Handle
			rsm := ModeFirst
			return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformAttach{
				Name:               a.Name,
				Handle:             2000,
				Role:               RoleSender,
				ReceiverSettleMode: &rsm,
				Source:             a.Source,
			}}}
		}
		if d, ok := fr.Body.(*frames.PerformDisposition); ok && onDisposition != nil {
			onDisposition(d)
		}
		_ = attachedHandle
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := conn.NewSession(ctx)
	require.NoError(t, err)

	rcv, err := sess.NewReceiver(ctx, "queue")
	require.NoError(t, err)
	return conn, rcv
}

func encodeTestMessage(t *testing.T, msg *Message) []byte {
	t.Helper()
	var wr buffer.Buffer
	require.NoError(t, msg.Marshal(&wr))
	return append([]byte(nil), wr.Bytes()...)
}

func TestReceiverHandleTransferAssemblesAndEnqueuesMessage(t *testing.T) {
	_, rcv := attachTestReceiver(t, nil)

	payload := encodeTestMessage(t, &Message{BodyType: BodyTypeValue, Value: "hello"})
	deliveryID := uint32(0)
	rcv.handleTransfer(&frames.PerformTransfer{
		Handle:      rcv.link.handle,
		DeliveryID:  &deliveryID,
		DeliveryTag: []byte("tag-1"),
		Settled:     true,
		Payload:     payload,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := rcv.WaitForIncomingMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Value)
}

func TestReceiverHandleTransferMultiFrame(t *testing.T) {
	_, rcv := attachTestReceiver(t, nil)

	full := encodeTestMessage(t, &Message{BodyType: BodyTypeData, Data: [][]byte{[]byte("0123456789")}})
	mid := len(full) / 2
	deliveryID := uint32(0)

	rcv.handleTransfer(&frames.PerformTransfer{
		Handle:      rcv.link.handle,
		DeliveryID:  &deliveryID,
		DeliveryTag: []byte("tag-2"),
		More:        true,
		Payload:     full[:mid],
	})
	rcv.handleTransfer(&frames.PerformTransfer{
		Handle:  rcv.link.handle,
		Settled: true,
		Payload: full[mid:],
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := rcv.WaitForIncomingMessage(ctx)
	require.NoError(t, err)
	require.Len(t, msg.Data, 1)
	require.Equal(t, "0123456789", string(msg.Data[0]))
}

func TestReceiverSettleMessageSendsDisposition(t *testing.T) {
	var gotDisposition *frames.PerformDisposition
	_, rcv := attachTestReceiver(t, func(d *frames.PerformDisposition) {
		gotDisposition = d
	})

	payload := encodeTestMessage(t, &Message{BodyType: BodyTypeValue, Value: "settle-me"})
	deliveryID := uint32(7)
	rcv.handleTransfer(&frames.PerformTransfer{
		Handle:      rcv.link.handle,
		DeliveryID:  &deliveryID,
		DeliveryTag: []byte("tag-3"),
		Payload:     payload,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := rcv.WaitForIncomingMessage(ctx)
	require.NoError(t, err)

	require.NoError(t, msg.Accept()(ctx))
	require.NotNil(t, gotDisposition)
	require.Equal(t, deliveryID, gotDisposition.First)
	require.True(t, gotDisposition.Settled)
}
