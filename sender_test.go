package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/Azure/go-amqp-transport/internal/encoding"
	"github.com/Azure/go-amqp-transport/internal/frames"
	"github.com/Azure/go-amqp-transport/internal/mocks"
	"github.com/stretchr/testify/require"
)

// dialTestConnection opens a Connection against a mock Transport that
// auto-answers the Open handshake, handing any frame the handshake doesn't
// cover to extra for the test to respond to.
func dialTestConnection(t *testing.T, extra func(fr frames.Frame) []frames.Frame) *Connection {
	t.Helper()

	tp := mocks.NewTransport(func(fr frames.Frame) []frames.Frame {
		if fr.Body == nil && fr.Type == frames.TypeAMQP {
			return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformOpen{
				ContainerID:  "peer",
				MaxFrameSize: 65536,
				ChannelMax:   65535,
			}}}
		}
		if b, ok := fr.Body.(*frames.PerformBegin); ok {
			remote := uint16(0)
			_ = b
			return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformBegin{
				RemoteChannel:  &remote,
				NextOutgoingID: 0,
				IncomingWindow: 100,
				OutgoingWindow: 100,
				HandleMax:      10,
			}}}
		}
		if extra != nil {
			if resp := extra(fr); resp != nil {
				return resp
			}
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, tp, ConnContainerID("client"))
	require.NoError(t, err)
	return conn
}

func TestSenderSendSettledDoesNotBlock(t *testing.T) {
	var attachHandle uint32
	conn := dialTestConnection(t, func(fr frames.Frame) []frames.Frame {
		if a, ok := fr.Body.(*frames.PerformAttach); ok {
			attachHandle = a.Handle
			ssm := ModeSettled
			return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformAttach{
				Name:             a.Name,
				Handle:           1000,
				Role:             RoleReceiver,
				SenderSettleMode: &ssm,
				Target:           a.Target,
				InitialDeliveryCount: 0,
			}}}
		}
		if _, ok := fr.Body.(*frames.PerformTransfer); ok {
			return nil
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := conn.NewSession(ctx)
	require.NoError(t, err)

	snd, err := sess.NewSender(ctx, "queue", LinkSenderSettleMode(ModeSettled))
	require.NoError(t, err)
	require.Equal(t, uint32(0), attachHandle)

	// grant credit so Send doesn't block waiting for link-credit.
	snd.handleFlow(&frames.PerformFlow{})
	snd.link.mu.Lock()
	snd.link.availableCredit = 10
	snd.link.mu.Unlock()

	err = snd.Send(ctx, &Message{Value: "hello"}, nil)
	require.NoError(t, err)
}

func TestSenderSendUnsettledWaitsForDisposition(t *testing.T) {
	var transferDeliveryID uint32
	conn := dialTestConnection(t, func(fr frames.Frame) []frames.Frame {
		if a, ok := fr.Body.(*frames.PerformAttach); ok {
			ssm := ModeUnsettled
			return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformAttach{
				Name:             a.Name,
				Handle:           1000,
				Role:             RoleReceiver,
				SenderSettleMode: &ssm,
				Target:           a.Target,
			}}}
		}
		if tr, ok := fr.Body.(*frames.PerformTransfer); ok {
			if tr.DeliveryID != nil {
				transferDeliveryID = *tr.DeliveryID
			}
			return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformDisposition{
				Role:    RoleReceiver,
				First:   transferDeliveryID,
				Settled: true,
				State:   &encoding.StateAccepted{},
			}}}
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := conn.NewSession(ctx)
	require.NoError(t, err)

	snd, err := sess.NewSender(ctx, "queue", LinkSenderSettleMode(ModeUnsettled))
	require.NoError(t, err)

	snd.link.mu.Lock()
	snd.link.availableCredit = 10
	snd.link.mu.Unlock()

	err = snd.Send(ctx, &Message{Value: "hello"}, nil)
	require.NoError(t, err)
}

func TestSenderSendRejectedDeliveryReturnsError(t *testing.T) {
	var transferDeliveryID uint32
	conn := dialTestConnection(t, func(fr frames.Frame) []frames.Frame {
		if a, ok := fr.Body.(*frames.PerformAttach); ok {
			ssm := ModeUnsettled
			return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformAttach{
				Name:             a.Name,
				Handle:           1000,
				Role:             RoleReceiver,
				SenderSettleMode: &ssm,
				Target:           a.Target,
			}}}
		}
		if tr, ok := fr.Body.(*frames.PerformTransfer); ok {
			if tr.DeliveryID != nil {
				transferDeliveryID = *tr.DeliveryID
			}
			return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformDisposition{
				Role:    RoleReceiver,
				First:   transferDeliveryID,
				Settled: true,
				State:   &encoding.StateRejected{Error: &encoding.Error{Condition: "amqp:internal-error"}},
			}}}
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := conn.NewSession(ctx)
	require.NoError(t, err)

	snd, err := sess.NewSender(ctx, "queue", LinkSenderSettleMode(ModeUnsettled))
	require.NoError(t, err)

	snd.link.mu.Lock()
	snd.link.availableCredit = 10
	snd.link.mu.Unlock()

	err = snd.Send(ctx, &Message{Value: "hello"}, nil)
	require.Error(t, err)
}
