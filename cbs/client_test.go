package cbs

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

type stubCredential struct {
	token string
}

func (s *stubCredential) GetToken(_ context.Context, scopes ...string) (amqp.AccessToken, error) {
	return amqp.AccessToken{Token: s.token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func encodeMessage(t *testing.T, msg *amqp.Message) []byte {
	t.Helper()
	var wr buffer.Buffer
	require.NoError(t, msg.Marshal(&wr))
	return append([]byte(nil), wr.Bytes()...)
}

const (
	receiverPeerHandle = uint32(9000)
	senderPeerHandle   = uint32(9001)
)

func dialWithCBSPeer(t *testing.T) *amqp.Connection {
	t.Helper()

	// client link handle -> the peer's handle for that link, so each
	// client Detach is answered once with the handle the client routes by.
	peerHandles := map[uint32]uint32{}

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
				// this is our receiver link attaching; the peer replies as sender.
				peerHandles[a.Handle] = receiverPeerHandle
				return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformAttach{
					Name: a.Name, Handle: receiverPeerHandle, Role: amqp.RoleSender, Source: a.Source,
				}}}
			}
			// this is our sender link attaching; the peer replies as receiver
			// and grants link-credit so the request can be sent.
			peerHandles[a.Handle] = senderPeerHandle
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
		if d, ok := fr.Body.(*frames.PerformDetach); ok {
			peer, ok := peerHandles[d.Handle]
			if !ok {
				// already answered: this is the client echoing the peer's Detach.
				return nil
			}
			delete(peerHandles, d.Handle)
			return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformDetach{
				Handle: peer, Closed: d.Closed,
			}}}
		}
		if tr, ok := fr.Body.(*frames.PerformTransfer); ok {
			deliveryID := uint32(0)
			if tr.DeliveryID != nil {
				deliveryID = *tr.DeliveryID
			}
			resp := amqp.Message{
				ApplicationProperties: map[string]any{
					"status-code":        int32(200),
					"status-description": "Accepted",
				},
			}
			respDeliveryID := uint32(1)
			return []frames.Frame{
				{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformDisposition{
					Role: amqp.RoleReceiver, First: deliveryID, Settled: true, State: &encoding.StateAccepted{},
				}},
				{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformTransfer{
					Handle: receiverPeerHandle, DeliveryID: &respDeliveryID, DeliveryTag: []byte("r1"), Settled: true,
				}, Payload: encodeMessage(t, &resp)},
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

func TestNegotiateClaimSucceeds(t *testing.T) {
	conn := dialWithCBSPeer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := conn.NewSession(ctx)
	require.NoError(t, err)

	client := NewClient(sess, &stubCredential{token: "sas-token"})
	require.NoError(t, client.NegotiateClaim(ctx, "sb://ns.servicebus.windows.net/queue"))
}
