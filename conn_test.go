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

func TestDialPlainOpensConnection(t *testing.T) {
	tp := mocks.NewTransport(func(fr frames.Frame) []frames.Frame {
		if fr.Body == nil {
			// echoed protocol header marker: reply with the peer's Open.
			if fr.Type == frames.TypeAMQP {
				return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformOpen{
					ContainerID:  "peer",
					MaxFrameSize: 4294967295,
					ChannelMax:   65535,
				}}}
			}
			return nil
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, tp, ConnContainerID("client"))
	require.NoError(t, err)
	require.Equal(t, EndpointStateOpened, conn.State())
	require.Equal(t, "peer", conn.remoteOpen.ContainerID)
}

func TestDialSASLPlainNegotiatesThenOpens(t *testing.T) {
	tp := mocks.NewTransport(func(fr frames.Frame) []frames.Frame {
		if fr.Body == nil {
			switch fr.Type {
			case frames.TypeSASL:
				return []frames.Frame{{Type: frames.TypeSASL, Channel: 0, Body: &frames.SASLMechanisms{
					Mechanisms: []encoding.Symbol{"PLAIN"},
				}}}
			case frames.TypeAMQP:
				return []frames.Frame{{Type: frames.TypeAMQP, Channel: 0, Body: &frames.PerformOpen{
					ContainerID:  "peer",
					MaxFrameSize: 4294967295,
					ChannelMax:   65535,
				}}}
			}
			return nil
		}

		switch fr.Body.(type) {
		case *frames.SASLInit:
			return []frames.Frame{{Type: frames.TypeSASL, Channel: 0, Body: &frames.SASLOutcome{Code: 0}}}
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, tp, ConnSASLPlain("user", "pass"), ConnContainerID("client"))
	require.NoError(t, err)
	require.Equal(t, EndpointStateOpened, conn.State())
}

func TestDialSASLOutcomeFailureAbortsDial(t *testing.T) {
	tp := mocks.NewTransport(func(fr frames.Frame) []frames.Frame {
		if fr.Body == nil && fr.Type == frames.TypeSASL {
			return []frames.Frame{{Type: frames.TypeSASL, Channel: 0, Body: &frames.SASLMechanisms{
				Mechanisms: []encoding.Symbol{"ANONYMOUS"},
			}}}
		}
		if _, ok := fr.Body.(*frames.SASLInit); ok {
			return []frames.Frame{{Type: frames.TypeSASL, Channel: 0, Body: &frames.SASLOutcome{Code: 1}}}
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Dial(ctx, tp, ConnSASLAnonymous())
	require.Error(t, err)
}

func TestDialUnsupportedSASLMechanismFails(t *testing.T) {
	tp := mocks.NewTransport(func(fr frames.Frame) []frames.Frame {
		if fr.Body == nil && fr.Type == frames.TypeSASL {
			return []frames.Frame{{Type: frames.TypeSASL, Channel: 0, Body: &frames.SASLMechanisms{
				Mechanisms: []encoding.Symbol{"GSSAPI"},
			}}}
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Dial(ctx, tp, ConnSASLPlain("user", "pass"))
	require.Error(t, err)
}
