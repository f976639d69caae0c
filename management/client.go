// Package management implements the request/response management-node
// protocol (spec §4.9, C9): Open attaches a paired sender and receiver, and
// ExecuteOperation sends a request correlated by message-id and waits for
// the reply carrying the same correlation-id.
//
// Grounded on the retrieved eventhub client's getPartitionIDs/
// CheckMessageResponse (other_examples/b22b047b_amenzhinsky-iothub__eventhub-client.go.go).
package management

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/Azure/go-amqp-transport"
	"github.com/Azure/go-amqp-transport/internal/debug"
	"github.com/Azure/go-amqp-transport/internal/shared"
	"github.com/opentracing/opentracing-go"
)

// Response is an executed operation's result (spec §4.9).
type Response struct {
	StatusCode        int32
	StatusDescription string
	Message           *amqp.Message
}

// Client sends management operations to a node (default "$management") over
// a dedicated request/response link pair (spec §4.9, §6).
type Client struct {
	session *amqp.Session
	opts    *amqp.ManagementClientOptions

	replyTo  string
	sender   *amqp.Sender
	receiver *amqp.Receiver

	// mu guards waiters, the correlation-id -> reply-channel map that lets
	// concurrent ExecuteOperation calls share one receiver link without
	// ever observing each other's response (spec §4.9).
	mu      sync.Mutex
	waiters map[string]chan *amqp.Message
}

// NewClient returns a Client that has not yet attached its links; call Open
// before ExecuteOperation.
func NewClient(session *amqp.Session, opts ...amqp.ManagementOption) *Client {
	o := amqp.DefaultManagementClientOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Client{
		session: session,
		opts:    o,
		replyTo: shared.RandString(24),
		waiters: make(map[string]chan *amqp.Message),
	}
}

// Open attaches the request sender and reply receiver (spec §4.9, C9).
func (c *Client) Open(ctx context.Context) error {
	recv, err := c.session.NewReceiver(ctx, c.opts.ManagementNodeName, amqp.LinkTargetAddress(c.replyTo))
	if err != nil {
		return fmt.Errorf("amqp: management: attaching receiver: %w", err)
	}

	send, err := c.session.NewSender(ctx, c.opts.ManagementNodeName, amqp.LinkSourceAddress(c.replyTo))
	if err != nil {
		recv.Close(context.Background())
		return fmt.Errorf("amqp: management: attaching sender: %w", err)
	}

	c.receiver = recv
	c.sender = send
	go c.dispatchLoop()
	return nil
}

// dispatchLoop is the single reader of c.receiver: it hands each reply to
// the ExecuteOperation call whose message-id matches the reply's
// correlation-id, so no call can ever observe another's response (spec
// §4.9). It exits once the receiver's link detaches (Close).
func (c *Client) dispatchLoop() {
	for {
		msg, err := c.receiver.WaitForIncomingMessage(context.Background())
		if err != nil {
			c.mu.Lock()
			for mid, ch := range c.waiters {
				close(ch)
				delete(c.waiters, mid)
			}
			c.mu.Unlock()
			return
		}

		var mid string
		if msg.Properties != nil {
			mid, _ = msg.Properties.CorrelationID.(string)
		}

		c.mu.Lock()
		ch, ok := c.waiters[mid]
		if ok {
			delete(c.waiters, mid)
		}
		c.mu.Unlock()

		if !ok {
			debug.Log(1, "management: reply for unknown correlation-id %q, releasing", mid)
			msg.Release()(context.Background())
			continue
		}
		ch <- msg
	}
}

// Close detaches both links.
func (c *Client) Close(ctx context.Context) error {
	sendErr := c.sender.Close(ctx)
	recvErr := c.receiver.Close(ctx)
	if sendErr != nil {
		return sendErr
	}
	return recvErr
}

// ExecuteOperation sends a management request naming operation/entityType
// against entityName, carrying applicationProperties (merged over
// operation/type/name), and waits for the correlated reply (spec §4.9).
func (c *Client) ExecuteOperation(ctx context.Context, operation, entityType, entityName string, applicationProperties map[string]any) (*Response, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "management.Client.ExecuteOperation")
	defer span.Finish()

	mid := shared.RandString(32)

	props := map[string]any{
		"operation": operation,
	}
	if entityType != "" {
		props["type"] = entityType
	}
	if entityName != "" {
		props["name"] = entityName
	}
	for k, v := range applicationProperties {
		props[k] = v
	}

	replyCh := make(chan *amqp.Message, 1)
	c.mu.Lock()
	c.waiters[mid] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, mid)
		c.mu.Unlock()
	}()

	if err := c.sender.Send(ctx, &amqp.Message{
		Properties: &amqp.MessageProperties{
			MessageID: mid,
			ReplyTo:   c.replyTo,
		},
		ApplicationProperties: props,
	}, nil); err != nil {
		return nil, fmt.Errorf("amqp: management: sending %s request: %w", operation, err)
	}

	var msg *amqp.Message
	select {
	case m, ok := <-replyCh:
		if !ok {
			return nil, fmt.Errorf("amqp: management: receiver closed waiting for %s response", operation)
		}
		msg = m
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	code, desc := statusOf(msg, c.opts)
	resp := &Response{StatusCode: code, StatusDescription: desc, Message: msg}
	// Status = Ok iff 200 <= StatusCode <= 299 (spec §4.9).
	if code < 200 || code > 299 {
		msg.Release()(context.Background())
		return resp, fmt.Errorf("amqp: management: %s failed with status %d: %s", operation, code, desc)
	}
	if err := msg.Accept()(context.Background()); err != nil {
		return resp, err
	}
	return resp, nil
}

func statusOf(msg *amqp.Message, o *amqp.ManagementClientOptions) (int32, string) {
	var code int32
	switch v := msg.ApplicationProperties[o.ExpectedStatusCodeKeyName].(type) {
	case int32:
		code = v
	case int:
		code = int32(v)
	}
	desc, _ := msg.ApplicationProperties[o.ExpectedStatusDescriptionKeyName].(string)
	return code, desc
}
