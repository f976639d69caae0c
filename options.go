package amqp

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// EndpointState is the coarse lifecycle state this library reports to
// Connection/Session/Link observers (original source's `endpoint.hpp`,
// supplemented per SPEC_FULL.md).
type EndpointState int

const (
	EndpointStateNotStarted EndpointState = iota
	EndpointStateOpening
	EndpointStateOpened
	EndpointStateClosing
	EndpointStateClosed
	EndpointStateError
)

func (s EndpointState) String() string {
	switch s {
	case EndpointStateNotStarted:
		return "not-started"
	case EndpointStateOpening:
		return "opening"
	case EndpointStateOpened:
		return "opened"
	case EndpointStateClosing:
		return "closing"
	case EndpointStateClosed:
		return "closed"
	case EndpointStateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	defaultIdleTimeout     = 60 * time.Second
	defaultMaxFrameSize    = math.MaxUint32
	minMaxFrameSize        = 512
	defaultMaxChannelCount = 65535
	defaultIdleTimeoutRatio = 0.5
)

// ConnectionOptions configures a Connection (spec §6 "Configuration").
type ConnectionOptions struct {
	IdleTimeout         time.Duration
	MaxFrameSize        uint32
	MaxChannelCount      uint16
	ContainerID         string
	Port                int
	EnableTrace         bool
	AuthenticationScopes []string
	Properties          map[string]any
	BufferSize          int
	OfferedCapabilities []Symbol
	DesiredCapabilities []Symbol
	IncomingLocales     []Symbol
	OutgoingLocales     []Symbol

	// IdleTimeoutRatio sets the fraction of the negotiated idle-timeout at
	// which this side proactively sends an empty keep-alive frame (spec
	// §4.4), default 0.5.
	IdleTimeoutRatio float64

	// SASLType selects the SASL mechanism negotiated before the AMQP
	// protocol header, spec §1 ("SASL beyond Anonymous/Plain" is the only
	// excluded scope -- Anonymous and Plain are in scope).
	SASLType     SASLMechanism
	SASLUsername string
	SASLPassword string

	OnStateChange func(EndpointState)
}

// SASLMechanism selects which SASL mechanism, if any, Dial negotiates
// before the AMQP protocol header (spec §1, §4.4).
type SASLMechanism int

const (
	SASLNone SASLMechanism = iota
	SASLAnonymous
	SASLPlain
)

// ConnSASLAnonymous negotiates the SASL ANONYMOUS mechanism before Open.
func ConnSASLAnonymous() ConnOption {
	return func(o *ConnectionOptions) { o.SASLType = SASLAnonymous }
}

// ConnSASLPlain negotiates the SASL PLAIN mechanism with username/password
// before Open.
func ConnSASLPlain(username, password string) ConnOption {
	return func(o *ConnectionOptions) {
		o.SASLType = SASLPlain
		o.SASLUsername = username
		o.SASLPassword = password
	}
}

// ConnOption mutates a ConnectionOptions; applied in order by Dial.
type ConnOption func(*ConnectionOptions)

func defaultConnectionOptions() *ConnectionOptions {
	return &ConnectionOptions{
		IdleTimeout:      defaultIdleTimeout,
		MaxFrameSize:     defaultMaxFrameSize,
		MaxChannelCount:  defaultMaxChannelCount,
		ContainerID:      uuid.NewString(),
		IdleTimeoutRatio: defaultIdleTimeoutRatio,
	}
}

// ConnIdleTimeout overrides the local idle-timeout advertised in Open.
func ConnIdleTimeout(d time.Duration) ConnOption {
	return func(o *ConnectionOptions) { o.IdleTimeout = d }
}

// ConnMaxFrameSize overrides the local max-frame-size advertised in Open,
// floored at 512 per spec §4.4.
func ConnMaxFrameSize(n uint32) ConnOption {
	return func(o *ConnectionOptions) {
		if n < minMaxFrameSize {
			n = minMaxFrameSize
		}
		o.MaxFrameSize = n
	}
}

// ConnMaxChannelCount overrides the local channel-max advertised in Open.
func ConnMaxChannelCount(n uint16) ConnOption {
	return func(o *ConnectionOptions) { o.MaxChannelCount = n }
}

// ConnContainerID overrides the randomly generated container-id.
func ConnContainerID(id string) ConnOption {
	return func(o *ConnectionOptions) { o.ContainerID = id }
}

// ConnProperty sets a single entry of the Open performative's properties
// map.
func ConnProperty(key string, value any) ConnOption {
	return func(o *ConnectionOptions) {
		if o.Properties == nil {
			o.Properties = make(map[string]any)
		}
		o.Properties[key] = value
	}
}

// ConnOfferedCapabilities sets the Open performative's offered-capabilities.
func ConnOfferedCapabilities(caps ...Symbol) ConnOption {
	return func(o *ConnectionOptions) { o.OfferedCapabilities = caps }
}

// ConnDesiredCapabilities sets the Open performative's desired-capabilities.
func ConnDesiredCapabilities(caps ...Symbol) ConnOption {
	return func(o *ConnectionOptions) { o.DesiredCapabilities = caps }
}

// ConnAuthenticationScopes records CBS audience scopes in
// ConnectionOptions.AuthenticationScopes. The Connection, its Sessions and
// their links do not read this field; no CBS authentication is performed
// on attach.
func ConnAuthenticationScopes(scopes ...string) ConnOption {
	return func(o *ConnectionOptions) { o.AuthenticationScopes = scopes }
}

// ConnOnStateChange registers an observer called whenever the Connection's
// EndpointState transitions.
func ConnOnStateChange(f func(EndpointState)) ConnOption {
	return func(o *ConnectionOptions) { o.OnStateChange = f }
}

const (
	defaultSessionWindow = 5000
	defaultMaxLinks      = 4294967295
)

// SessionOptions configures a Session (spec §6).
type SessionOptions struct {
	InitialIncomingWindowSize uint32
	InitialOutgoingWindowSize uint32
	MaximumLinkCount          uint32
	OnStateChange             func(EndpointState)
}

// SessionOption mutates a SessionOptions.
type SessionOption func(*SessionOptions)

func defaultSessionOptions() *SessionOptions {
	return &SessionOptions{
		InitialIncomingWindowSize: defaultSessionWindow,
		InitialOutgoingWindowSize: defaultSessionWindow,
		MaximumLinkCount:          defaultMaxLinks,
	}
}

// SessionIncomingWindow overrides the initial incoming-window.
func SessionIncomingWindow(n uint32) SessionOption {
	return func(o *SessionOptions) { o.InitialIncomingWindowSize = n }
}

// SessionOutgoingWindow overrides the initial outgoing-window.
func SessionOutgoingWindow(n uint32) SessionOption {
	return func(o *SessionOptions) { o.InitialOutgoingWindowSize = n }
}

// SessionMaxLinks overrides handle-max (the maximum number of links this
// session may own concurrently).
func SessionMaxLinks(n uint32) SessionOption {
	return func(o *SessionOptions) { o.MaximumLinkCount = n }
}

// SessionOnStateChange registers an observer for this session's
// EndpointState transitions.
func SessionOnStateChange(f func(EndpointState)) SessionOption {
	return func(o *SessionOptions) { o.OnStateChange = f }
}

const defaultLinkCredit = 1000

// SenderOptions configures a Sender (spec §6).
type SenderOptions struct {
	Name                   string
	SettleMode             SenderSettleMode
	MessageSource           string
	MaxMessageSize          uint64
	MaxLinkCredits          uint32
	InitialDeliveryCount    uint32
	AuthenticationRequired  bool
	Properties              map[string]any
	OnStateChange           func(EndpointState)
}

// SenderOption mutates a SenderOptions.
type SenderOption func(*SenderOptions)

func defaultSenderOptions() *SenderOptions {
	return &SenderOptions{
		SettleMode:     ModeMixed,
		MaxLinkCredits: defaultLinkCredit,
	}
}

// LinkName overrides the link's generated name.
func LinkName(name string) SenderOption {
	return func(o *SenderOptions) { o.Name = name }
}

// LinkSenderSettleMode overrides the negotiated sender settle mode.
func LinkSenderSettleMode(m SenderSettleMode) SenderOption {
	return func(o *SenderOptions) { o.SettleMode = m }
}

// LinkSourceAddress sets the address this sender's implicit dynamic
// Source/Target carries, depending on role -- for a Sender this is the
// reply-to address some request/response protocols (CBS, Management)
// require.
func LinkSourceAddress(addr string) SenderOption {
	return func(o *SenderOptions) { o.MessageSource = addr }
}

// LinkMaxMessageSize bounds the size of a single message this sender may
// transmit.
func LinkMaxMessageSize(n uint64) SenderOption {
	return func(o *SenderOptions) { o.MaxMessageSize = n }
}

// LinkAuthenticationRequired sets SenderOptions.AuthenticationRequired.
// Sender.Open does not read the flag: the link attaches without any CBS
// authentication of its target.
func LinkAuthenticationRequired() SenderOption {
	return func(o *SenderOptions) { o.AuthenticationRequired = true }
}

// ReceiverOptions configures a Receiver (spec §6).
type ReceiverOptions struct {
	Name                   string
	SettleMode             ReceiverSettleMode
	MessageTarget           string
	InitialCredit           uint32
	SelectorFilter          string
	AuthenticationRequired  bool
	Properties              map[string]any
	OnStateChange           func(EndpointState)

	// Handler, if set, is consulted for every message received under the
	// First settle mode in place of the default auto-accept (spec §4.7).
	Handler Handler
}

// ReceiverOption mutates a ReceiverOptions.
type ReceiverOption func(*ReceiverOptions)

func defaultReceiverOptions() *ReceiverOptions {
	return &ReceiverOptions{
		SettleMode:    ModeFirst,
		InitialCredit: defaultLinkCredit,
	}
}

// LinkTargetAddress sets the address this receiver's target carries (or,
// symmetrically, the address a sender's target names).
func LinkTargetAddress(addr string) ReceiverOption {
	return func(o *ReceiverOptions) { o.MessageTarget = addr }
}

// LinkCredit sets MaxLinkCredit: the receiver maintains at least half of
// this by emitting Flow frames as messages are consumed (spec §4.7).
func LinkCredit(n uint32) ReceiverOption {
	return func(o *ReceiverOptions) { o.InitialCredit = n }
}

// LinkSelectorFilter attaches a selector-filter to the receiver's Source,
// the way the retrieved eventhub client filters by enqueued-time.
func LinkSelectorFilter(filter string) ReceiverOption {
	return func(o *ReceiverOptions) { o.SelectorFilter = filter }
}

// LinkReceiverSettleMode overrides the negotiated receiver settle mode.
func LinkReceiverSettleMode(m ReceiverSettleMode) ReceiverOption {
	return func(o *ReceiverOptions) { o.SettleMode = m }
}

// ReceiverHandler registers h to decide each message's disposition under the
// First settle mode instead of the default auto-accept (spec §4.7).
func ReceiverHandler(h Handler) ReceiverOption {
	return func(o *ReceiverOptions) { o.Handler = h }
}

const (
	defaultManagementNodeName       = "$management"
	defaultStatusCodeKeyName        = "statusCode"
	defaultStatusDescriptionKeyName = "statusDescription"
)

// ManagementClientOptions configures a Management client (spec §6, §4.9).
type ManagementClientOptions struct {
	ManagementNodeName               string
	ExpectedStatusCodeKeyName        string
	ExpectedStatusDescriptionKeyName string
}

// ManagementOption mutates a ManagementClientOptions.
type ManagementOption func(*ManagementClientOptions)

func defaultManagementClientOptions() *ManagementClientOptions {
	return &ManagementClientOptions{
		ManagementNodeName:               defaultManagementNodeName,
		ExpectedStatusCodeKeyName:        defaultStatusCodeKeyName,
		ExpectedStatusDescriptionKeyName: defaultStatusDescriptionKeyName,
	}
}

// DefaultManagementClientOptions returns a ManagementClientOptions set to
// this library's defaults, for callers (e.g. the management package) that
// need to apply ManagementOptions outside of NewConnection-style
// construction.
func DefaultManagementClientOptions() *ManagementClientOptions {
	return defaultManagementClientOptions()
}

// ManagementNodeName overrides the node this client targets, default
// "$management".
func ManagementNodeName(name string) ManagementOption {
	return func(o *ManagementClientOptions) { o.ManagementNodeName = name }
}

// ManagementStatusCodeKeyName overrides the Application-Properties key a
// response's status code is read from.
func ManagementStatusCodeKeyName(name string) ManagementOption {
	return func(o *ManagementClientOptions) { o.ExpectedStatusCodeKeyName = name }
}

// ManagementStatusDescriptionKeyName overrides the Application-Properties
// key a response's status description is read from.
func ManagementStatusDescriptionKeyName(name string) ManagementOption {
	return func(o *ManagementClientOptions) { o.ExpectedStatusDescriptionKeyName = name }
}
