package pdu

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/caio-sobreiro/dicomacse/errors"
	"github.com/caio-sobreiro/dicomacse/interfaces"
	"github.com/caio-sobreiro/dicomacse/transport"
	"github.com/caio-sobreiro/dicomacse/types"
)

// NetworkRole selects which side of associations a Network serves.
type NetworkRole int

const (
	NetworkAcceptor NetworkRole = iota
	NetworkRequestor
	NetworkAcceptorRequestor
)

func (r NetworkRole) String() string {
	switch r {
	case NetworkAcceptor:
		return "acceptor"
	case NetworkRequestor:
		return "requestor"
	case NetworkAcceptorRequestor:
		return "acceptor/requestor"
	default:
		return "unknown"
	}
}

func (r NetworkRole) accepts() bool  { return r == NetworkAcceptor || r == NetworkAcceptorRequestor }
func (r NetworkRole) requests() bool { return r == NetworkRequestor || r == NetworkAcceptorRequestor }

// Option configures a Network
type Option func(*Network)

// WithLogger sets the logger used by the network and its associations.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Network) {
		n.logger = logger
	}
}

// WithTimeouts sets the socket timeouts applied to every new connection.
func WithTimeouts(t transport.Timeouts) Option {
	return func(n *Network) {
		n.timeouts = t
	}
}

// WithListener makes an acceptor use ln instead of opening its own port.
func WithListener(ln net.Listener) Option {
	return func(n *Network) {
		n.listener = ln
	}
}

// WithDialer replaces the dialer used by requestors.
func WithDialer(d transport.Dialer) Option {
	return func(n *Network) {
		n.dialer = d
	}
}

// WithTLSConfig makes new connections use TLS.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(n *Network) {
		n.tlsConfig = cfg
	}
}

// Network is the upper layer engine endpoint for one process.
type Network struct {
	role      NetworkRole
	timeout   time.Duration
	timeouts  transport.Timeouts
	listener  net.Listener
	dialer    transport.Dialer
	tlsConfig *tls.Config
	logger    *slog.Logger

	mu      sync.Mutex
	pending []net.Conn
	closed  bool
}

var _ interfaces.UpperLayer = (*Network)(nil)

// InitializeNetwork creates a network endpoint. Acceptors listen on
// acceptorPort unless WithListener is given. timeout bounds each PDU
// exchange during negotiation; zero or negative means no bound.
func InitializeNetwork(role NetworkRole, acceptorPort int, timeout time.Duration, opts ...Option) (*Network, error) {
	n := &Network{
		role:     role,
		timeout:  timeout,
		timeouts: transport.DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(n)
	}

	if role.accepts() && n.listener == nil {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", acceptorPort))
		if err != nil {
			return nil, errors.NewNetworkError("listen", err)
		}
		n.listener = ln
	}

	n.log().Debug("Network initialized", "role", role.String(), "port", acceptorPort, "acse_timeout", timeout)
	return n, nil
}

func (n *Network) log() *slog.Logger {
	if n.logger != nil {
		return n.logger
	}
	return slog.Default()
}

// Addr returns the listening address, or nil for a pure requestor.
func (n *Network) Addr() net.Addr {
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

// Close stops listening and drops any connection accepted but not yet received.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for _, conn := range n.pending {
		conn.Close()
	}
	n.pending = nil
	if n.listener != nil {
		return n.listener.Close()
	}
	return nil
}

// SetTransportLayer switches new connections to TLS, or back to TCP when cfg is nil.
func (n *Network) SetTransportLayer(cfg *tls.Config) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tlsConfig = cfg
}

func (n *Network) secureConfig() *tls.Config {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tlsConfig
}

// AssociationWaiting reports whether a connection is ready to be received.
// An accepted connection is kept for the next ReceiveAssociationRequest.
func (n *Network) AssociationWaiting(timeout time.Duration) bool {
	n.mu.Lock()
	queued := len(n.pending)
	n.mu.Unlock()
	if queued > 0 {
		return true
	}
	if n.listener == nil {
		return false
	}

	// Accept runs unlocked so Close can interrupt it.
	conn, err := n.acceptWithin(timeout)
	if err != nil {
		return false
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		conn.Close()
		return false
	}
	n.pending = append(n.pending, conn)
	return true
}

type deadliner interface {
	SetDeadline(time.Time) error
}

func (n *Network) acceptWithin(timeout time.Duration) (net.Conn, error) {
	if dl, ok := n.listener.(deadliner); ok {
		if timeout >= 0 {
			// A deadline already in the past never polls the socket.
			if timeout < time.Millisecond {
				timeout = time.Millisecond
			}
			_ = dl.SetDeadline(time.Now().Add(timeout))
		} else {
			_ = dl.SetDeadline(time.Time{})
		}
	}
	return n.listener.Accept()
}

func (n *Network) takePending() net.Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.pending) == 0 {
		return nil
	}
	conn := n.pending[0]
	n.pending = n.pending[1:]
	return conn
}

func (n *Network) acceptBlocking(ctx context.Context) (net.Conn, error) {
	if conn := n.takePending(); conn != nil {
		return conn, nil
	}

	dl, hasDeadline := n.listener.(deadliner)
	if hasDeadline {
		d, ok := ctx.Deadline()
		if !ok {
			d = time.Time{}
		}
		_ = dl.SetDeadline(d)
		stop := context.AfterFunc(ctx, func() { _ = dl.SetDeadline(time.Now()) })
		defer stop()
	}

	conn, err := n.listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

func (n *Network) wrap(ctx context.Context, conn net.Conn, server bool) (transport.Connection, error) {
	cfg := n.secureConfig()
	if cfg == nil {
		return transport.NewPlainConnection(conn, n.timeouts), nil
	}
	var tc *tls.Conn
	if server {
		tc = tls.Server(conn, cfg)
	} else {
		tc = tls.Client(conn, cfg)
	}
	sc := transport.NewSecureConnection(tc, n.timeouts)
	if err := sc.Handshake(ctx); err != nil {
		sc.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return sc, nil
}

func (n *Network) negotiationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.timeout > 0 {
		return context.WithTimeout(ctx, n.timeout)
	}
	return context.WithCancel(ctx)
}

// ReceiveAssociationRequest waits for a connection, reads its
// A-ASSOCIATE-RQ and copies the request into params.
func (n *Network) ReceiveAssociationRequest(ctx context.Context, params *types.ServiceParameters, block bool) (interfaces.UpperLayerAssociation, error) {
	if !n.role.accepts() || n.listener == nil {
		return nil, errors.NewNegotiationError(errors.KindIllegalCall, "network role %s cannot accept associations", n.role)
	}
	if !block && !n.AssociationWaiting(0) {
		return nil, errors.ErrNoAssociationWaiting
	}

	raw, err := n.acceptBlocking(ctx)
	if err != nil {
		return nil, errors.NewNetworkError("accept", err)
	}

	nctx, cancel := n.negotiationContext(ctx)
	defer cancel()

	conn, err := n.wrap(nctx, raw, true)
	if err != nil {
		raw.Close()
		return nil, errors.NewNetworkError("accept", err)
	}
	assoc := newAssociation(conn, params.MaxPDU, n.log())

	pdu, err := assoc.read(nctx)
	if err != nil {
		assoc.DropAssociation()
		return nil, errors.NewNetworkError("read A-ASSOCIATE-RQ", err)
	}
	if pdu.Type != types.TypeAssociateRQ {
		assoc.sendAbort(nctx, types.AbortItems{Source: 0x02, Reason: 0x02})
		return nil, errors.NewPDUError(pdu.Type, "expected A-ASSOCIATE-RQ")
	}

	request, err := DecodeAssociateRQ(pdu.Data)
	if stderrors.Is(err, errProtocolVersion) {
		_ = assoc.write(nctx, EncodeAssociateRJ(types.RejectItems{Result: 0x01, Source: 0x02, Reason: 0x02}))
		assoc.DropAssociation()
		return nil, errors.NewPDUError(types.TypeAssociateRQ, err.Error())
	}
	if err != nil {
		assoc.sendAbort(nctx, types.AbortItems{Source: 0x02, Reason: 0x06})
		return nil, err
	}

	params.ApplicationContextName = request.ApplicationContextName
	params.CallingAPTitle = request.CallingAPTitle
	params.CalledAPTitle = request.CalledAPTitle
	params.RequestedPresentationContexts = request.RequestedPresentationContexts
	params.AcceptedPresentationContexts = nil
	params.PeerMaxPDU = request.PeerMaxPDU
	params.CallingImplementationClassUID = request.CallingImplementationClassUID
	params.CallingImplementationVersionName = request.CallingImplementationVersionName
	params.RequestedExtendedNegotiation = request.RequestedExtendedNegotiation
	params.UserIdentityRQ = request.UserIdentityRQ
	params.CallingPresentationAddress = conn.RemoteAddr().String()
	params.CalledPresentationAddress = n.listener.Addr().String()
	params.UseSecureLayer = !conn.Transparent()
	assoc.peerMaxPDU = request.PeerMaxPDU

	n.log().Debug("Received A-ASSOCIATE-RQ",
		"calling_ae", request.CallingAPTitle,
		"called_ae", request.CalledAPTitle,
		"remote_addr", conn.RemoteAddr(),
		"contexts", len(request.RequestedPresentationContexts),
		"max_pdu", request.PeerMaxPDU)
	return assoc, nil
}

// RequestAssociation dials params.CalledPresentationAddress, sends the
// request and waits for the peer's accept or reject.
func (n *Network) RequestAssociation(ctx context.Context, params *types.ServiceParameters) (interfaces.UpperLayerAssociation, error) {
	if !n.role.requests() {
		return nil, errors.NewNegotiationError(errors.KindIllegalCall, "network role %s cannot request associations", n.role)
	}

	rq, err := EncodeAssociateRQ(params)
	if err != nil {
		return nil, err
	}

	nctx, cancel := n.negotiationContext(ctx)
	defer cancel()

	conn, err := n.dial(nctx, params.CalledPresentationAddress)
	if err != nil {
		return nil, errors.NewNetworkError("connect", err)
	}
	assoc := newAssociation(conn, params.MaxPDU, n.log())

	if err := assoc.write(nctx, rq); err != nil {
		assoc.DropAssociation()
		return nil, errors.NewNetworkError("send A-ASSOCIATE-RQ", err)
	}

	pdu, err := assoc.read(nctx)
	if err != nil {
		assoc.DropAssociation()
		return nil, errors.NewNetworkError("read A-ASSOCIATE response", err)
	}

	switch pdu.Type {
	case types.TypeAssociateAC:
		if err := DecodeAssociateAC(pdu.Data, params); err != nil {
			assoc.sendAbort(nctx, types.AbortItems{Source: 0x02, Reason: 0x06})
			return nil, err
		}
		assoc.peerMaxPDU = params.PeerMaxPDU
		return assoc, nil
	case types.TypeAssociateRJ:
		assoc.DropAssociation()
		return nil, DecodeAssociateRJ(pdu.Data)
	case types.TypeAbort:
		assoc.DropAssociation()
		return nil, DecodeAbort(pdu.Data)
	default:
		assoc.sendAbort(nctx, types.AbortItems{Source: 0x02, Reason: 0x02})
		return nil, errors.NewPDUError(pdu.Type, "unexpected PDU during association negotiation")
	}
}

func (n *Network) dial(ctx context.Context, address string) (transport.Connection, error) {
	if n.dialer != nil {
		return n.dialer.Dial(ctx, address)
	}
	if cfg := n.secureConfig(); cfg != nil {
		return (&transport.TLSDialer{Timeouts: n.timeouts, Config: cfg}).Dial(ctx, address)
	}
	return (&transport.TCPDialer{Timeouts: n.timeouts}).Dial(ctx, address)
}
