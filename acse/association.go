package acse

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/caio-sobreiro/dicomacse/errors"
	"github.com/caio-sobreiro/dicomacse/interfaces"
	"github.com/caio-sobreiro/dicomacse/transport"
	"github.com/caio-sobreiro/dicomacse/types"
)

// Association is one negotiated (or negotiating) association. It must be
// used by one goroutine at a time.
type Association struct {
	// ID correlates log lines of one association.
	ID     string
	Params *Parameters

	ul            interfaces.UpperLayerAssociation
	nextMsgID     uint16
	sendPDVLength uint32
	sendPDVBuffer []byte
	state         *stateMachine
	logger        *slog.Logger
}

func newAssociation(params *Parameters) *Association {
	id := xid.New().String()
	logger := params.log().With("association_id", id)
	return &Association{
		ID:        id,
		Params:    params,
		nextMsgID: 1,
		state:     newStateMachine(logger),
		logger:    logger,
	}
}

// ReceiveOptions controls ReceiveAssociation.
type ReceiveOptions struct {
	// Block waits for an incoming association. Without it the call fails
	// with errors.ErrNoAssociationWaiting unless one arrives within Timeout.
	Block bool
	// Timeout bounds the wait; zero means no bound when blocking and an
	// immediate check when not.
	Timeout time.Duration
	// UseSecureLayer records that the network runs TLS.
	UseSecureLayer bool
	// Options are applied to the fresh Parameters.
	Options []Option
}

// passThrough reports errors that already carry their meaning.
func passThrough(err error) bool {
	var (
		ne *errors.NetworkError
		ab *errors.AbortError
		as *errors.AssociationError
		pe *errors.PDUError
		ng *errors.NegotiationError
	)
	return stderrors.As(err, &ne) ||
		stderrors.As(err, &ab) ||
		stderrors.As(err, &as) ||
		stderrors.As(err, &pe) ||
		stderrors.As(err, &ng) ||
		stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, errors.ErrNoAssociationWaiting) ||
		stderrors.Is(err, errors.ErrReleaseRequested) ||
		stderrors.Is(err, errors.ErrConnectionClosed)
}

func engineError(op string, err error) error {
	if passThrough(err) {
		return err
	}
	return errors.NewNetworkError(op, err)
}

// RequestAssociation proposes params to the peer at
// params.Service.CalledPresentationAddress. On success the returned
// association is established and the requested list reflects the peer's
// answer.
func RequestAssociation(ctx context.Context, network interfaces.UpperLayer, params *Parameters) (*Association, error) {
	if network == nil || params == nil {
		return nil, errors.ErrNullKey
	}
	if params.CountPresentationContexts() == 0 {
		return nil, errors.NewNegotiationError(errors.KindCodingError, "missing presentation contexts")
	}

	a := newAssociation(params)
	if err := a.state.fire(eventRequest); err != nil {
		return nil, err
	}

	params.Service.MaxPDU = params.OurMaxPDUReceiveSize
	params.Service.CallingImplementationClassUID = params.OurImplementationClassUID
	params.Service.CallingImplementationVersionName = params.OurImplementationVersionName

	a.logger.Debug("Requesting association",
		"called_ae", params.Service.CalledAPTitle,
		"peer_address", params.Service.CalledPresentationAddress,
		"contexts", params.CountPresentationContexts())

	ul, err := network.RequestAssociation(ctx, &params.Service)
	if err != nil {
		a.Drop() //nolint:errcheck
		return nil, engineError("request association", err)
	}
	a.ul = ul

	params.TheirMaxPDUReceiveSize = params.Service.PeerMaxPDU
	a.allocateSendBuffer()
	params.TheirImplementationClassUID = params.Service.CalledImplementationClassUID
	params.TheirImplementationVersionName = params.Service.CalledImplementationVersionName

	if err := params.updateRequestedFromAccepted(); err != nil {
		a.logger.Warn("Accepted and requested presentation contexts differ", "error", err)
	}

	if err := a.state.fire(eventNegotiated); err != nil {
		a.Drop() //nolint:errcheck
		return nil, err
	}
	a.logger.Info("Association established",
		"called_ae", params.Service.CalledAPTitle,
		"accepted_contexts", params.CountAcceptedPresentationContexts(),
		"max_pdu", params.TheirMaxPDUReceiveSize)
	return a, nil
}

// ReceiveAssociation waits for an incoming A-ASSOCIATE-RQ. The returned
// association is negotiating: the caller must accept or refuse the
// proposed contexts and then call Acknowledge or Reject.
func ReceiveAssociation(ctx context.Context, network interfaces.UpperLayer, maxReceivePDUSize uint32, opts ReceiveOptions) (*Association, error) {
	if network == nil {
		return nil, errors.ErrNullKey
	}

	params := NewParameters(maxReceivePDUSize, opts.Options...)
	if err := params.SetTransportLayerType(opts.UseSecureLayer); err != nil {
		return nil, err
	}

	block := opts.Block
	if !block && opts.Timeout > 0 {
		if !network.AssociationWaiting(opts.Timeout) {
			return nil, errors.ErrNoAssociationWaiting
		}
		block = true
	}
	if opts.Block && opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	a := newAssociation(params)
	ul, err := network.ReceiveAssociationRequest(ctx, &params.Service, block)
	if err != nil {
		return nil, engineError("receive association", err)
	}
	a.ul = ul
	if err := a.state.fire(eventReceive); err != nil {
		a.Drop() //nolint:errcheck
		return nil, err
	}

	for i := range params.Service.RequestedPresentationContexts {
		params.Service.RequestedPresentationContexts[i].Result = types.NotYetNegotiated
	}
	params.TheirImplementationClassUID = types.Truncate(params.Service.CallingImplementationClassUID, types.MaxUIDLength)
	params.TheirImplementationVersionName = types.Truncate(params.Service.CallingImplementationVersionName, types.MaxVersionNameLength)
	params.TheirMaxPDUReceiveSize = params.Service.PeerMaxPDU

	a.logger.Debug("Received association request",
		"calling_ae", params.Service.CallingAPTitle,
		"called_ae", params.Service.CalledAPTitle,
		"remote_addr", params.Service.CallingPresentationAddress,
		"contexts", params.CountPresentationContexts())
	return a, nil
}

// Acknowledge sends the A-ASSOCIATE-AC built from the accepted list.
func (a *Association) Acknowledge(ctx context.Context) error {
	if err := a.usable(); err != nil {
		return err
	}
	if err := a.state.check(eventAcknowledge); err != nil {
		return err
	}

	p := a.Params
	p.Service.MaxPDU = p.OurMaxPDUReceiveSize
	p.Service.CalledImplementationClassUID = p.OurImplementationClassUID
	p.Service.CalledImplementationVersionName = p.OurImplementationVersionName

	if err := a.ul.AcknowledgeAssociationRequest(ctx, &p.Service); err != nil {
		a.Drop()
		return engineError("acknowledge association", err)
	}
	a.allocateSendBuffer()
	if err := a.state.fire(eventAcknowledge); err != nil {
		a.Drop() //nolint:errcheck
		return err
	}

	a.logger.Info("Association acknowledged",
		"calling_ae", p.Service.CallingAPTitle,
		"accepted_contexts", p.CountAcceptedPresentationContexts(),
		"max_pdu", p.TheirMaxPDUReceiveSize)
	return nil
}

// Reject refuses the association. The connection is closed afterwards.
func (a *Association) Reject(ctx context.Context, rej RejectParameters) error {
	if err := a.usable(); err != nil {
		return err
	}
	if err := a.state.fire(eventReject); err != nil {
		return err
	}
	a.logger.Info("Rejecting association", "reason", rej.Reason.String())
	if err := a.ul.RejectAssociationRequest(ctx, rej.items()); err != nil {
		return engineError("reject association", err)
	}
	return nil
}

// Release performs an orderly release and returns once the peer confirmed it.
func (a *Association) Release(ctx context.Context) error {
	if err := a.usable(); err != nil {
		return err
	}
	if err := a.state.fire(eventRelease); err != nil {
		return err
	}
	if err := a.ul.ReleaseAssociation(ctx); err != nil {
		a.Drop()
		return engineError("release association", err)
	}
	if err := a.state.fire(eventReleased); err != nil {
		return err
	}
	a.logger.Info("Association released")
	return nil
}

// AcknowledgeRelease confirms a release requested by the peer.
func (a *Association) AcknowledgeRelease(ctx context.Context) error {
	if err := a.usable(); err != nil {
		return err
	}
	if err := a.state.fire(eventPeerRelease); err != nil {
		return err
	}
	if err := a.ul.AcknowledgeRelease(ctx); err != nil {
		return engineError("acknowledge release", err)
	}
	a.logger.Info("Association released by peer")
	return nil
}

// Abort sends an A-ABORT and closes the connection.
func (a *Association) Abort(ctx context.Context) error {
	if err := a.usable(); err != nil {
		return err
	}
	if err := a.state.fire(eventAbort); err != nil {
		return err
	}
	// The A-ABORT goes out even when ctx is already done; the socket send
	// timeout still bounds it.
	err := a.ul.AbortAssociation(context.WithoutCancel(ctx), types.AbortItems{Source: 0x00, Reason: 0x00})
	if stateErr := a.state.fire(eventAborted); stateErr != nil {
		return stateErr
	}
	a.logger.Info("Association aborted")
	if err != nil {
		return engineError("abort association", err)
	}
	return nil
}

// usable reports why a lifecycle call cannot run on a.
func (a *Association) usable() error {
	if a == nil {
		return errors.ErrNilAssociation
	}
	if a.ul == nil {
		return errors.ErrNullKey
	}
	return nil
}

// Drop closes the connection without any PDU exchange. Dropping a nil or
// closed association does nothing.
func (a *Association) Drop() error {
	if a == nil || a.state.is(StateClosed) {
		return nil
	}
	if err := a.state.fire(eventDrop); err != nil {
		return err
	}
	if a.ul == nil {
		return nil
	}
	if err := a.ul.DropAssociation(); err != nil {
		return engineError("drop association", err)
	}
	return nil
}

// DropSCP waits up to timeout for pending inbound data, such as the tail
// of the peer's release sequence, and then drops the association.
func (a *Association) DropSCP(timeout time.Duration) error {
	if a == nil || a.ul == nil || a.state.is(StateClosed) {
		return nil
	}
	a.ul.DataWaiting(timeout)
	return a.Drop()
}

// Destroy drops the connection if still open and releases the parameters
// and send buffer. It is safe to call more than once.
func (a *Association) Destroy() error {
	if a == nil {
		return nil
	}
	err := a.Drop()
	a.Params = nil
	a.sendPDVBuffer = nil
	a.sendPDVLength = 0
	a.ul = nil
	return err
}

// State returns the lifecycle state.
func (a *Association) State() string {
	return a.state.current()
}

// DataWaiting reports whether data from the peer can be read within timeout.
func (a *Association) DataWaiting(timeout time.Duration) bool {
	if a == nil || a.ul == nil {
		return false
	}
	return a.ul.DataWaiting(timeout)
}

// PeerCertificate returns the peer's DER certificate on TLS associations.
func (a *Association) PeerCertificate() []byte {
	if a == nil || a.ul == nil {
		return nil
	}
	return a.ul.PeerCertificate()
}

// Connection returns the transport connection, or nil before negotiation.
func (a *Association) Connection() transport.Connection {
	if a == nil || a.ul == nil || a.state.is(StateClosed) {
		return nil
	}
	return a.ul.Connection()
}

// DumpConnectionParameters describes the transport connection.
func (a *Association) DumpConnectionParameters() string {
	if conn := a.Connection(); conn != nil {
		return conn.Parameters()
	}
	return ""
}

// NextMessageID returns a fresh DIMSE message ID. IDs start at 1 and skip 0
// on wrap-around.
func (a *Association) NextMessageID() uint16 {
	id := a.nextMsgID
	a.nextMsgID++
	if a.nextMsgID == 0 {
		a.nextMsgID = 1
	}
	return id
}

// SendPDVLength is the largest PDV payload sent in one P-DATA-TF.
func (a *Association) SendPDVLength() uint32 {
	return a.sendPDVLength
}

// SendPDVBuffer is the send buffer allocated after negotiation, or nil.
func (a *Association) SendPDVBuffer() []byte {
	return a.sendPDVBuffer
}

func (a *Association) allocateSendBuffer() {
	a.sendPDVLength = computeSendPDVLength(a.Params.TheirMaxPDUReceiveSize, a.logger)
	a.sendPDVBuffer = make([]byte, a.sendPDVLength)
}

// FindAcceptedPresentationContextID returns the ID of the first accepted
// context for abstractSyntax, or 0.
func (a *Association) FindAcceptedPresentationContextID(abstractSyntax string) byte {
	if a == nil || a.Params == nil {
		return 0
	}
	return a.Params.FindAcceptedPresentationContextID(abstractSyntax)
}

// FindAcceptedPresentationContextIDForTransferSyntax returns the accepted
// context that best carries abstractSyntax encoded in transferSyntax, or 0.
func (a *Association) FindAcceptedPresentationContextIDForTransferSyntax(abstractSyntax, transferSyntax string) byte {
	if a == nil || a.Params == nil {
		return 0
	}
	return a.Params.FindAcceptedPresentationContextIDForTransferSyntax(abstractSyntax, transferSyntax)
}

// SendData sends payload on an accepted presentation context, split into
// PDVs of at most SendPDVLength bytes.
func (a *Association) SendData(ctx context.Context, contextID byte, command bool, payload []byte) error {
	if err := a.usable(); err != nil {
		return err
	}
	if !a.state.is(StateEstablished) {
		return errors.NewNegotiationError(errors.KindIllegalCall, "association is %s", a.State())
	}
	if _, err := a.Params.FindAcceptedPresentationContext(contextID); err != nil {
		return err
	}

	offset := 0
	for {
		n := copy(a.sendPDVBuffer, payload[offset:])
		offset += n
		pdv := types.PDV{
			ContextID: contextID,
			Command:   command,
			Last:      offset == len(payload),
			Data:      a.sendPDVBuffer[:n],
		}
		if err := a.ul.WritePDVs(ctx, []types.PDV{pdv}); err != nil {
			return engineError("send data", err)
		}
		if pdv.Last {
			return nil
		}
	}
}

// ReceiveData returns the next PDV from the peer. A peer release request
// is reported as errors.ErrReleaseRequested and should be answered with
// AcknowledgeRelease; an abort closes the association.
func (a *Association) ReceiveData(ctx context.Context) (types.PDV, error) {
	if err := a.usable(); err != nil {
		return types.PDV{}, err
	}
	if !a.state.is(StateEstablished) {
		return types.PDV{}, errors.NewNegotiationError(errors.KindIllegalCall, "association is %s", a.State())
	}
	pdv, err := a.ul.ReadPDV(ctx)
	if err != nil {
		if !stderrors.Is(err, errors.ErrReleaseRequested) {
			a.Drop()
		}
		return types.PDV{}, engineError("receive data", err)
	}
	return pdv, nil
}

// AssociationWaiting reports whether an association request is pending on network.
func AssociationWaiting(network interfaces.UpperLayer, timeout time.Duration) bool {
	if network == nil {
		return false
	}
	return network.AssociationWaiting(timeout)
}

// SetTransportLayer switches network to TLS with cfg, or to plain TCP when cfg is nil.
func SetTransportLayer(network interfaces.UpperLayer, cfg *tls.Config) error {
	if network == nil {
		return errors.ErrNullKey
	}
	network.SetTransportLayer(cfg)
	return nil
}
