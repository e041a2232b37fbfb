package pdu

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/caio-sobreiro/dicomacse/errors"
	"github.com/caio-sobreiro/dicomacse/interfaces"
	"github.com/caio-sobreiro/dicomacse/transport"
	"github.com/caio-sobreiro/dicomacse/types"
)

// pdvHeaderLength is the item length field plus context ID and control header.
const pdvHeaderLength = 6

// Association is the engine's handle for one association. It owns its connection.
type Association struct {
	conn       transport.Connection
	ourMaxPDU  uint32
	peerMaxPDU uint32
	queue      []types.PDV
	closed     bool
	logger     *slog.Logger
}

var _ interfaces.UpperLayerAssociation = (*Association)(nil)

func newAssociation(conn transport.Connection, ourMax uint32, logger *slog.Logger) *Association {
	return &Association{
		conn:      conn,
		ourMaxPDU: ourMax,
		logger:    logger,
	}
}

// Connection returns the transport connection.
func (a *Association) Connection() transport.Connection {
	return a.conn
}

// read reads one PDU. Cancelling ctx closes the connection.
func (a *Association) read(ctx context.Context) (*types.PDU, error) {
	if a.closed {
		return nil, errors.ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { a.conn.Close() })
	defer stop()

	pdu, err := readPDU(a.conn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) || stderrors.Is(err, net.ErrClosed) {
			return nil, errors.ErrConnectionClosed
		}
		return nil, err
	}
	a.logger.Debug("Received PDU", "type", pduName(pdu.Type), "length", pdu.Length)
	return pdu, nil
}

func (a *Association) write(ctx context.Context, b []byte) error {
	if a.closed {
		return errors.ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { a.conn.Close() })
	defer stop()

	if _, err := a.conn.Write(b); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	a.logger.Debug("Sent PDU", "type", pduName(b[0]), "length", len(b)-6)
	return nil
}

func (a *Association) sendAbort(ctx context.Context, ab types.AbortItems) {
	if err := a.write(ctx, EncodeAbort(ab)); err != nil {
		a.logger.Debug("Failed to send A-ABORT", "error", err)
	}
	a.DropAssociation()
}

// AcknowledgeAssociationRequest sends the A-ASSOCIATE-AC built from params.
func (a *Association) AcknowledgeAssociationRequest(ctx context.Context, params *types.ServiceParameters) error {
	ac, err := EncodeAssociateAC(params)
	if err != nil {
		return err
	}
	a.peerMaxPDU = params.PeerMaxPDU
	return a.write(ctx, ac)
}

// RejectAssociationRequest sends an A-ASSOCIATE-RJ and closes the connection.
func (a *Association) RejectAssociationRequest(ctx context.Context, rj types.RejectItems) error {
	err := a.write(ctx, EncodeAssociateRJ(rj))
	a.DropAssociation()
	return err
}

// ReleaseAssociation sends A-RELEASE-RQ and waits for A-RELEASE-RP.
func (a *Association) ReleaseAssociation(ctx context.Context) error {
	if err := a.write(ctx, EncodeReleaseRQ()); err != nil {
		return err
	}

	for {
		pdu, err := a.read(ctx)
		if err != nil {
			a.DropAssociation()
			return err
		}

		switch pdu.Type {
		case types.TypeReleaseRP:
			a.DropAssociation()
			return nil
		case types.TypeReleaseRQ:
			// Release collision: answer and keep waiting for our RP.
			if err := a.write(ctx, EncodeReleaseRP()); err != nil {
				a.DropAssociation()
				return err
			}
		case types.TypePDataTF:
			a.logger.Debug("Discarding P-DATA-TF received during release")
		case types.TypeAbort:
			a.DropAssociation()
			return DecodeAbort(pdu.Data)
		default:
			a.sendAbort(ctx, types.AbortItems{Source: 0x02, Reason: 0x02})
			return errors.NewPDUError(pdu.Type, "unexpected PDU while waiting for A-RELEASE-RP")
		}
	}
}

// AcknowledgeRelease answers a peer's A-RELEASE-RQ and closes the connection.
func (a *Association) AcknowledgeRelease(ctx context.Context) error {
	err := a.write(ctx, EncodeReleaseRP())
	a.DropAssociation()
	return err
}

// AbortAssociation sends A-ABORT and closes the connection.
func (a *Association) AbortAssociation(ctx context.Context, ab types.AbortItems) error {
	err := a.write(ctx, EncodeAbort(ab))
	a.DropAssociation()
	return err
}

// DropAssociation closes the connection without any PDU exchange.
func (a *Association) DropAssociation() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.conn.Close()
}

// DataWaiting reports whether ReadPDV would return without blocking on the network.
func (a *Association) DataWaiting(timeout time.Duration) bool {
	if len(a.queue) > 0 {
		return true
	}
	if a.closed {
		return false
	}
	return a.conn.DataAvailable(timeout)
}

// PeerCertificate returns the peer's certificate on TLS connections.
func (a *Association) PeerCertificate() []byte {
	return a.conn.PeerCertificate()
}

// WritePDVs sends each PDV in its own P-DATA-TF PDU, fragmenting any PDV
// that would exceed the peer's maximum PDU length.
func (a *Association) WritePDVs(ctx context.Context, pdvs []types.PDV) error {
	for _, pdv := range pdvs {
		for _, frag := range a.fragment(pdv) {
			if err := a.write(ctx, EncodePDataTF([]types.PDV{frag})); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Association) fragment(pdv types.PDV) []types.PDV {
	limit := len(pdv.Data)
	if a.peerMaxPDU > 0 {
		limit = int(a.peerMaxPDU) - pdvHeaderLength
		if limit < 1 {
			limit = 1
		}
	}
	if len(pdv.Data) <= limit {
		return []types.PDV{pdv}
	}

	var frags []types.PDV
	for offset := 0; offset < len(pdv.Data); offset += limit {
		end := offset + limit
		if end > len(pdv.Data) {
			end = len(pdv.Data)
		}
		frags = append(frags, types.PDV{
			ContextID: pdv.ContextID,
			Command:   pdv.Command,
			Last:      pdv.Last && end == len(pdv.Data),
			Data:      pdv.Data[offset:end],
		})
	}
	return frags
}

// ReadPDV returns the next PDV from the peer.
func (a *Association) ReadPDV(ctx context.Context) (types.PDV, error) {
	for len(a.queue) == 0 {
		pdu, err := a.read(ctx)
		if err != nil {
			return types.PDV{}, err
		}

		switch pdu.Type {
		case types.TypePDataTF:
			pdvs, err := DecodePDataTF(pdu.Data)
			if err != nil {
				a.sendAbort(ctx, types.AbortItems{Source: 0x02, Reason: 0x06})
				return types.PDV{}, err
			}
			a.queue = append(a.queue, pdvs...)
		case types.TypeReleaseRQ:
			return types.PDV{}, errors.ErrReleaseRequested
		case types.TypeAbort:
			a.DropAssociation()
			return types.PDV{}, DecodeAbort(pdu.Data)
		default:
			a.sendAbort(ctx, types.AbortItems{Source: 0x02, Reason: 0x02})
			return types.PDV{}, errors.NewPDUError(pdu.Type, "unexpected PDU on established association")
		}
	}

	pdv := a.queue[0]
	a.queue = a.queue[1:]
	return pdv, nil
}

func pduName(t byte) string {
	switch t {
	case types.TypeAssociateRQ:
		return "A-ASSOCIATE-RQ"
	case types.TypeAssociateAC:
		return "A-ASSOCIATE-AC"
	case types.TypeAssociateRJ:
		return "A-ASSOCIATE-RJ"
	case types.TypePDataTF:
		return "P-DATA-TF"
	case types.TypeReleaseRQ:
		return "A-RELEASE-RQ"
	case types.TypeReleaseRP:
		return "A-RELEASE-RP"
	case types.TypeAbort:
		return "A-ABORT"
	default:
		return "UNKNOWN"
	}
}
