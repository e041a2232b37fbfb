// Package interfaces contains the boundary between the association layer and
// the upper layer engine that speaks PDUs on the wire
package interfaces

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/caio-sobreiro/dicomacse/transport"
	"github.com/caio-sobreiro/dicomacse/types"
)

// UpperLayer is a network endpoint able to open and accept associations.
type UpperLayer interface {
	// RequestAssociation connects to params.CalledPresentationAddress, sends
	// an A-ASSOCIATE-RQ and fills params with the peer's answer.
	RequestAssociation(ctx context.Context, params *types.ServiceParameters) (UpperLayerAssociation, error)

	// ReceiveAssociationRequest waits for an A-ASSOCIATE-RQ and fills params
	// from it. With block false it fails at once when nothing is pending.
	ReceiveAssociationRequest(ctx context.Context, params *types.ServiceParameters, block bool) (UpperLayerAssociation, error)

	// AssociationWaiting reports whether an incoming connection is pending.
	AssociationWaiting(timeout time.Duration) bool

	// SetTransportLayer switches new connections to TLS, or back to plain
	// TCP when cfg is nil.
	SetTransportLayer(cfg *tls.Config)
}

// UpperLayerAssociation is one association as seen by the upper layer engine.
type UpperLayerAssociation interface {
	AcknowledgeAssociationRequest(ctx context.Context, params *types.ServiceParameters) error
	RejectAssociationRequest(ctx context.Context, rj types.RejectItems) error

	// ReleaseAssociation returns nil only once the peer confirmed the release.
	ReleaseAssociation(ctx context.Context) error
	AcknowledgeRelease(ctx context.Context) error
	AbortAssociation(ctx context.Context, ab types.AbortItems) error
	DropAssociation() error

	DataWaiting(timeout time.Duration) bool
	PeerCertificate() []byte

	// WritePDVs sends pdvs, splitting any that exceed the peer's max PDU.
	WritePDVs(ctx context.Context, pdvs []types.PDV) error

	// ReadPDV returns the next PDV. A peer release request surfaces as
	// errors.ErrReleaseRequested, an abort as *errors.AbortError.
	ReadPDV(ctx context.Context) (types.PDV, error)

	Connection() transport.Connection
}
