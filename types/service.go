package types

// ServiceParameters is the A-ASSOCIATE service parameter block exchanged
// with the upper layer engine. The requestor fills the calling side and the
// requested list, the engine fills the peer's answer.
type ServiceParameters struct {
	ApplicationContextName string

	CallingAPTitle    string
	CalledAPTitle     string
	RespondingAPTitle string

	CallingPresentationAddress string
	CalledPresentationAddress  string

	// MaxPDU is the largest PDU we are prepared to receive.
	MaxPDU uint32
	// PeerMaxPDU is the largest PDU the peer is prepared to receive; 0 means unlimited.
	PeerMaxPDU uint32

	RequestedPresentationContexts []PresentationContext
	AcceptedPresentationContexts  []PresentationContext

	CallingImplementationClassUID    string
	CallingImplementationVersionName string
	CalledImplementationClassUID     string
	CalledImplementationVersionName  string

	RequestedExtendedNegotiation []ExtendedNegotiationItem
	AcceptedExtendedNegotiation  []ExtendedNegotiationItem

	UserIdentityRQ *UserIdentityRQ
	UserIdentityAC *UserIdentityAC

	UseSecureLayer bool
}

// RequestedContext returns the requested context with the given ID.
func (p *ServiceParameters) RequestedContext(id byte) *PresentationContext {
	for i := range p.RequestedPresentationContexts {
		if p.RequestedPresentationContexts[i].ID == id {
			return &p.RequestedPresentationContexts[i]
		}
	}
	return nil
}

// AcceptedContext returns the accepted context with the given ID.
func (p *ServiceParameters) AcceptedContext(id byte) *PresentationContext {
	for i := range p.AcceptedPresentationContexts {
		if p.AcceptedPresentationContexts[i].ID == id {
			return &p.AcceptedPresentationContexts[i]
		}
	}
	return nil
}
