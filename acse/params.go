// Package acse negotiates, establishes and tears down DICOM associations on
// top of an upper layer engine. It owns the presentation context lists, the
// association parameter block and the lifecycle of each association.
package acse

import (
	"log/slog"

	"github.com/caio-sobreiro/dicomacse/errors"
	"github.com/caio-sobreiro/dicomacse/types"
)

const (
	// MinimumPDUSize is the smallest max-PDU value we negotiate.
	MinimumPDUSize = 4096
	// MaximumPDUSize caps the send buffer regardless of the peer's claim.
	MaximumPDUSize = 131072
	// DefaultMaxPDU is the receive size used when the caller has no preference.
	DefaultMaxPDU = 16384

	// pduOverhead is the PDU header plus the PDV item header.
	pduOverhead = 12
)

// Option configures Parameters.
type Option func(*Parameters)

// WithLogger sets the logger used for negotiation warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parameters) {
		p.logger = logger
	}
}

// WithStrictRoleSelection rejects acceptances whose SCP/SCU role does not
// fit the proposed one.
func WithStrictRoleSelection(strict bool) Option {
	return func(p *Parameters) {
		p.strictRoles = strict
	}
}

// Parameters is the negotiation state of one association.
type Parameters struct {
	OurImplementationClassUID      string
	OurImplementationVersionName   string
	TheirImplementationClassUID    string
	TheirImplementationVersionName string

	// OurMaxPDUReceiveSize is always even and at least MinimumPDUSize.
	OurMaxPDUReceiveSize uint32
	// TheirMaxPDUReceiveSize is 0 until negotiated; after negotiation 0 means unlimited.
	TheirMaxPDUReceiveSize uint32

	// Service is the block exchanged with the upper layer engine.
	Service types.ServiceParameters

	strictRoles bool
	logger      *slog.Logger
}

// NewParameters creates a parameter set with our implementation identity
// and placeholder titles and addresses. An odd or undersized
// maxReceivePDUSize is corrected with a warning.
func NewParameters(maxReceivePDUSize uint32, opts ...Option) *Parameters {
	p := &Parameters{
		OurImplementationClassUID:    types.ImplementationClassUID,
		OurImplementationVersionName: types.ImplementationVersionName,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.Service.CallingImplementationClassUID = p.OurImplementationClassUID
	p.Service.CallingImplementationVersionName = p.OurImplementationVersionName
	p.Service.ApplicationContextName = types.ApplicationContextUID
	p.SetAPTitles("calling AP Title", "called AP Title", "resp. AP Title")

	if maxReceivePDUSize%2 != 0 {
		p.log().Warn("PDV receive length is odd",
			"max_pdu", maxReceivePDUSize,
			"using", maxReceivePDUSize-1)
		maxReceivePDUSize--
	}
	if maxReceivePDUSize < MinimumPDUSize {
		p.log().Warn("Max receive PDU size too small",
			"max_pdu", maxReceivePDUSize,
			"using", MinimumPDUSize)
		maxReceivePDUSize = MinimumPDUSize
	}
	p.OurMaxPDUReceiveSize = maxReceivePDUSize
	p.Service.MaxPDU = maxReceivePDUSize
	p.TheirMaxPDUReceiveSize = 0

	p.SetPresentationAddresses("calling Presentation Address", "called Presentation Address")
	p.Service.UseSecureLayer = false
	return p
}

func (p *Parameters) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// SetAPTitles stores the application entity titles, truncated to 16
// characters. An empty argument leaves that title unchanged.
func (p *Parameters) SetAPTitles(calling, called, responding string) {
	if calling != "" {
		p.Service.CallingAPTitle = types.Truncate(calling, types.MaxAETitleLength)
	}
	if called != "" {
		p.Service.CalledAPTitle = types.Truncate(called, types.MaxAETitleLength)
	}
	if responding != "" {
		p.Service.RespondingAPTitle = types.Truncate(responding, types.MaxAETitleLength)
	}
}

// APTitles returns the calling, called and responding titles.
func (p *Parameters) APTitles() (calling, called, responding string) {
	return p.Service.CallingAPTitle, p.Service.CalledAPTitle, p.Service.RespondingAPTitle
}

// SetPresentationAddresses stores the calling and called addresses. An empty
// argument leaves that address unchanged. The requestor dials the called
// address as host:port.
func (p *Parameters) SetPresentationAddresses(calling, called string) {
	if calling != "" {
		p.Service.CallingPresentationAddress = types.Truncate(calling, types.MaxPresentationAddressLength)
	}
	if called != "" {
		p.Service.CalledPresentationAddress = types.Truncate(called, types.MaxPresentationAddressLength)
	}
}

// PresentationAddresses returns the calling and called addresses.
func (p *Parameters) PresentationAddresses() (calling, called string) {
	return p.Service.CallingPresentationAddress, p.Service.CalledPresentationAddress
}

// SetApplicationContextName overrides the standard application context.
func (p *Parameters) SetApplicationContextName(uid string) {
	p.Service.ApplicationContextName = types.Truncate(uid, types.MaxUIDLength)
}

// SetImplementationIdentity replaces our implementation class UID and version name.
func (p *Parameters) SetImplementationIdentity(classUID, versionName string) {
	p.OurImplementationClassUID = types.Truncate(classUID, types.MaxUIDLength)
	p.OurImplementationVersionName = types.Truncate(versionName, types.MaxVersionNameLength)
}

// SetTransportLayerType records whether the association runs over TLS.
func (p *Parameters) SetTransportLayerType(useSecureLayer bool) error {
	if p == nil {
		return errors.ErrNullKey
	}
	p.Service.UseSecureLayer = useSecureLayer
	return nil
}

// RequestedExtendedNegotiation returns the requestor's extended negotiation items.
func (p *Parameters) RequestedExtendedNegotiation() []types.ExtendedNegotiationItem {
	return p.Service.RequestedExtendedNegotiation
}

// SetRequestedExtendedNegotiation replaces the requestor's extended negotiation items.
func (p *Parameters) SetRequestedExtendedNegotiation(items []types.ExtendedNegotiationItem) {
	p.Service.RequestedExtendedNegotiation = items
}

// AcceptedExtendedNegotiation returns the acceptor's extended negotiation items.
func (p *Parameters) AcceptedExtendedNegotiation() []types.ExtendedNegotiationItem {
	return p.Service.AcceptedExtendedNegotiation
}

// SetAcceptedExtendedNegotiation replaces the acceptor's extended negotiation items.
func (p *Parameters) SetAcceptedExtendedNegotiation(items []types.ExtendedNegotiationItem) {
	p.Service.AcceptedExtendedNegotiation = items
}

// UserIdentityRQ returns the requested user identity, or nil.
func (p *Parameters) UserIdentityRQ() *types.UserIdentityRQ {
	return p.Service.UserIdentityRQ
}

// UserIdentityAC returns the acceptor's user identity response, or nil.
func (p *Parameters) UserIdentityAC() *types.UserIdentityAC {
	return p.Service.UserIdentityAC
}

// SetIdentRQUserPassword requests username and passcode authentication.
func (p *Parameters) SetIdentRQUserPassword(user, password string, requestResponse bool) error {
	if p == nil {
		return errors.ErrNullKey
	}
	if len(user)+len(password) > types.MaxUserIdentityFieldLength {
		return errors.NewNegotiationError(errors.KindIllegalCall,
			"user identity of %d bytes exceeds %d", len(user)+len(password), types.MaxUserIdentityFieldLength)
	}
	p.setIdentRQ(types.UserIdentityUsernamePasscode, []byte(user), []byte(password), requestResponse)
	return nil
}

// SetIdentRQUserOnly requests username authentication.
func (p *Parameters) SetIdentRQUserOnly(user string, requestResponse bool) error {
	if p == nil {
		return errors.ErrNullKey
	}
	if len(user) > types.MaxUserIdentityFieldLength {
		return errors.NewNegotiationError(errors.KindIllegalCall,
			"user name of %d bytes exceeds %d", len(user), types.MaxUserIdentityFieldLength)
	}
	p.setIdentRQ(types.UserIdentityUsername, []byte(user), nil, requestResponse)
	return nil
}

// SetIdentRQKerberos requests authentication with a Kerberos service ticket.
func (p *Parameters) SetIdentRQKerberos(ticket []byte, requestResponse bool) error {
	return p.setIdentRQBlob(types.UserIdentityKerberos, ticket, requestResponse)
}

// SetIdentRQSaml requests authentication with a SAML assertion.
func (p *Parameters) SetIdentRQSaml(assertion []byte, requestResponse bool) error {
	return p.setIdentRQBlob(types.UserIdentitySAML, assertion, requestResponse)
}

func (p *Parameters) setIdentRQBlob(kind types.UserIdentityType, blob []byte, requestResponse bool) error {
	if p == nil {
		return errors.ErrNullKey
	}
	if len(blob) > types.MaxUserIdentityFieldLength {
		return errors.NewNegotiationError(errors.KindIllegalCall,
			"%s identity of %d bytes exceeds %d", kind, len(blob), types.MaxUserIdentityFieldLength)
	}
	p.setIdentRQ(kind, append([]byte(nil), blob...), nil, requestResponse)
	return nil
}

func (p *Parameters) setIdentRQ(kind types.UserIdentityType, primary, secondary []byte, requestResponse bool) {
	p.Service.UserIdentityRQ = &types.UserIdentityRQ{
		Type:                     kind,
		PositiveResponseRequired: requestResponse,
		Primary:                  primary,
		Secondary:                secondary,
	}
}

// SetIdentAC sets the acceptor's user identity response. A nil response
// still produces an (empty) response item.
func (p *Parameters) SetIdentAC(response []byte) error {
	if p == nil {
		return errors.ErrNullKey
	}
	if len(response) > types.MaxUserIdentityFieldLength {
		return errors.NewNegotiationError(errors.KindIllegalCall,
			"identity response of %d bytes exceeds %d", len(response), types.MaxUserIdentityFieldLength)
	}
	p.Service.UserIdentityAC = &types.UserIdentityAC{ServerResponse: append([]byte(nil), response...)}
	return nil
}

// IdentResponse returns a copy of the acceptor's server response, or nil.
func (p *Parameters) IdentResponse() []byte {
	if p == nil || p.Service.UserIdentityAC == nil {
		return nil
	}
	return append([]byte(nil), p.Service.UserIdentityAC.ServerResponse...)
}
