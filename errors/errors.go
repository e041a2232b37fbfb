// Package errors provides the typed errors returned by the association layer
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrConnectionClosed     = errors.New("dicom: connection closed")
	ErrAssociationRejected  = errors.New("dicom: association rejected")
	ErrInvalidPDU           = errors.New("dicom: invalid PDU")
	ErrInvalidState         = errors.New("dicom: operation not valid in current association state")
	ErrNoAssociationWaiting = errors.New("dicom: no association request waiting")
	ErrReleaseRequested     = errors.New("dicom: peer requested release")
	ErrNilAssociation       = errors.New("dicom: association is nil")
)

// NegotiationErrorKind classifies validation failures of the negotiation layer.
type NegotiationErrorKind int

const (
	KindBadContextID NegotiationErrorKind = iota + 1
	KindDuplicateContextID
	KindMissingTransferSyntax
	KindBadContextPosition
	KindRoleSelectionFailed
	KindCodingError
	KindNullKey
	KindIllegalCall
	// KindOutOfMemory is never produced; allocation failure is fatal in Go.
	KindOutOfMemory
)

func (k NegotiationErrorKind) String() string {
	switch k {
	case KindBadContextID:
		return "bad presentation context ID"
	case KindDuplicateContextID:
		return "duplicate presentation context ID"
	case KindMissingTransferSyntax:
		return "missing transfer syntax"
	case KindBadContextPosition:
		return "bad presentation context position"
	case KindRoleSelectionFailed:
		return "SCP/SCU role selection failed"
	case KindCodingError:
		return "coding error"
	case KindNullKey:
		return "caller passed in a NULL key"
	case KindIllegalCall:
		return "illegal call"
	case KindOutOfMemory:
		return "out of memory"
	default:
		return "unknown"
	}
}

// Sentinels for each NegotiationErrorKind, usable with errors.Is.
var (
	ErrBadContextID          = &NegotiationError{Kind: KindBadContextID}
	ErrDuplicateContextID    = &NegotiationError{Kind: KindDuplicateContextID}
	ErrMissingTransferSyntax = &NegotiationError{Kind: KindMissingTransferSyntax}
	ErrBadContextPosition    = &NegotiationError{Kind: KindBadContextPosition}
	ErrRoleSelectionFailed   = &NegotiationError{Kind: KindRoleSelectionFailed}
	ErrCodingError           = &NegotiationError{Kind: KindCodingError}
	ErrNullKey               = &NegotiationError{Kind: KindNullKey}
	ErrIllegalCall           = &NegotiationError{Kind: KindIllegalCall}
)

// NegotiationError is a synchronous validation failure. No I/O has happened
// when one is returned, so the caller can fix its input and retry.
type NegotiationError struct {
	Kind NegotiationErrorKind
	Msg  string
}

func (e *NegotiationError) Error() string {
	if e.Msg == "" {
		return "dicom: " + e.Kind.String()
	}
	return fmt.Sprintf("dicom: %s: %s", e.Kind, e.Msg)
}

// Is matches any NegotiationError of the same kind.
func (e *NegotiationError) Is(target error) bool {
	t, ok := target.(*NegotiationError)
	return ok && t.Kind == e.Kind
}

// NewNegotiationError creates a new negotiation error
func NewNegotiationError(kind NegotiationErrorKind, format string, args ...any) *NegotiationError {
	return &NegotiationError{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// RejectResult is the result field of an A-ASSOCIATE-RJ.
type RejectResult byte

const (
	RejectResultPermanent RejectResult = 0x01
	RejectResultTransient RejectResult = 0x02
)

func (r RejectResult) String() string {
	switch r {
	case RejectResultPermanent:
		return "Rejected Permanent"
	case RejectResultTransient:
		return "Rejected Transient"
	default:
		return "UNKNOWN"
	}
}

// AssociationRejectSource represents who rejected the association
type AssociationRejectSource byte

const (
	RejectSourceServiceUser                 AssociationRejectSource = 0x01
	RejectSourceServiceProviderACSE         AssociationRejectSource = 0x02
	RejectSourceServiceProviderPresentation AssociationRejectSource = 0x03
)

func (s AssociationRejectSource) String() string {
	switch s {
	case RejectSourceServiceUser:
		return "Service User"
	case RejectSourceServiceProviderACSE:
		return "Service Provider (ACSE Related)"
	case RejectSourceServiceProviderPresentation:
		return "Service Provider (Presentation Related)"
	default:
		return "UNKNOWN"
	}
}

// AssociationRejectReason carries the source in its high byte and the
// on-the-wire reason in its low byte, since reason values overlap between sources.
type AssociationRejectReason uint16

const (
	RejectReasonNoReasonGiven                  AssociationRejectReason = 0x0101
	RejectReasonApplicationContextNotSupported AssociationRejectReason = 0x0102
	RejectReasonCallingAETitleNotRecognized    AssociationRejectReason = 0x0103
	RejectReasonCalledAETitleNotRecognized     AssociationRejectReason = 0x0107
	RejectReasonProviderNoReasonGiven          AssociationRejectReason = 0x0201
	RejectReasonProtocolVersionNotSupported    AssociationRejectReason = 0x0202
	RejectReasonTemporaryCongestion            AssociationRejectReason = 0x0301
	RejectReasonLocalLimitExceeded             AssociationRejectReason = 0x0302
)

// FoldRejectReason combines a wire source and reason byte.
func FoldRejectReason(source, reason byte) AssociationRejectReason {
	return AssociationRejectReason(uint16(source)<<8 | uint16(reason))
}

// Byte returns the wire value of the reason.
func (r AssociationRejectReason) Byte() byte {
	return byte(r)
}

func (r AssociationRejectReason) String() string {
	switch r {
	case RejectReasonNoReasonGiven, RejectReasonProviderNoReasonGiven:
		return "No Reason"
	case RejectReasonApplicationContextNotSupported:
		return "App Context Name Not Supported"
	case RejectReasonCallingAETitleNotRecognized:
		return "Calling AE Title Not Recognized"
	case RejectReasonCalledAETitleNotRecognized:
		return "Called AE Title Not Recognized"
	case RejectReasonProtocolVersionNotSupported:
		return "Protocol Version Not Supported"
	case RejectReasonTemporaryCongestion:
		return "Temporary Congestion"
	case RejectReasonLocalLimitExceeded:
		return "Local Limit Exceeded"
	default:
		return "UNKNOWN"
	}
}

// AssociationError represents an A-ASSOCIATE-RJ received from the peer
type AssociationError struct {
	Result RejectResult
	Source AssociationRejectSource
	Reason AssociationRejectReason
}

func (e *AssociationError) Error() string {
	return fmt.Sprintf("association rejected: %s (source: %s, reason: %s)",
		e.Result, e.Source, e.Reason)
}

// Is makes every AssociationError match ErrAssociationRejected.
func (e *AssociationError) Is(target error) bool {
	return target == ErrAssociationRejected
}

// NewAssociationError creates an association error from the raw RJ fields
func NewAssociationError(result, source, reason byte) *AssociationError {
	return &AssociationError{
		Result: RejectResult(result),
		Source: AssociationRejectSource(source),
		Reason: FoldRejectReason(source, reason),
	}
}

// NetworkError represents a network-level error
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{
		Op:  op,
		Err: err,
	}
}

// PDUError represents a PDU-level protocol error
type PDUError struct {
	PDUType byte
	Msg     string
}

func (e *PDUError) Error() string {
	return fmt.Sprintf("PDU error (type: 0x%02X): %s", e.PDUType, e.Msg)
}

// Is makes every PDUError match ErrInvalidPDU.
func (e *PDUError) Is(target error) bool {
	return target == ErrInvalidPDU
}

// NewPDUError creates a new PDU error
func NewPDUError(pduType byte, msg string) *PDUError {
	return &PDUError{
		PDUType: pduType,
		Msg:     msg,
	}
}

// AbortError represents an A-ABORT PDU received
type AbortError struct {
	Source byte
	Reason byte
}

func (e *AbortError) Error() string {
	sourceStr := "unknown"
	if e.Source == 0x00 {
		sourceStr = "service-user"
	} else if e.Source == 0x02 {
		sourceStr = "service-provider"
	}

	return fmt.Sprintf("connection aborted by %s (reason: 0x%02X)", sourceStr, e.Reason)
}

// NewAbortError creates a new abort error
func NewAbortError(source, reason byte) *AbortError {
	return &AbortError{
		Source: source,
		Reason: reason,
	}
}

// ConfigError reports an invalid configuration value
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// NewConfigError creates a new configuration error
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{
		Field: field,
		Msg:   fmt.Sprintf(format, args...),
	}
}
