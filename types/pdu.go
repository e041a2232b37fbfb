package types

// PDU type constants (PS3.8 section 9.3)
const (
	TypeAssociateRQ = 0x01
	TypeAssociateAC = 0x02
	TypeAssociateRJ = 0x03
	TypePDataTF     = 0x04
	TypeReleaseRQ   = 0x05
	TypeReleaseRP   = 0x06
	TypeAbort       = 0x07
)

// Variable item and sub-item types used inside A-ASSOCIATE PDUs
const (
	ItemApplicationContext    = 0x10
	ItemPresentationContextRQ = 0x20
	ItemPresentationContextAC = 0x21
	ItemAbstractSyntax        = 0x30
	ItemTransferSyntax        = 0x40
	ItemUserInformation       = 0x50
	ItemMaximumLength         = 0x51
	ItemImplementationClass   = 0x52
	ItemAsyncOperations       = 0x53
	ItemRoleSelection         = 0x54
	ItemImplementationVersion = 0x55
	ItemExtendedNegotiation   = 0x56
	ItemUserIdentityRQ        = 0x58
	ItemUserIdentityAC        = 0x59
)

// Field capacities. Values longer than these are truncated, never rejected.
const (
	MaxAETitleLength             = 16
	MaxUIDLength                 = 64
	MaxVersionNameLength         = 16
	MaxPresentationAddressLength = 63
	MaxUserIdentityFieldLength   = 65535
)

// PDU represents a Protocol Data Unit
type PDU struct {
	Type   byte
	Length uint32
	Data   []byte
}

// PDV is a single presentation data value carried in a P-DATA-TF PDU.
type PDV struct {
	ContextID byte
	Command   bool
	Last      bool
	Data      []byte
}

// MessageControlHeader encodes the command/last bits of a PDV.
func (p PDV) MessageControlHeader() byte {
	var h byte
	if p.Command {
		h |= 0x01
	}
	if p.Last {
		h |= 0x02
	}
	return h
}

// Truncate cuts s to at most n bytes.
func Truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
