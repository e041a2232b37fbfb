package types

import "fmt"

// ResultReason is the negotiation outcome of a presentation context (PS3.8 9.3.3.2).
type ResultReason byte

const (
	Acceptance                   ResultReason = 0
	UserRejection                ResultReason = 1
	NoReason                     ResultReason = 2
	AbstractSyntaxNotSupported   ResultReason = 3
	TransferSyntaxesNotSupported ResultReason = 4
	NotYetNegotiated             ResultReason = 255
)

func (r ResultReason) String() string {
	switch r {
	case Acceptance:
		return "Accepted"
	case UserRejection:
		return "User Rejection"
	case NoReason:
		return "No Reason"
	case AbstractSyntaxNotSupported:
		return "Abstract Syntax Not Supported"
	case TransferSyntaxesNotSupported:
		return "Transfer Syntaxes Not Supported"
	case NotYetNegotiated:
		return "Proposed"
	default:
		return "--Invalid Result/Reason--"
	}
}

// Role is the SCP/SCU role proposed or accepted for a presentation context.
type Role int

const (
	RoleNone Role = iota
	RoleDefault
	RoleSCU
	RoleSCP
	RoleSCUSCP
)

func (r Role) String() string {
	switch r {
	case RoleSCU:
		return "SCU"
	case RoleSCP:
		return "SCP"
	case RoleSCUSCP:
		return "SCP/SCU"
	case RoleNone:
		return "None"
	case RoleDefault:
		return "Default"
	default:
		return "Unknown"
	}
}

// PresentationContext is one entry of a requested or accepted presentation
// context list. On the requested side ProposedTransferSyntaxes holds the
// offer; on the accepted side AcceptedTransferSyntax holds the answer.
type PresentationContext struct {
	ID                       byte
	AbstractSyntax           string
	ProposedTransferSyntaxes []string
	AcceptedTransferSyntax   string
	Result                   ResultReason
	ProposedRole             Role
	AcceptedRole             Role
}

// Clone returns a deep copy of the context.
func (pc *PresentationContext) Clone() PresentationContext {
	out := *pc
	out.ProposedTransferSyntaxes = append([]string(nil), pc.ProposedTransferSyntaxes...)
	return out
}

// Proposes reports whether ts is in the proposed transfer syntax list.
func (pc *PresentationContext) Proposes(ts string) bool {
	for _, candidate := range pc.ProposedTransferSyntaxes {
		if candidate == ts {
			return true
		}
	}
	return false
}

func (pc *PresentationContext) String() string {
	return fmt.Sprintf("pc %d %s (%s)", pc.ID, pc.AbstractSyntax, pc.Result)
}

// ExtendedNegotiationItem is an opaque SOP class extended negotiation sub-item.
type ExtendedNegotiationItem struct {
	AbstractSyntax string
	Data           []byte
}

// UserIdentityType identifies the kind of credential in a user identity RQ.
type UserIdentityType byte

const (
	UserIdentityUsername         UserIdentityType = 1
	UserIdentityUsernamePasscode UserIdentityType = 2
	UserIdentityKerberos         UserIdentityType = 3
	UserIdentitySAML             UserIdentityType = 4
)

func (t UserIdentityType) String() string {
	switch t {
	case UserIdentityUsername:
		return "Username"
	case UserIdentityUsernamePasscode:
		return "Username/Password"
	case UserIdentityKerberos:
		return "Kerberos"
	case UserIdentitySAML:
		return "SAML"
	default:
		return "Unknown"
	}
}

// UserIdentityRQ is the requestor's user identity negotiation sub-item.
type UserIdentityRQ struct {
	Type                     UserIdentityType
	PositiveResponseRequired bool
	Primary                  []byte
	Secondary                []byte
}

// UserIdentityAC is the acceptor's user identity response.
type UserIdentityAC struct {
	ServerResponse []byte
}

// RejectItems are the raw result/source/reason bytes of an A-ASSOCIATE-RJ.
type RejectItems struct {
	Result byte
	Source byte
	Reason byte
}

// AbortItems are the raw source/reason bytes of an A-ABORT.
type AbortItems struct {
	Source byte
	Reason byte
}
