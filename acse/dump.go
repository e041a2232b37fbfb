package acse

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/caio-sobreiro/dicomacse/errors"
	"github.com/caio-sobreiro/dicomacse/types"
)

// Direction names the A-ASSOCIATE primitive a parameter dump describes.
type Direction int

const (
	DirectionRQ Direction = iota
	DirectionAC
	DirectionRJ
)

func (d Direction) String() string {
	switch d {
	case DirectionRQ:
		return "RQ"
	case DirectionAC:
		return "AC"
	case DirectionRJ:
		return "RJ"
	default:
		return "UNKNOWN"
	}
}

// uidText renders a UID by name when it is known.
func uidText(uid string) string {
	if name := types.UIDName(uid); name != "" {
		return "=" + name
	}
	return uid
}

// DumpPresentationContext renders one context in the multi-line dump format.
func DumpPresentationContext(pc *types.PresentationContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  Context ID:        %d (%s)\n", pc.ID, pc.Result)
	fmt.Fprintf(&b, "    Abstract Syntax: %s\n", uidText(pc.AbstractSyntax))
	fmt.Fprintf(&b, "    Proposed SCP/SCU Role: %s\n", pc.ProposedRole)
	if pc.Result != types.NotYetNegotiated {
		fmt.Fprintf(&b, "    Accepted SCP/SCU Role: %s\n", pc.AcceptedRole)
	}
	if pc.Result == types.Acceptance {
		fmt.Fprintf(&b, "    Accepted Transfer Syntax: %s\n", uidText(pc.AcceptedTransferSyntax))
	}
	if pc.Result == types.NotYetNegotiated {
		b.WriteString("    Proposed Transfer Syntax(es):\n")
		for _, ts := range pc.ProposedTransferSyntaxes {
			fmt.Fprintf(&b, "      %s\n", uidText(ts))
		}
	}
	return b.String()
}

func dumpExtendedNegotiation(b *strings.Builder, items []types.ExtendedNegotiationItem) {
	for _, item := range items {
		fmt.Fprintf(b, "  %s\n    [", uidText(item.AbstractSyntax))
		for i, v := range item.Data {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(b, "0x%02x", v)
		}
		b.WriteString("]\n")
	}
}

func dumpUserIdentityRQ(b *strings.Builder, rq *types.UserIdentityRQ) {
	switch rq.Type {
	case types.UserIdentityUsername:
		b.WriteString("  Authentication mode 1: Username\n")
		fmt.Fprintf(b, "  Username: [%s]\n", rq.Primary)
	case types.UserIdentityUsernamePasscode:
		b.WriteString("  Authentication mode 2: Username/Password\n")
		fmt.Fprintf(b, "  Username: [%s]\n", rq.Primary)
		fmt.Fprintf(b, "  Password (not dumped) length: %d\n", len(rq.Secondary))
	case types.UserIdentityKerberos:
		b.WriteString("  Authentication mode 3: Kerberos\n")
		fmt.Fprintf(b, "  Kerberos Service Ticket (not dumped) length: %d\n", len(rq.Primary))
	case types.UserIdentitySAML:
		b.WriteString("  Authentication mode 4: SAML\n")
		fmt.Fprintf(b, "  SAML Assertion (not dumped) length: %d\n", len(rq.Primary))
	default:
		b.WriteString("  Authentication mode: Unknown\n")
		fmt.Fprintf(b, "  First value (not dumped), length: %d\n", len(rq.Primary))
		fmt.Fprintf(b, "  Second Value (not dumped), length: %d\n", len(rq.Secondary))
	}
	answer := "No"
	if rq.PositiveResponseRequired {
		answer = "Yes"
	}
	fmt.Fprintf(b, "  Positive Response requested: %s\n", answer)
}

// DumpParameters renders the whole parameter set for debug logs.
func (p *Parameters) DumpParameters(dir Direction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "====================== BEGIN A-ASSOCIATE-%s =====================\n", dir)
	fmt.Fprintf(&b, "Our Implementation Class UID:      %s\n", p.OurImplementationClassUID)
	fmt.Fprintf(&b, "Our Implementation Version Name:   %s\n", p.OurImplementationVersionName)
	fmt.Fprintf(&b, "Their Implementation Class UID:    %s\n", p.TheirImplementationClassUID)
	fmt.Fprintf(&b, "Their Implementation Version Name: %s\n", p.TheirImplementationVersionName)
	fmt.Fprintf(&b, "Application Context Name:    %s\n", p.Service.ApplicationContextName)
	fmt.Fprintf(&b, "Calling Application Name:    %s\n", p.Service.CallingAPTitle)
	fmt.Fprintf(&b, "Called Application Name:     %s\n", p.Service.CalledAPTitle)
	fmt.Fprintf(&b, "Responding Application Name: %s\n", p.Service.RespondingAPTitle)
	fmt.Fprintf(&b, "Our Max PDU Receive Size:    %d\n", p.OurMaxPDUReceiveSize)
	fmt.Fprintf(&b, "Their Max PDU Receive Size:  %d\n", p.TheirMaxPDUReceiveSize)

	b.WriteString("Presentation Contexts:\n")
	for i := 0; i < p.CountPresentationContexts(); i++ {
		pc, _ := p.PresentationContext(i)
		b.WriteString(DumpPresentationContext(&pc))
	}

	b.WriteString("Requested Extended Negotiation:")
	if items := p.RequestedExtendedNegotiation(); len(items) > 0 {
		b.WriteString("\n")
		dumpExtendedNegotiation(&b, items)
	} else {
		b.WriteString(" none\n")
	}
	b.WriteString("Accepted Extended Negotiation:")
	if items := p.AcceptedExtendedNegotiation(); len(items) > 0 {
		b.WriteString("\n")
		dumpExtendedNegotiation(&b, items)
	} else {
		b.WriteString("  none\n")
	}

	b.WriteString("Requested User Identity Negotiation:")
	if rq := p.UserIdentityRQ(); rq != nil {
		b.WriteString("\n")
		dumpUserIdentityRQ(&b, rq)
	} else {
		b.WriteString(" none\n")
	}
	b.WriteString("User Identity Negotiation Response:")
	if ac := p.UserIdentityAC(); ac != nil {
		fmt.Fprintf(&b, "\n  Server Response (not dumped) length: %d\n", len(ac.ServerResponse))
	} else {
		b.WriteString("  none\n")
	}

	fmt.Fprintf(&b, "======================= END A-ASSOCIATE-%s ======================", dir)
	return b.String()
}

// RejectParameters is the content of an A-ASSOCIATE-RJ.
type RejectParameters struct {
	Result errors.RejectResult
	Source errors.AssociationRejectSource
	Reason errors.AssociationRejectReason
}

func (r RejectParameters) String() string {
	return fmt.Sprintf("Result: %s, Source: %s\nReason: %s", r.Result, r.Source, r.Reason)
}

func (r RejectParameters) items() types.RejectItems {
	return types.RejectItems{
		Result: byte(r.Result),
		Source: byte(r.Source),
		Reason: r.Reason.Byte(),
	}
}

// RejectParametersFromError extracts the reject parameters carried by an
// error returned from RequestAssociation.
func RejectParametersFromError(err error) (RejectParameters, bool) {
	var ae *errors.AssociationError
	if !stderrors.As(err, &ae) {
		return RejectParameters{}, false
	}
	return RejectParameters{Result: ae.Result, Source: ae.Source, Reason: ae.Reason}, true
}
