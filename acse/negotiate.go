package acse

import (
	stderrors "errors"

	"github.com/caio-sobreiro/dicomacse/errors"
	"github.com/caio-sobreiro/dicomacse/types"
)

// AddPresentationContext appends a proposed context to the requested list.
// IDs must be odd and unique, and at least one transfer syntax is required.
func (p *Parameters) AddPresentationContext(id byte, abstractSyntax string, transferSyntaxes []string, proposedRole types.Role) error {
	if id%2 == 0 {
		return errors.NewNegotiationError(errors.KindBadContextID, "presentation context ID %d is even", id)
	}
	if p.Service.RequestedContext(id) != nil {
		return errors.NewNegotiationError(errors.KindDuplicateContextID, "presentation context ID %d already proposed", id)
	}
	if len(transferSyntaxes) == 0 {
		return errors.NewNegotiationError(errors.KindMissingTransferSyntax, "presentation context ID %d", id)
	}

	p.Service.RequestedPresentationContexts = append(p.Service.RequestedPresentationContexts, types.PresentationContext{
		ID:                       id,
		AbstractSyntax:           types.Truncate(abstractSyntax, types.MaxUIDLength),
		ProposedTransferSyntaxes: append([]string(nil), transferSyntaxes...),
		Result:                   types.NotYetNegotiated,
		ProposedRole:             proposedRole,
		AcceptedRole:             types.RoleDefault,
	})
	return nil
}

// CountPresentationContexts returns the length of the requested list.
func (p *Parameters) CountPresentationContexts() int {
	return len(p.Service.RequestedPresentationContexts)
}

// CountAcceptedPresentationContexts counts accepted-list entries whose result is acceptance.
func (p *Parameters) CountAcceptedPresentationContexts() int {
	n := 0
	for _, pc := range p.Service.AcceptedPresentationContexts {
		if pc.Result == types.Acceptance {
			n++
		}
	}
	return n
}

// PresentationContext returns a copy of the requested context at position.
// The accepted transfer syntax is only reported for accepted contexts.
func (p *Parameters) PresentationContext(position int) (types.PresentationContext, error) {
	if position < 0 || position >= len(p.Service.RequestedPresentationContexts) {
		return types.PresentationContext{}, errors.NewNegotiationError(errors.KindBadContextPosition, "position %d", position)
	}
	pc := p.Service.RequestedPresentationContexts[position].Clone()
	if pc.Result != types.Acceptance {
		pc.AcceptedTransferSyntax = ""
	}
	return pc, nil
}

// FindAcceptedPresentationContext returns a copy of the requested context
// with the given ID, failing unless it has been accepted.
func (p *Parameters) FindAcceptedPresentationContext(id byte) (types.PresentationContext, error) {
	pc := p.Service.RequestedContext(id)
	if pc == nil || pc.Result != types.Acceptance {
		return types.PresentationContext{}, errors.NewNegotiationError(errors.KindBadContextID, "presentation context ID %d not accepted", id)
	}
	return pc.Clone(), nil
}

// AcceptPresentationContext marks the proposed context as accepted with
// transferSyntax and records the answer in the accepted list.
func (p *Parameters) AcceptPresentationContext(id byte, transferSyntax string, acceptedRole types.Role) error {
	proposed := p.Service.RequestedContext(id)
	if proposed == nil {
		return errors.NewNegotiationError(errors.KindBadContextID, "presentation context ID %d was not proposed", id)
	}
	proposed.AcceptedTransferSyntax = transferSyntax
	proposed.Result = types.Acceptance
	proposed.AcceptedRole = acceptedRole

	if p.strictRoles && !rolesCompatible(proposed.ProposedRole, acceptedRole) {
		proposed.Result = types.NoReason
		p.log().Error("SCP/SCU role selection failed",
			"context_id", id,
			"proposed_role", proposed.ProposedRole.String(),
			"accepted_role", acceptedRole.String())
		return errors.NewNegotiationError(errors.KindRoleSelectionFailed,
			"proposed (%s) and accepted role (%s) are incompatible", proposed.ProposedRole, acceptedRole)
	}

	if accepted := p.Service.AcceptedContext(id); accepted != nil {
		accepted.Result = types.Acceptance
		accepted.AbstractSyntax = proposed.AbstractSyntax
		accepted.AcceptedTransferSyntax = transferSyntax
		accepted.ProposedRole = proposed.ProposedRole
		accepted.AcceptedRole = acceptedRole
	} else {
		p.Service.AcceptedPresentationContexts = append(p.Service.AcceptedPresentationContexts, types.PresentationContext{
			ID:                     id,
			AbstractSyntax:         proposed.AbstractSyntax,
			AcceptedTransferSyntax: transferSyntax,
			Result:                 types.Acceptance,
			ProposedRole:           proposed.ProposedRole,
			AcceptedRole:           acceptedRole,
		})
	}

	p.log().Debug("Accepted presentation context",
		"context_id", id,
		"abstract_syntax", proposed.AbstractSyntax,
		"transfer_syntax", transferSyntax)
	return nil
}

// rolesCompatible applies the strict SCP/SCU role selection rules.
func rolesCompatible(proposed, accepted types.Role) bool {
	if proposed == accepted {
		return true
	}
	switch {
	case proposed == types.RoleDefault && accepted != types.RoleSCU:
		return false
	case proposed == types.RoleSCU && accepted != types.RoleDefault:
		return false
	case proposed != types.RoleSCUSCP && accepted != types.RoleSCUSCP:
		return false
	}
	return true
}

// RefusePresentationContext marks the proposed context as refused for
// reason. The accepted-list entry always carries the implicit VR little
// endian transfer syntax, since some peers cannot cope with an empty one.
func (p *Parameters) RefusePresentationContext(id byte, reason types.ResultReason) error {
	proposed := p.Service.RequestedContext(id)
	if proposed == nil {
		return errors.NewNegotiationError(errors.KindBadContextID, "presentation context ID %d was not proposed", id)
	}
	proposed.Result = reason

	if accepted := p.Service.AcceptedContext(id); accepted != nil {
		accepted.Result = reason
		accepted.AbstractSyntax = proposed.AbstractSyntax
		accepted.AcceptedTransferSyntax = types.ImplicitVRLittleEndian
	} else {
		p.Service.AcceptedPresentationContexts = append(p.Service.AcceptedPresentationContexts, types.PresentationContext{
			ID:                     id,
			AbstractSyntax:         proposed.AbstractSyntax,
			AcceptedTransferSyntax: types.ImplicitVRLittleEndian,
			Result:                 reason,
			ProposedRole:           types.RoleDefault,
			AcceptedRole:           types.RoleDefault,
		})
	}

	p.log().Debug("Refused presentation context",
		"context_id", id,
		"abstract_syntax", proposed.AbstractSyntax,
		"reason", reason.String())
	return nil
}

// AcceptContextsWithTransferSyntax accepts every proposed context whose
// abstract syntax is in abstractSyntaxes and which offers transferSyntax.
// Contexts already accepted are left alone; all others are refused.
func (p *Parameters) AcceptContextsWithTransferSyntax(transferSyntax string, abstractSyntaxes []string, acceptedRole types.Role) error {
	for i := 0; i < p.CountPresentationContexts(); i++ {
		pc, err := p.PresentationContext(i)
		if err != nil {
			return err
		}

		abstractOK := false
		accepted := false
		for _, as := range abstractSyntaxes {
			if pc.AbstractSyntax == as {
				abstractOK = true
				if pc.Proposes(transferSyntax) {
					accepted = true
					break
				}
			}
		}

		if accepted {
			err := p.AcceptPresentationContext(pc.ID, transferSyntax, acceptedRole)
			if stderrors.Is(err, errors.ErrRoleSelectionFailed) {
				err = p.RefusePresentationContext(pc.ID, types.NoReason)
			}
			if err != nil {
				return err
			}
			continue
		}

		existing := p.Service.AcceptedContext(pc.ID)
		if existing != nil && existing.Result == types.Acceptance {
			continue
		}
		reason := types.AbstractSyntaxNotSupported
		if abstractOK {
			reason = types.TransferSyntaxesNotSupported
		}
		if existing != nil && existing.Result == types.TransferSyntaxesNotSupported {
			reason = types.TransferSyntaxesNotSupported
		}
		if err := p.RefusePresentationContext(pc.ID, reason); err != nil {
			return err
		}
	}
	return nil
}

// AcceptContextsWithPreferredTransferSyntaxes accepts each matching context
// with the most preferred transfer syntax it offers. transferSyntaxes is
// ordered most preferred first.
func (p *Parameters) AcceptContextsWithPreferredTransferSyntaxes(abstractSyntaxes, transferSyntaxes []string, acceptedRole types.Role) error {
	// Least wanted first, so later acceptances override earlier ones.
	for i := len(transferSyntaxes) - 1; i >= 0; i-- {
		if err := p.AcceptContextsWithTransferSyntax(transferSyntaxes[i], abstractSyntaxes, acceptedRole); err != nil {
			return err
		}
	}
	return nil
}

// FindAcceptedPresentationContextID returns the ID of the first accepted
// context for abstractSyntax, or 0.
func (p *Parameters) FindAcceptedPresentationContextID(abstractSyntax string) byte {
	return p.findAccepted(func(pc *types.PresentationContext) bool {
		return pc.AbstractSyntax == abstractSyntax
	})
}

// FindAcceptedPresentationContextIDForTransferSyntax picks the accepted
// context for abstractSyntax that best fits data encoded in
// transferSyntax: an exact match, then explicit VR, then implicit VR
// little endian, then any. It returns 0 when nothing carries abstractSyntax.
func (p *Parameters) FindAcceptedPresentationContextIDForTransferSyntax(abstractSyntax, transferSyntax string) byte {
	if abstractSyntax == "" || transferSyntax == "" {
		return 0
	}
	passes := []func(ts string) bool{
		func(ts string) bool { return ts == transferSyntax },
		func(ts string) bool { return ts == types.ExplicitVRLittleEndian || ts == types.ExplicitVRBigEndian },
		func(ts string) bool { return ts == types.ImplicitVRLittleEndian },
	}
	for _, match := range passes {
		id := p.findAccepted(func(pc *types.PresentationContext) bool {
			return pc.AbstractSyntax == abstractSyntax && match(pc.AcceptedTransferSyntax)
		})
		if id != 0 {
			return id
		}
	}
	return p.FindAcceptedPresentationContextID(abstractSyntax)
}

func (p *Parameters) findAccepted(match func(*types.PresentationContext) bool) byte {
	for i := range p.Service.AcceptedPresentationContexts {
		pc := &p.Service.AcceptedPresentationContexts[i]
		if pc.Result == types.Acceptance && match(pc) {
			return pc.ID
		}
	}
	return 0
}

// updateRequestedFromAccepted copies the peer's answer for each accepted
// entry back into the requested list.
func (p *Parameters) updateRequestedFromAccepted() error {
	var mismatch error
	for _, apc := range p.Service.AcceptedPresentationContexts {
		rpc := p.Service.RequestedContext(apc.ID)
		if rpc == nil {
			if mismatch == nil {
				mismatch = errors.NewNegotiationError(errors.KindCodingError,
					"accepted presentation context ID %d was never requested", apc.ID)
			}
			continue
		}
		rpc.Result = apc.Result
		if apc.Result == types.Acceptance {
			rpc.AcceptedTransferSyntax = apc.AcceptedTransferSyntax
		} else {
			rpc.AcceptedTransferSyntax = ""
		}
		rpc.AcceptedRole = apc.AcceptedRole
	}
	return mismatch
}
