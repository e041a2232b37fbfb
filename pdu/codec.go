package pdu

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/caio-sobreiro/dicomacse/errors"
	"github.com/caio-sobreiro/dicomacse/types"
)

const (
	protocolVersion = 0x0001
	fixedFieldsLen  = 68
	// maxPDUBody bounds a single PDU read regardless of negotiated sizes.
	maxPDUBody = 16 << 20
)

var errProtocolVersion = stderrors.New("unsupported protocol version")

func normalizeUID(raw []byte) string {
	value := string(raw)
	value = strings.TrimRight(value, "\x00 ")
	return value
}

func normalizeAETitle(raw []byte) string {
	value := string(raw)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

func appendItem(buf []byte, itemType byte, value []byte) ([]byte, error) {
	if len(value) > 0xFFFF {
		return nil, errors.NewPDUError(itemType, fmt.Sprintf("item length %d exceeds 65535", len(value)))
	}
	buf = append(buf, itemType, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...), nil
}

func appendPDU(pduType byte, body []byte) []byte {
	out := make([]byte, 0, 6+len(body))
	out = append(out, pduType, 0x00)
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}

// forEachItem walks a sequence of type/reserved/uint16-length items.
func forEachItem(data []byte, fn func(itemType byte, value []byte) error) error {
	offset := 0
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		valueStart := offset + 4
		valueEnd := valueStart + int(itemLength)
		if valueEnd > len(data) {
			return fmt.Errorf("item 0x%02x exceeds enclosing length", itemType)
		}
		if err := fn(itemType, data[valueStart:valueEnd]); err != nil {
			return err
		}
		offset = valueEnd
	}
	return nil
}

func encodeFixedFields(called, calling string) []byte {
	fixed := make([]byte, fixedFieldsLen)
	binary.BigEndian.PutUint16(fixed[0:2], protocolVersion)
	copy(fixed[4:20], fmt.Sprintf("%-16s", types.Truncate(called, types.MaxAETitleLength)))
	copy(fixed[20:36], fmt.Sprintf("%-16s", types.Truncate(calling, types.MaxAETitleLength)))
	return fixed
}

func roleBits(role types.Role) (scu, scp byte) {
	switch role {
	case types.RoleSCU:
		return 1, 0
	case types.RoleSCP:
		return 0, 1
	case types.RoleSCUSCP:
		return 1, 1
	default:
		return 0, 0
	}
}

func roleFromBits(scu, scp byte) types.Role {
	switch {
	case scu != 0 && scp != 0:
		return types.RoleSCUSCP
	case scu != 0:
		return types.RoleSCU
	case scp != 0:
		return types.RoleSCP
	default:
		return types.RoleNone
	}
}

func hasRoleItem(role types.Role) bool {
	return role != types.RoleDefault && role != types.RoleNone
}

type roleItem struct {
	abstractSyntax string
	role           types.Role
}

// userInfo is the decoded form of a user information item.
type userInfo struct {
	maxPDU      uint32
	implClass   string
	implVersion string
	roles       map[string]types.Role
	extNeg      []types.ExtendedNegotiationItem
	identityRQ  *types.UserIdentityRQ
	identityAC  *types.UserIdentityAC
}

func encodeUserInformation(info userInfo, roles []roleItem) ([]byte, error) {
	var sub []byte
	var err error

	maxLen := make([]byte, 4)
	binary.BigEndian.PutUint32(maxLen, info.maxPDU)
	if sub, err = appendItem(sub, types.ItemMaximumLength, maxLen); err != nil {
		return nil, err
	}
	if sub, err = appendItem(sub, types.ItemImplementationClass, []byte(info.implClass)); err != nil {
		return nil, err
	}

	for _, r := range roles {
		value := binary.BigEndian.AppendUint16(nil, uint16(len(r.abstractSyntax)))
		value = append(value, r.abstractSyntax...)
		scu, scp := roleBits(r.role)
		value = append(value, scu, scp)
		if sub, err = appendItem(sub, types.ItemRoleSelection, value); err != nil {
			return nil, err
		}
	}

	if info.implVersion != "" {
		if sub, err = appendItem(sub, types.ItemImplementationVersion, []byte(info.implVersion)); err != nil {
			return nil, err
		}
	}

	for _, ext := range info.extNeg {
		value := binary.BigEndian.AppendUint16(nil, uint16(len(ext.AbstractSyntax)))
		value = append(value, ext.AbstractSyntax...)
		value = append(value, ext.Data...)
		if sub, err = appendItem(sub, types.ItemExtendedNegotiation, value); err != nil {
			return nil, err
		}
	}

	if rq := info.identityRQ; rq != nil {
		value := []byte{byte(rq.Type), 0}
		if rq.PositiveResponseRequired {
			value[1] = 1
		}
		value = binary.BigEndian.AppendUint16(value, uint16(len(rq.Primary)))
		value = append(value, rq.Primary...)
		value = binary.BigEndian.AppendUint16(value, uint16(len(rq.Secondary)))
		value = append(value, rq.Secondary...)
		if sub, err = appendItem(sub, types.ItemUserIdentityRQ, value); err != nil {
			return nil, err
		}
	}

	if ac := info.identityAC; ac != nil {
		value := binary.BigEndian.AppendUint16(nil, uint16(len(ac.ServerResponse)))
		value = append(value, ac.ServerResponse...)
		if sub, err = appendItem(sub, types.ItemUserIdentityAC, value); err != nil {
			return nil, err
		}
	}

	return appendItem(nil, types.ItemUserInformation, sub)
}

func decodeUserInformation(data []byte) (userInfo, error) {
	info := userInfo{roles: make(map[string]types.Role)}
	err := forEachItem(data, func(itemType byte, value []byte) error {
		switch itemType {
		case types.ItemMaximumLength:
			if len(value) == 4 {
				info.maxPDU = binary.BigEndian.Uint32(value)
			}
		case types.ItemImplementationClass:
			info.implClass = normalizeUID(value)
		case types.ItemImplementationVersion:
			info.implVersion = normalizeAETitle(value)
		case types.ItemRoleSelection:
			uid, rest, err := splitUID(value)
			if err != nil {
				return err
			}
			if len(rest) < 2 {
				return fmt.Errorf("role selection for %s truncated", uid)
			}
			info.roles[uid] = roleFromBits(rest[0], rest[1])
		case types.ItemExtendedNegotiation:
			uid, rest, err := splitUID(value)
			if err != nil {
				return err
			}
			info.extNeg = append(info.extNeg, types.ExtendedNegotiationItem{
				AbstractSyntax: uid,
				Data:           append([]byte(nil), rest...),
			})
		case types.ItemUserIdentityRQ:
			rq, err := decodeUserIdentityRQ(value)
			if err != nil {
				return err
			}
			info.identityRQ = rq
		case types.ItemUserIdentityAC:
			if len(value) < 2 {
				return fmt.Errorf("user identity response truncated")
			}
			n := int(binary.BigEndian.Uint16(value[0:2]))
			if 2+n > len(value) {
				return fmt.Errorf("user identity response exceeds item")
			}
			info.identityAC = &types.UserIdentityAC{ServerResponse: append([]byte(nil), value[2:2+n]...)}
		}
		return nil
	})
	return info, err
}

func splitUID(value []byte) (string, []byte, error) {
	if len(value) < 2 {
		return "", nil, fmt.Errorf("sub-item too short")
	}
	n := int(binary.BigEndian.Uint16(value[0:2]))
	if 2+n > len(value) {
		return "", nil, fmt.Errorf("UID length %d exceeds sub-item", n)
	}
	return normalizeUID(value[2 : 2+n]), value[2+n:], nil
}

func decodeUserIdentityRQ(value []byte) (*types.UserIdentityRQ, error) {
	if len(value) < 4 {
		return nil, fmt.Errorf("user identity request truncated")
	}
	rq := &types.UserIdentityRQ{
		Type:                     types.UserIdentityType(value[0]),
		PositiveResponseRequired: value[1] != 0,
	}
	n := int(binary.BigEndian.Uint16(value[2:4]))
	if 4+n+2 > len(value) {
		return nil, fmt.Errorf("user identity primary field exceeds item")
	}
	rq.Primary = append([]byte(nil), value[4:4+n]...)
	rest := value[4+n:]
	m := int(binary.BigEndian.Uint16(rest[0:2]))
	if 2+m > len(rest) {
		return nil, fmt.Errorf("user identity secondary field exceeds item")
	}
	if m > 0 {
		rq.Secondary = append([]byte(nil), rest[2:2+m]...)
	}
	return rq, nil
}

// EncodeAssociateRQ builds an A-ASSOCIATE-RQ PDU from the requestor's parameters.
func EncodeAssociateRQ(p *types.ServiceParameters) ([]byte, error) {
	body := encodeFixedFields(p.CalledAPTitle, p.CallingAPTitle)
	body, err := appendItem(body, types.ItemApplicationContext, []byte(p.ApplicationContextName))
	if err != nil {
		return nil, err
	}

	var roles []roleItem
	seen := make(map[string]bool)
	for _, pc := range p.RequestedPresentationContexts {
		sub, err := appendItem(nil, types.ItemAbstractSyntax, []byte(pc.AbstractSyntax))
		if err != nil {
			return nil, err
		}
		for _, ts := range pc.ProposedTransferSyntaxes {
			if sub, err = appendItem(sub, types.ItemTransferSyntax, []byte(ts)); err != nil {
				return nil, err
			}
		}
		value := append([]byte{pc.ID, 0x00, 0x00, 0x00}, sub...)
		if body, err = appendItem(body, types.ItemPresentationContextRQ, value); err != nil {
			return nil, err
		}

		if hasRoleItem(pc.ProposedRole) && !seen[pc.AbstractSyntax] {
			seen[pc.AbstractSyntax] = true
			roles = append(roles, roleItem{pc.AbstractSyntax, pc.ProposedRole})
		}
	}

	ui, err := encodeUserInformation(userInfo{
		maxPDU:      p.MaxPDU,
		implClass:   p.CallingImplementationClassUID,
		implVersion: p.CallingImplementationVersionName,
		extNeg:      p.RequestedExtendedNegotiation,
		identityRQ:  p.UserIdentityRQ,
	}, roles)
	if err != nil {
		return nil, err
	}
	return appendPDU(types.TypeAssociateRQ, append(body, ui...)), nil
}

// DecodeAssociateRQ parses the body of an A-ASSOCIATE-RQ PDU. Every parsed
// context is marked not yet negotiated.
func DecodeAssociateRQ(data []byte) (*types.ServiceParameters, error) {
	if len(data) < fixedFieldsLen {
		return nil, errors.NewPDUError(types.TypeAssociateRQ, "association request too short")
	}
	if binary.BigEndian.Uint16(data[0:2])&protocolVersion == 0 {
		return nil, errProtocolVersion
	}

	p := &types.ServiceParameters{
		CalledAPTitle:  normalizeAETitle(data[4:20]),
		CallingAPTitle: normalizeAETitle(data[20:36]),
	}

	var info userInfo
	err := forEachItem(data[fixedFieldsLen:], func(itemType byte, value []byte) error {
		switch itemType {
		case types.ItemApplicationContext:
			p.ApplicationContextName = normalizeUID(value)
		case types.ItemPresentationContextRQ:
			pc, err := decodePresentationContextRQ(value)
			if err != nil {
				return err
			}
			p.RequestedPresentationContexts = append(p.RequestedPresentationContexts, pc)
		case types.ItemUserInformation:
			var err error
			info, err = decodeUserInformation(value)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewPDUError(types.TypeAssociateRQ, err.Error())
	}

	p.PeerMaxPDU = info.maxPDU
	p.CallingImplementationClassUID = info.implClass
	p.CallingImplementationVersionName = info.implVersion
	p.RequestedExtendedNegotiation = info.extNeg
	p.UserIdentityRQ = info.identityRQ
	for i := range p.RequestedPresentationContexts {
		pc := &p.RequestedPresentationContexts[i]
		if role, ok := info.roles[pc.AbstractSyntax]; ok {
			pc.ProposedRole = role
		}
	}
	return p, nil
}

func decodePresentationContextRQ(data []byte) (types.PresentationContext, error) {
	if len(data) < 4 {
		return types.PresentationContext{}, fmt.Errorf("presentation context too short: %d", len(data))
	}

	pc := types.PresentationContext{
		ID:           data[0],
		Result:       types.NotYetNegotiated,
		ProposedRole: types.RoleDefault,
		AcceptedRole: types.RoleDefault,
	}
	err := forEachItem(data[4:], func(itemType byte, value []byte) error {
		switch itemType {
		case types.ItemAbstractSyntax:
			pc.AbstractSyntax = normalizeUID(value)
		case types.ItemTransferSyntax:
			pc.ProposedTransferSyntaxes = append(pc.ProposedTransferSyntaxes, normalizeUID(value))
		}
		return nil
	})
	if err != nil {
		return pc, err
	}
	if pc.AbstractSyntax == "" {
		return pc, fmt.Errorf("presentation context %d missing abstract syntax", pc.ID)
	}
	return pc, nil
}

// EncodeAssociateAC builds an A-ASSOCIATE-AC PDU. Refused contexts are
// included with whatever transfer syntax they carry.
func EncodeAssociateAC(p *types.ServiceParameters) ([]byte, error) {
	body := encodeFixedFields(p.CalledAPTitle, p.CallingAPTitle)
	body, err := appendItem(body, types.ItemApplicationContext, []byte(p.ApplicationContextName))
	if err != nil {
		return nil, err
	}

	var roles []roleItem
	seen := make(map[string]bool)
	for _, pc := range p.AcceptedPresentationContexts {
		ts := pc.AcceptedTransferSyntax
		if ts == "" {
			ts = types.ImplicitVRLittleEndian
		}
		sub, err := appendItem(nil, types.ItemTransferSyntax, []byte(ts))
		if err != nil {
			return nil, err
		}
		value := append([]byte{pc.ID, 0x00, byte(pc.Result), 0x00}, sub...)
		if body, err = appendItem(body, types.ItemPresentationContextAC, value); err != nil {
			return nil, err
		}

		rq := p.RequestedContext(pc.ID)
		if rq == nil || !hasRoleItem(rq.ProposedRole) || pc.Result != types.Acceptance || seen[rq.AbstractSyntax] {
			continue
		}
		seen[rq.AbstractSyntax] = true
		roles = append(roles, roleItem{rq.AbstractSyntax, pc.AcceptedRole})
	}

	ui, err := encodeUserInformation(userInfo{
		maxPDU:      p.MaxPDU,
		implClass:   p.CalledImplementationClassUID,
		implVersion: p.CalledImplementationVersionName,
		extNeg:      p.AcceptedExtendedNegotiation,
		identityAC:  p.UserIdentityAC,
	}, roles)
	if err != nil {
		return nil, err
	}
	return appendPDU(types.TypeAssociateAC, append(body, ui...)), nil
}

// DecodeAssociateAC parses the body of an A-ASSOCIATE-AC PDU into p, which
// must still hold the requested contexts so IDs can be mapped back to
// abstract syntaxes.
func DecodeAssociateAC(data []byte, p *types.ServiceParameters) error {
	if len(data) < fixedFieldsLen {
		return errors.NewPDUError(types.TypeAssociateAC, "association accept too short")
	}
	p.RespondingAPTitle = normalizeAETitle(data[4:20])
	p.AcceptedPresentationContexts = nil

	var info userInfo
	err := forEachItem(data[fixedFieldsLen:], func(itemType byte, value []byte) error {
		switch itemType {
		case types.ItemApplicationContext:
			p.ApplicationContextName = normalizeUID(value)
		case types.ItemPresentationContextAC:
			if len(value) < 4 {
				return fmt.Errorf("presentation context AC too short: %d", len(value))
			}
			pc := types.PresentationContext{
				ID:           value[0],
				Result:       types.ResultReason(value[2]),
				ProposedRole: types.RoleDefault,
				AcceptedRole: types.RoleDefault,
			}
			if err := forEachItem(value[4:], func(subType byte, subValue []byte) error {
				if subType == types.ItemTransferSyntax {
					pc.AcceptedTransferSyntax = normalizeUID(subValue)
				}
				return nil
			}); err != nil {
				return err
			}
			if rq := p.RequestedContext(pc.ID); rq != nil {
				pc.AbstractSyntax = rq.AbstractSyntax
				pc.ProposedRole = rq.ProposedRole
			}
			p.AcceptedPresentationContexts = append(p.AcceptedPresentationContexts, pc)
		case types.ItemUserInformation:
			var err error
			info, err = decodeUserInformation(value)
			return err
		}
		return nil
	})
	if err != nil {
		return errors.NewPDUError(types.TypeAssociateAC, err.Error())
	}

	p.PeerMaxPDU = info.maxPDU
	p.CalledImplementationClassUID = info.implClass
	p.CalledImplementationVersionName = info.implVersion
	p.AcceptedExtendedNegotiation = info.extNeg
	p.UserIdentityAC = info.identityAC
	for i := range p.AcceptedPresentationContexts {
		pc := &p.AcceptedPresentationContexts[i]
		if role, ok := info.roles[pc.AbstractSyntax]; ok {
			pc.AcceptedRole = role
		}
	}
	return nil
}

// EncodeAssociateRJ builds an A-ASSOCIATE-RJ PDU.
func EncodeAssociateRJ(rj types.RejectItems) []byte {
	return appendPDU(types.TypeAssociateRJ, []byte{0x00, rj.Result, rj.Source, rj.Reason})
}

// DecodeAssociateRJ converts an A-ASSOCIATE-RJ body into an AssociationError.
func DecodeAssociateRJ(data []byte) error {
	if len(data) < 4 {
		return errors.NewPDUError(types.TypeAssociateRJ, "association reject too short")
	}
	return errors.NewAssociationError(data[1], data[2], data[3])
}

// EncodeReleaseRQ builds an A-RELEASE-RQ PDU.
func EncodeReleaseRQ() []byte {
	return appendPDU(types.TypeReleaseRQ, make([]byte, 4))
}

// EncodeReleaseRP builds an A-RELEASE-RP PDU.
func EncodeReleaseRP() []byte {
	return appendPDU(types.TypeReleaseRP, make([]byte, 4))
}

// EncodeAbort builds an A-ABORT PDU.
func EncodeAbort(ab types.AbortItems) []byte {
	return appendPDU(types.TypeAbort, []byte{0x00, 0x00, ab.Source, ab.Reason})
}

// DecodeAbort converts an A-ABORT body into an AbortError.
func DecodeAbort(data []byte) error {
	if len(data) < 4 {
		return errors.NewAbortError(0x00, 0x00)
	}
	return errors.NewAbortError(data[2], data[3])
}

// EncodePDataTF builds one P-DATA-TF PDU carrying pdvs in order.
func EncodePDataTF(pdvs []types.PDV) []byte {
	var body []byte
	for _, pdv := range pdvs {
		body = binary.BigEndian.AppendUint32(body, uint32(len(pdv.Data)+2))
		body = append(body, pdv.ContextID, pdv.MessageControlHeader())
		body = append(body, pdv.Data...)
	}
	return appendPDU(types.TypePDataTF, body)
}

// DecodePDataTF splits a P-DATA-TF body into its PDVs.
func DecodePDataTF(data []byte) ([]types.PDV, error) {
	var pdvs []types.PDV
	offset := 0
	for offset < len(data) {
		if offset+6 > len(data) {
			return nil, errors.NewPDUError(types.TypePDataTF, "PDV header truncated")
		}
		pdvLength := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		if pdvLength < 2 || offset+4+pdvLength > len(data) {
			return nil, errors.NewPDUError(types.TypePDataTF, "incomplete PDV data")
		}
		value := data[offset+4 : offset+4+pdvLength]
		pdvs = append(pdvs, types.PDV{
			ContextID: value[0],
			Command:   value[1]&0x01 != 0,
			Last:      value[1]&0x02 != 0,
			Data:      append([]byte(nil), value[2:]...),
		})
		offset += 4 + pdvLength
	}
	return pdvs, nil
}

// readPDU reads a complete PDU from r
func readPDU(r io.Reader) (*types.PDU, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	pduType := header[0]
	pduLength := binary.BigEndian.Uint32(header[2:6])
	if pduType < types.TypeAssociateRQ || pduType > types.TypeAbort {
		return nil, errors.NewPDUError(pduType, "unrecognized PDU type")
	}
	if pduLength > maxPDUBody {
		return nil, errors.NewPDUError(pduType, fmt.Sprintf("PDU length %d too large", pduLength))
	}

	pduData := make([]byte, pduLength)
	if _, err := io.ReadFull(r, pduData); err != nil {
		return nil, fmt.Errorf("failed to read PDU data: %w", err)
	}

	return &types.PDU{
		Type:   pduType,
		Length: pduLength,
		Data:   pduData,
	}, nil
}
