package pdu

import (
	"bytes"
	"encoding/binary"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomacse/errors"
	"github.com/caio-sobreiro/dicomacse/types"
)

func requestParams() *types.ServiceParameters {
	return &types.ServiceParameters{
		ApplicationContextName:           types.ApplicationContextUID,
		CallingAPTitle:                   "STORESCU",
		CalledAPTitle:                    "ANY-SCP",
		MaxPDU:                           16384,
		CallingImplementationClassUID:    types.ImplementationClassUID,
		CallingImplementationVersionName: types.ImplementationVersionName,
		RequestedPresentationContexts: []types.PresentationContext{
			{
				ID:                       1,
				AbstractSyntax:           types.CTImageStorage,
				ProposedTransferSyntaxes: []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian},
				ProposedRole:             types.RoleDefault,
				Result:                   types.NotYetNegotiated,
			},
			{
				ID:                       3,
				AbstractSyntax:           types.MRImageStorage,
				ProposedTransferSyntaxes: []string{types.JPEG2000Lossless},
				ProposedRole:             types.RoleSCUSCP,
				Result:                   types.NotYetNegotiated,
			},
		},
		RequestedExtendedNegotiation: []types.ExtendedNegotiationItem{
			{AbstractSyntax: types.CTImageStorage, Data: []byte{0x01, 0x00}},
		},
		UserIdentityRQ: &types.UserIdentityRQ{
			Type:                     types.UserIdentityUsernamePasscode,
			PositiveResponseRequired: true,
			Primary:                  []byte("alice"),
			Secondary:                []byte("secret"),
		},
	}
}

func TestAssociateRQ_EncodeDecode(t *testing.T) {
	encoded, err := EncodeAssociateRQ(requestParams())
	require.NoError(t, err)

	assert.Equal(t, byte(types.TypeAssociateRQ), encoded[0])
	assert.Equal(t, uint32(len(encoded)-6), binary.BigEndian.Uint32(encoded[2:6]))
	assert.Equal(t, "ANY-SCP         ", string(encoded[10:26]))

	decoded, err := DecodeAssociateRQ(encoded[6:])
	require.NoError(t, err)

	assert.Equal(t, "STORESCU", decoded.CallingAPTitle)
	assert.Equal(t, "ANY-SCP", decoded.CalledAPTitle)
	assert.Equal(t, types.ApplicationContextUID, decoded.ApplicationContextName)
	assert.Equal(t, uint32(16384), decoded.PeerMaxPDU)
	assert.Equal(t, types.ImplementationClassUID, decoded.CallingImplementationClassUID)
	assert.Equal(t, types.ImplementationVersionName, decoded.CallingImplementationVersionName)

	require.Len(t, decoded.RequestedPresentationContexts, 2)
	first := decoded.RequestedPresentationContexts[0]
	assert.Equal(t, byte(1), first.ID)
	assert.Equal(t, types.CTImageStorage, first.AbstractSyntax)
	assert.Equal(t, []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian}, first.ProposedTransferSyntaxes)
	assert.Equal(t, types.NotYetNegotiated, first.Result)
	assert.Equal(t, types.RoleDefault, first.ProposedRole)
	assert.Equal(t, types.RoleSCUSCP, decoded.RequestedPresentationContexts[1].ProposedRole)

	require.Len(t, decoded.RequestedExtendedNegotiation, 1)
	assert.Equal(t, []byte{0x01, 0x00}, decoded.RequestedExtendedNegotiation[0].Data)

	require.NotNil(t, decoded.UserIdentityRQ)
	assert.Equal(t, types.UserIdentityUsernamePasscode, decoded.UserIdentityRQ.Type)
	assert.True(t, decoded.UserIdentityRQ.PositiveResponseRequired)
	assert.Equal(t, "alice", string(decoded.UserIdentityRQ.Primary))
	assert.Equal(t, "secret", string(decoded.UserIdentityRQ.Secondary))
}

func TestAssociateRQ_ProtocolVersion(t *testing.T) {
	encoded, err := EncodeAssociateRQ(requestParams())
	require.NoError(t, err)

	body := encoded[6:]
	body[0], body[1] = 0x00, 0x02
	_, err = DecodeAssociateRQ(body)
	assert.True(t, stderrors.Is(err, errProtocolVersion))
}

func TestAssociateRQ_TooShort(t *testing.T) {
	_, err := DecodeAssociateRQ(make([]byte, 10))
	assert.ErrorIs(t, err, errors.ErrInvalidPDU)
}

func TestAssociateAC_EncodeDecode(t *testing.T) {
	acceptor := requestParams()
	acceptor.MaxPDU = 32768
	acceptor.CalledImplementationClassUID = "1.2.3.4"
	acceptor.CalledImplementationVersionName = "PEER_1"
	acceptor.UserIdentityAC = &types.UserIdentityAC{ServerResponse: []byte("ok")}
	acceptor.AcceptedPresentationContexts = []types.PresentationContext{
		{ID: 1, AbstractSyntax: types.CTImageStorage, AcceptedTransferSyntax: types.ExplicitVRLittleEndian, Result: types.Acceptance, AcceptedRole: types.RoleDefault},
		{ID: 3, AbstractSyntax: types.MRImageStorage, AcceptedTransferSyntax: types.JPEG2000Lossless, Result: types.Acceptance, AcceptedRole: types.RoleSCU},
	}

	encoded, err := EncodeAssociateAC(acceptor)
	require.NoError(t, err)
	assert.Equal(t, byte(types.TypeAssociateAC), encoded[0])

	requestor := requestParams()
	require.NoError(t, DecodeAssociateAC(encoded[6:], requestor))

	assert.Equal(t, "ANY-SCP", requestor.RespondingAPTitle)
	assert.Equal(t, uint32(32768), requestor.PeerMaxPDU)
	assert.Equal(t, "1.2.3.4", requestor.CalledImplementationClassUID)
	assert.Equal(t, "PEER_1", requestor.CalledImplementationVersionName)
	require.NotNil(t, requestor.UserIdentityAC)
	assert.Equal(t, "ok", string(requestor.UserIdentityAC.ServerResponse))

	require.Len(t, requestor.AcceptedPresentationContexts, 2)
	ct := requestor.AcceptedPresentationContexts[0]
	assert.Equal(t, types.CTImageStorage, ct.AbstractSyntax)
	assert.Equal(t, types.Acceptance, ct.Result)
	assert.Equal(t, types.RoleDefault, ct.AcceptedRole)
	mr := requestor.AcceptedPresentationContexts[1]
	assert.Equal(t, types.JPEG2000Lossless, mr.AcceptedTransferSyntax)
	assert.Equal(t, types.RoleSCU, mr.AcceptedRole)
	assert.Equal(t, types.RoleSCUSCP, mr.ProposedRole)
}

func TestAssociateAC_RefusedContextCarriesTransferSyntax(t *testing.T) {
	acceptor := requestParams()
	acceptor.AcceptedPresentationContexts = []types.PresentationContext{
		{ID: 1, Result: types.AbstractSyntaxNotSupported},
	}

	encoded, err := EncodeAssociateAC(acceptor)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(encoded, []byte(types.ImplicitVRLittleEndian)))

	requestor := requestParams()
	require.NoError(t, DecodeAssociateAC(encoded[6:], requestor))
	require.Len(t, requestor.AcceptedPresentationContexts, 1)
	assert.Equal(t, types.AbstractSyntaxNotSupported, requestor.AcceptedPresentationContexts[0].Result)
	assert.Equal(t, types.ImplicitVRLittleEndian, requestor.AcceptedPresentationContexts[0].AcceptedTransferSyntax)
}

func TestAssociateRJ(t *testing.T) {
	encoded := EncodeAssociateRJ(types.RejectItems{Result: 0x01, Source: 0x01, Reason: 0x07})
	assert.Equal(t, []byte{types.TypeAssociateRJ, 0, 0, 0, 0, 4, 0, 1, 1, 7}, encoded)

	err := DecodeAssociateRJ(encoded[6:])
	var ae *errors.AssociationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, errors.RejectReasonCalledAETitleNotRecognized, ae.Reason)
	assert.ErrorIs(t, err, errors.ErrAssociationRejected)
}

func TestReleaseAndAbortPDUs(t *testing.T) {
	assert.Equal(t, []byte{0x05, 0, 0, 0, 0, 4, 0, 0, 0, 0}, EncodeReleaseRQ())
	assert.Equal(t, []byte{0x06, 0, 0, 0, 0, 4, 0, 0, 0, 0}, EncodeReleaseRP())

	abort := EncodeAbort(types.AbortItems{Source: 0x02, Reason: 0x01})
	err := DecodeAbort(abort[6:])
	var ab *errors.AbortError
	require.ErrorAs(t, err, &ab)
	assert.Equal(t, byte(0x02), ab.Source)
	assert.Equal(t, byte(0x01), ab.Reason)
}

func TestPDataTF_EncodeDecode(t *testing.T) {
	pdvs := []types.PDV{
		{ContextID: 1, Command: true, Last: true, Data: []byte{0xAA, 0xBB}},
		{ContextID: 1, Last: false, Data: []byte{0x01}},
	}
	encoded := EncodePDataTF(pdvs)
	assert.Equal(t, byte(types.TypePDataTF), encoded[0])

	decoded, err := DecodePDataTF(encoded[6:])
	require.NoError(t, err)
	assert.Equal(t, pdvs, decoded)
}

func TestPDataTF_Truncated(t *testing.T) {
	_, err := DecodePDataTF([]byte{0, 0, 0, 9, 1, 3})
	assert.ErrorIs(t, err, errors.ErrInvalidPDU)
}

func TestReadPDU(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		pdu, err := readPDU(bytes.NewReader(EncodeReleaseRQ()))
		require.NoError(t, err)
		assert.Equal(t, byte(types.TypeReleaseRQ), pdu.Type)
		assert.Equal(t, uint32(4), pdu.Length)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := readPDU(bytes.NewReader([]byte{0x09, 0, 0, 0, 0, 0}))
		assert.ErrorIs(t, err, errors.ErrInvalidPDU)
	})

	t.Run("short body", func(t *testing.T) {
		_, err := readPDU(bytes.NewReader([]byte{0x05, 0, 0, 0, 0, 4, 0}))
		assert.Error(t, err)
	})
}

func TestAppendItem_TooLong(t *testing.T) {
	_, err := appendItem(nil, types.ItemExtendedNegotiation, make([]byte, 70000))
	assert.ErrorIs(t, err, errors.ErrInvalidPDU)
}
