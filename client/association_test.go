package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomacse/acse"
	"github.com/caio-sobreiro/dicomacse/config"
	"github.com/caio-sobreiro/dicomacse/errors"
	"github.com/caio-sobreiro/dicomacse/pdu"
	"github.com/caio-sobreiro/dicomacse/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// acceptor answers each incoming association with decide and then waits
// for the release.
func acceptor(t *testing.T, decide ...func(*acse.Association) error) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	network, err := pdu.InitializeNetwork(pdu.NetworkAcceptor, 0, 5*time.Second,
		pdu.WithListener(ln), pdu.WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { network.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for _, d := range decide {
			a, err := acse.ReceiveAssociation(ctx, network, acse.DefaultMaxPDU,
				acse.ReceiveOptions{Block: true, Options: []acse.Option{acse.WithLogger(quietLogger())}})
			if err != nil {
				return
			}
			if err := d(a); err != nil || a.State() != acse.StateEstablished {
				continue
			}
			if _, err := a.ReceiveData(ctx); err == errors.ErrReleaseRequested {
				a.AcknowledgeRelease(ctx) //nolint:errcheck
			}
		}
	}()
	return ln.Addr().String()
}

func acceptVerification(a *acse.Association) error {
	if err := a.Params.AcceptContextsWithPreferredTransferSyntaxes(
		[]string{types.VerificationSOPClass, types.CTImageStorage},
		[]string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian},
		types.RoleDefault); err != nil {
		return err
	}
	return a.Acknowledge(context.Background())
}

func rejectWith(result errors.RejectResult) func(*acse.Association) error {
	return func(a *acse.Association) error {
		return a.Reject(context.Background(), acse.RejectParameters{
			Result: result,
			Source: errors.RejectSourceServiceProviderPresentation,
			Reason: errors.RejectReasonTemporaryCongestion,
		})
	}
}

func TestConnect_Defaults(t *testing.T) {
	address := acceptor(t, acceptVerification)
	ctx := context.Background()

	assoc, err := Connect(ctx, address, Config{
		CallingAETitle: "SCU",
		CalledAETitle:  "SCP",
		Logger:         quietLogger(),
	})
	require.NoError(t, err)

	assert.Equal(t, acse.StateEstablished, assoc.State())
	id, err := assoc.GetPresentationContextID(types.VerificationSOPClass)
	require.NoError(t, err)
	assert.Equal(t, byte(1), id)

	pc, err := assoc.Params.FindAcceptedPresentationContext(id)
	require.NoError(t, err)
	assert.Equal(t, types.ExplicitVRLittleEndian, pc.AcceptedTransferSyntax)

	_, err = assoc.GetPresentationContextID(types.MRImageStorage)
	assert.ErrorIs(t, err, errors.ErrBadContextID)

	require.NoError(t, assoc.Close(ctx))
	assert.Equal(t, acse.StateClosed, assoc.State())
}

func TestConnect_ProposesEveryAbstractSyntax(t *testing.T) {
	address := acceptor(t, acceptVerification)
	ctx := context.Background()

	assoc, err := Connect(ctx, address, Config{
		CallingAETitle:            "SCU",
		CalledAETitle:             "SCP",
		Logger:                    quietLogger(),
		AbstractSyntaxes:          []string{types.MRImageStorage, types.CTImageStorage},
		PreferredTransferSyntaxes: []string{types.ImplicitVRLittleEndian},
	})
	require.NoError(t, err)
	defer assoc.Close(ctx) //nolint:errcheck

	p := assoc.Params
	require.Equal(t, 2, p.CountPresentationContexts())
	assert.Equal(t, types.AbstractSyntaxNotSupported, p.Service.RequestedContext(1).Result)
	assert.Equal(t, types.Acceptance, p.Service.RequestedContext(3).Result)
	assert.Equal(t, byte(3), assoc.FindAcceptedPresentationContextID(types.CTImageStorage))
}

func TestConnect_RetriesTransientRejection(t *testing.T) {
	address := acceptor(t, rejectWith(errors.RejectResultTransient), acceptVerification)
	ctx := context.Background()

	assoc, err := Connect(ctx, address, Config{
		CallingAETitle: "SCU",
		CalledAETitle:  "SCP",
		Logger:         quietLogger(),
		RetryAttempts:  3,
		RetryDelay:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, acse.StateEstablished, assoc.State())
	require.NoError(t, assoc.Close(ctx))
}

func TestConnect_PermanentRejectionIsFinal(t *testing.T) {
	address := acceptor(t, rejectWith(errors.RejectResultPermanent), acceptVerification)

	_, err := Connect(context.Background(), address, Config{
		CallingAETitle: "SCU",
		CalledAETitle:  "SCP",
		Logger:         quietLogger(),
		RetryAttempts:  3,
		RetryDelay:     10 * time.Millisecond,
	})
	require.ErrorIs(t, err, errors.ErrAssociationRejected)

	rej, ok := acse.RejectParametersFromError(err)
	require.True(t, ok)
	assert.Equal(t, errors.RejectReasonTemporaryCongestion, rej.Reason)
}

func TestConnect_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := ln.Addr().String()
	ln.Close()

	_, err = Connect(context.Background(), address, Config{
		CallingAETitle: "SCU",
		Logger:         quietLogger(),
		RetryAttempts:  2,
	})
	var ne *errors.NetworkError
	assert.ErrorAs(t, err, &ne)
}

func TestConnect_TooManyAbstractSyntaxes(t *testing.T) {
	syntaxes := make([]string, 129)
	for i := range syntaxes {
		syntaxes[i] = fmt.Sprintf("1.2.3.%d", i)
	}
	_, err := Connect(context.Background(), "127.0.0.1:1", Config{
		Logger:           quietLogger(),
		AbstractSyntaxes: syntaxes,
		RetryAttempts:    3,
	})
	assert.ErrorIs(t, err, errors.ErrBadContextID)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(errors.NewAssociationError(0x02, 0x03, 0x01)))
	assert.False(t, retryable(errors.NewAssociationError(0x01, 0x01, 0x07)))
	assert.True(t, retryable(fmt.Errorf("wrapped: %w", errors.NewNetworkError("connect", io.EOF))))
	assert.False(t, retryable(errors.ErrBadContextID))
	assert.False(t, retryable(errors.NewAbortError(0x00, 0x00)))
}

func TestConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.AETitle = "MODALITY"
	cfg.PeerAETitle = "PACS"
	cfg.StrictRoleSelection = true
	cfg.AbstractSyntaxes = []string{types.CTImageStorage}

	c, err := ConfigFrom(cfg)
	require.NoError(t, err)
	assert.Equal(t, "MODALITY", c.CallingAETitle)
	assert.Equal(t, "PACS", c.CalledAETitle)
	assert.Equal(t, cfg.MaxPDU, c.MaxPDULength)
	assert.Equal(t, cfg.ACSETimeout, c.ConnectTimeout)
	assert.Equal(t, cfg.Timeouts(), c.Timeouts)
	assert.True(t, c.StrictRoleSelection)
	assert.Equal(t, uint(3), c.RetryAttempts)
	assert.Nil(t, c.TLSConfig)

	cfg.AETitle = ""
	_, err = ConfigFrom(cfg)
	var ce *errors.ConfigError
	assert.ErrorAs(t, err, &ce)
}
