package server

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
	"github.com/caio-sobreiro/dicomacse/client"
	"github.com/caio-sobreiro/dicomacse/config"
	"github.com/caio-sobreiro/dicomacse/errors"
	"github.com/caio-sobreiro/dicomacse/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func verificationPolicy() *ContextPolicy {
	return &ContextPolicy{
		AETitle:          "TEST-SCP",
		AbstractSyntaxes: []string{types.VerificationSOPClass, types.CTImageStorage},
		TransferSyntaxes: []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian},
	}
}

// startServer runs srv on a loopback listener and returns its address and
// a channel carrying the result of Serve.
func startServer(t *testing.T, ctx context.Context, srv *Server) (string, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln)
	}()
	return ln.Addr().String(), done
}

func connect(t *testing.T, address, called string) (*client.Association, error) {
	t.Helper()
	return client.Connect(context.Background(), address, client.Config{
		CallingAETitle:   "TEST-SCU",
		CalledAETitle:    called,
		Logger:           quietLogger(),
		AbstractSyntaxes: []string{types.VerificationSOPClass, types.MRImageStorage},
	})
}

func TestContextPolicy_Negotiate(t *testing.T) {
	t.Run("called title mismatch", func(t *testing.T) {
		params := acse.NewParameters(acse.DefaultMaxPDU)
		params.SetAPTitles("TEST-SCU", "SOMEONE-ELSE", "")

		rej := verificationPolicy().Negotiate(params)
		require.NotNil(t, rej)
		assert.Equal(t, errors.RejectResultPermanent, rej.Result)
		assert.Equal(t, errors.RejectSourceServiceUser, rej.Source)
		assert.Equal(t, errors.RejectReasonCalledAETitleNotRecognized, rej.Reason)
	})

	t.Run("accepts supported contexts", func(t *testing.T) {
		params := acse.NewParameters(acse.DefaultMaxPDU)
		params.SetAPTitles("TEST-SCU", "TEST-SCP", "")
		require.NoError(t, params.AddPresentationContext(1, types.VerificationSOPClass,
			[]string{types.ImplicitVRLittleEndian, types.ExplicitVRLittleEndian}, types.RoleDefault))
		require.NoError(t, params.AddPresentationContext(3, types.MRImageStorage,
			[]string{types.ImplicitVRLittleEndian}, types.RoleDefault))

		assert.Nil(t, verificationPolicy().Negotiate(params))

		pc, err := params.FindAcceptedPresentationContext(1)
		require.NoError(t, err)
		assert.Equal(t, types.ExplicitVRLittleEndian, pc.AcceptedTransferSyntax)
		assert.Equal(t, types.AbstractSyntaxNotSupported, params.Service.AcceptedContext(3).Result)
	})

	t.Run("empty title accepts any", func(t *testing.T) {
		params := acse.NewParameters(acse.DefaultMaxPDU)
		params.SetAPTitles("TEST-SCU", "WHOEVER", "")
		policy := verificationPolicy()
		policy.AETitle = ""
		assert.Nil(t, policy.Negotiate(params))
	})
}

func TestServe_RequiresCollaborators(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	handler := HandlerFunc(func(context.Context, *acse.Association, types.PDV) error { return nil })
	ctx := context.Background()

	assert.Error(t, New("SCP", nil, handler).Serve(ctx, ln))
	assert.Error(t, New("SCP", verificationPolicy(), nil).Serve(ctx, ln))
	assert.Error(t, New("", verificationPolicy(), handler).Serve(ctx, ln))
	assert.Error(t, New("SCP", verificationPolicy(), handler).Serve(ctx, nil))
}

func TestServe_DataAndRelease(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan types.PDV, 8)
	srv := New("TEST-SCP", verificationPolicy(),
		HandlerFunc(func(_ context.Context, _ *acse.Association, pdv types.PDV) error {
			received <- pdv
			return nil
		}),
		WithLogger(quietLogger()),
		WithSelectTimeout(50*time.Millisecond))
	address, done := startServer(t, ctx, srv)

	assoc, err := connect(t, address, "TEST-SCP")
	require.NoError(t, err)
	id, err := assoc.GetPresentationContextID(types.VerificationSOPClass)
	require.NoError(t, err)
	assert.Equal(t, byte(0), assoc.FindAcceptedPresentationContextID(types.MRImageStorage))

	require.NoError(t, assoc.SendData(ctx, id, true, []byte("C-ECHO-RQ")))

	select {
	case pdv := <-received:
		assert.Equal(t, id, pdv.ContextID)
		assert.True(t, pdv.Command)
		assert.True(t, pdv.Last)
		assert.Equal(t, []byte("C-ECHO-RQ"), pdv.Data)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never saw the PDV")
	}

	// A second association is served alongside the first.
	other, err := connect(t, address, "TEST-SCP")
	require.NoError(t, err)
	require.NoError(t, other.SendData(ctx, id, false, []byte{1, 2, 3, 4}))
	select {
	case pdv := <-received:
		assert.False(t, pdv.Command)
		assert.Equal(t, []byte{1, 2, 3, 4}, pdv.Data)
	case <-time.After(5 * time.Second):
		t.Fatal("second association was not served")
	}

	require.NoError(t, assoc.Close(ctx))
	require.NoError(t, other.Close(ctx))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_RejectsUnknownCalledTitle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := New("TEST-SCP", verificationPolicy(),
		HandlerFunc(func(context.Context, *acse.Association, types.PDV) error { return nil }),
		WithLogger(quietLogger()))
	address, _ := startServer(t, ctx, srv)

	_, err := connect(t, address, "NOT-ME")
	require.ErrorIs(t, err, errors.ErrAssociationRejected)

	rej, ok := acse.RejectParametersFromError(err)
	require.True(t, ok)
	assert.Equal(t, errors.RejectReasonCalledAETitleNotRecognized, rej.Reason)

	// The server keeps accepting after a rejection.
	assoc, err := connect(t, address, "TEST-SCP")
	require.NoError(t, err)
	require.NoError(t, assoc.Close(ctx))
}

func TestServe_HandlerErrorAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := New("TEST-SCP", verificationPolicy(),
		HandlerFunc(func(context.Context, *acse.Association, types.PDV) error {
			return fmt.Errorf("unsupported command")
		}),
		WithLogger(quietLogger()),
		WithSelectTimeout(50*time.Millisecond))
	address, _ := startServer(t, ctx, srv)

	assoc, err := connect(t, address, "TEST-SCP")
	require.NoError(t, err)
	require.NoError(t, assoc.SendData(ctx, 1, true, []byte{0}))

	rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
	defer rcancel()
	_, err = assoc.ReceiveData(rctx)
	var ab *errors.AbortError
	require.ErrorAs(t, err, &ab)
	assert.Equal(t, acse.StateClosed, assoc.State())
}

func TestOptionsFrom(t *testing.T) {
	cfg := config.Default()
	cfg.MaxPDU = 65536
	cfg.StrictRoleSelection = true
	cfg.ACSETimeout = 3 * time.Second

	opts, err := OptionsFrom(cfg)
	require.NoError(t, err)

	srv := New(cfg.AETitle, NewContextPolicy(cfg), nil, opts...)
	assert.Equal(t, uint32(65536), srv.MaxPDU)
	assert.True(t, srv.StrictRoleSelection)
	assert.Equal(t, 3*time.Second, srv.ACSETimeout)
	assert.Equal(t, cfg.Timeouts(), srv.Timeouts)
	assert.Nil(t, srv.TLSConfig)

	policy := NewContextPolicy(cfg)
	assert.Equal(t, cfg.AETitle, policy.AETitle)
	assert.Equal(t, types.RoleDefault, policy.Role)

	cfg.MaxPDU = 0
	_, err = OptionsFrom(cfg)
	var ce *errors.ConfigError
	assert.ErrorAs(t, err, &ce)
}
