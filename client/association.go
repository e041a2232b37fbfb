// Package client opens associations to a remote acceptor on behalf of a
// requesting application.
package client

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go"

	"github.com/caio-sobreiro/dicomacse/acse"
	"github.com/caio-sobreiro/dicomacse/config"
	"github.com/caio-sobreiro/dicomacse/errors"
	"github.com/caio-sobreiro/dicomacse/pdu"
	"github.com/caio-sobreiro/dicomacse/transport"
	"github.com/caio-sobreiro/dicomacse/types"
)

// Association is an established requestor-side association.
type Association struct {
	*acse.Association
	network *pdu.Network
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	CallingAETitle string
	CalledAETitle  string
	MaxPDULength   uint32
	ConnectTimeout time.Duration      // Bounds each negotiation exchange (default: 30s)
	Timeouts       transport.Timeouts // Socket send/receive timeouts (default: 60s)
	Logger         *slog.Logger       // Logger for the association (default: slog.Default())

	// AbstractSyntaxes are proposed on consecutive odd context IDs.
	AbstractSyntaxes []string
	// PreferredTransferSyntaxes are offered for every abstract syntax (default: Explicit VR, Implicit VR)
	PreferredTransferSyntaxes []string
	ProposedRole              types.Role
	StrictRoleSelection       bool

	TLSConfig *tls.Config

	RetryAttempts uint          // Association requests sent before giving up (default: 1)
	RetryDelay    time.Duration // Pause between requests
}

// ConfigFrom derives a client Config from the shared configuration.
func ConfigFrom(cfg *config.Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	tlsConfig, err := cfg.TLSConfig()
	if err != nil {
		return Config{}, err
	}
	return Config{
		CallingAETitle:            cfg.AETitle,
		CalledAETitle:             cfg.PeerAETitle,
		MaxPDULength:              cfg.MaxPDU,
		ConnectTimeout:            cfg.ACSETimeout,
		Timeouts:                  cfg.Timeouts(),
		AbstractSyntaxes:          cfg.AbstractSyntaxes,
		PreferredTransferSyntaxes: cfg.TransferSyntaxes,
		ProposedRole:              types.RoleDefault,
		StrictRoleSelection:       cfg.StrictRoleSelection,
		TLSConfig:                 tlsConfig,
		RetryAttempts:             cfg.Retry.Attempts,
		RetryDelay:                cfg.Retry.Delay,
	}, nil
}

func (c *Config) applyDefaults() {
	if c.MaxPDULength == 0 {
		c.MaxPDULength = acse.DefaultMaxPDU
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.Timeouts == (transport.Timeouts{}) {
		c.Timeouts = transport.DefaultTimeouts()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if len(c.AbstractSyntaxes) == 0 {
		c.AbstractSyntaxes = []string{types.VerificationSOPClass}
	}
	if len(c.PreferredTransferSyntaxes) == 0 {
		c.PreferredTransferSyntaxes = []string{
			types.ExplicitVRLittleEndian,
			types.ImplicitVRLittleEndian,
		}
	}
	if c.ProposedRole == types.RoleNone {
		c.ProposedRole = types.RoleDefault
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 1
	}
}

// parameters builds a fresh proposal. Every attempt needs its own, since a
// request fills in the peer's answer.
func (c *Config) parameters(address string) (*acse.Parameters, error) {
	params := acse.NewParameters(c.MaxPDULength,
		acse.WithLogger(c.Logger),
		acse.WithStrictRoleSelection(c.StrictRoleSelection))
	params.SetAPTitles(c.CallingAETitle, c.CalledAETitle, "")
	params.SetPresentationAddresses("", address)
	if err := params.SetTransportLayerType(c.TLSConfig != nil); err != nil {
		return nil, err
	}

	for i, abstractSyntax := range c.AbstractSyntaxes {
		id := 2*i + 1
		if id > 255 {
			return nil, errors.NewNegotiationError(errors.KindBadContextID, "too many abstract syntaxes (%d)", len(c.AbstractSyntaxes))
		}
		if err := params.AddPresentationContext(byte(id), abstractSyntax, c.PreferredTransferSyntaxes, c.ProposedRole); err != nil {
			return nil, err
		}
	}
	return params, nil
}

// Connect establishes a DICOM association with the acceptor at address.
// Dial failures and transient rejections are retried up to
// config.RetryAttempts times.
func Connect(ctx context.Context, address string, config Config) (*Association, error) {
	config.applyDefaults()
	logger := config.Logger

	network, err := pdu.InitializeNetwork(pdu.NetworkRequestor, 0, config.ConnectTimeout,
		pdu.WithLogger(logger),
		pdu.WithTimeouts(config.Timeouts))
	if err != nil {
		return nil, err
	}
	if err := acse.SetTransportLayer(network, config.TLSConfig); err != nil {
		return nil, err
	}

	var assoc *acse.Association
	err = retry.Do(func() error {
		params, err := config.parameters(address)
		if err != nil {
			return err
		}
		assoc, err = acse.RequestAssociation(ctx, network, params)
		return err
	},
		retry.Attempts(config.RetryAttempts),
		retry.Delay(config.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Association request failed, retrying",
				"attempt", n+1,
				"peer_address", address,
				"error", err)
		}),
	)
	if err != nil {
		network.Close()
		return nil, err
	}

	if assoc.Params.CountAcceptedPresentationContexts() == 0 {
		logger.Warn("Peer accepted no presentation context", "called_ae", config.CalledAETitle)
	}
	logger.Info("DICOM association established",
		"remote_addr", address,
		"calling_ae", config.CallingAETitle,
		"called_ae", config.CalledAETitle,
		"association_id", assoc.ID)

	return &Association{Association: assoc, network: network, logger: logger}, nil
}

// retryable reports whether another association request may succeed.
func retryable(err error) bool {
	var ae *errors.AssociationError
	if stderrors.As(err, &ae) {
		return ae.Result == errors.RejectResultTransient
	}
	var ne *errors.NetworkError
	return stderrors.As(err, &ne)
}

// Close releases the association, aborting it if the release fails.
func (a *Association) Close(ctx context.Context) error {
	err := a.Release(ctx)
	if err != nil && a.State() != acse.StateClosed {
		a.logger.Warn("Release failed, aborting association", "error", err)
		if abortErr := a.Abort(ctx); abortErr != nil {
			a.logger.Warn("Abort failed", "error", abortErr)
		}
	}
	if destroyErr := a.Destroy(); err == nil {
		err = destroyErr
	}
	if closeErr := a.network.Close(); err == nil {
		err = closeErr
	}
	return err
}

// GetPresentationContextID returns the accepted context for abstractSyntax.
func (a *Association) GetPresentationContextID(abstractSyntax string) (byte, error) {
	id := a.FindAcceptedPresentationContextID(abstractSyntax)
	if id == 0 {
		return 0, errors.NewNegotiationError(errors.KindBadContextID, "no accepted presentation context for %s", abstractSyntax)
	}
	return id, nil
}
