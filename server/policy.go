package server

import (
	"strings"

	"github.com/caio-sobreiro/dicomacse/acse"
	"github.com/caio-sobreiro/dicomacse/config"
	"github.com/caio-sobreiro/dicomacse/errors"
	"github.com/caio-sobreiro/dicomacse/types"
)

// ContextPolicy is the stock Negotiator. It checks the called AE title and
// then accepts each proposed context whose abstract syntax it supports, with
// the first transfer syntax in its preference list the peer offered.
type ContextPolicy struct {
	// AETitle must match the called AE title; empty accepts any.
	AETitle          string
	AbstractSyntaxes []string
	TransferSyntaxes []string
	Role             types.Role
}

// NewContextPolicy builds a policy from the shared configuration.
func NewContextPolicy(cfg *config.Config) *ContextPolicy {
	return &ContextPolicy{
		AETitle:          cfg.AETitle,
		AbstractSyntaxes: cfg.AbstractSyntaxes,
		TransferSyntaxes: cfg.TransferSyntaxes,
		Role:             types.RoleDefault,
	}
}

func (p *ContextPolicy) Negotiate(params *acse.Parameters) *acse.RejectParameters {
	_, called, _ := params.APTitles()
	if p.AETitle != "" && strings.TrimSpace(called) != p.AETitle {
		return &acse.RejectParameters{
			Result: errors.RejectResultPermanent,
			Source: errors.RejectSourceServiceUser,
			Reason: errors.RejectReasonCalledAETitleNotRecognized,
		}
	}

	role := p.Role
	if role == types.RoleNone {
		role = types.RoleDefault
	}
	if err := params.AcceptContextsWithPreferredTransferSyntaxes(p.AbstractSyntaxes, p.TransferSyntaxes, role); err != nil {
		return &acse.RejectParameters{
			Result: errors.RejectResultPermanent,
			Source: errors.RejectSourceServiceUser,
			Reason: errors.RejectReasonNoReasonGiven,
		}
	}
	return nil
}

// OptionsFrom maps the shared configuration onto server options.
func OptionsFrom(cfg *config.Config) ([]Option, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tlsConfig, err := cfg.TLSConfig()
	if err != nil {
		return nil, err
	}
	return []Option{
		WithMaxPDU(cfg.MaxPDU),
		WithTimeouts(cfg.Timeouts()),
		WithACSETimeout(cfg.ACSETimeout),
		WithTLSConfig(tlsConfig),
		WithStrictRoleSelection(cfg.StrictRoleSelection),
	}, nil
}
