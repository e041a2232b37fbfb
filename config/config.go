// Package config holds the settings shared by the acceptor and requestor
// front ends: titles, addresses, PDU size, timeouts, TLS material and the
// syntaxes to negotiate.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caio-sobreiro/dicomacse/errors"
	"github.com/caio-sobreiro/dicomacse/transport"
	"github.com/caio-sobreiro/dicomacse/types"
)

// TLS selects and locates the TLS material.
type TLS struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
	CAFile   string `yaml:"ca_file,omitempty"`
	// InsecureSkipVerify disables peer verification on the requestor side.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`
}

// Retry bounds how often a requestor re-sends a failed association request.
type Retry struct {
	Attempts uint          `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// Config holds every tuneable of one acceptor or requestor.
type Config struct {
	AETitle     string `yaml:"ae_title"`
	PeerAETitle string `yaml:"peer_ae_title"`

	// ListenPort is the acceptor port.
	ListenPort int `yaml:"listen_port"`
	// PeerAddress is the requestor's host:port target.
	PeerAddress string `yaml:"peer_address,omitempty"`

	MaxPDU uint32 `yaml:"max_pdu"`

	// SendTimeout and ReceiveTimeout are socket timeouts in seconds.
	SendTimeout    int `yaml:"send_timeout"`
	ReceiveTimeout int `yaml:"receive_timeout"`
	// ACSETimeout bounds each negotiation exchange; zero waits forever.
	ACSETimeout time.Duration `yaml:"acse_timeout"`

	TLS TLS `yaml:"tls"`

	StrictRoleSelection bool     `yaml:"strict_role_selection"`
	TransferSyntaxes    []string `yaml:"transfer_syntaxes,omitempty"`
	AbstractSyntaxes    []string `yaml:"abstract_syntaxes,omitempty"`

	Retry Retry `yaml:"retry"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		AETitle:        "DICOMACSE",
		PeerAETitle:    "ANY-SCP",
		ListenPort:     104,
		MaxPDU:         16384,
		SendTimeout:    60,
		ReceiveTimeout: 60,
		ACSETimeout:    30 * time.Second,
		TransferSyntaxes: []string{
			types.ExplicitVRLittleEndian,
			types.ImplicitVRLittleEndian,
		},
		AbstractSyntaxes: []string{types.VerificationSOPClass},
		Retry: Retry{
			Attempts: 3,
			Delay:    time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads path over the defaults and then applies the environment.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	LoadFromEnv(cfg)
	return cfg, nil
}

// Validate checks the values a front end cannot work without.
func (c *Config) Validate() error {
	if c.AETitle == "" {
		return errors.NewConfigError("ae_title", "must not be empty")
	}
	if len(c.AETitle) > types.MaxAETitleLength {
		return errors.NewConfigError("ae_title", "%q is longer than %d characters", c.AETitle, types.MaxAETitleLength)
	}
	if len(c.PeerAETitle) > types.MaxAETitleLength {
		return errors.NewConfigError("peer_ae_title", "%q is longer than %d characters", c.PeerAETitle, types.MaxAETitleLength)
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return errors.NewConfigError("listen_port", "%d out of range", c.ListenPort)
	}
	if c.MaxPDU == 0 {
		return errors.NewConfigError("max_pdu", "must be positive")
	}
	if c.ACSETimeout < 0 {
		return errors.NewConfigError("acse_timeout", "must not be negative")
	}
	if len(c.TransferSyntaxes) == 0 {
		return errors.NewConfigError("transfer_syntaxes", "at least one is required")
	}
	if len(c.AbstractSyntaxes) == 0 {
		return errors.NewConfigError("abstract_syntaxes", "at least one is required")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.NewConfigError("tls", "cert_file and key_file go together")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return errors.NewConfigError("log_level", "%v", err)
	}
	return nil
}

// Timeouts returns the socket timeouts for new connections.
func (c *Config) Timeouts() transport.Timeouts {
	return transport.Timeouts{Send: c.SendTimeout, Receive: c.ReceiveTimeout}
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", name)
	}
}

// TLSConfig builds the TLS configuration, or returns nil when TLS is off.
func (c *Config) TLSConfig() (*tls.Config, error) {
	if !c.TLS.Enabled {
		return nil, nil
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify, //nolint:gosec
	}
	if c.TLS.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("config: load key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if c.TLS.CAFile != "" {
		pem, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("config: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.NewConfigError("tls.ca_file", "no certificates in %s", c.TLS.CAFile)
		}
		cfg.RootCAs = pool
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return cfg, nil
}
