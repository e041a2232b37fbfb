package config

// Precedence, highest first: command line flags, DICOMACSE_* environment
// variables, the YAML file, Default().

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv overlays DICOMACSE_* variables onto cfg. Unset or
// unparsable variables leave the current value alone.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("DICOMACSE_AE_TITLE"); v != "" {
		cfg.AETitle = v
	}
	if v := os.Getenv("DICOMACSE_PEER_AE_TITLE"); v != "" {
		cfg.PeerAETitle = v
	}
	if v := envInt("DICOMACSE_LISTEN_PORT"); v > 0 {
		cfg.ListenPort = v
	}
	if v := os.Getenv("DICOMACSE_PEER_ADDRESS"); v != "" {
		cfg.PeerAddress = v
	}
	if v := envInt("DICOMACSE_MAX_PDU"); v > 0 {
		cfg.MaxPDU = uint32(v)
	}
	if v, ok := envSeconds("DICOMACSE_SEND_TIMEOUT"); ok {
		cfg.SendTimeout = v
	}
	if v, ok := envSeconds("DICOMACSE_RECEIVE_TIMEOUT"); ok {
		cfg.ReceiveTimeout = v
	}
	if v := envDuration("DICOMACSE_ACSE_TIMEOUT"); v > 0 {
		cfg.ACSETimeout = v
	}

	// TLS
	if envBool("DICOMACSE_TLS") {
		cfg.TLS.Enabled = true
	}
	if v := os.Getenv("DICOMACSE_TLS_CERT"); v != "" {
		cfg.TLS.CertFile = v
	}
	if v := os.Getenv("DICOMACSE_TLS_KEY"); v != "" {
		cfg.TLS.KeyFile = v
	}
	if v := os.Getenv("DICOMACSE_TLS_CA"); v != "" {
		cfg.TLS.CAFile = v
	}

	if envBool("DICOMACSE_STRICT_ROLES") {
		cfg.StrictRoleSelection = true
	}
	if v := envList("DICOMACSE_TRANSFER_SYNTAXES"); len(v) > 0 {
		cfg.TransferSyntaxes = v
	}
	if v := envList("DICOMACSE_ABSTRACT_SYNTAXES"); len(v) > 0 {
		cfg.AbstractSyntaxes = v
	}

	if v := envInt("DICOMACSE_RETRY_ATTEMPTS"); v > 0 {
		cfg.Retry.Attempts = uint(v)
	}
	if v := envDuration("DICOMACSE_RETRY_DELAY"); v > 0 {
		cfg.Retry.Delay = v
	}
	if v := os.Getenv("DICOMACSE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// envSeconds accepts any integer, since 0 and negative timeouts mean something.
func envSeconds(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
