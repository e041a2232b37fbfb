// Command dcmassoc negotiates DICOM associations from the command line. In
// scp mode it accepts associations and logs the PDVs it receives. In scu
// mode it proposes an association to a peer, optionally sends a file on
// the first accepted context, and releases.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/caio-sobreiro/dicomacse/acse"
	"github.com/caio-sobreiro/dicomacse/client"
	"github.com/caio-sobreiro/dicomacse/config"
	"github.com/caio-sobreiro/dicomacse/server"
	"github.com/caio-sobreiro/dicomacse/types"
)

const usage = `Usage: dcmassoc <scp|scu> [flags]

Modes:
  scp    accept associations and log received PDVs
  scu    request an association, optionally send --file, then release

Flags:
`

type options struct {
	configPath  string
	aeTitle     string
	peerAETitle string
	port        int
	peer        string
	maxPDU      uint32
	strictRoles bool
	logLevel    string
	file        string
	command     bool
	dump        bool
}

func parseFlags(args []string) (string, *options, *flag.FlagSet, error) {
	fs := flag.NewFlagSet("dcmassoc", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}

	opts := &options{}
	fs.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVarP(&opts.aeTitle, "ae", "a", "", "Our AE title")
	fs.StringVar(&opts.peerAETitle, "peer-ae", "", "Peer AE title (scu)")
	fs.IntVarP(&opts.port, "port", "p", 0, "TCP port to listen on (scp)")
	fs.StringVar(&opts.peer, "peer", "", "Peer address host:port (scu)")
	fs.Uint32Var(&opts.maxPDU, "max-pdu", 0, "Our maximum receive PDU size")
	fs.BoolVar(&opts.strictRoles, "strict-roles", false, "Reject contexts whose roles do not match exactly")
	fs.StringVarP(&opts.logLevel, "log-level", "l", "", "debug, info, warn or error")
	fs.StringVarP(&opts.file, "file", "f", "", "Payload to send after negotiation (scu)")
	fs.BoolVar(&opts.command, "command", false, "Send the payload as a command PDV (scu)")
	fs.BoolVarP(&opts.dump, "dump", "d", false, "Print the negotiated parameters")

	if len(args) == 0 {
		fs.Usage()
		return "", nil, nil, errors.New("mode is required")
	}
	mode := args[0]
	if mode != "scp" && mode != "scu" {
		fs.Usage()
		return "", nil, nil, fmt.Errorf("unknown mode %q", mode)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return "", nil, nil, err
	}
	return mode, opts, fs, nil
}

// loadConfig layers flags that were set explicitly over the file and environment.
func loadConfig(opts *options, fs *flag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		config.LoadFromEnv(cfg)
	}

	if fs.Changed("ae") {
		cfg.AETitle = opts.aeTitle
	}
	if fs.Changed("peer-ae") {
		cfg.PeerAETitle = opts.peerAETitle
	}
	if fs.Changed("port") {
		cfg.ListenPort = opts.port
	}
	if fs.Changed("peer") {
		cfg.PeerAddress = opts.peer
	}
	if fs.Changed("max-pdu") {
		cfg.MaxPDU = opts.maxPDU
	}
	if fs.Changed("strict-roles") {
		cfg.StrictRoleSelection = opts.strictRoles
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	return cfg, cfg.Validate()
}

func main() {
	mode, opts, fs, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "dcmassoc:", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(opts, fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dcmassoc:", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "scp":
		err = runSCP(ctx, cfg, opts, logger)
	case "scu":
		err = runSCU(ctx, cfg, opts, logger)
	}
	switch {
	case err == nil:
		logger.Info("dcmassoc finished")
	case errors.Is(err, context.Canceled):
		logger.Info("dcmassoc stopped", "reason", err.Error())
	default:
		logger.Error("dcmassoc failed", "error", err)
		os.Exit(1)
	}
}

func runSCP(ctx context.Context, cfg *config.Config, opts *options, logger *slog.Logger) error {
	serverOpts, err := server.OptionsFrom(cfg)
	if err != nil {
		return err
	}
	serverOpts = append(serverOpts, server.WithLogger(logger))

	handler := server.HandlerFunc(func(ctx context.Context, a *acse.Association, pdv types.PDV) error {
		logger.InfoContext(ctx, "Received PDV",
			"association_id", a.ID,
			"context_id", pdv.ContextID,
			"command", pdv.Command,
			"last", pdv.Last,
			"length", len(pdv.Data))
		return nil
	})

	var negotiator server.Negotiator = server.NewContextPolicy(cfg)
	if opts.dump {
		negotiator = dumpingNegotiator{next: negotiator}
	}

	address := fmt.Sprintf(":%d", cfg.ListenPort)
	return server.ListenAndServe(ctx, address, cfg.AETitle, negotiator, handler, serverOpts...)
}

// dumpingNegotiator prints each request and its answer.
type dumpingNegotiator struct {
	next server.Negotiator
}

func (d dumpingNegotiator) Negotiate(params *acse.Parameters) *acse.RejectParameters {
	fmt.Println(params.DumpParameters(acse.DirectionRQ))
	rej := d.next.Negotiate(params)
	if rej != nil {
		fmt.Println(rej.String())
		return rej
	}
	fmt.Println(params.DumpParameters(acse.DirectionAC))
	return nil
}

func runSCU(ctx context.Context, cfg *config.Config, opts *options, logger *slog.Logger) error {
	if cfg.PeerAddress == "" {
		return errors.New("--peer is required in scu mode")
	}
	clientCfg, err := client.ConfigFrom(cfg)
	if err != nil {
		return err
	}
	clientCfg.Logger = logger

	assoc, err := client.Connect(ctx, cfg.PeerAddress, clientCfg)
	if err != nil {
		if rej, ok := acse.RejectParametersFromError(err); ok {
			fmt.Println(rej.String())
		}
		return err
	}
	defer func() {
		if err := assoc.Close(context.Background()); err != nil {
			logger.Warn("Failed to close association", "error", err)
		}
	}()

	if opts.dump {
		fmt.Println(assoc.DumpConnectionParameters())
		fmt.Println(assoc.Params.DumpParameters(acse.DirectionAC))
	}

	if opts.file == "" {
		return nil
	}
	payload, err := os.ReadFile(opts.file)
	if err != nil {
		return err
	}
	id, err := assoc.GetPresentationContextID(cfg.AbstractSyntaxes[0])
	if err != nil {
		return err
	}
	if err := assoc.SendData(ctx, id, opts.command, payload); err != nil {
		return err
	}
	logger.Info("Payload sent",
		"association_id", assoc.ID,
		"context_id", id,
		"bytes", len(payload),
		"pdv_length", assoc.SendPDVLength())
	return nil
}
