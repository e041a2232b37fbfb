// Package server runs a DICOM acceptor: one goroutine negotiates incoming
// associations, another multiplexes the established ones and hands their
// data to a Handler.
package server

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caio-sobreiro/dicomacse/acse"
	"github.com/caio-sobreiro/dicomacse/errors"
	"github.com/caio-sobreiro/dicomacse/pdu"
	"github.com/caio-sobreiro/dicomacse/transport"
	"github.com/caio-sobreiro/dicomacse/types"
)

// Negotiator decides the outcome of an incoming association request. It
// accepts or refuses the proposed contexts in params, or returns the reason
// to reject the whole association.
type Negotiator interface {
	Negotiate(params *acse.Parameters) *acse.RejectParameters
}

// Handler consumes PDVs arriving on established associations. Returning an
// error aborts the association.
type Handler interface {
	HandlePDV(ctx context.Context, assoc *acse.Association, pdv types.PDV) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, assoc *acse.Association, pdv types.PDV) error

func (f HandlerFunc) HandlePDV(ctx context.Context, assoc *acse.Association, pdv types.PDV) error {
	return f(ctx, assoc, pdv)
}

// Option configures a Server instance.
type Option func(*Server)

// WithLogger overrides the logger used by the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// WithTimeouts sets the socket timeouts of accepted connections.
func WithTimeouts(t transport.Timeouts) Option {
	return func(s *Server) {
		s.Timeouts = t
	}
}

// WithACSETimeout bounds each negotiation exchange.
func WithACSETimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.ACSETimeout = timeout
	}
}

// WithTLSConfig makes the server accept TLS connections only.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Server) {
		s.TLSConfig = cfg
	}
}

// WithMaxPDU sets our maximum receive PDU size.
func WithMaxPDU(size uint32) Option {
	return func(s *Server) {
		s.MaxPDU = size
	}
}

// WithStrictRoleSelection enables strict SCP/SCU role checks.
func WithStrictRoleSelection(strict bool) Option {
	return func(s *Server) {
		s.StrictRoleSelection = strict
	}
}

// WithSelectTimeout sets how long the select loop waits before it picks
// up newly negotiated associations.
func WithSelectTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.SelectTimeout = timeout
	}
}

// Server exposes a reusable DICOM acceptor.
type Server struct {
	AETitle    string
	Negotiator Negotiator
	Handler    Handler
	Logger     *slog.Logger

	MaxPDU              uint32             // Our max receive PDU (default: 16384)
	Timeouts            transport.Timeouts // Socket timeouts (default: 60s)
	ACSETimeout         time.Duration      // Negotiation timeout (default: 30s)
	SelectTimeout       time.Duration      // Select loop wake-up interval (default: 1s)
	TLSConfig           *tls.Config
	StrictRoleSelection bool
}

// New builds a Server with the provided AE title, negotiator and handler.
func New(aeTitle string, negotiator Negotiator, handler Handler, opts ...Option) *Server {
	srv := &Server{
		AETitle:       aeTitle,
		Negotiator:    negotiator,
		Handler:       handler,
		MaxPDU:        acse.DefaultMaxPDU,
		Timeouts:      transport.DefaultTimeouts(),
		ACSETimeout:   30 * time.Second,
		SelectTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// ListenAndServe listens on the given address and serves until the context is done or an error occurs.
func ListenAndServe(ctx context.Context, address, aeTitle string, negotiator Negotiator, handler Handler, opts ...Option) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.NewNetworkError("listen", err)
	}
	defer listener.Close()

	srv := New(aeTitle, negotiator, handler, opts...)
	return srv.Serve(ctx, listener)
}

// Serve accepts associations on listener until ctx is cancelled or an
// unrecoverable error occurs. Live associations are aborted on return.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s == nil {
		return stderrors.New("dicomserver: server is nil")
	}
	if listener == nil {
		return stderrors.New("dicomserver: listener is required")
	}
	if s.Negotiator == nil {
		return stderrors.New("dicomserver: negotiator is required")
	}
	if s.Handler == nil {
		return stderrors.New("dicomserver: handler is required")
	}
	if s.AETitle == "" {
		return stderrors.New("dicomserver: AE title is required")
	}

	logger := s.logger()
	network, err := pdu.InitializeNetwork(pdu.NetworkAcceptor, 0, s.ACSETimeout,
		pdu.WithListener(listener),
		pdu.WithLogger(logger),
		pdu.WithTimeouts(s.Timeouts))
	if err != nil {
		return err
	}
	if err := acse.SetTransportLayer(network, s.TLSConfig); err != nil {
		return err
	}

	logger.Info("DICOM server listening",
		"address", listener.Addr().String(),
		"ae_title", s.AETitle,
		"tls", s.TLSConfig != nil)

	g, gctx := errgroup.WithContext(ctx)
	established := make(chan *acse.Association, 16)

	g.Go(func() error {
		defer close(established)
		return s.acceptLoop(gctx, network, established)
	})
	g.Go(func() error {
		return s.selectLoop(gctx, established)
	})
	g.Go(func() error {
		<-gctx.Done()
		return network.Close()
	})

	err = g.Wait()
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, net.ErrClosed) {
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// acceptLoop receives and negotiates associations one at a time.
func (s *Server) acceptLoop(ctx context.Context, network *pdu.Network, established chan<- *acse.Association) error {
	logger := s.logger()
	opts := acse.ReceiveOptions{
		Block:          true,
		UseSecureLayer: s.TLSConfig != nil,
		Options: []acse.Option{
			acse.WithLogger(logger),
			acse.WithStrictRoleSelection(s.StrictRoleSelection),
		},
	}

	for {
		assoc, err := acse.ReceiveAssociation(ctx, network, s.MaxPDU, opts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if stderrors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Warn("Failed to receive association", "error", err)
			continue
		}

		if !s.negotiate(ctx, assoc) {
			continue
		}
		select {
		case established <- assoc:
		case <-ctx.Done():
			assoc.Abort(context.Background()) //nolint:errcheck
			return ctx.Err()
		}
	}
}

// negotiate answers one association request and reports whether it was accepted.
func (s *Server) negotiate(ctx context.Context, assoc *acse.Association) bool {
	logger := s.logger()
	params := assoc.Params
	logger.Debug("Association request", "association_id", assoc.ID, "dump", params.DumpParameters(acse.DirectionRQ))
	calling, _, _ := params.APTitles()

	rej := s.Negotiator.Negotiate(params)
	if rej != nil {
		logger.Info("Rejecting association",
			"association_id", assoc.ID,
			"calling_ae", calling,
			"reject", rej.String())
		if err := assoc.Reject(ctx, *rej); err != nil {
			logger.Warn("Failed to reject association", "association_id", assoc.ID, "error", err)
		}
		assoc.Destroy() //nolint:errcheck
		return false
	}

	if err := assoc.Acknowledge(ctx); err != nil {
		logger.Warn("Failed to acknowledge association", "association_id", assoc.ID, "error", err)
		assoc.Destroy() //nolint:errcheck
		return false
	}
	logger.Debug("Association acknowledged", "association_id", assoc.ID, "dump", params.DumpParameters(acse.DirectionAC))
	return true
}

// selectLoop owns every established association. It waits on all of them
// at once and serves whichever has data.
func (s *Server) selectLoop(ctx context.Context, established <-chan *acse.Association) error {
	logger := s.logger()
	var live []*acse.Association
	defer func() {
		for _, a := range live {
			a.Abort(context.Background()) //nolint:errcheck
			a.Destroy()                   //nolint:errcheck
		}
	}()

	for {
		if len(live) == 0 {
			select {
			case a, ok := <-established:
				if !ok {
					return nil
				}
				live = append(live, a)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	drain:
		for {
			select {
			case a, ok := <-established:
				if !ok {
					break drain
				}
				live = append(live, a)
			default:
				break drain
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ready := append([]*acse.Association(nil), live...)
		if !acse.SelectReadableAssociation(ready, s.SelectTimeout) {
			continue
		}

		kept := live[:0]
		for i, a := range live {
			if ready[i] == nil || s.serve(ctx, a) {
				kept = append(kept, a)
				continue
			}
			logger.Debug("Association finished", "association_id", a.ID)
			a.Destroy() //nolint:errcheck
		}
		clear(live[len(kept):])
		live = kept
	}
}

// serve reads everything currently available on a and reports whether the
// association is still usable.
func (s *Server) serve(ctx context.Context, a *acse.Association) bool {
	logger := s.logger()
	for {
		pdv, err := a.ReceiveData(ctx)
		switch {
		case stderrors.Is(err, errors.ErrReleaseRequested):
			if err := a.AcknowledgeRelease(ctx); err != nil {
				logger.Warn("Failed to acknowledge release", "association_id", a.ID, "error", err)
			}
			logger.Info("Association released", "association_id", a.ID)
			return false
		case err != nil:
			var ab *errors.AbortError
			if stderrors.As(err, &ab) {
				logger.Info("Association aborted by peer", "association_id", a.ID, "error", err)
			} else {
				logger.Warn("Association failed", "association_id", a.ID, "error", err)
			}
			return false
		}

		if err := s.Handler.HandlePDV(ctx, a, pdv); err != nil {
			logger.Warn("Handler failed, aborting association", "association_id", a.ID, "error", err)
			a.Abort(ctx) //nolint:errcheck
			return false
		}
		// PDVs already decoded by the engine are invisible to the socket poll.
		if !a.DataWaiting(0) {
			return true
		}
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
