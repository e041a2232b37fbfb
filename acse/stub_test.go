package acse

import (
	"bytes"
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/caio-sobreiro/dicomacse/interfaces"
	"github.com/caio-sobreiro/dicomacse/transport"
	"github.com/caio-sobreiro/dicomacse/types"
)

// stubNetwork counts calls and lets tests shape the engine's answer.
type stubNetwork struct {
	requests  int
	receives  int
	waitCalls int

	waiting   bool
	err       error
	assoc     *stubAssociation
	onRequest func(*types.ServiceParameters)
	onReceive func(*types.ServiceParameters)
	tlsConfig *tls.Config
	tlsSet    bool
}

var _ interfaces.UpperLayer = (*stubNetwork)(nil)

func newStubNetwork() *stubNetwork {
	return &stubNetwork{assoc: &stubAssociation{conn: &stubConn{fd: 7, transparent: true}}}
}

func (n *stubNetwork) RequestAssociation(_ context.Context, p *types.ServiceParameters) (interfaces.UpperLayerAssociation, error) {
	n.requests++
	if n.err != nil {
		return nil, n.err
	}
	if n.onRequest != nil {
		n.onRequest(p)
	}
	return n.assoc, nil
}

func (n *stubNetwork) ReceiveAssociationRequest(_ context.Context, p *types.ServiceParameters, _ bool) (interfaces.UpperLayerAssociation, error) {
	n.receives++
	if n.err != nil {
		return nil, n.err
	}
	if n.onReceive != nil {
		n.onReceive(p)
	}
	return n.assoc, nil
}

func (n *stubNetwork) AssociationWaiting(time.Duration) bool {
	n.waitCalls++
	return n.waiting
}

func (n *stubNetwork) SetTransportLayer(cfg *tls.Config) {
	n.tlsSet = true
	n.tlsConfig = cfg
}

type stubAssociation struct {
	acks        int
	rejects     int
	releases    int
	releaseAcks int
	aborts      int
	drops       int
	dataWaits   int

	ackParams  types.ServiceParameters
	rejected   types.RejectItems
	aborted    types.AbortItems
	abortCtx   error
	written    []types.PDV
	reads      []types.PDV
	readErr    error
	releaseErr error
	conn       transport.Connection
}

var _ interfaces.UpperLayerAssociation = (*stubAssociation)(nil)

func (s *stubAssociation) AcknowledgeAssociationRequest(_ context.Context, p *types.ServiceParameters) error {
	s.acks++
	s.ackParams = *p
	return nil
}

func (s *stubAssociation) RejectAssociationRequest(_ context.Context, rj types.RejectItems) error {
	s.rejects++
	s.rejected = rj
	return nil
}

func (s *stubAssociation) ReleaseAssociation(context.Context) error {
	s.releases++
	return s.releaseErr
}

func (s *stubAssociation) AcknowledgeRelease(context.Context) error {
	s.releaseAcks++
	return nil
}

func (s *stubAssociation) AbortAssociation(ctx context.Context, ab types.AbortItems) error {
	s.aborts++
	s.abortCtx = ctx.Err()
	s.aborted = ab
	return nil
}

func (s *stubAssociation) DropAssociation() error {
	s.drops++
	return nil
}

func (s *stubAssociation) DataWaiting(time.Duration) bool {
	s.dataWaits++
	return len(s.reads) > 0
}

func (s *stubAssociation) PeerCertificate() []byte { return []byte{0x30, 0x82} }

func (s *stubAssociation) WritePDVs(_ context.Context, pdvs []types.PDV) error {
	for _, pdv := range pdvs {
		pdv.Data = append([]byte(nil), pdv.Data...)
		s.written = append(s.written, pdv)
	}
	return nil
}

func (s *stubAssociation) ReadPDV(context.Context) (types.PDV, error) {
	if len(s.reads) == 0 {
		return types.PDV{}, s.readErr
	}
	pdv := s.reads[0]
	s.reads = s.reads[1:]
	return pdv, nil
}

func (s *stubAssociation) Connection() transport.Connection { return s.conn }

type stubConn struct {
	fd          int
	transparent bool
	readable    bool
}

func (c *stubConn) Read([]byte) (int, error) { return 0, nil }
func (c *stubConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *stubConn) Close() error { return nil }
func (c *stubConn) Transparent() bool { return c.transparent }
func (c *stubConn) DataAvailable(time.Duration) bool { return c.readable }
func (c *stubConn) Parameters() string { return "Transport connection: stub\n" }
func (c *stubConn) Socket() int { return c.fd }
func (c *stubConn) PeerCertificate() []byte { return nil }
func (c *stubConn) RemoteAddr() net.Addr { return &net.TCPAddr{} }

// captureLogger returns a logger writing text records into the returned buffer.
func captureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// requestorParams proposes CT (explicit/implicit) on 1 and MR (JPEG 2000) on 3.
func requestorParams(opts ...Option) *Parameters {
	p := NewParameters(DefaultMaxPDU, opts...)
	p.SetAPTitles("STORESCU", "ANY-SCP", "")
	p.SetPresentationAddresses("", "127.0.0.1:104")
	_ = p.AddPresentationContext(1, types.CTImageStorage,
		[]string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian}, types.RoleDefault)
	_ = p.AddPresentationContext(3, types.MRImageStorage,
		[]string{types.JPEG2000Lossless}, types.RoleDefault)
	return p
}
