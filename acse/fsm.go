package acse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/caio-sobreiro/dicomacse/errors"
)

// Association lifecycle states.
const (
	StateIdle        = "idle"
	StateNegotiating = "negotiating"
	StateEstablished = "established"
	StateReleasing   = "releasing"
	StateAborting    = "aborting"
	StateClosed      = "closed"
)

const (
	eventRequest     = "request"
	eventReceive     = "receive"
	eventNegotiated  = "negotiated"
	eventAcknowledge = "acknowledge"
	eventReject      = "reject"
	eventRelease     = "release"
	eventReleased    = "released"
	eventPeerRelease = "peer_release"
	eventAbort       = "abort"
	eventAborted     = "aborted"
	eventDrop        = "drop"
)

// stateMachine guards the order of lifecycle calls on one Association.
type stateMachine struct {
	f *fsm.FSM
}

func newStateMachine(logger *slog.Logger) *stateMachine {
	return &stateMachine{f: fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventRequest, Src: []string{StateIdle}, Dst: StateNegotiating},
			{Name: eventReceive, Src: []string{StateIdle}, Dst: StateNegotiating},
			{Name: eventNegotiated, Src: []string{StateNegotiating}, Dst: StateEstablished},
			{Name: eventAcknowledge, Src: []string{StateNegotiating}, Dst: StateEstablished},
			{Name: eventReject, Src: []string{StateNegotiating}, Dst: StateClosed},
			{Name: eventRelease, Src: []string{StateEstablished}, Dst: StateReleasing},
			{Name: eventReleased, Src: []string{StateReleasing}, Dst: StateClosed},
			{Name: eventPeerRelease, Src: []string{StateEstablished}, Dst: StateClosed},
			{Name: eventAbort, Src: []string{StateNegotiating, StateEstablished, StateReleasing}, Dst: StateAborting},
			{Name: eventAborted, Src: []string{StateAborting}, Dst: StateClosed},
			{Name: eventDrop, Src: []string{StateIdle, StateNegotiating, StateEstablished, StateReleasing, StateAborting}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug("Association state changed",
					"event", e.Event,
					"from", e.Src,
					"to", e.Dst)
			},
		},
	)}
}

// check reports ErrInvalidState when event is not allowed now.
func (m *stateMachine) check(event string) error {
	if !m.f.Can(event) {
		return fmt.Errorf("%w: %s in state %s", errors.ErrInvalidState, event, m.f.Current())
	}
	return nil
}

// fire applies event, mapping any refused transition to ErrInvalidState.
// The machine never sees the caller's context: looplab/fsm skips the
// transition when that context is done, while the PDU exchange it records
// has already happened.
func (m *stateMachine) fire(event string) error {
	if err := m.check(event); err != nil {
		return err
	}
	if err := m.f.Event(context.Background(), event); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidState, err)
	}
	return nil
}

func (m *stateMachine) current() string {
	return m.f.Current()
}

func (m *stateMachine) is(state string) bool {
	return m.f.Is(state)
}
