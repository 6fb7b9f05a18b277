// Package control negotiates pause, step and resume with the simulator.
//
// The simulator drives the conversation. Every cycle it either asks
// whether it should pause (CheckForPause) or, once paused, announces that
// it is waiting (ReportStepReady) and blocks until it receives Step or
// Resume. A pause request therefore never goes out on its own: it is only
// recorded, and carried by the reply to the next CheckForPause.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/softgpu/gpudbg/pkg/logflags"
	"github.com/softgpu/gpudbg/pkg/wire"
)

// ErrNotPaused is returned by Step and Resume when the simulator is not
// waiting for a step.
var ErrNotPaused = errors.New("simulator is not paused")

//go:generate mockgen -destination mock_link_test.go -package control -write_package_comment=false github.com/softgpu/gpudbg/service/control Link

// Link is the control side of a transport.
type Link interface {
	IsReady() bool
	ReadControlHeader() (wire.Header, error)
	DiscardControl(n uint32) error
	WriteControl(code wire.Code, length uint32, payload []byte) error
	SetStartPaused(b bool)
	// Resets counts the connection resets. A change means the simulator
	// seen by the previous Tick is gone, even if a new one is connected.
	Resets() uint64
}

// SteppingState is the execution state of the simulator as seen by the
// debugger.
type SteppingState int

const (
	// Running means the simulator runs freely.
	Running SteppingState = iota
	// PauseRequested means a pause was requested and the simulator has not
	// halted yet.
	PauseRequested
	// Paused means the simulator is blocked waiting for Step or Resume.
	Paused
)

func (s SteppingState) String() string {
	switch s {
	case Running:
		return "running"
	case PauseRequested:
		return "pause requested"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("SteppingState(%d)", int(s))
	}
}

// Machine is the control protocol state machine. Tick is called
// periodically from a single goroutine, every other method may be called
// concurrently.
type Machine struct {
	link Link
	log  logflags.Logger

	intent      atomic.Bool
	paused      atomic.Bool
	startPaused atomic.Bool

	// actMu serializes Step, Resume and the disconnect handling in Tick.
	actMu sync.Mutex

	// wasReady and generation are only accessed by Tick.
	wasReady   bool
	generation uint64

	subMu     sync.Mutex
	subs      map[int]chan SteppingState
	nextSub   int
	published SteppingState
}

// New returns a Machine for link. The start paused flag is forwarded to
// link and also primes the pause intent, so that the local state matches
// the halt the simulator performs on its first cycle.
func New(link Link, startPaused bool) *Machine {
	m := &Machine{
		link: link,
		log:  logflags.ControlLogger(),
		subs: make(map[int]chan SteppingState),
	}
	m.startPaused.Store(startPaused)
	m.intent.Store(startPaused)
	m.published = m.State()
	link.SetStartPaused(startPaused)
	return m
}

// State returns the current stepping state.
func (m *Machine) State() SteppingState {
	switch {
	case m.paused.Load():
		return Paused
	case m.intent.Load():
		return PauseRequested
	default:
		return Running
	}
}

// IsStepReady returns true if the simulator is waiting for Step or Resume.
func (m *Machine) IsStepReady() bool {
	return m.paused.Load()
}

// PauseIntent returns true if a pause was requested and not yet resumed.
func (m *Machine) PauseIntent() bool {
	return m.intent.Load()
}

// StartPaused returns the flag sent to the simulator on connect.
func (m *Machine) StartPaused() bool {
	return m.startPaused.Load()
}

// SetStartPaused changes the flag sent to the simulator on connect. While
// the simulator is not connected it also sets the pause intent.
func (m *Machine) SetStartPaused(b bool) {
	m.startPaused.Store(b)
	m.link.SetStartPaused(b)
	if !m.link.IsReady() {
		m.intent.Store(b)
	}
	m.publish()
}

// RequestPause asks the simulator to pause at its next CheckForPause.
// Nothing is written to the simulator.
func (m *Machine) RequestPause() {
	m.intent.Store(true)
	if logflags.Control() {
		m.log.Debug("pause requested")
	}
	m.publish()
}

// Resume lets a paused simulator run freely.
func (m *Machine) Resume() error {
	return m.release(wire.Resume)
}

// Step lets a paused simulator execute one cycle.
func (m *Machine) Step() error {
	return m.release(wire.Step)
}

func (m *Machine) release(code wire.Code) error {
	m.actMu.Lock()
	defer m.actMu.Unlock()
	if !m.paused.Load() {
		return ErrNotPaused
	}
	if err := m.link.WriteControl(code, 0, nil); err != nil {
		return fmt.Errorf("sending %v: %w", code, err)
	}
	if code == wire.Resume {
		m.intent.Store(false)
	}
	m.paused.Store(false)
	if logflags.Control() {
		m.log.Debugf("sent %v", code)
	}
	m.publish()
	return nil
}

// Tick polls the control channel once. It blocks until a message arrives
// unless the simulator is paused or not connected.
func (m *Machine) Tick() {
	ready := m.link.IsReady()
	gen := m.link.Resets()
	if m.wasReady && (!ready || gen != m.generation) {
		m.wasReady = false
		m.disconnected()
	}
	m.generation = gen
	if !ready {
		return
	}
	if !m.wasReady {
		m.wasReady = true
		m.log.Info("simulator connected")
	}
	if m.paused.Load() {
		return
	}

	h, err := m.link.ReadControlHeader()
	if err != nil {
		return
	}
	switch h.Code {
	case wire.ReportStepReady:
		m.paused.Store(true)
		if logflags.Control() {
			m.log.Debug("simulator paused")
		}
		m.publish()
	case wire.CheckForPause:
		reply := wire.Nop
		if m.intent.Load() {
			reply = wire.Pause
		}
		if err := m.link.WriteControl(reply, 0, nil); err != nil {
			m.log.Warnf("replying to %v: %v", h.Code, err)
		}
	default:
		if h.Length > 0 {
			m.link.DiscardControl(h.Length)
		}
	}
}

func (m *Machine) disconnected() {
	m.actMu.Lock()
	if m.paused.Load() {
		m.paused.Store(false)
		m.intent.Store(m.startPaused.Load())
	}
	m.actMu.Unlock()
	m.log.Info("simulator disconnected")
	m.publish()
}

// Run calls Tick every interval until ctx is done.
func (m *Machine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Subscribe returns a channel receiving the stepping state every time it
// changes. Only the most recent state is kept for a slow reader. The
// returned function cancels the subscription.
func (m *Machine) Subscribe() (<-chan SteppingState, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan SteppingState, 1)
	m.subs[id] = ch
	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Machine) publish() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	s := m.State()
	if s == m.published {
		return
	}
	m.published = s
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
