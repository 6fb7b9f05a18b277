// Package debugger wires the transport, the telemetry synchronizer and the
// control state machine together. It is the only API front ends use.
package debugger

import (
	"context"
	"sync"
	"time"

	"github.com/softgpu/gpudbg/pkg/config"
	"github.com/softgpu/gpudbg/pkg/gpustate"
	"github.com/softgpu/gpudbg/pkg/logflags"
	"github.com/softgpu/gpudbg/service/control"
	"github.com/softgpu/gpudbg/service/telemetry"
	"github.com/softgpu/gpudbg/service/transport"
)

// Config provides the configuration to start a Debugger.
type Config struct {
	// ControlPath and TelemetryPath are the unix socket paths the
	// simulator connects to.
	ControlPath   string
	TelemetryPath string

	// StartPaused asks the simulator to halt before its first cycle.
	StartPaused bool

	// CheckLocalConnUser rejects simulators run by another user.
	CheckLocalConnUser bool

	// PollInterval is how often the control channel is polled.
	PollInterval time.Duration
}

// Status is a snapshot of the debugger state for front ends.
type Status struct {
	Connected   bool
	State       control.SteppingState
	ClockCycle  uint32
	StartPaused bool
	Session     string
	Telemetry   telemetry.Stats
}

// Debugger is the debug session with one simulator.
type Debugger struct {
	config    Config
	transport *transport.Transport
	state     *gpustate.State
	sync      *telemetry.Synchronizer
	machine   *control.Machine
	log       logflags.Logger

	closeOnce sync.Once
	closeErr  error
}

// New creates a Debugger and the endpoints the simulator connects to.
func New(cfg *Config) (*Debugger, error) {
	d := &Debugger{
		config: *cfg,
		state:  gpustate.New(),
		log:    logflags.ControlLogger(),
	}
	if d.config.PollInterval <= 0 {
		d.config.PollInterval = config.DefaultPollInterval
	}
	d.transport = transport.New(transport.Config{
		ControlPath:        cfg.ControlPath,
		TelemetryPath:      cfg.TelemetryPath,
		StartPaused:        cfg.StartPaused,
		CheckLocalConnUser: cfg.CheckLocalConnUser,
	})
	d.sync = telemetry.New(d.transport, d.state)
	d.machine = control.New(d.transport, cfg.StartPaused)
	if err := d.transport.Listen(); err != nil {
		return nil, err
	}
	return d, nil
}

// Run runs the telemetry synchronizer and the control poller until ctx is
// done, then closes the transport.
func (d *Debugger) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.sync.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		d.machine.Run(ctx, d.config.PollInterval)
	}()
	<-ctx.Done()
	// Closing the transport unblocks pending reads.
	err := d.Close()
	wg.Wait()
	return err
}

// Close releases the endpoints. It is safe to call more than once.
func (d *Debugger) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.transport.Close()
	})
	return d.closeErr
}

// IsReady returns true if the simulator is connected on both channels.
func (d *Debugger) IsReady() bool {
	return d.transport.IsReady()
}

// ReadClockCycle returns the last clock cycle reported by the simulator.
func (d *Debugger) ReadClockCycle() uint32 {
	return d.state.ClockCycle()
}

// IsRegistersDirty returns true if register state changed since the last
// ClearDirty.
func (d *Debugger) IsRegistersDirty() bool {
	return d.state.IsDirty()
}

// ClearDirty clears the dirty flag and returns its previous value. Callers
// should clear before reading the registers they render.
//
// The flag has a single consumer: only the one front end attached to this
// Debugger may call ClearDirty. A second caller would take changes the
// first one never gets to see.
func (d *Debugger) ClearDirty() bool {
	return d.state.ClearDirty()
}

// GetRegister returns register i of sm.
func (d *Debugger) GetRegister(sm, i int) (uint32, error) {
	return d.state.Register(sm, i)
}

// GetContention returns the contention counter of register i of sm.
func (d *Debugger) GetContention(sm, i int) (uint8, error) {
	return d.state.Contention(sm, i)
}

// GetBaseRegister returns the base register of (sm, du, slot).
func (d *Debugger) GetBaseRegister(sm, du, slot int) (uint32, error) {
	return d.state.BaseRegister(sm, du, slot)
}

// RegisterWindow returns the registers addressed by the base register of
// (sm, du, slot).
func (d *Debugger) RegisterWindow(sm, du, slot int) (*gpustate.Window, error) {
	return d.state.RegisterWindow(sm, du, slot)
}

// Registers copies the register file of sm into dst.
func (d *Debugger) Registers(sm int, dst []uint32) error {
	return d.state.Registers(sm, dst)
}

// SetStartPaused sets the flag sent to the simulator when it connects.
func (d *Debugger) SetStartPaused(b bool) {
	d.machine.SetStartPaused(b)
}

// StartPaused returns the flag sent to the simulator when it connects.
func (d *Debugger) StartPaused() bool {
	return d.machine.StartPaused()
}

// RequestPause asks the simulator to pause. The pause takes effect when
// the simulator next checks in, IsStepReady reports when it did.
func (d *Debugger) RequestPause() {
	d.machine.RequestPause()
}

// Resume lets a paused simulator run.
func (d *Debugger) Resume() error {
	return d.machine.Resume()
}

// Step executes one cycle of a paused simulator.
func (d *Debugger) Step() error {
	return d.machine.Step()
}

// IsStepReady returns true if the simulator is paused.
func (d *Debugger) IsStepReady() bool {
	return d.machine.IsStepReady()
}

// State returns the stepping state.
func (d *Debugger) State() control.SteppingState {
	return d.machine.State()
}

// Subscribe returns a channel that receives stepping state changes and a
// function to cancel the subscription.
func (d *Debugger) Subscribe() (<-chan control.SteppingState, func()) {
	return d.machine.Subscribe()
}

// Status returns a snapshot of the session.
func (d *Debugger) Status() Status {
	return Status{
		Connected:   d.transport.IsReady(),
		State:       d.machine.State(),
		ClockCycle:  d.state.ClockCycle(),
		StartPaused: d.machine.StartPaused(),
		Session:     d.transport.Control().Session(),
		Telemetry:   d.sync.Stats(),
	}
}

// Endpoints returns the control and telemetry socket paths.
func (d *Debugger) Endpoints() (string, string) {
	return d.transport.Control().Path(), d.transport.Telemetry().Path()
}
