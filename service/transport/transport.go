// Package transport owns the two endpoints the simulator connects to.
//
// The control channel carries pause, step and resume negotiation, the
// telemetry channel carries register state. The simulator treats the pair
// as one session: if either side fails both are dropped and the debugger
// waits for the simulator to reconnect both.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/softgpu/gpudbg/pkg/wire"
)

// ErrNotReady is returned by Transport I/O when either channel is not
// connected.
var ErrNotReady = errors.New("simulator not connected")

// Config describes a Transport.
type Config struct {
	ControlPath   string
	TelemetryPath string
	// StartPaused is the initial value of the handshake flag.
	StartPaused        bool
	CheckLocalConnUser bool
}

// Transport couples the control and telemetry channels.
type Transport struct {
	control   *Channel
	telemetry *Channel

	startPaused atomic.Bool

	mu      sync.Mutex
	changed chan struct{}
	resets  uint64
}

// New returns a Transport for config. Call Listen to create the endpoints.
func New(config Config) *Transport {
	t := &Transport{changed: make(chan struct{})}
	t.startPaused.Store(config.StartPaused)
	t.control = NewChannel(ChannelConfig{
		Name:               "control",
		Path:               config.ControlPath,
		Handshake:          t.handshake,
		CheckLocalConnUser: config.CheckLocalConnUser,
		OnStateChange:      t.stateChanged,
	})
	t.telemetry = NewChannel(ChannelConfig{
		Name:               "telemetry",
		Path:               config.TelemetryPath,
		CheckLocalConnUser: config.CheckLocalConnUser,
		OnStateChange:      t.stateChanged,
	})
	return t
}

func (t *Transport) handshake() wire.Message {
	return wire.NewStartPaused(t.startPaused.Load())
}

// stateChanged wakes every goroutine blocked in WaitReady or Changed.
func (t *Transport) stateChanged(State) {
	t.mu.Lock()
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()
}

// Changed returns a channel that is closed the next time the state of
// either channel changes.
func (t *Transport) Changed() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// Control returns the control channel.
func (t *Transport) Control() *Channel {
	return t.control
}

// Telemetry returns the telemetry channel.
func (t *Transport) Telemetry() *Channel {
	return t.telemetry
}

// Listen creates both endpoints.
func (t *Transport) Listen() error {
	if err := t.control.Listen(); err != nil {
		return err
	}
	if err := t.telemetry.Listen(); err != nil {
		t.control.Close()
		return err
	}
	return nil
}

// SetStartPaused sets the flag sent to the simulator the next time it
// connects to the control channel.
func (t *Transport) SetStartPaused(b bool) {
	t.startPaused.Store(b)
}

// StartPaused returns the current handshake flag.
func (t *Transport) StartPaused() bool {
	return t.startPaused.Load()
}

// IsReady returns true if both channels are connected. If either channel
// is faulted both are reset and IsReady returns false.
func (t *Transport) IsReady() bool {
	if t.control.State() == Faulted || t.telemetry.State() == Faulted {
		t.Reset()
		return false
	}
	return t.connected()
}

func (t *Transport) connected() bool {
	return t.control.IsReady() && t.telemetry.IsReady()
}

// WaitReady blocks until IsReady returns true or ctx is done.
func (t *Transport) WaitReady(ctx context.Context) error {
	for {
		ch := t.Changed()
		if t.IsReady() {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reset drops both connections and listens again.
func (t *Transport) Reset() {
	t.mu.Lock()
	t.resets++
	t.mu.Unlock()
	t.control.Reset()
	t.telemetry.Reset()
}

// Resets returns how many times Reset was called.
func (t *Transport) Resets() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resets
}

// Close releases both channels and removes their endpoints.
func (t *Transport) Close() error {
	err := t.control.Close()
	if err2 := t.telemetry.Close(); err == nil {
		err = err2
	}
	return err
}

// ReadControlHeader reads a header from the control channel.
func (t *Transport) ReadControlHeader() (wire.Header, error) {
	if !t.connected() {
		return wire.ErrorHeader, ErrNotReady
	}
	return t.control.ReadHeader()
}

// DiscardControl skips n bytes of the control channel.
func (t *Transport) DiscardControl(n uint32) error {
	if !t.connected() {
		return ErrNotReady
	}
	return t.control.Discard(n)
}

// WriteControl sends a message on the control channel.
func (t *Transport) WriteControl(code wire.Code, length uint32, payload []byte) error {
	if !t.connected() {
		return ErrNotReady
	}
	return t.control.Write(code, length, payload)
}

// ReadTelemetryHeader reads a header from the telemetry channel.
func (t *Transport) ReadTelemetryHeader() (wire.Header, error) {
	if !t.connected() {
		return wire.ErrorHeader, ErrNotReady
	}
	return t.telemetry.ReadHeader()
}

// ReadTelemetryUint32 reads one word from the telemetry channel.
func (t *Transport) ReadTelemetryUint32() (uint32, error) {
	if !t.connected() {
		return 0, ErrNotReady
	}
	return t.telemetry.ReadUint32()
}

// ReadTelemetryUint32s fills dst from the telemetry channel.
func (t *Transport) ReadTelemetryUint32s(dst []uint32) error {
	if !t.connected() {
		return ErrNotReady
	}
	return t.telemetry.ReadUint32s(dst)
}

// ReadTelemetryFull fills buf from the telemetry channel.
func (t *Transport) ReadTelemetryFull(buf []byte) error {
	if !t.connected() {
		return ErrNotReady
	}
	return t.telemetry.ReadFull(buf)
}

// DiscardTelemetry skips n bytes of the telemetry channel.
func (t *Transport) DiscardTelemetry(n uint32) error {
	if !t.connected() {
		return ErrNotReady
	}
	return t.telemetry.Discard(n)
}
