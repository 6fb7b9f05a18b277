// Package gputest provides a fake simulator that speaks the debug protocol
// over the same unix domain sockets as the real one, for use in tests.
package gputest

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/softgpu/gpudbg/pkg/wire"
)

// Simulator is the simulator side of a debug session.
type Simulator struct {
	Control   net.Conn
	Telemetry net.Conn

	// StartPaused is the flag received in the handshake.
	StartPaused bool

	cycle    uint32
	stepping bool
}

// Endpoints returns a control and telemetry path inside a temporary
// directory owned by t.
func Endpoints(t testing.TB) (control, telemetry string) {
	// t.TempDir can exceed the unix socket path limit on some systems.
	dir, err := os.MkdirTemp("", "gpudbg")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "gpu-pipe-step"), filepath.Join(dir, "gpu-pipe-info")
}

func dial(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dialing %s: %w", path, err)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Connect connects to both endpoints, retrying until they exist or ctx is
// done, and reads the handshake. The control channel is connected first,
// like the real simulator does.
func Connect(ctx context.Context, controlPath, telemetryPath string) (*Simulator, error) {
	control, err := dial(ctx, controlPath)
	if err != nil {
		return nil, err
	}
	m, err := wire.ReadMessage(control)
	if err != nil {
		control.Close()
		return nil, fmt.Errorf("reading handshake: %w", err)
	}
	s := &Simulator{Control: control}
	if m.Code == wire.StartPaused {
		s.StartPaused, _ = wire.DecodeStartPaused(m)
		s.stepping = s.StartPaused
	}
	s.Telemetry, err = dial(ctx, telemetryPath)
	if err != nil {
		control.Close()
		return nil, err
	}
	return s, nil
}

// MustConnect is like Connect but fails t on error, waiting at most five
// seconds.
func MustConnect(t testing.TB, controlPath, telemetryPath string) *Simulator {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Connect(ctx, controlPath, telemetryPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

// Close disconnects both channels.
func (s *Simulator) Close() {
	s.Control.Close()
	if s.Telemetry != nil {
		s.Telemetry.Close()
	}
}

// Cycle returns the current clock cycle.
func (s *Simulator) Cycle() uint32 {
	return s.cycle
}

// Stepping returns true if the simulator will halt at the next Clock.
func (s *Simulator) Stepping() bool {
	return s.stepping
}

// SendControl writes m to the control channel.
func (s *Simulator) SendControl(m wire.Message) error {
	_, err := s.Control.Write(m.Encode())
	return err
}

// SendTelemetry writes m to the telemetry channel.
func (s *Simulator) SendTelemetry(m wire.Message) error {
	_, err := s.Telemetry.Write(m.Encode())
	return err
}

// ReadControl reads one header from the control channel and skips its
// declared payload.
func (s *Simulator) ReadControl() (wire.Header, error) {
	h, err := wire.ReadHeader(s.Control)
	if err != nil {
		return h, err
	}
	return h, wire.Discard(s.Control, h.Length)
}

// Clock advances the simulated clock by one cycle. The cycle is reported
// on both channels. When not stepping the simulator asks whether it should
// pause. When stepping it reports that it is ready and blocks until the
// debugger sends Step or Resume.
func (s *Simulator) Clock() error {
	s.cycle++
	if err := s.SendControl(wire.NewTiming(s.cycle)); err != nil {
		return err
	}
	if err := s.SendTelemetry(wire.NewTiming(s.cycle)); err != nil {
		return err
	}

	if !s.stepping {
		if err := s.SendControl(wire.Message{Header: wire.Header{Code: wire.CheckForPause}}); err != nil {
			return err
		}
		h, err := s.ReadControl()
		if err != nil {
			return err
		}
		if h.Code == wire.Pause {
			s.stepping = true
		}
	}

	if s.stepping {
		if err := s.SendControl(wire.Message{Header: wire.Header{Code: wire.ReportStepReady}}); err != nil {
			return err
		}
		for {
			h, err := s.ReadControl()
			if err != nil {
				return err
			}
			switch h.Code {
			case wire.Step:
				return nil
			case wire.Resume:
				s.stepping = false
				return nil
			}
		}
	}
	return nil
}
