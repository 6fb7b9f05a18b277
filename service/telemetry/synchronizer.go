// Package telemetry keeps a gpustate.State in sync with the register
// reports streamed by the simulator.
package telemetry

import (
	"context"
	"sync/atomic"

	"github.com/softgpu/gpudbg/pkg/gpustate"
	"github.com/softgpu/gpudbg/pkg/logflags"
	"github.com/softgpu/gpudbg/pkg/wire"
)

// Source is the telemetry side of a transport.
type Source interface {
	WaitReady(ctx context.Context) error
	ReadTelemetryHeader() (wire.Header, error)
	ReadTelemetryUint32() (uint32, error)
	ReadTelemetryUint32s(dst []uint32) error
	ReadTelemetryFull(buf []byte) error
	DiscardTelemetry(n uint32) error
	Reset()
}

// Stats counts what the synchronizer processed.
type Stats struct {
	// Records is the number of register records stored.
	Records uint64
	// Dropped is the number of register records discarded because they
	// addressed an SM or dispatch unit that does not exist.
	Dropped uint64
	// Skipped is the number of messages with codes the synchronizer does
	// not handle.
	Skipped uint64
	// Faults is the number of times the transport was reset.
	Faults uint64
}

// Synchronizer reads the telemetry channel into a State. It is the only
// writer of that State.
type Synchronizer struct {
	src   Source
	state *gpustate.State
	log   logflags.Logger

	registers []uint32
	counts    []byte
	bases     [wire.NumReplicationSlots]uint32

	records, dropped, skipped, faults atomic.Uint64
}

// New returns a Synchronizer that reads from src into state.
func New(src Source, state *gpustate.State) *Synchronizer {
	return &Synchronizer{
		src:       src,
		state:     state,
		log:       logflags.TelemetryLogger(),
		registers: make([]uint32, wire.NumRegisters),
		counts:    make([]byte, wire.NumRegisters),
	}
}

// Stats returns a snapshot of the counters.
func (s *Synchronizer) Stats() Stats {
	return Stats{
		Records: s.records.Load(),
		Dropped: s.dropped.Load(),
		Skipped: s.skipped.Load(),
		Faults:  s.faults.Load(),
	}
}

// Run processes messages until ctx is done. Reads are not interrupted by
// ctx, the owner of the transport must close it to unblock a pending read.
func (s *Synchronizer) Run(ctx context.Context) error {
	for {
		if err := s.src.WaitReady(ctx); err != nil {
			return err
		}
		if err := s.next(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.faults.Add(1)
			s.log.Warnf("telemetry read failed, resetting transport: %v", err)
			s.src.Reset()
		}
	}
}

// next reads and applies one message.
func (s *Synchronizer) next() error {
	h, err := s.src.ReadTelemetryHeader()
	if err != nil {
		return err
	}
	switch h.Code {
	case wire.ReportTiming:
		cycle, err := s.src.ReadTelemetryUint32()
		if err != nil {
			return err
		}
		s.state.SetClockCycle(cycle)
	case wire.ReportRegisterFile:
		sm, err := s.src.ReadTelemetryUint32()
		if err != nil {
			return err
		}
		if err := s.src.ReadTelemetryUint32s(s.registers); err != nil {
			return err
		}
		s.store(h, s.state.StoreRegisterFile(int(sm), s.registers))
	case wire.ReportBaseRegister:
		sm, err := s.src.ReadTelemetryUint32()
		if err != nil {
			return err
		}
		du, err := s.src.ReadTelemetryUint32()
		if err != nil {
			return err
		}
		if err := s.src.ReadTelemetryUint32s(s.bases[:]); err != nil {
			return err
		}
		s.store(h, s.state.StoreBaseRegisters(int(sm), int(du), s.bases[:]))
	case wire.ReportRegisterContestion:
		sm, err := s.src.ReadTelemetryUint32()
		if err != nil {
			return err
		}
		if err := s.src.ReadTelemetryFull(s.counts); err != nil {
			return err
		}
		s.store(h, s.state.StoreContention(int(sm), s.counts))
	default:
		s.skipped.Add(1)
		if h.Length > 0 {
			return s.src.DiscardTelemetry(h.Length)
		}
	}
	return nil
}

// store accounts for the result of applying a fully read record. A record
// with bad coordinates was consumed so the stream is still framed.
func (s *Synchronizer) store(h wire.Header, err error) {
	if err != nil {
		s.dropped.Add(1)
		s.log.Errorf("dropping %v: %v", h.Code, err)
		return
	}
	s.records.Add(1)
	if logflags.Telemetry() {
		s.log.Debugf("stored %v", h.Code)
	}
}
