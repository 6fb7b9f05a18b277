// Package gpustate holds the most recent register state reported by the
// simulator.
//
// A State has exactly one writer, the telemetry synchronizer, and any
// number of readers. Every cell is an atomic 32 bit word so individual
// values never tear, but a reader walking a whole table may observe a mix
// of two consecutive reports. The dirty flag is stored after the cells of
// a report and readers swap it before re-reading the tables, so an update
// landing between the swap and the read is seen again on the next swap.
package gpustate

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/softgpu/gpudbg/pkg/wire"
)

// ErrIndexOutOfRange is returned when a table coordinate falls outside the
// dimensions of the simulated GPU.
var ErrIndexOutOfRange = errors.New("index out of range")

const contentionWords = wire.NumRegisters / 4

// State is the shared register snapshot.
type State struct {
	clock atomic.Uint32
	dirty atomic.Bool

	registers  [wire.NumSMs][wire.NumRegisters]atomic.Uint32
	contention [wire.NumSMs][contentionWords]atomic.Uint32
	bases      [wire.NumSMs][wire.NumDispatchUnits][wire.NumReplicationSlots]atomic.Uint32
}

// New returns an empty State.
func New() *State {
	return &State{}
}

// ClockCycle returns the last reported clock cycle.
func (s *State) ClockCycle() uint32 {
	return s.clock.Load()
}

// SetClockCycle records a new clock cycle. It does not mark the state dirty.
func (s *State) SetClockCycle(c uint32) {
	s.clock.Store(c)
}

// IsDirty reports whether any table changed since the last ClearDirty.
func (s *State) IsDirty() bool {
	return s.dirty.Load()
}

// ClearDirty resets the dirty flag and returns its previous value.
func (s *State) ClearDirty() bool {
	return s.dirty.Swap(false)
}

// MarkDirty sets the dirty flag.
func (s *State) MarkDirty() {
	s.dirty.Store(true)
}

func checkSM(sm int) error {
	if sm < 0 || sm >= wire.NumSMs {
		return fmt.Errorf("sm %d: %w", sm, ErrIndexOutOfRange)
	}
	return nil
}

func checkRegister(sm, reg int) error {
	if err := checkSM(sm); err != nil {
		return err
	}
	if reg < 0 || reg >= wire.NumRegisters {
		return fmt.Errorf("register %d: %w", reg, ErrIndexOutOfRange)
	}
	return nil
}

func checkBase(sm, du, slot int) error {
	if err := checkSM(sm); err != nil {
		return err
	}
	if du < 0 || du >= wire.NumDispatchUnits {
		return fmt.Errorf("dispatch unit %d: %w", du, ErrIndexOutOfRange)
	}
	if slot < 0 || slot >= wire.NumReplicationSlots {
		return fmt.Errorf("replication slot %d: %w", slot, ErrIndexOutOfRange)
	}
	return nil
}

// StoreRegisterFile replaces the register file of sm and marks the state
// dirty. Only the first NumRegisters values are used.
func (s *State) StoreRegisterFile(sm int, values []uint32) error {
	if err := checkSM(sm); err != nil {
		return err
	}
	row := &s.registers[sm]
	for i := 0; i < len(row) && i < len(values); i++ {
		row[i].Store(values[i])
	}
	s.MarkDirty()
	return nil
}

// StoreContention replaces the contention counters of sm and marks the
// state dirty. Counters are packed four to a word, the counter of register
// i lives in byte i%4 of word i/4.
func (s *State) StoreContention(sm int, counts []uint8) error {
	if err := checkSM(sm); err != nil {
		return err
	}
	row := &s.contention[sm]
	for w := range row {
		var packed uint32
		for b := 0; b < 4; b++ {
			if i := w*4 + b; i < len(counts) {
				packed |= uint32(counts[i]) << (8 * b)
			}
		}
		row[w].Store(packed)
	}
	s.MarkDirty()
	return nil
}

// StoreBaseRegisters replaces the base registers of one dispatch unit and
// marks the state dirty.
func (s *State) StoreBaseRegisters(sm, du int, bases []uint32) error {
	if err := checkBase(sm, du, 0); err != nil {
		return err
	}
	row := &s.bases[sm][du]
	for i := 0; i < len(row) && i < len(bases); i++ {
		row[i].Store(bases[i])
	}
	s.MarkDirty()
	return nil
}

// Register returns the value of register reg of sm.
func (s *State) Register(sm, reg int) (uint32, error) {
	if err := checkRegister(sm, reg); err != nil {
		return 0, err
	}
	return s.registers[sm][reg].Load(), nil
}

// Contention returns the contention counter of register reg of sm.
func (s *State) Contention(sm, reg int) (uint8, error) {
	if err := checkRegister(sm, reg); err != nil {
		return 0, err
	}
	return s.contention8(sm, reg), nil
}

func (s *State) contention8(sm, reg int) uint8 {
	return uint8(s.contention[sm][reg/4].Load() >> (8 * (reg % 4)))
}

// BaseRegister returns the base register of replication slot slot of
// dispatch unit du of sm.
func (s *State) BaseRegister(sm, du, slot int) (uint32, error) {
	if err := checkBase(sm, du, slot); err != nil {
		return 0, err
	}
	return s.bases[sm][du][slot].Load(), nil
}

// Registers copies the register file of sm into dst, which must hold at
// least NumRegisters values.
func (s *State) Registers(sm int, dst []uint32) error {
	if err := checkSM(sm); err != nil {
		return err
	}
	row := &s.registers[sm]
	for i := 0; i < len(row) && i < len(dst); i++ {
		dst[i] = row[i].Load()
	}
	return nil
}
