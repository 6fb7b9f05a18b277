package gpustate

import (
	"fmt"
	"math"
	"strconv"

	"github.com/softgpu/gpudbg/pkg/wire"
)

// WindowSize is the number of registers shown from a base register.
const WindowSize = 256

// WindowEntry is one register of a Window.
type WindowEntry struct {
	Index      int
	Value      uint32
	Contention uint8
}

// Window is the block of registers a warp addresses through one base
// register.
type Window struct {
	SM, DispatchUnit, Slot int
	Base                   uint32
	Entries                []WindowEntry
}

// RegisterWindow returns the WindowSize registers starting at the base
// register of (sm, du, slot). Registers past the end of the register file
// are omitted.
func (s *State) RegisterWindow(sm, du, slot int) (*Window, error) {
	base, err := s.BaseRegister(sm, du, slot)
	if err != nil {
		return nil, err
	}
	w := &Window{SM: sm, DispatchUnit: du, Slot: slot, Base: base}
	if base >= wire.NumRegisters {
		return w, nil
	}
	end := int(base) + WindowSize
	if end > wire.NumRegisters {
		end = wire.NumRegisters
	}
	w.Entries = make([]WindowEntry, 0, end-int(base))
	for i := int(base); i < end; i++ {
		w.Entries = append(w.Entries, WindowEntry{
			Index:      i,
			Value:      s.registers[sm][i].Load(),
			Contention: s.contention8(sm, i),
		})
	}
	return w, nil
}

// FormatRegister formats a register value either as hexadecimal or,
// when asFloat is set, as the float32 with the same bits.
func FormatRegister(v uint32, asFloat bool) string {
	if asFloat {
		return strconv.FormatFloat(float64(math.Float32frombits(v)), 'g', -1, 32)
	}
	return fmt.Sprintf("0x%08X", v)
}
