package web

// Status is the state of the debug session.
type Status struct {
	Connected   bool   `json:"connected"`
	State       string `json:"state"`
	StepReady   bool   `json:"step_ready"`
	ClockCycle  uint32 `json:"clock_cycle"`
	StartPaused bool   `json:"start_paused"`
	Session     string `json:"session,omitempty"`
	// Dirty is true if register state changed since the last request that
	// returned register values.
	Dirty     bool           `json:"dirty"`
	Telemetry TelemetryStats `json:"telemetry"`
}

// TelemetryStats counts the telemetry records processed.
type TelemetryStats struct {
	Records uint64 `json:"records"`
	Dropped uint64 `json:"dropped"`
	Skipped uint64 `json:"skipped"`
	Faults  uint64 `json:"faults"`
}

// Register is one register with its formatted value.
type Register struct {
	Index      int    `json:"index"`
	Raw        uint32 `json:"raw"`
	Value      string `json:"value"`
	Contention uint8  `json:"contention"`
}

// RegisterFile is a page of the register file of an SM.
type RegisterFile struct {
	SM        int        `json:"sm"`
	Start     int        `json:"start"`
	Total     int        `json:"total"`
	Registers []Register `json:"registers"`
}

// Window is the block of registers addressed by one base register.
type Window struct {
	SM           int        `json:"sm"`
	DispatchUnit int        `json:"dispatch_unit"`
	Slot         int        `json:"slot"`
	Base         uint32     `json:"base"`
	Registers    []Register `json:"registers"`
}

// BaseRegisters are the base registers of an SM, indexed by dispatch unit
// and replication slot.
type BaseRegisters struct {
	SM    int        `json:"sm"`
	Bases [][]uint32 `json:"bases"`
}

// Resource is the resource usage of the gpudbg process.
type Resource struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}
