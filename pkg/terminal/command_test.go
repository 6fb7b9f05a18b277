package terminal

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/softgpu/gpudbg/pkg/config"
	"github.com/softgpu/gpudbg/pkg/gpustate"
	"github.com/softgpu/gpudbg/pkg/wire"
	"github.com/softgpu/gpudbg/service/control"
	"github.com/softgpu/gpudbg/service/debugger"
)

// fakeDebugger halts immediately on pause and after every step.
type fakeDebugger struct {
	*gpustate.State
	st          control.SteppingState
	startPaused bool
	connected   bool
}

func newFakeDebugger() *fakeDebugger {
	return &fakeDebugger{State: gpustate.New(), connected: true}
}

func (d *fakeDebugger) Status() debugger.Status {
	return debugger.Status{
		Connected:   d.connected,
		State:       d.st,
		ClockCycle:  d.ClockCycle(),
		StartPaused: d.startPaused,
		Session:     "test",
	}
}

func (d *fakeDebugger) ReadClockCycle() uint32 { return d.ClockCycle() }
func (d *fakeDebugger) IsRegistersDirty() bool { return d.IsDirty() }

func (d *fakeDebugger) GetRegister(sm, i int) (uint32, error)   { return d.Register(sm, i) }
func (d *fakeDebugger) GetContention(sm, i int) (uint8, error)  { return d.Contention(sm, i) }
func (d *fakeDebugger) IsStepReady() bool                       { return d.st == control.Paused }
func (d *fakeDebugger) StartPaused() bool                       { return d.startPaused }
func (d *fakeDebugger) SetStartPaused(b bool)                   { d.startPaused = b }
func (d *fakeDebugger) Endpoints() (string, string)             { return "/tmp/step", "/tmp/info" }
func (d *fakeDebugger) GetBaseRegister(sm, du, slot int) (uint32, error) {
	return d.BaseRegister(sm, du, slot)
}

func (d *fakeDebugger) RequestPause() {
	if d.connected {
		d.st = control.Paused
	} else {
		d.st = control.PauseRequested
	}
}

func (d *fakeDebugger) Resume() error {
	if d.st != control.Paused {
		return control.ErrNotPaused
	}
	d.st = control.Running
	return nil
}

func (d *fakeDebugger) Step() error {
	if d.st != control.Paused {
		return control.ErrNotPaused
	}
	d.SetClockCycle(d.ClockCycle() + 1)
	return nil
}

func (d *fakeDebugger) Subscribe() (<-chan control.SteppingState, func()) {
	return make(chan control.SteppingState, 1), func() {}
}

type FakeTerminal struct {
	*Term
	d   *fakeDebugger
	out bytes.Buffer
	t   testing.TB
}

func newFakeTerminal(t testing.TB, conf *config.Config) *FakeTerminal {
	ft := &FakeTerminal{d: newFakeDebugger(), t: t}
	ft.Term = New(ft.d, conf)
	ft.Term.dumb = true
	ft.Term.stdout = &ft.out
	return ft
}

func (ft *FakeTerminal) Exec(cmdstr string) (string, error) {
	ft.out.Reset()
	err := ft.execute(cmdstr)
	return ft.out.String(), err
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	outstr, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Errorf("output of %q: %q", cmdstr, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return outstr
}

func (ft *FakeTerminal) AssertExec(cmdstr, tgt string) {
	out := ft.MustExec(cmdstr)
	if out != tgt {
		ft.t.Fatalf("Error executing %q, expected %q got %q", cmdstr, tgt, out)
	}
}

func (ft *FakeTerminal) AssertExecError(cmdstr, tgterr string) {
	_, err := ft.Exec(cmdstr)
	if err == nil {
		ft.t.Fatalf("Expected error executing %q", cmdstr)
	}
	if err.Error() != tgterr {
		ft.t.Fatalf("Expected error %q executing %q, got error %q", tgterr, cmdstr, err.Error())
	}
}

func (ft *FakeTerminal) loadRegisters() {
	values := make([]uint32, wire.NumRegisters)
	values[300] = 0x2A
	values[301] = 0x3F800000
	counts := make([]uint8, wire.NumRegisters)
	counts[300] = 9
	if err := ft.d.StoreRegisterFile(1, values); err != nil {
		ft.t.Fatal(err)
	}
	if err := ft.d.StoreContention(1, counts); err != nil {
		ft.t.Fatal(err)
	}
	if err := ft.d.StoreBaseRegisters(1, 1, []uint32{256, 4000, 5000, 0}); err != nil {
		ft.t.Fatal(err)
	}
}

func TestCommandDefault(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	ft.AssertExecError("foo", "command not available")
	ft.AssertExecError("help foo", "command not available")
}

func TestHelp(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	out := ft.MustExec("help")
	for _, s := range []string{"Running the simulator:", "Viewing registers:", "step (alias: next | s | n)", "startpaused"} {
		if !strings.Contains(out, s) {
			t.Errorf("help output does not contain %q:\n%s", s, out)
		}
	}
	out = ft.MustExec("help n")
	if !strings.HasPrefix(out, "Executes a single cycle of a paused simulator.") {
		t.Errorf("got %q", out)
	}
}

func TestPauseStepContinue(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	ft.AssertExecError("step", control.ErrNotPaused.Error())
	ft.AssertExec("pause", "paused at cycle 0\n")
	ft.AssertExec("step", "cycle 1\n")
	// An empty line repeats the last command.
	ft.AssertExec("", "cycle 2\n")
	ft.AssertExec("  ", "cycle 3\n")
	ft.AssertExec("clock", "cycle 3\n")
	ft.AssertExec("continue", "running\n")
	ft.AssertExecError("c", control.ErrNotPaused.Error())
}

func TestPauseDisconnected(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	ft.d.connected = false
	ft.AssertExec("pause", "pause requested, the simulator will halt when it connects\n")
	out := ft.MustExec("status")
	for _, s := range []string{"waiting on /tmp/step and /tmp/info", "pause requested"} {
		if !strings.Contains(out, s) {
			t.Errorf("status output does not contain %q:\n%s", s, out)
		}
	}
}

func TestStatus(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	ft.loadRegisters()
	ft.MustExec("pause")
	out := ft.MustExec("status")
	for _, s := range []string{"connected (session test)", "paused", "start paused:", "registers dirty: true"} {
		if !strings.Contains(out, s) {
			t.Errorf("status output does not contain %q:\n%s", s, out)
		}
	}
}

func TestStartPaused(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	ft.AssertExec("startpaused", "start paused on\n")
	if !ft.d.startPaused {
		t.Errorf("start paused not set")
	}
	ft.AssertExec("startpaused", "start paused off\n")
	ft.AssertExec("startpaused on", "start paused on\n")
	ft.AssertExecError("startpaused maybe", `invalid argument "maybe", expected on or off`)
}

func TestRegisterCommands(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	ft.loadRegisters()

	ft.AssertExec("reg 1 300", "r1.300 = 0x0000002A (contention 9)\n")
	ft.AssertExec("contention 1 300", "9\n")
	ft.AssertExec("base 1 1 1", "4000\n")
	ft.AssertExecError("reg 1", "wrong number of arguments: reg <sm> <index>")
	ft.AssertExecError("reg 1 x", `invalid argument "x": reg <sm> <index>`)
	if _, err := ft.Exec("reg 9 0"); err == nil {
		t.Errorf("expected error for SM 9")
	}

	out := ft.MustExec("base 1")
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != wire.NumDispatchUnits {
		t.Errorf("got %d lines: %q", len(lines), out)
	}

	out = ft.MustExec("window 1 1 0")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != gpustate.WindowSize+1 || lines[0] != "sm 1 du 1 slot 0 base 256" {
		t.Fatalf("got %d lines, header %q", len(lines), lines[0])
	}
	if !strings.Contains(out, "r300   0x0000002A   contention 9\n") {
		t.Errorf("contention not shown:\n%s", out)
	}
	if ft.d.IsDirty() {
		t.Errorf("dirty flag not cleared")
	}
	ft.AssertExec("window 1 1 2", "sm 1 du 1 slot 2 base 5000\n(base is past the end of the register file)\n")

	ft.AssertExec("fp", "float display on\n")
	ft.AssertExec("reg 1 301", "r1.301 = 1\n")
	ft.AssertExec("fp off", "float display off\n")
	ft.AssertExec("reg 1 301", "r1.301 = 0x3F800000\n")
}

func TestRegsSelection(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	ft.loadRegisters()

	out := ft.MustExec("regs")
	if !strings.HasPrefix(out, "sm 0 du 0 slot 0 base 0\n") {
		t.Errorf("got %q", out)
	}

	out = ft.MustExec("regs 1 1 1")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// 96 registers from 4000, four per line.
	if len(lines) != 25 || lines[0] != "sm 1 du 1 slot 1 base 4000" {
		t.Fatalf("got %d lines, header %q", len(lines), lines[0])
	}
	if !strings.HasPrefix(lines[1], "r4000 0x00000000") {
		t.Errorf("got %q", lines[1])
	}

	if _, err := ft.Exec("regs 9 0 0"); err == nil {
		t.Errorf("expected error for SM 9")
	}
	out = ft.MustExec("regs")
	if !strings.HasPrefix(out, "sm 1 du 1 slot 1 base 4000\n") {
		t.Errorf("selection not kept: %q", out)
	}
	ft.AssertExecError("regs 1 1", "wrong number of arguments: regs [<sm> <du> <slot>]")
}

func TestSourceCommandFile(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	path := filepath.Join(t.TempDir(), "cmds")
	if err := os.WriteFile(path, []byte("# comment\nclock\n\nbogus\n"), 0600); err != nil {
		t.Fatal(err)
	}
	ft.AssertExec("source "+path, "cycle 0\n"+path+":4: command not available\n")
	ft.AssertExecError("source", "wrong number of arguments: source <filename>")
}

func TestSourceStarlark(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	ft.loadRegisters()
	path := filepath.Join(t.TempDir(), "script.star")
	src := `
def command_peek(sm, idx):
    "prints a raw register"
    print("peek", register(sm, idx), contention(sm, idx))

def main():
    gpu_command("pause")
    gpu_command("step")
`
	if err := os.WriteFile(path, []byte(src), 0600); err != nil {
		t.Fatal(err)
	}
	ft.AssertExec("source "+path, "paused at cycle 0\ncycle 1\n")
	ft.AssertExec("peek 1, 300", "peek 42 9\n")
	ft.AssertExec("help peek", "prints a raw register\n")
}

func TestAliases(t *testing.T) {
	ft := newFakeTerminal(t, &config.Config{Aliases: map[string][]string{"step": {"ss"}}})
	ft.MustExec("pause")
	ft.AssertExec("ss", "cycle 1\n")

	got := ft.cmds.complete("st")
	want := []string{"startpaused", "status", "step"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got completions %q, want %q", got, want)
	}
	if got := ft.cmds.complete("s"); len(got) < 5 {
		t.Errorf("got completions %q", got)
	}
	if got := ft.cmds.complete("reg 1"); got != nil {
		t.Errorf("completed arguments: %q", got)
	}
}

func TestExit(t *testing.T) {
	ft := newFakeTerminal(t, nil)
	_, err := ft.Exec("quit")
	if _, ok := err.(ExitRequestError); !ok {
		t.Fatalf("got %v", err)
	}
}
