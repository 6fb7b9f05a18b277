package starbind

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.starlark.net/starlark"
)

type fakeTarget struct {
	clock uint32
	regs  map[[2]int]uint32
}

func (f *fakeTarget) ReadClockCycle() uint32 { return f.clock }

func (f *fakeTarget) GetRegister(sm, i int) (uint32, error) {
	if sm < 0 || sm > 3 {
		return 0, fmt.Errorf("invalid sm %d", sm)
	}
	return f.regs[[2]int{sm, i}], nil
}

func (f *fakeTarget) GetContention(sm, i int) (uint8, error) { return 3, nil }

func (f *fakeTarget) GetBaseRegister(sm, du, slot int) (uint32, error) {
	return uint32(256 * slot), nil
}

func (f *fakeTarget) IsStepReady() bool      { return true }
func (f *fakeTarget) IsRegistersDirty() bool { return false }

type fakeContext struct {
	target *fakeTarget
	calls  []string
	cmds   map[string]func(string) error
}

func (ctx *fakeContext) Target() Target { return ctx.target }

func (ctx *fakeContext) RegisterCommand(name, helpMsg string, cmdfn func(args string) error) {
	ctx.cmds[name] = cmdfn
}

func (ctx *fakeContext) CallCommand(cmdstr string) error {
	ctx.calls = append(ctx.calls, cmdstr)
	return nil
}

type bufferWriter struct {
	bytes.Buffer
}

func (w *bufferWriter) Echo(string) {}
func (w *bufferWriter) Flush()      {}

func newTestEnv() (*Env, *fakeContext, *bufferWriter) {
	ctx := &fakeContext{
		target: &fakeTarget{clock: 42, regs: map[[2]int]uint32{{1, 7}: 0xBEEF}},
		cmds:   map[string]func(string) error{},
	}
	out := &bufferWriter{}
	return New(ctx, out), ctx, out
}

func TestExecuteBuiltins(t *testing.T) {
	env, ctx, out := newTestEnv()
	src := `
gpu_command("step")
gpu_command("regs", "1", "0", "1")
print(clock_cycle(), register(1, 7), contention(0, 0), base_register(0, 0, 2))
print(step_ready(), registers_dirty())
`
	if _, err := env.Execute("test.star", src, "", nil); err != nil {
		t.Fatal(err)
	}
	if len(ctx.calls) != 2 || ctx.calls[0] != "step" || ctx.calls[1] != "regs 1 0 1" {
		t.Errorf("got calls %q", ctx.calls)
	}
	want := "42 48879 3 512\nTrue False\n"
	if out.String() != want {
		t.Errorf("got output %q, want %q", out.String(), want)
	}
}

func TestBuiltinErrors(t *testing.T) {
	env, _, _ := newTestEnv()
	_, err := env.Execute("test.star", "register(9, 0)\n", "", nil)
	if err == nil || !strings.Contains(err.Error(), "invalid sm 9") {
		t.Errorf("got %v", err)
	}
	_, err = env.Execute("test.star", "register(1)\n", "", nil)
	if err == nil {
		t.Errorf("expected error for missing argument")
	}
	_, err = env.Execute("test.star", "gpu_command(1)\n", "", nil)
	if err == nil {
		t.Errorf("expected error for non string command")
	}
}

func TestCommandRegistration(t *testing.T) {
	env, ctx, out := newTestEnv()
	src := `
def command_echo(args):
    "prints its arguments"
    print("echo", args)

def command_sum(a, b):
    print(a + b)

def main(x):
    return x * 2

Exported = 10
hidden = 1
`
	v, err := env.Execute("test.star", src, "main", []starlark.Value{starlark.MakeInt(21)})
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "42" {
		t.Errorf("main returned %v", v)
	}
	if ctx.cmds["echo"] == nil || ctx.cmds["sum"] == nil {
		t.Fatalf("commands not registered: %v", ctx.cmds)
	}
	if err := ctx.cmds["echo"]("a b"); err != nil {
		t.Fatal(err)
	}
	if err := ctx.cmds["sum"]("1, Exported"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "echo a b\n11\n" {
		t.Errorf("got output %q", out.String())
	}
	if _, ok := env.env["Exported"]; !ok {
		t.Errorf("capitalized global not exported")
	}
	if _, ok := env.env["hidden"]; ok {
		t.Errorf("lowercase global exported")
	}
}

func TestReadWriteFile(t *testing.T) {
	env, _, _ := newTestEnv()
	path := filepath.Join(t.TempDir(), "out.txt")
	src := fmt.Sprintf("write_file(%q, \"r0=\" + str(register(1, 7)))\nText = read_file(%q)\n", path, path)
	if _, err := env.Execute("test.star", src, "", nil); err != nil {
		t.Fatal(err)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "r0=48879" {
		t.Errorf("got %q", buf)
	}
	if s, _ := starlark.AsString(env.env["Text"]); s != "r0=48879" {
		t.Errorf("read_file returned %v", env.env["Text"])
	}
}

func TestCancel(t *testing.T) {
	env, _, _ := newTestEnv()
	env.Cancel()
	thread := env.newThread()
	env.Cancel()
	if err := isCancelled(thread); err == nil {
		t.Errorf("thread not cancelled")
	}
}
