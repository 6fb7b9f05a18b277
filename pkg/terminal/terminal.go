package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/softgpu/gpudbg/pkg/config"
	"github.com/softgpu/gpudbg/pkg/gpustate"
	"github.com/softgpu/gpudbg/pkg/terminal/starbind"
	"github.com/softgpu/gpudbg/service/control"
	"github.com/softgpu/gpudbg/service/debugger"
)

const (
	historyFile                 string = ".gpudbg_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
)

// DefaultHaltTimeout is how long pause and step wait for the simulator to
// report that it halted.
const DefaultHaltTimeout = 5 * time.Second

// Debugger is the part of the debug session the terminal drives.
type Debugger interface {
	starbind.Target
	Status() debugger.Status
	RequestPause()
	Resume() error
	Step() error
	SetStartPaused(b bool)
	StartPaused() bool
	ClearDirty() bool
	RegisterWindow(sm, du, slot int) (*gpustate.Window, error)
	Subscribe() (<-chan control.SteppingState, func())
	Endpoints() (string, string)
}

// Term represents the terminal running gpudbg.
type Term struct {
	debugger    Debugger
	conf        *config.Config
	prompt      string
	line        *liner.State
	cmds        *Commands
	dumb        bool
	stdout      io.Writer
	starlarkEnv *starbind.Env
	InitFile    string

	// HaltTimeout overrides DefaultHaltTimeout.
	HaltTimeout time.Duration

	// lastCmd is repeated when an empty line is entered.
	lastCmd string
	// window is the (sm, du, slot) shown by regs without arguments.
	window [3]int
}

// New returns a new Term.
func New(d Debugger, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd())
	if dumb {
		w = os.Stdout
	} else {
		w = colorable.NewColorableStdout()
	}

	t := &Term{
		debugger:    d,
		conf:        conf,
		prompt:      "(gpudbg) ",
		cmds:        cmds,
		dumb:        dumb,
		stdout:      w,
		HaltTimeout: DefaultHaltTimeout,
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, &starlarkOutput{t})
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintf(t.stdout, "received SIGINT, requesting pause\n")
		t.debugger.RequestPause()
	}
}

// Run begins running gpudbg in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.cmds.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}

	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")
	if st := t.debugger.Status(); !st.Connected {
		ctl, tel := t.debugger.Endpoints()
		fmt.Fprintf(t.stdout, "Waiting for the simulator on %s and %s\n", ctl, tel)
	}

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		if err := t.execute(cmdstr); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// execute runs cmdstr. An empty line repeats the previous command, which
// makes pressing enter after step advance one more cycle.
func (t *Term) execute(cmdstr string) error {
	if strings.TrimSpace(cmdstr) == "" {
		cmdstr = t.lastCmd
	} else {
		t.lastCmd = cmdstr
	}
	return t.cmds.Call(cmdstr, t)
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	fmt.Fprintf(t.stdout, "%s%s\n", t.colorize(ansiBlue, prefix), str)
}

func (t *Term) colorize(color int, str string) string {
	if t.dumb || str == "" {
		return str
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, color) + str + terminalResetEscapeCode
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

// handleExit saves the history and resumes a paused simulator.
func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if t.debugger.IsStepReady() {
		if err := t.debugger.Resume(); err != nil {
			return 1, err
		}
	}
	return 0, nil
}

// waitHalted waits until the simulator is paused or the halt timeout
// expires.
func (t *Term) waitHalted() bool {
	ch, cancel := t.debugger.Subscribe()
	defer cancel()
	if t.debugger.IsStepReady() {
		return true
	}
	timeout := time.NewTimer(t.HaltTimeout)
	defer timeout.Stop()
	for {
		select {
		case st := <-ch:
			if st == control.Paused {
				return true
			}
		case <-timeout.C:
			return t.debugger.IsStepReady()
		}
	}
}

// starlarkOutput sends script output to the terminal.
type starlarkOutput struct {
	t *Term
}

func (o *starlarkOutput) Write(p []byte) (int, error) {
	return o.t.stdout.Write(p)
}

// Echo is a no-op, the terminal keeps no transcript.
func (o *starlarkOutput) Echo(string) {}

func (o *starlarkOutput) Flush() {}
