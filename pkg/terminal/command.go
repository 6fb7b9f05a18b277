// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/softgpu/gpudbg/pkg/gpustate"
	"github.com/softgpu/gpudbg/pkg/wire"
	"github.com/softgpu/gpudbg/service/control"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the gpudbg terminal.
type Commands struct {
	cmds []command
	// names indexes every alias for completion.
	names *trie.Trie
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"pause", "halt"}, group: runCmds, cmdFn: pause, helpMsg: `Pauses the simulator.

	pause

The simulator halts the next time it checks in, which is at the end of
its current cycle. If it is not connected it halts as soon as it connects.`},
		{aliases: []string{"continue", "resume", "c"}, group: runCmds, cmdFn: cont, helpMsg: `Lets a paused simulator run freely.

	continue`},
		{aliases: []string{"step", "next", "s", "n"}, group: runCmds, cmdFn: step, helpMsg: `Executes a single cycle of a paused simulator.

	step

Pressing enter on an empty line repeats the last command, so step can be
repeated with a single key.`},
		{aliases: []string{"startpaused"}, group: runCmds, cmdFn: startPaused, helpMsg: `Sets whether the simulator halts before its first cycle.

	startpaused [on|off]

The flag is sent to the simulator when it connects. While no simulator is
connected it also requests a pause. Without arguments the flag is toggled.`},
		{aliases: []string{"status"}, cmdFn: status, helpMsg: `Prints the state of the debug session.

	status`},
		{aliases: []string{"clock"}, group: dataCmds, cmdFn: clock, helpMsg: `Prints the last clock cycle reported by the simulator.

	clock`},
		{aliases: []string{"regs"}, group: dataCmds, cmdFn: regs, helpMsg: `Prints the current register window.

	regs [<sm> <du> <slot>]

With arguments the window of dispatch unit du, replication slot slot of the
given SM becomes the current window. See also "window".`},
		{aliases: []string{"reg", "r"}, group: dataCmds, cmdFn: reg, helpMsg: `Prints a register.

	reg <sm> <index>`},
		{aliases: []string{"contention"}, group: dataCmds, cmdFn: contention, helpMsg: `Prints the contention counter of a register.

	contention <sm> <index>`},
		{aliases: []string{"base"}, group: dataCmds, cmdFn: base, helpMsg: `Prints base registers.

	base <sm> [<du> <slot>]

Without du and slot every base register of the SM is printed.`},
		{aliases: []string{"window", "w"}, group: dataCmds, cmdFn: window, helpMsg: `Prints a register window.

	window <sm> <du> <slot>

A register window holds the 256 registers starting at a base register,
with their contention counters.`},
		{aliases: []string{"fp"}, group: dataCmds, cmdFn: fp, helpMsg: `Sets whether register values are printed as float32.

	fp [on|off]

Without arguments the display mode is toggled.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of gpudbg commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.

	exit

A paused simulator is resumed.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	c.index()
	return c
}

func (c *Commands) index() {
	c.names = trie.New()
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			c.names.Add(alias, nil)
		}
	}
}

func (c *Commands) add(cmd command) {
	c.cmds = append(c.cmds, cmd)
	for _, alias := range cmd.aliases {
		c.names.Add(alias, nil)
	}
}

// complete returns the command names starting with line.
func (c *Commands) complete(line string) []string {
	if strings.Contains(line, " ") {
		return nil
	}
	r := c.names.PrefixSearch(strings.ToLower(line))
	sort.Strings(r)
	return r
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.add(command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it does nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.index()
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			if cmd.match(args) {
				fmt.Fprintln(t.stdout, cmd.helpMsg)
				return nil
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits a command line into words, honoring quotes.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

// parseInts parses the arguments of a command taking exactly one of the
// given numbers of integer arguments.
func parseInts(args, usage string, counts ...int) ([]int, error) {
	words, err := splitArgs(args)
	if err != nil {
		return nil, err
	}
	ok := false
	for _, n := range counts {
		if len(words) == n {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("wrong number of arguments: %s", usage)
	}
	r := make([]int, len(words))
	for i, w := range words {
		if r[i], err = strconv.Atoi(w); err != nil {
			return nil, fmt.Errorf("invalid argument %q: %s", w, usage)
		}
	}
	return r, nil
}

// parseOnOff parses the argument of a toggle command, an empty argument
// toggles cur.
func parseOnOff(args string, cur bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "":
		return !cur, nil
	case "on", "true":
		return true, nil
	case "off", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid argument %q, expected on or off", args)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func pause(t *Term, args string) error {
	t.debugger.RequestPause()
	if !t.debugger.Status().Connected {
		fmt.Fprintln(t.stdout, "pause requested, the simulator will halt when it connects")
		return nil
	}
	if !t.waitHalted() {
		fmt.Fprintln(t.stdout, "pause requested, the simulator has not halted yet")
		return nil
	}
	fmt.Fprintf(t.stdout, "%s at cycle %d\n", t.colorize(ansiYellow, "paused"), t.debugger.ReadClockCycle())
	return nil
}

func cont(t *Term, args string) error {
	if err := t.debugger.Resume(); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, t.colorize(ansiGreen, "running"))
	return nil
}

func step(t *Term, args string) error {
	if err := t.debugger.Step(); err != nil {
		return err
	}
	if !t.waitHalted() {
		return fmt.Errorf("the simulator did not halt within %v", t.HaltTimeout)
	}
	fmt.Fprintf(t.stdout, "cycle %d\n", t.debugger.ReadClockCycle())
	return nil
}

func startPaused(t *Term, args string) error {
	b, err := parseOnOff(args, t.debugger.StartPaused())
	if err != nil {
		return err
	}
	t.debugger.SetStartPaused(b)
	fmt.Fprintf(t.stdout, "start paused %s\n", onOff(b))
	return nil
}

func (t *Term) formatState(st control.SteppingState) string {
	switch st {
	case control.Running:
		return t.colorize(ansiGreen, st.String())
	default:
		return t.colorize(ansiYellow, st.String())
	}
}

func status(t *Term, args string) error {
	st := t.debugger.Status()
	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', 0)
	if st.Connected {
		fmt.Fprintf(w, "simulator:\tconnected (session %s)\n", st.Session)
	} else {
		ctl, tel := t.debugger.Endpoints()
		fmt.Fprintf(w, "simulator:\t%s on %s and %s\n", t.colorize(ansiRed, "waiting"), ctl, tel)
	}
	fmt.Fprintf(w, "state:\t%s\n", t.formatState(st.State))
	fmt.Fprintf(w, "cycle:\t%d\n", st.ClockCycle)
	fmt.Fprintf(w, "start paused:\t%s\n", onOff(st.StartPaused))
	fmt.Fprintf(w, "registers dirty:\t%v\n", t.debugger.IsRegistersDirty())
	fmt.Fprintf(w, "telemetry:\t%d records, %d dropped, %d skipped, %d faults\n",
		st.Telemetry.Records, st.Telemetry.Dropped, st.Telemetry.Skipped, st.Telemetry.Faults)
	return w.Flush()
}

func clock(t *Term, args string) error {
	fmt.Fprintf(t.stdout, "cycle %d\n", t.debugger.ReadClockCycle())
	return nil
}

func (t *Term) formatRegister(v uint32) string {
	return gpustate.FormatRegister(v, t.conf.DisplayFloat)
}

func regs(t *Term, args string) error {
	v, err := parseInts(args, "regs [<sm> <du> <slot>]", 0, 3)
	if err != nil {
		return err
	}
	sel := t.window
	if len(v) == 3 {
		copy(sel[:], v)
	}
	t.debugger.ClearDirty()
	win, err := t.debugger.RegisterWindow(sel[0], sel[1], sel[2])
	if err != nil {
		return err
	}
	t.window = sel
	fmt.Fprintf(t.stdout, "sm %d du %d slot %d base %d\n", win.SM, win.DispatchUnit, win.Slot, win.Base)
	const perLine = 4
	var b strings.Builder
	for i, e := range win.Entries {
		fmt.Fprintf(&b, "%s %-12s", t.colorize(ansiBlue, fmt.Sprintf("r%-4d", e.Index)), t.formatRegister(e.Value))
		if i%perLine == perLine-1 || i == len(win.Entries)-1 {
			fmt.Fprintln(t.stdout, strings.TrimRight(b.String(), " "))
			b.Reset()
		}
	}
	return nil
}

func window(t *Term, args string) error {
	v, err := parseInts(args, "window <sm> <du> <slot>", 3)
	if err != nil {
		return err
	}
	t.debugger.ClearDirty()
	win, err := t.debugger.RegisterWindow(v[0], v[1], v[2])
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "sm %d du %d slot %d base %d\n", win.SM, win.DispatchUnit, win.Slot, win.Base)
	if len(win.Entries) == 0 {
		fmt.Fprintln(t.stdout, "(base is past the end of the register file)")
		return nil
	}
	for _, e := range win.Entries {
		s := t.formatRegister(e.Value)
		if e.Contention > 0 {
			s = fmt.Sprintf("%-12s contention %d", s, e.Contention)
		}
		t.Println(fmt.Sprintf("r%-5d ", e.Index), s)
	}
	return nil
}

func reg(t *Term, args string) error {
	v, err := parseInts(args, "reg <sm> <index>", 2)
	if err != nil {
		return err
	}
	val, err := t.debugger.GetRegister(v[0], v[1])
	if err != nil {
		return err
	}
	c, err := t.debugger.GetContention(v[0], v[1])
	if err != nil {
		return err
	}
	s := t.formatRegister(val)
	if c > 0 {
		s += fmt.Sprintf(" (contention %d)", c)
	}
	t.Println(fmt.Sprintf("r%d.%d = ", v[0], v[1]), s)
	return nil
}

func contention(t *Term, args string) error {
	v, err := parseInts(args, "contention <sm> <index>", 2)
	if err != nil {
		return err
	}
	c, err := t.debugger.GetContention(v[0], v[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%d\n", c)
	return nil
}

func base(t *Term, args string) error {
	const usage = "base <sm> [<du> <slot>]"
	v, err := parseInts(args, usage, 1, 3)
	if err != nil {
		return err
	}
	if len(v) == 3 {
		b, err := t.debugger.GetBaseRegister(v[0], v[1], v[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "%d\n", b)
		return nil
	}
	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', tabwriter.AlignRight)
	for du := 0; du < wire.NumDispatchUnits; du++ {
		fmt.Fprintf(w, "du %d:\t", du)
		for slot := 0; slot < wire.NumReplicationSlots; slot++ {
			b, err := t.debugger.GetBaseRegister(v[0], du, slot)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d\t", b)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func fp(t *Term, args string) error {
	b, err := parseOnOff(args, t.conf.DisplayFloat)
	if err != nil {
		return err
	}
	t.conf.DisplayFloat = b
	fmt.Fprintf(t.stdout, "float display %s\n", onOff(b))
	return nil
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	return c.executeFile(t, args)
}

// ExitRequestError is returned when the user
// exits gpudbg.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
