package dap

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// replCmd runs a debug console command. It returns errNoCmd if cmdstr does
// not name one, in which case the input is evaluated as an expression.
func (s *Server) replCmd(cmdstr string) (string, error) {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	for _, cmd := range debugCommands(s) {
		for _, alias := range cmd.aliases {
			if alias == cmdname {
				return cmd.cmdFn(args)
			}
		}
	}
	return "", errNoCmd
}

type cmdfunc func(args string) (string, error)

type command struct {
	aliases []string
	helpMsg string
	cmdFn   cmdfunc
}

const (
	msgHelp = `Prints the help message.

help [command]

Type "help" followed by the name of a command for more information about it.`

	msgStatus = `Shows the connection and stepping state of the simulator.`

	msgFloat = `Switches register display between hex and float32.

fp [on|off]`

	msgStartPaused = `Sets whether the simulator halts before its first cycle.

startpaused [on|off]

While no simulator is connected this also requests a pause.`
)

// debugCommands returns a list of commands with default commands defined.
func debugCommands(s *Server) []command {
	return []command{
		{aliases: []string{"help", "h"}, cmdFn: s.helpMessage, helpMsg: msgHelp},
		{aliases: []string{"status"}, cmdFn: s.statusMessage, helpMsg: msgStatus},
		{aliases: []string{"fp"}, cmdFn: s.toggleFloat, helpMsg: msgFloat},
		{aliases: []string{"startpaused"}, cmdFn: s.toggleStartPaused, helpMsg: msgStartPaused},
	}
}

var errNoCmd = errors.New("command not available")

func (s *Server) helpMessage(args string) (string, error) {
	var buf bytes.Buffer
	if args != "" {
		for _, cmd := range debugCommands(s) {
			for _, alias := range cmd.aliases {
				if alias == args {
					return cmd.helpMsg, nil
				}
			}
		}
		return "", errNoCmd
	}

	fmt.Fprintln(&buf, "The following commands are available:")

	for _, cmd := range debugCommands(s) {
		h := cmd.helpMsg
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		if len(cmd.aliases) > 1 {
			fmt.Fprintf(&buf, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
		} else {
			fmt.Fprintf(&buf, "    %s \t %s\n", cmd.aliases[0], h)
		}
	}

	fmt.Fprintln(&buf)
	fmt.Fprintln(&buf, "Registers are evaluated as r<sm>.<index>, e.g. r1.42.")
	return buf.String(), nil
}

func (s *Server) statusMessage(string) (string, error) {
	st := s.debugger.Status()
	conn := "not connected"
	if st.Connected {
		conn = "connected (session " + st.Session + ")"
	}
	return fmt.Sprintf("simulator %s, %v, cycle %d, start paused %v", conn, st.State, st.ClockCycle, st.StartPaused), nil
}

func parseOnOff(args string, cur bool) (bool, error) {
	switch args {
	case "":
		return !cur, nil
	case "on", "true":
		return true, nil
	case "off", "false":
		return false, nil
	}
	return cur, fmt.Errorf("expected on or off, got %q", args)
}

func (s *Server) toggleFloat(args string) (string, error) {
	b, err := parseOnOff(args, s.args.DisplayFloat)
	if err != nil {
		return "", err
	}
	s.args.DisplayFloat = b
	return fmt.Sprintf("fp = %v", b), nil
}

func (s *Server) toggleStartPaused(args string) (string, error) {
	b, err := parseOnOff(args, s.debugger.StartPaused())
	if err != nil {
		return "", err
	}
	s.debugger.SetStartPaused(b)
	return fmt.Sprintf("startpaused = %v", b), nil
}
