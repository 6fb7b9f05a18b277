package terminal

import (
	"github.com/softgpu/gpudbg/pkg/terminal/starbind"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) Target() starbind.Target {
	return ctx.term.debugger
}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	cmdfn := func(t *Term, args string) error {
		return fn(args)
	}

	for i := range ctx.term.cmds.cmds {
		cmd := &ctx.term.cmds.cmds[i]
		if cmd.match(name) {
			cmd.cmdFn = cmdfn
			cmd.helpMsg = helpMsg
			return
		}
	}
	ctx.term.cmds.add(command{
		aliases: []string{name},
		helpMsg: helpMsg,
		cmdFn:   cmdfn,
	})
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}
